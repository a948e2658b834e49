// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// quicbridge runs a QUIC server or client which bridges envelopes to a tick-driven host
// loop, and provides tools to ping a server and create credentials.
package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "quicbridge",
		Usage: "Bridge envelopes between QUIC peers and a tick-driven host",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the configuration file, defaults to ./config.{toml,yaml,json} if present",
			},
		},
		Commands: []*cli.Command{
			serverCmd(),
			clientCmd(),
			pingCmd(),
			certCmd(),
			configCmd(),
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.WithError(err).Fatal("quicbridge failed")
	}
}
