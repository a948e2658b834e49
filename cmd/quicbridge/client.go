// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dtn7/quicbridge/pkg/bridge"
	"github.com/dtn7/quicbridge/pkg/config"
	"github.com/dtn7/quicbridge/pkg/credentials"
	"github.com/dtn7/quicbridge/pkg/quicl"
)

func clientCmd() *cli.Command {
	return &cli.Command{
		Name:    "client",
		Aliases: []string{"c"},
		Usage:   "Connect to a QUIC server and bridge the connection to the host loop",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "port",
				Usage: "Overrides quic_server.port, the port to connect to",
			},
		},
		Action: func(c *cli.Context) error {
			conf, err := loadConfig(c, portOverride(c, "port", "quic_server.port"))
			if err != nil {
				return err
			}
			return runClient(c.Context, conf)
		},
	}
}

func runClient(parent context.Context, conf config.Config) error {
	roots, err := credentials.LoadClientTrustRoot(conf.QuicClient.Certificate)
	if err != nil {
		return err
	}

	events, sender := bridge.New()
	dialer := quicl.NewDialer(conf.ClientAddress(), conf.ServerAddress(), conf.QuicServer.Name, roots, sender, conf.SessionOptions())
	h := newHost(events, conf.TickInterval())

	// The client is ready while connected.
	stopHealth, err := startHealth(conf, func() bool { return h.registry.Len() > 0 })
	if err != nil {
		sender.Release()
		return err
	}
	defer stopHealth()

	ctx, cancel := signalContext(parent)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(h.run)

	g.Go(func() error {
		err := dialer.Run(ctx)
		if errors.Is(err, context.Canceled) {
			log.Info("Shutting down..")
			return nil
		}
		return err
	})

	return g.Wait()
}
