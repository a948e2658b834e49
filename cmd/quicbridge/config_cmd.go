// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/dtn7/quicbridge/pkg/config"
)

func configCmd() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect or create configuration files",
		Subcommands: []*cli.Command{
			{
				Name:      "init",
				Usage:     "Write the default configuration as TOML",
				ArgsUsage: "[path]",
				Action: func(c *cli.Context) error {
					path := c.Args().First()
					if path == "" {
						path = "config.toml"
					}

					if err := config.Default().WriteFile(path); err != nil {
						return err
					}
					log.WithField("path", path).Info("Wrote default configuration")
					return nil
				},
			},
			{
				Name:  "show",
				Usage: "Print the effective configuration as TOML",
				Action: func(c *cli.Context) error {
					conf, err := loadConfig(c, nil)
					if err != nil {
						return err
					}
					return conf.Encode(c.App.Writer)
				},
			},
		},
	}
}
