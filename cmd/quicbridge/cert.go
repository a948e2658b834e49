// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/dtn7/quicbridge/pkg/credentials"
)

func certCmd() *cli.Command {
	return &cli.Command{
		Name:  "cert",
		Usage: "Create a self-signed certificate and key for the server",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "name",
				Usage: "DNS name or IP address the certificate is valid for, defaults to quic_server.name",
			},
			&cli.StringFlag{
				Name:  "certificate",
				Usage: "Overrides quic_server.certificate",
			},
			&cli.StringFlag{
				Name:  "key",
				Usage: "Overrides quic_server.private_key",
			},
			&cli.DurationFlag{
				Name:  "validity",
				Value: 365 * 24 * time.Hour,
				Usage: "Validity period of the certificate",
			},
		},
		Action: func(c *cli.Context) error {
			overrides := make(map[string]interface{})
			if c.IsSet("certificate") {
				overrides["quic_server.certificate"] = c.String("certificate")
			}
			if c.IsSet("key") {
				overrides["quic_server.private_key"] = c.String("key")
			}

			conf, err := loadConfig(c, overrides)
			if err != nil {
				return err
			}

			names := c.StringSlice("name")
			if len(names) == 0 {
				names = []string{conf.QuicServer.Name}
			}

			if err := credentials.WriteSelfSigned(conf.QuicServer.Certificate, conf.QuicServer.PrivateKey, names, c.Duration("validity")); err != nil {
				return err
			}

			log.WithFields(log.Fields{
				"certificate": conf.QuicServer.Certificate,
				"key":         conf.QuicServer.PrivateKey,
				"names":       names,
			}).Info("Created self-signed certificate")
			return nil
		},
	}
}
