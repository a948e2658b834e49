// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/dtn7/quicbridge/pkg/config"
)

// loadConfig reads and validates the configuration and applies its logging block.
func loadConfig(c *cli.Context, overrides map[string]interface{}) (conf config.Config, err error) {
	if conf, err = config.Load(c.String("config"), overrides); err != nil {
		return
	}
	if err = conf.Validate(); err != nil {
		err = fmt.Errorf("invalid configuration: %w", err)
		return
	}

	configureLogging(conf.Logging)
	return
}

// configureLogging sets up logrus for the logging block.
func configureLogging(conf config.Logging) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// portOverride maps a set port flag onto its configuration key.
func portOverride(c *cli.Context, flag, key string) map[string]interface{} {
	overrides := make(map[string]interface{})
	if c.IsSet(flag) {
		overrides[key] = c.Int(flag)
	}
	return overrides
}
