// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dtn7/quicbridge/pkg/bridge"
	"github.com/dtn7/quicbridge/pkg/config"
	"github.com/dtn7/quicbridge/pkg/credentials"
	"github.com/dtn7/quicbridge/pkg/health"
	"github.com/dtn7/quicbridge/pkg/quicl"
)

const shutdownTimeout = 5 * time.Second

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Accept QUIC connections and bridge them to the host loop",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "port",
				Usage: "Overrides quic_server.port",
			},
		},
		Action: func(c *cli.Context) error {
			conf, err := loadConfig(c, portOverride(c, "port", "quic_server.port"))
			if err != nil {
				return err
			}
			return runServer(c.Context, conf)
		},
	}
}

// signalContext is done on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// startHealth starts the health server if enabled. The returned function stops it.
func startHealth(conf config.Config, ready health.ReadinessFunc) (func(), error) {
	if !conf.HTTPServer.Enabled {
		return func() {}, nil
	}

	server := health.NewServer(conf.HTTPAddress(), ready)
	if err := server.Start(); err != nil {
		return nil, err
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("Stopping health server failed")
		}
	}, nil
}

func runServer(parent context.Context, conf config.Config) error {
	keypair, err := credentials.NewKeypair(conf.QuicServer.Certificate, conf.QuicServer.PrivateKey)
	if err != nil {
		return err
	}

	events, sender := bridge.New()
	listener := quicl.NewListener(conf.ServerAddress(), keypair.GetCertificate, sender, conf.SessionOptions())
	if err := listener.Start(); err != nil {
		sender.Release()
		return err
	}

	var ready atomic.Bool
	ready.Store(true)

	stopHealth, err := startHealth(conf, ready.Load)
	if err != nil {
		_ = listener.Close()
		return err
	}
	defer stopHealth()

	ctx, cancel := signalContext(parent)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(newHost(events, conf.TickInterval()).run)

	if conf.QuicServer.WatchCredentials {
		g.Go(func() error { return keypair.Watch(ctx) })
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down..")

		ready.Store(false)
		return listener.Close()
	})

	return g.Wait()
}
