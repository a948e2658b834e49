// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/dtn7/quicbridge/pkg/bridge"
	"github.com/dtn7/quicbridge/pkg/config"
	"github.com/dtn7/quicbridge/pkg/credentials"
	"github.com/dtn7/quicbridge/pkg/protocol"
	"github.com/dtn7/quicbridge/pkg/quicl"
)

func pingCmd() *cli.Command {
	return &cli.Command{
		Name:  "ping",
		Usage: "Send Ping requests to a server and report the round trip times",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "port",
				Usage: "Overrides quic_server.port, the port to connect to",
			},
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"n"},
				Value:   4,
				Usage:   "Number of requests, 0 pings until interrupted",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Value: time.Second,
				Usage: "Pause between two requests",
			},
		},
		Action: func(c *cli.Context) error {
			conf, err := loadConfig(c, portOverride(c, "port", "quic_server.port"))
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(c.Context)
			defer cancel()

			return runPing(ctx, conf, c.Int("count"), c.Duration("interval"))
		},
	}
}

func runPing(ctx context.Context, conf config.Config, count int, interval time.Duration) error {
	roots, err := credentials.LoadClientTrustRoot(conf.QuicClient.Certificate)
	if err != nil {
		return err
	}

	options := conf.SessionOptions()

	dialCtx, dialCancel := context.WithTimeout(ctx, options.HandshakeIdleTimeout)
	connection, err := quicl.Dial(dialCtx, conf.ServerAddress(), conf.QuicServer.Name, roots, options)
	dialCancel()
	if err != nil {
		return err
	}

	// A session answers the server's keep-alive requests while we are pinging.
	events, sender := bridge.New()
	defer events.Close()

	sessionCtx, sessionCancel := context.WithCancel(ctx)
	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		defer sender.Release()
		_ = quicl.NewSession(connection, sender, options).Run(sessionCtx)
	}()
	defer func() {
		sessionCancel()
		<-sessionDone
	}()

	logger := log.WithField("server", conf.ServerAddress())
	ping := protocol.NewEnvelope(protocol.Ping{})

	var sent, failed int
	for seq := 1; count <= 0 || seq <= count; seq++ {
		if seq > 1 {
			select {
			case <-ctx.Done():
				return nil
			case <-sessionDone:
				return fmt.Errorf("connection closed after %d requests", seq-1)
			case <-time.After(interval):
			}
		}

		sent++
		requestCtx, requestCancel := context.WithTimeout(ctx, options.MaxIdleTimeout)
		start := time.Now()
		reply, err := quicl.Request(requestCtx, connection, ping, options.ReadLimit)
		requestCancel()

		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			failed++
			logger.WithFields(log.Fields{"seq": seq, "error": err}).Warn("Ping failed")
		case reply.Payload != (protocol.Pong{}):
			failed++
			logger.WithFields(log.Fields{"seq": seq, "reply": reply}).Warn("Unexpected reply")
		default:
			logger.WithFields(log.Fields{"seq": seq, "rtt": time.Since(start)}).Info("Pong")
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d pings failed", failed, sent)
	}
	return nil
}
