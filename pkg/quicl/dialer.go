// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicl

import (
	"context"
	"crypto/x509"
	"errors"
	"net"
	"time"

	"github.com/dtn7/quicbridge/pkg/bridge"
	"github.com/dtn7/quicbridge/pkg/quicl/internal"
	"github.com/hashicorp/go-multierror"
	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"
)

// Dialer is the client endpoint. It keeps a single connection to a server, reconnecting
// whenever the connection ends.
type Dialer struct {
	localAddress  string
	remoteAddress string
	serverName    string
	roots         *x509.CertPool
	events        *bridge.Sender
	options       Options
}

// NewDialer creates a Dialer binding localAddress and connecting to remoteAddress. The
// server's certificate must chain to roots and be valid for serverName. The Dialer takes
// ownership of events and releases it when Run returns.
func NewDialer(localAddress, remoteAddress, serverName string, roots *x509.CertPool, events *bridge.Sender, options Options) *Dialer {
	return &Dialer{
		localAddress:  localAddress,
		remoteAddress: remoteAddress,
		serverName:    serverName,
		roots:         roots,
		events:        events,
		options:       options.withDefaults(),
	}
}

// Run connects and serves the connection until ctx is done. Failed attempts and ended
// connections are logged and followed by a new attempt. Only a failure to bind the local
// socket is returned; otherwise Run returns ctx.Err().
func (dialer *Dialer) Run(ctx context.Context) error {
	defer dialer.events.Release()

	udpAddr, err := net.ResolveUDPAddr("udp", dialer.localAddress)
	if err != nil {
		return newTransportError("resolving local address", err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return newTransportError("binding local address", err)
	}

	transport := &quic.Transport{Conn: conn}
	defer func() {
		var errs error
		if closeErr := transport.Close(); closeErr != nil {
			errs = multierror.Append(errs, closeErr)
		}
		if closeErr := conn.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			errs = multierror.Append(errs, closeErr)
		}
		if errs != nil {
			log.WithError(errs).Warn("Releasing dialer socket failed")
		}
	}()

	logger := log.WithFields(log.Fields{
		"local":  conn.LocalAddr(),
		"remote": dialer.remoteAddress,
	})

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		sessionErr := dialer.connect(ctx, transport)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if sessionErr != nil {
			logger.WithFields(log.Fields{
				"attempt": attempt,
				"error":   sessionErr,
			}).Warn("Connection failed, reconnecting")
		} else {
			logger.WithField("attempt", attempt).Info("Connection ended, reconnecting")
		}

		if dialer.options.ReconnectDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(dialer.options.ReconnectDelay):
			}
		}
	}
}

func (dialer *Dialer) connect(ctx context.Context, transport *quic.Transport) error {
	remote, err := net.ResolveUDPAddr("udp", dialer.remoteAddress)
	if err != nil {
		return newTransportError("resolving remote address", err)
	}

	log.WithField("remote", remote).Debug("Connecting")

	connection, err := transport.Dial(ctx, remote,
		internal.GenerateDialerTLSConfig(dialer.roots, dialer.serverName),
		internal.GenerateQUICConfig(dialer.options.quicOptions()))
	if err != nil {
		return newTransportError("connecting", err)
	}

	return NewSession(connection, dialer.events, dialer.options).Run(ctx)
}

// Dial establishes a single connection without reconnecting. It is meant for short-lived
// tools; the caller runs a Session on it or closes it.
func Dial(ctx context.Context, remoteAddress, serverName string, roots *x509.CertPool, options Options) (quic.Connection, error) {
	connection, err := quic.DialAddr(ctx, remoteAddress,
		internal.GenerateDialerTLSConfig(roots, serverName),
		internal.GenerateQUICConfig(options.withDefaults().quicOptions()))
	if err != nil {
		return nil, newTransportError("connecting", err)
	}
	return connection, nil
}
