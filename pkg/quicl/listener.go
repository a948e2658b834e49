// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicl

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"

	"github.com/dtn7/quicbridge/pkg/bridge"
	"github.com/dtn7/quicbridge/pkg/quicl/internal"
	"github.com/hashicorp/go-multierror"
	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"
)

// Listener is the server endpoint. It accepts connections and runs a Session for each.
type Listener struct {
	listenAddress  string
	getCertificate func(*tls.ClientHelloInfo) (*tls.Certificate, error)
	events         *bridge.Sender
	options        Options

	conn      *net.UDPConn
	transport *quic.Transport
	listener  *quic.Listener

	ctx      context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup
	stopAck  chan struct{}
}

// NewListener creates a Listener for the given UDP address. getCertificate is consulted for
// every handshake, e.g. credentials.Keypair.GetCertificate. The Listener takes ownership of
// events and releases it in Close.
func NewListener(listenAddress string, getCertificate func(*tls.ClientHelloInfo) (*tls.Certificate, error), events *bridge.Sender, options Options) *Listener {
	return &Listener{
		listenAddress:  listenAddress,
		getCertificate: getCertificate,
		events:         events,
		options:        options.withDefaults(),
		stopAck:        make(chan struct{}),
	}
}

// Start binds the socket and starts accepting connections in the background.
func (listener *Listener) Start() error {
	log.WithFields(log.Fields{
		"address":       listener.listenAddress,
		"require retry": listener.options.RequireRetry,
	}).Info("Starting QUIC listener")

	udpAddr, err := net.ResolveUDPAddr("udp", listener.listenAddress)
	if err != nil {
		return newTransportError("resolving listen address", err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return newTransportError("binding listen address", err)
	}

	transport := &quic.Transport{Conn: conn}
	if listener.options.RequireRetry {
		internal.RequireRetry(transport)
	}

	lst, err := transport.Listen(
		internal.GenerateListenerTLSConfig(listener.getCertificate),
		internal.GenerateQUICConfig(listener.options.quicOptions()))
	if err != nil {
		_ = transport.Close()
		_ = conn.Close()
		return newTransportError("listening", err)
	}

	listener.conn = conn
	listener.transport = transport
	listener.listener = lst
	listener.ctx, listener.cancel = context.WithCancel(context.Background())

	go listener.handle()

	return nil
}

// Addr returns the bound address, or nil before Start succeeded.
func (listener *Listener) Addr() net.Addr {
	if listener.listener == nil {
		return nil
	}
	return listener.listener.Addr()
}

// Close stops accepting, shuts down all sessions and waits until each has emitted its
// Destroyed event. Afterwards the socket is released.
func (listener *Listener) Close() error {
	log.WithField("address", listener.listenAddress).Info("Shutting QUIC listener down")

	defer listener.events.Release()
	if listener.listener == nil {
		return nil
	}

	var errs error

	listener.cancel()
	if err := listener.listener.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	<-listener.stopAck
	listener.sessions.Wait()

	if err := listener.transport.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := listener.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = multierror.Append(errs, err)
	}

	return errs
}

func (listener *Listener) handle() {
	defer close(listener.stopAck)

	log.WithField("address", listener.Addr()).Info("Listening for QUIC connections")

	for {
		connection, err := listener.listener.Accept(listener.ctx)
		if err != nil {
			if listener.ctx.Err() == nil {
				log.WithFields(log.Fields{
					"address": listener.listenAddress,
					"error":   err,
				}).Error("QUIC listener stopped unexpectedly")
			} else {
				log.WithField("address", listener.listenAddress).Debug("QUIC listener stopped accepting")
			}
			return
		}

		log.WithFields(log.Fields{
			"address": listener.listenAddress,
			"peer":    connection.RemoteAddr(),
		}).Info("QUIC listener accepted new connection")

		session := NewSession(connection, listener.events, listener.options)
		listener.sessions.Add(1)
		go func() {
			defer listener.sessions.Done()
			if err := session.Run(listener.ctx); err != nil {
				log.WithFields(log.Fields{
					"session": session,
					"error":   err,
				}).Debug("Session ended with error")
			}
		}()
	}
}
