// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicl

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/dtn7/quicbridge/pkg/bridge"
	"github.com/dtn7/quicbridge/pkg/credentials"
	"github.com/dtn7/quicbridge/pkg/protocol"
	"github.com/dtn7/quicbridge/pkg/quicl/internal"
	"github.com/quic-go/quic-go"
)

const eventTimeout = 2 * time.Second

func testOptions() Options {
	return Options{
		KeepAliveInterval:    100 * time.Millisecond,
		HandshakeIdleTimeout: 500 * time.Millisecond,
		MaxIdleTimeout:       time.Second,
		RequireRetry:         true,
		ReconnectDelay:       50 * time.Millisecond,
	}
}

// testCredentials returns a fresh self-signed pair for localhost and a pool trusting it.
func testCredentials(t *testing.T) (*tls.Certificate, *x509.CertPool) {
	certPEM, keyPEM, err := credentials.GenerateSelfSigned([]string{"localhost", "127.0.0.1"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatal(err)
	}

	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(certPEM) {
		t.Fatal("Cannot add certificate to pool")
	}

	return &cert, roots
}

func staticCertificate(cert *tls.Certificate) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		return cert, nil
	}
}

// startListener runs a Listener on a random local port.
func startListener(t *testing.T, options Options) (*Listener, *bridge.Bridge, *x509.CertPool) {
	cert, roots := testCredentials(t)
	listener, events := startListenerAt(t, "127.0.0.1:0", cert, options)
	return listener, events, roots
}

func startListenerAt(t *testing.T, address string, cert *tls.Certificate, options Options) (*Listener, *bridge.Bridge) {
	events, sender := bridge.New()

	listener := NewListener(address, staticCertificate(cert), sender, options)
	if err := listener.Start(); err != nil {
		t.Fatal(err)
	}
	return listener, events
}

// dialRaw opens a plain QUIC connection without a Session on our side.
func dialRaw(t *testing.T, listener *Listener, roots *x509.CertPool) quic.Connection {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	conn, err := quic.DialAddr(ctx, listener.Addr().String(),
		internal.GenerateDialerTLSConfig(roots, "localhost"),
		internal.GenerateQUICConfig(internal.QUICOptions{MaxIdleTimeout: time.Second}))
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

func receiveEvent(t *testing.T, events *bridge.Bridge) bridge.Event {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	ev, err := events.Receive(ctx)
	if err != nil {
		t.Fatalf("No event received: %v", err)
	}
	return ev
}

// nextEvent returns the next event which is not a keep-alive Ping.
func nextEvent(t *testing.T, events *bridge.Bridge) bridge.Event {
	t.Helper()

	for {
		if ev := receiveEvent(t, events); !isKeepAlive(ev) {
			return ev
		}
	}
}

func isKeepAlive(ev bridge.Event) bool {
	payload, ok := ev.Data.(bridge.Payload)
	if !ok {
		return false
	}
	_, isPing := payload.Envelope.Payload.(protocol.Ping)
	return isPing
}

func expectCreated(t *testing.T, events *bridge.Bridge) (bridge.ConnectionID, *bridge.Outbound) {
	t.Helper()

	ev := nextEvent(t, events)
	created, ok := ev.Data.(bridge.Created)
	if !ok {
		t.Fatalf("Expected Created, got %v", ev)
	}
	return ev.ConnectionID, created.Outbound
}

func expectDestroyed(t *testing.T, events *bridge.Bridge, id bridge.ConnectionID) {
	t.Helper()

	ev := nextEvent(t, events)
	if _, ok := ev.Data.(bridge.Destroyed); !ok || ev.ConnectionID != id {
		t.Fatalf("Expected Destroyed for %v, got %v", id, ev)
	}
}

func expectPayload(t *testing.T, events *bridge.Bridge, id bridge.ConnectionID, payload protocol.Payload) {
	t.Helper()

	ev := nextEvent(t, events)
	got, ok := ev.Data.(bridge.Payload)
	if !ok || ev.ConnectionID != id {
		t.Fatalf("Expected payload for %v, got %v", id, ev)
	}
	if got.Envelope.Payload != payload {
		t.Fatalf("Expected %v, got %v", payload, got.Envelope.Payload)
	}
}

func mustSerialize(t *testing.T, payload protocol.Payload) []byte {
	data, err := protocol.Serialize(protocol.NewEnvelope(payload))
	if err != nil {
		t.Fatal(fmt.Errorf("serialising %v: %w", payload, err))
	}
	return data
}

// answerPings serves the Listener's keep-alive requests on a raw connection.
func answerPings(conn quic.Connection) {
	pong, _ := protocol.Serialize(protocol.NewEnvelope(protocol.Pong{}))

	for {
		stream, err := conn.AcceptStream(context.Background())
		if err != nil {
			return
		}

		go func() {
			_, _ = io.ReadAll(stream)
			_, _ = stream.Write(pong)
			_ = stream.Close()
		}()
	}
}
