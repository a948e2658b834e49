// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package internal

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPN is the application protocol negotiated during the TLS handshake.
const ALPN = "quicbridge/1"

// GenerateListenerTLSConfig creates the listener's TLS config. Certificates
// are looked up per handshake, so a reloaded pair is used right away.
// Clients are not authenticated.
func GenerateListenerTLSConfig(getCertificate func(*tls.ClientHelloInfo) (*tls.Certificate, error)) *tls.Config {
	return &tls.Config{
		GetCertificate: getCertificate,
		NextProtos:     []string{ALPN},
		MinVersion:     tls.VersionTLS13,
	}
}

// GenerateDialerTLSConfig creates the dialer's TLS config, trusting only the
// given roots and verifying the server against serverName.
func GenerateDialerTLSConfig(roots *x509.CertPool, serverName string) *tls.Config {
	return &tls.Config{
		RootCAs:    roots,
		ServerName: serverName,
		NextProtos: []string{ALPN},
		MinVersion: tls.VersionTLS13,
	}
}

// QUICOptions are the transport parameters shared by listener and dialer.
type QUICOptions struct {
	MaxIdleTimeout       time.Duration
	HandshakeIdleTimeout time.Duration
	MaxIncomingStreams   int64
}

// GenerateQUICConfig creates a QUIC config. Liveness is probed by the
// sessions' own keep-alive requests, so no transport keep-alive is set.
func GenerateQUICConfig(opts QUICOptions) *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:        opts.MaxIdleTimeout,
		HandshakeIdleTimeout:  opts.HandshakeIdleTimeout,
		EnableDatagrams:       false,
		MaxIncomingStreams:    opts.MaxIncomingStreams,
		MaxIncomingUniStreams: opts.MaxIncomingStreams,
	}
}

// RequireRetry makes a transport validate every client's source address with a
// Retry round trip before any connection state is kept.
func RequireRetry(transport *quic.Transport) {
	transport.VerifySourceAddress = func(net.Addr) bool { return true }
}
