// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicl

import (
	"time"

	"github.com/dtn7/quicbridge/pkg/quicl/internal"
)

const (
	// DefaultReadLimit is the largest envelope accepted from a stream.
	DefaultReadLimit = 64 * 1024
	// DefaultKeepAliveInterval is the pause between two keep-alive requests.
	DefaultKeepAliveInterval = time.Second
)

// Options configure sessions and the QUIC transport beneath them. Zero values
// are replaced by defaults.
type Options struct {
	KeepAliveInterval time.Duration
	ReadLimit         int

	MaxIdleTimeout       time.Duration
	HandshakeIdleTimeout time.Duration
	MaxIncomingStreams   int64

	// RequireRetry makes a Listener validate client addresses with a Retry packet.
	RequireRetry bool
	// ReconnectDelay is the Dialer's pause after a connection ended.
	ReconnectDelay time.Duration
}

// DefaultOptions returns the settings used by the daemon when nothing else is configured.
func DefaultOptions() Options {
	return Options{
		KeepAliveInterval:    DefaultKeepAliveInterval,
		ReadLimit:            DefaultReadLimit,
		MaxIdleTimeout:       5 * time.Second,
		HandshakeIdleTimeout: 2 * time.Second,
		MaxIncomingStreams:   1024,
		RequireRetry:         true,
	}
}

func (opts Options) withDefaults() Options {
	defaults := DefaultOptions()

	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = defaults.KeepAliveInterval
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaults.ReadLimit
	}
	if opts.MaxIdleTimeout <= 0 {
		opts.MaxIdleTimeout = defaults.MaxIdleTimeout
	}
	if opts.HandshakeIdleTimeout <= 0 {
		opts.HandshakeIdleTimeout = defaults.HandshakeIdleTimeout
	}
	if opts.MaxIncomingStreams <= 0 {
		opts.MaxIncomingStreams = defaults.MaxIncomingStreams
	}
	return opts
}

func (opts Options) quicOptions() internal.QUICOptions {
	return internal.QUICOptions{
		MaxIdleTimeout:       opts.MaxIdleTimeout,
		HandshakeIdleTimeout: opts.HandshakeIdleTimeout,
		MaxIncomingStreams:   opts.MaxIncomingStreams,
	}
}
