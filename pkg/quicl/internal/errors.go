// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package internal

import "github.com/quic-go/quic-go"

const (
	// NoError closes a connection whose session finished regularly
	NoError quic.ApplicationErrorCode = 0
	// UnknownError is the catchall error code for things we didn't foresee
	UnknownError quic.ApplicationErrorCode = 1
	// LocalError designates errors that happen on this machine (like a vanished event consumer)
	LocalError quic.ApplicationErrorCode = 2
	// ConnectionError designates errors in data transmission
	ConnectionError quic.ApplicationErrorCode = 3
	// PeerError designates a peer violating the protocol, e.g. an unexpected keep-alive reply
	PeerError quic.ApplicationErrorCode = 4
	// ApplicationShutdown is sent when the endpoint is shut down and terminates its connections
	ApplicationShutdown quic.ApplicationErrorCode = 5

	StreamMalformed         quic.StreamErrorCode = 1
	StreamTransmissionError quic.StreamErrorCode = 2
	StreamTooLarge          quic.StreamErrorCode = 3
	StreamCancelled         quic.StreamErrorCode = 4
)
