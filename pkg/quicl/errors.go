// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicl

import (
	"errors"
	"fmt"

	"github.com/quic-go/quic-go"
)

// ErrUnexpectedReply is returned when a keep-alive request is answered with anything but a Pong.
var ErrUnexpectedReply = errors.New("unexpected keep-alive reply")

// TransportError wraps a failure of the QUIC connection or one of its streams.
type TransportError struct {
	Op    string
	Cause error
}

func newTransportError(op string, cause error) *TransportError {
	return &TransportError{
		Op:    op,
		Cause: cause,
	}
}

func (err *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", err.Op, err.Cause)
}

func (err *TransportError) Unwrap() error {
	return err.Cause
}

// IsPeerClosed reports whether err stems from the peer closing the connection on purpose.
func IsPeerClosed(err error) bool {
	var appErr *quic.ApplicationError
	return errors.As(err, &appErr) && appErr.Remote
}
