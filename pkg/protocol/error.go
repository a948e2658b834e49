// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is the kind of every CodecError raised for bytes which do
	// not parse as a valid envelope.
	ErrMalformed = errors.New("malformed envelope")

	// ErrOversized is the kind of a CodecError raised for an encoded envelope
	// exceeding the permitted size.
	ErrOversized = errors.New("oversized envelope")
)

// CodecError describes a failure to encode or decode an Envelope. Its Kind is
// either ErrMalformed or ErrOversized; both Kind and Cause are reachable with
// errors.Is and errors.As.
type CodecError struct {
	Kind  error
	Msg   string
	Cause error
}

func newMalformed(cause error, format string, a ...interface{}) *CodecError {
	return &CodecError{
		Kind:  ErrMalformed,
		Msg:   fmt.Sprintf(format, a...),
		Cause: cause,
	}
}

// NewOversizedError creates a CodecError for a payload larger than limit bytes.
func NewOversizedError(limit int) *CodecError {
	return &CodecError{
		Kind: ErrOversized,
		Msg:  fmt.Sprintf("payload exceeds %d bytes", limit),
	}
}

func (err *CodecError) Error() string {
	if err.Cause != nil {
		return fmt.Sprintf("%v: %s: %v", err.Kind, err.Msg, err.Cause)
	}
	return fmt.Sprintf("%v: %s", err.Kind, err.Msg)
}

func (err *CodecError) Unwrap() []error {
	if err.Cause == nil {
		return []error{err.Kind}
	}
	return []error{err.Kind, err.Cause}
}
