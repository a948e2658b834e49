// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicl

import (
	"context"
	"errors"
	"io"

	"github.com/dtn7/quicbridge/pkg/protocol"
	"github.com/dtn7/quicbridge/pkg/quicl/internal"
	"github.com/quic-go/quic-go"
)

// readLimited reads r until EOF. More than limit bytes result in an oversized CodecError.
func readLimited(r io.Reader, limit int) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, newTransportError("reading stream", err)
	}
	if len(data) > limit {
		return nil, protocol.NewOversizedError(limit)
	}
	return data, nil
}

// readErrorCode picks the stream error code for a failed read or decode.
func readErrorCode(err error) quic.StreamErrorCode {
	switch {
	case errors.Is(err, protocol.ErrOversized):
		return internal.StreamTooLarge
	case errors.Is(err, protocol.ErrMalformed):
		return internal.StreamMalformed
	default:
		return internal.StreamTransmissionError
	}
}

// Request opens a bidirectional stream, sends env, finishes the sending side and
// waits for the peer's reply. Replies larger than limit bytes are rejected.
// The stream is cancelled if ctx is done before the reply arrived.
func Request(ctx context.Context, connection quic.Connection, env protocol.Envelope, limit int) (protocol.Envelope, error) {
	data, err := protocol.Serialize(env)
	if err != nil {
		return protocol.Envelope{}, err
	}

	stream, err := connection.OpenStreamSync(ctx)
	if err != nil {
		return protocol.Envelope{}, newTransportError("opening request stream", err)
	}

	stop := context.AfterFunc(ctx, func() {
		stream.CancelWrite(internal.StreamCancelled)
		stream.CancelRead(internal.StreamCancelled)
	})
	defer stop()

	if _, err := stream.Write(data); err != nil {
		stream.CancelRead(internal.StreamTransmissionError)
		return protocol.Envelope{}, newTransportError("sending request", err)
	}
	if err := stream.Close(); err != nil {
		stream.CancelRead(internal.StreamTransmissionError)
		return protocol.Envelope{}, newTransportError("finishing request", err)
	}

	reply, err := readLimited(stream, limit)
	if err != nil {
		stream.CancelRead(readErrorCode(err))
		return protocol.Envelope{}, err
	}

	return protocol.Deserialize(reply)
}
