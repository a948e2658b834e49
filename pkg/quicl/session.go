// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quicl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dtn7/quicbridge/pkg/bridge"
	"github.com/dtn7/quicbridge/pkg/protocol"
	"github.com/dtn7/quicbridge/pkg/quicl/internal"
	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"
)

// Session drives one established connection from its Created event to its Destroyed event.
type Session struct {
	id         bridge.ConnectionID
	connection quic.Connection
	events     *bridge.Sender
	options    Options

	// handlers tracks the per-stream goroutines.
	handlers sync.WaitGroup
}

type activityResult struct {
	name string
	err  error
}

// NewSession wraps an established connection. Events are reported through the given Sender,
// which stays owned by the caller.
func NewSession(connection quic.Connection, events *bridge.Sender, options Options) *Session {
	return &Session{
		id:         bridge.NextConnectionID(),
		connection: connection,
		events:     events,
		options:    options.withDefaults(),
	}
}

// ID is the ConnectionID used in every event of this session.
func (s *Session) ID() bridge.ConnectionID {
	return s.id
}

func (s *Session) String() string {
	return fmt.Sprintf("Session{ID: %v, Peer: %v}", s.id, s.connection.RemoteAddr())
}

func (s *Session) logger() *log.Entry {
	return log.WithFields(log.Fields{
		"connection": s.id,
		"peer":       s.connection.RemoteAddr(),
	})
}

// Run emits the Created event, serves the connection until one of its activities ends and
// tears everything down. The connection is closed when Run returns, and the Destroyed event
// is emitted as the last event of this connection even if the session failed.
//
// Cancelling ctx shuts the session down and closes the connection with ApplicationShutdown.
// A session ended by its peer or by ctx returns nil.
func (s *Session) Run(ctx context.Context) error {
	outbound, outboundQueue := bridge.NewOutbound()
	if err := s.events.Emit(bridge.NewCreatedEvent(s.id, outbound)); err != nil {
		outbound.Release()
		outboundQueue.Close()
		_ = s.connection.CloseWithError(internal.LocalError, "event consumer gone")
		return fmt.Errorf("reporting new connection: %w", err)
	}
	s.logger().Info("Connection created")

	activityCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	activities := []struct {
		name string
		run  func(context.Context) error
	}{
		{"bidirectional acceptor", s.acceptBidirectional},
		{"unidirectional acceptor", s.acceptUnidirectional},
		{"keep-alive", s.keepAlive},
		{"outbound writer", func(ctx context.Context) error { return s.writeOutbound(ctx, outboundQueue) }},
	}

	results := make(chan activityResult, len(activities))
	for _, activity := range activities {
		activity := activity
		go func() {
			results <- activityResult{name: activity.name, err: activity.run(activityCtx)}
		}()
	}

	first := <-results
	cancel()
	outboundQueue.Close()

	code, msg := s.closeReason(ctx, first.err)
	s.logger().WithFields(log.Fields{
		"activity": first.name,
		"error":    first.err,
		"code":     code,
	}).Debug("Session activity ended, closing connection")
	_ = s.connection.CloseWithError(code, msg)

	for i := 1; i < len(activities); i++ {
		<-results
	}
	s.handlers.Wait()

	if err := s.events.Emit(bridge.NewDestroyedEvent(s.id)); err != nil {
		s.logger().WithError(err).Warn("Reporting destroyed connection failed")
	}

	if first.err != nil {
		s.logger().WithFields(log.Fields{
			"activity": first.name,
			"error":    first.err,
		}).Warn("Connection failed")
	} else {
		s.logger().Info("Connection closed")
	}

	return first.err
}

func (s *Session) closeReason(ctx context.Context, err error) (quic.ApplicationErrorCode, string) {
	switch {
	case ctx.Err() != nil:
		return internal.ApplicationShutdown, "shutting down"
	case err == nil:
		return internal.NoError, "session finished"
	case errors.Is(err, protocol.ErrMalformed), errors.Is(err, protocol.ErrOversized), errors.Is(err, ErrUnexpectedReply):
		return internal.PeerError, "protocol violation"
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) || errors.Is(err, context.DeadlineExceeded) {
		return internal.ConnectionError, "connection failed"
	}
	return internal.UnknownError, "session failed"
}

// connectionEnded maps the error of a connection-wide operation. An orderly end of the
// connection, either by our own teardown or by the peer, is no failure.
func (s *Session) connectionEnded(ctx context.Context, op string, err error) error {
	switch {
	case ctx.Err() != nil:
		return nil

	case IsPeerClosed(err):
		var appErr *quic.ApplicationError
		errors.As(err, &appErr)
		s.logger().WithFields(log.Fields{
			"error code": appErr.ErrorCode,
			"error msg":  appErr.ErrorMessage,
		}).Debug("Connection closed by peer")
		return nil

	default:
		return newTransportError(op, err)
	}
}

func (s *Session) acceptBidirectional(ctx context.Context) error {
	for {
		stream, err := s.connection.AcceptStream(ctx)
		if err != nil {
			return s.connectionEnded(ctx, "accepting bidirectional stream", err)
		}

		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			s.handleRequest(stream)
		}()
	}
}

func (s *Session) acceptUnidirectional(ctx context.Context) error {
	for {
		stream, err := s.connection.AcceptUniStream(ctx)
		if err != nil {
			return s.connectionEnded(ctx, "accepting unidirectional stream", err)
		}

		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			s.handleMessage(stream)
		}()
	}
}

// handleRequest serves one bidirectional stream. Failures only affect this stream.
func (s *Session) handleRequest(stream quic.Stream) {
	logger := s.logger().WithField("stream", stream.StreamID())

	data, err := readLimited(stream, s.options.ReadLimit)
	if err != nil {
		logger.WithError(err).Warn("Reading request failed")
		stream.CancelRead(readErrorCode(err))
		stream.CancelWrite(readErrorCode(err))
		return
	}

	env, err := protocol.Deserialize(data)
	if err != nil {
		logger.WithError(err).Warn("Received malformed request")
		stream.CancelWrite(internal.StreamMalformed)
		return
	}

	if _, isPing := env.Payload.(protocol.Ping); isPing {
		reply, err := protocol.Serialize(protocol.NewEnvelope(protocol.Pong{}))
		if err != nil {
			logger.WithError(err).Error("Serialising pong failed")
			stream.CancelWrite(internal.StreamMalformed)
			return
		}

		if _, err := stream.Write(reply); err != nil {
			logger.WithError(err).Warn("Sending pong failed")
			stream.CancelWrite(internal.StreamTransmissionError)
			return
		}
	}

	if err := stream.Close(); err != nil {
		logger.WithError(err).Warn("Finishing reply stream failed")
		return
	}

	logger.WithField("envelope", env).Debug("Received request")
	s.emitPayload(logger, env)
}

// handleMessage serves one unidirectional stream.
func (s *Session) handleMessage(stream quic.ReceiveStream) {
	logger := s.logger().WithField("stream", stream.StreamID())

	data, err := readLimited(stream, s.options.ReadLimit)
	if err != nil {
		logger.WithError(err).Warn("Reading message failed")
		stream.CancelRead(readErrorCode(err))
		return
	}

	env, err := protocol.Deserialize(data)
	if err != nil {
		logger.WithError(err).Warn("Received malformed message")
		return
	}

	logger.WithField("envelope", env).Debug("Received message")
	s.emitPayload(logger, env)
}

func (s *Session) emitPayload(logger *log.Entry, env protocol.Envelope) {
	if err := s.events.Emit(bridge.NewPayloadEvent(s.id, env)); err != nil {
		logger.WithError(err).Warn("Reporting payload failed")
	}
}

// keepAlive probes the peer with Ping requests. A failed or unanswered request or a reply
// other than Pong ends the session.
func (s *Session) keepAlive(ctx context.Context) error {
	ping := protocol.NewEnvelope(protocol.Ping{})
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		reply, err := s.ping(ctx, ping)
		if err != nil {
			if ctx.Err() != nil || IsPeerClosed(err) {
				return nil
			}
			return fmt.Errorf("keep-alive: %w", err)
		}

		if _, isPong := reply.Payload.(protocol.Pong); !isPong {
			return fmt.Errorf("%w: %v", ErrUnexpectedReply, reply)
		}

		s.logger().Trace("Keep-alive answered")
		timer.Reset(s.options.KeepAliveInterval)
	}
}

// ping sends a single keep-alive request. A peer not replying within the idle timeout
// counts as failed.
func (s *Session) ping(ctx context.Context, ping protocol.Envelope) (protocol.Envelope, error) {
	requestCtx, cancel := context.WithTimeout(ctx, s.options.MaxIdleTimeout)
	defer cancel()

	reply, err := Request(requestCtx, s.connection, ping, s.options.ReadLimit)
	if err != nil && ctx.Err() == nil && requestCtx.Err() != nil {
		return reply, fmt.Errorf("no reply within %v: %w", s.options.MaxIdleTimeout, requestCtx.Err())
	}
	return reply, err
}

// writeOutbound sends each queued envelope on its own unidirectional stream. Once every
// Outbound handle was released nothing more is sent, but the connection is kept until
// another activity ends.
func (s *Session) writeOutbound(ctx context.Context, queue *bridge.OutboundQueue) error {
	for {
		env, err := queue.Receive(ctx)
		if errors.Is(err, bridge.ErrDisconnected) {
			s.logger().Debug("All outbound handles released, no longer sending")
			<-ctx.Done()
			return nil
		} else if err != nil {
			return nil
		}

		data, err := protocol.Serialize(env)
		if err != nil {
			s.logger().WithFields(log.Fields{
				"envelope": env,
				"error":    err,
			}).Warn("Dropping outbound envelope which cannot be serialised")
			continue
		}

		stream, err := s.connection.OpenUniStreamSync(ctx)
		if err != nil {
			return s.connectionEnded(ctx, "opening unidirectional stream", err)
		}

		if _, err := stream.Write(data); err != nil {
			stream.CancelWrite(internal.StreamTransmissionError)
			return s.connectionEnded(ctx, "sending envelope", err)
		}
		if err := stream.Close(); err != nil {
			return s.connectionEnded(ctx, "finishing envelope stream", err)
		}

		s.logger().WithField("envelope", env).Debug("Sent envelope")
	}
}
