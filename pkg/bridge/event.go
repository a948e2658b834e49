// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"fmt"
	"sync/atomic"

	"github.com/dtn7/quicbridge/pkg/protocol"
)

// ConnectionID identifies one physical connection for its whole lifetime.
// It becomes invalid as soon as the Destroyed event for it was received.
type ConnectionID uint64

var lastConnectionID atomic.Uint64

// NextConnectionID hands out a process-unique ConnectionID. IDs are never
// reused within a process.
func NextConnectionID() ConnectionID {
	return ConnectionID(lastConnectionID.Add(1))
}

// Event is the only value crossing the Event Bridge.
type Event struct {
	ConnectionID ConnectionID
	Data         Data
}

func (ev Event) String() string {
	return fmt.Sprintf("Event{Connection: %d, %v}", ev.ConnectionID, ev.Data)
}

// Data is either a connection lifecycle change, Created or Destroyed, or a
// received Payload.
type Data interface {
	fmt.Stringer
	isData()
}

// Created is emitted once per connection, before any of its payloads. The
// Outbound handle is owned by whoever registers the connection.
type Created struct {
	Outbound *Outbound
}

// Destroyed is emitted once per connection, after all of its payloads.
type Destroyed struct{}

// Payload carries an Envelope received on one of the connection's streams.
type Payload struct {
	Envelope protocol.Envelope
}

func (Created) isData()   {}
func (Destroyed) isData() {}
func (Payload) isData()   {}

func (Created) String() string   { return "Connection Created" }
func (Destroyed) String() string { return "Connection Destroyed" }

func (p Payload) String() string {
	return fmt.Sprintf("Payload %v", p.Envelope)
}

// NewCreatedEvent creates an Event announcing a new connection.
func NewCreatedEvent(id ConnectionID, outbound *Outbound) Event {
	return Event{ConnectionID: id, Data: Created{Outbound: outbound}}
}

// NewDestroyedEvent creates an Event announcing a finished connection.
func NewDestroyedEvent(id ConnectionID) Event {
	return Event{ConnectionID: id, Data: Destroyed{}}
}

// NewPayloadEvent creates an Event for a received Envelope.
func NewPayloadEvent(id ConnectionID, env protocol.Envelope) Event {
	return Event{ConnectionID: id, Data: Payload{Envelope: env}}
}
