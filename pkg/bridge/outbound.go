// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"context"
	"sync/atomic"

	"github.com/dtn7/quicbridge/pkg/protocol"
)

// Outbound is a send-only handle feeding one connection's outbound queue.
// Clones share the same queue; the connection stops writing once every clone
// was released and the queue was drained.
type Outbound struct {
	queue    *queue[protocol.Envelope]
	released atomic.Bool
}

// OutboundQueue is the receiving end of the Outbound handles, owned by the
// connection's stream writer.
type OutboundQueue struct {
	queue *queue[protocol.Envelope]
}

// NewOutbound creates a connection's outbound queue and its first handle.
func NewOutbound() (*Outbound, *OutboundQueue) {
	q := newQueue[protocol.Envelope]()
	return &Outbound{queue: q}, &OutboundQueue{queue: q}
}

// Send queues an Envelope for transmission on its own stream. It fails with
// ErrChannelClosed once the connection is gone or this handle was released.
func (o *Outbound) Send(env protocol.Envelope) error {
	if o.released.Load() {
		return ErrChannelClosed
	}
	return o.queue.push(env)
}

// Clone returns another handle to the same queue.
func (o *Outbound) Clone() *Outbound {
	clone := &Outbound{queue: o.queue}
	if o.released.Load() || !o.queue.attach() {
		clone.released.Store(true)
	}
	return clone
}

// Release drops this handle. Releasing twice is a no-op.
func (o *Outbound) Release() {
	if o.released.CompareAndSwap(false, true) {
		o.queue.detach()
	}
}

// Receive blocks for the next queued Envelope. ErrDisconnected signals that
// every handle was released and nothing is left to send.
func (oq *OutboundQueue) Receive(ctx context.Context) (protocol.Envelope, error) {
	return oq.queue.pop(ctx)
}

// Close rejects all further sends and drops pending Envelopes.
func (oq *OutboundQueue) Close() {
	oq.queue.close()
}
