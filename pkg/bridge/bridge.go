// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"context"
	"errors"
	"sync/atomic"
)

// Bridge is the consumer side of the shared inbound Event queue. It is meant
// to be polled by a single consumer which must never block, e.g. once per
// tick of a game loop.
type Bridge struct {
	queue *queue[Event]
}

// Sender is a producer handle for a Bridge. A Sender may be used from any
// number of goroutines; events emitted through the same Sender keep their
// order.
type Sender struct {
	queue    *queue[Event]
	released atomic.Bool
}

// New creates a Bridge and its first Sender.
func New() (*Bridge, *Sender) {
	q := newQueue[Event]()
	return &Bridge{queue: q}, &Sender{queue: q}
}

// TryReceive returns the oldest queued Event without blocking. The error is
// ErrEmpty if nothing is queued right now and ErrDisconnected if nothing will
// ever be queued again.
func (b *Bridge) TryReceive() (Event, error) {
	return b.queue.tryPop()
}

// Receive blocks until an Event is available, the context is done, or every
// Sender was released.
func (b *Bridge) Receive(ctx context.Context) (Event, error) {
	return b.queue.pop(ctx)
}

// Drain returns up to max queued Events, or all of them for max <= 0, without
// blocking. ErrDisconnected is returned alongside the final events once every
// Sender was released.
func (b *Bridge) Drain(max int) (events []Event, err error) {
	for max <= 0 || len(events) < max {
		ev, recvErr := b.queue.tryPop()
		if errors.Is(recvErr, ErrEmpty) {
			return
		} else if recvErr != nil {
			err = recvErr
			return
		}

		events = append(events, ev)
	}
	return
}

// Len is the number of currently queued Events.
func (b *Bridge) Len() int {
	return b.queue.len()
}

// Close detaches the consumer. Queued Events are dropped and every following
// Emit fails with ErrChannelClosed.
func (b *Bridge) Close() {
	b.queue.close()
}

// Emit queues an Event for the consumer.
func (s *Sender) Emit(ev Event) error {
	if s.released.Load() {
		return ErrChannelClosed
	}
	return s.queue.push(ev)
}

// Clone returns an additional Sender for the same Bridge. If the Bridge is
// already closed, the returned Sender fails every Emit.
func (s *Sender) Clone() *Sender {
	clone := &Sender{queue: s.queue}
	if s.released.Load() || !s.queue.attach() {
		clone.released.Store(true)
	}
	return clone
}

// Release detaches this Sender. The Bridge reports ErrDisconnected after the
// last Sender was released and all Events were received. Releasing twice is
// a no-op.
func (s *Sender) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.queue.detach()
	}
}
