// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrEmpty is returned by a non-blocking receive if nothing is queued but
	// producers are still attached.
	ErrEmpty = errors.New("bridge: queue is empty")

	// ErrDisconnected is returned by a receive once the queue is drained and
	// every producer has been released.
	ErrDisconnected = errors.New("bridge: all producers released")

	// ErrChannelClosed is returned to a producer whose consumer went away.
	ErrChannelClosed = errors.New("bridge: consumer closed")
)

// queue is an unbounded multi-producer, single-consumer FIFO. The mutex is
// only held for slice operations, never while waiting.
type queue[T any] struct {
	mutex     sync.Mutex
	items     []T
	producers int
	closed    bool

	// notify holds at most one pending wake-up for the consumer.
	notify chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{
		producers: 1,
		notify:    make(chan struct{}, 1),
	}
}

func (q *queue[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue[T]) push(item T) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closed {
		return ErrChannelClosed
	}

	q.items = append(q.items, item)
	q.wake()
	return nil
}

// attach registers an additional producer. It fails after the consumer closed
// the queue or the last producer left.
func (q *queue[T]) attach() bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closed || q.producers == 0 {
		return false
	}
	q.producers++
	return true
}

func (q *queue[T]) detach() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.producers > 0 {
		q.producers--
	}
	if q.producers == 0 {
		q.wake()
	}
}

// close is called by the consumer; pending items are dropped.
func (q *queue[T]) close() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.closed = true
	q.items = nil
	q.wake()
}

func (q *queue[T]) tryPop() (item T, err error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	switch {
	case len(q.items) > 0:
		item = q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]

	case q.closed || q.producers == 0:
		err = ErrDisconnected

	default:
		err = ErrEmpty
	}
	return
}

func (q *queue[T]) pop(ctx context.Context) (T, error) {
	for {
		item, err := q.tryPop()
		if !errors.Is(err, ErrEmpty) {
			return item, err
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

func (q *queue[T]) len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return len(q.items)
}
