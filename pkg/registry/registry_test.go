// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/hashicorp/go-multierror"

	"github.com/dtn7/quicbridge/pkg/bridge"
	"github.com/dtn7/quicbridge/pkg/protocol"
)

type testConnection struct {
	id    bridge.ConnectionID
	queue *bridge.OutboundQueue
}

func newTestConnection(r *Registry) testConnection {
	outbound, queue := bridge.NewOutbound()
	id := bridge.NextConnectionID()
	r.Apply(bridge.NewCreatedEvent(id, outbound))

	return testConnection{id: id, queue: queue}
}

func (conn testConnection) receive(t *testing.T) (protocol.Envelope, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	return conn.queue.Receive(ctx)
}

func TestRegistryLifecycle(t *testing.T) {
	r := New()

	a := newTestConnection(r)
	b := newTestConnection(r)

	if diff := deep.Equal(r.IDs(), []bridge.ConnectionID{a.id, b.id}); diff != nil {
		t.Fatal(diff)
	}

	r.Apply(bridge.NewPayloadEvent(a.id, protocol.NewEnvelope(protocol.Ping{})))
	if r.Len() != 2 {
		t.Fatalf("Payload changed the registry: %d connections", r.Len())
	}

	r.Apply(bridge.NewDestroyedEvent(a.id))
	if r.Len() != 1 {
		t.Fatalf("Expected one connection, got %d", r.Len())
	}

	// The released handle lets the writer notice that nobody sends anymore.
	if _, err := a.receive(t); !errors.Is(err, bridge.ErrDisconnected) {
		t.Fatalf("Expected ErrDisconnected, got %v", err)
	}

	if r.Deregister(a.id) {
		t.Fatal("Deregistered an unknown connection")
	}
}

func TestRegistrySend(t *testing.T) {
	r := New()
	conn := newTestConnection(r)

	env := protocol.NewEnvelope(protocol.Spawned{ID: "a", X: 1, Y: 2})
	if err := r.Send(conn.id, env); err != nil {
		t.Fatal(err)
	}

	got, err := conn.receive(t)
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(got, env); diff != nil {
		t.Fatal(diff)
	}

	if err := r.Send(conn.id+1000, env); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("Expected ErrUnknownConnection, got %v", err)
	}

	conn.queue.Close()
	if err := r.Send(conn.id, env); !errors.Is(err, bridge.ErrChannelClosed) {
		t.Fatalf("Expected ErrChannelClosed, got %v", err)
	}
}

func TestRegistryBroadcast(t *testing.T) {
	r := New()

	conns := []testConnection{newTestConnection(r), newTestConnection(r), newTestConnection(r)}
	conns[1].queue.Close()

	env := protocol.NewEnvelope(protocol.Despawned{ID: "x"})
	err := r.Broadcast(env)

	var merr *multierror.Error
	if !errors.As(err, &merr) || len(merr.Errors) != 1 {
		t.Fatalf("Expected a single aggregated error, got %v", err)
	}
	if !errors.Is(merr.Errors[0], bridge.ErrChannelClosed) {
		t.Fatalf("Unexpected error %v", merr.Errors[0])
	}

	for _, i := range []int{0, 2} {
		if got, err := conns[i].receive(t); err != nil {
			t.Fatal(err)
		} else if diff := deep.Equal(got, env); diff != nil {
			t.Fatal(diff)
		}
	}
}

func TestRegistryReplaceAndClose(t *testing.T) {
	r := New()

	first, firstQueue := bridge.NewOutbound()
	second, secondQueue := bridge.NewOutbound()
	id := bridge.NextConnectionID()

	r.Register(id, first)
	r.Register(id, second)

	if err := first.Send(protocol.NewEnvelope(protocol.Ping{})); !errors.Is(err, bridge.ErrChannelClosed) {
		t.Fatalf("Replaced handle was not released: %v", err)
	}

	r.Close()
	if r.Len() != 0 {
		t.Fatalf("Registry not empty after Close: %d", r.Len())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	for _, queue := range []*bridge.OutboundQueue{firstQueue, secondQueue} {
		if _, err := queue.Receive(ctx); !errors.Is(err, bridge.ErrDisconnected) {
			t.Fatalf("Expected ErrDisconnected, got %v", err)
		}
	}
}
