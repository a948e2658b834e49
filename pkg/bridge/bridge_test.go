// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dtn7/quicbridge/pkg/protocol"
)

func TestBridgeTryReceive(t *testing.T) {
	bridge, sender := New()

	if _, err := bridge.TryReceive(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("Expected ErrEmpty, got %v", err)
	}

	id := NextConnectionID()
	if err := sender.Emit(NewDestroyedEvent(id)); err != nil {
		t.Fatal(err)
	}

	if ev, err := bridge.TryReceive(); err != nil {
		t.Fatal(err)
	} else if ev.ConnectionID != id {
		t.Fatalf("Expected connection %d, got %d", id, ev.ConnectionID)
	} else if _, ok := ev.Data.(Destroyed); !ok {
		t.Fatalf("Expected Destroyed, got %v", ev.Data)
	}

	sender.Release()
	if _, err := bridge.TryReceive(); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("Expected ErrDisconnected, got %v", err)
	}
}

func TestBridgeDisconnectAfterDrain(t *testing.T) {
	bridge, sender := New()
	clone := sender.Clone()

	for i := 0; i < 3; i++ {
		if err := sender.Emit(NewDestroyedEvent(ConnectionID(i))); err != nil {
			t.Fatal(err)
		}
	}
	sender.Release()
	sender.Release()

	if err := sender.Emit(NewDestroyedEvent(1)); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("Released sender could emit: %v", err)
	}

	// The clone keeps the bridge connected.
	events, err := bridge.Drain(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}

	_ = clone.Emit(NewDestroyedEvent(7))
	clone.Release()

	events, err = bridge.Drain(0)
	if !errors.Is(err, ErrDisconnected) {
		t.Fatalf("Expected ErrDisconnected, got %v", err)
	}
	if len(events) != 1 || events[0].ConnectionID != 7 {
		t.Fatalf("Expected the clone's event before disconnecting, got %v", events)
	}
}

func TestBridgeDrainLimit(t *testing.T) {
	bridge, sender := New()
	defer sender.Release()

	for i := 0; i < 10; i++ {
		_ = sender.Emit(NewDestroyedEvent(ConnectionID(i)))
	}

	events, err := bridge.Drain(4)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 4 {
		t.Fatalf("Expected 4 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.ConnectionID != ConnectionID(i) {
			t.Fatalf("Event %d has connection %d", i, ev.ConnectionID)
		}
	}
	if l := bridge.Len(); l != 6 {
		t.Fatalf("Expected 6 remaining events, got %d", l)
	}
}

func TestBridgeClose(t *testing.T) {
	bridge, sender := New()
	_ = sender.Emit(NewDestroyedEvent(1))

	bridge.Close()

	if err := sender.Emit(NewDestroyedEvent(2)); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("Expected ErrChannelClosed, got %v", err)
	}
	if clone := sender.Clone(); !errors.Is(clone.Emit(NewDestroyedEvent(3)), ErrChannelClosed) {
		t.Fatal("Clone of a closed bridge could emit")
	}
	if _, err := bridge.TryReceive(); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("Expected ErrDisconnected, got %v", err)
	}
}

func TestBridgeReceiveBlocks(t *testing.T) {
	bridge, sender := New()

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = sender.Emit(NewDestroyedEvent(42))
		sender.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if ev, err := bridge.Receive(ctx); err != nil {
		t.Fatal(err)
	} else if ev.ConnectionID != 42 {
		t.Fatalf("Expected connection 42, got %d", ev.ConnectionID)
	}

	if _, err := bridge.Receive(ctx); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("Expected ErrDisconnected, got %v", err)
	}
}

func TestBridgeReceiveContext(t *testing.T) {
	bridge, sender := New()
	defer sender.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := bridge.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline, got %v", err)
	}
}

// TestBridgePerConnectionOrder runs many concurrent producers, one per
// connection, and checks that each connection's events arrive in emission
// order with Created first and Destroyed last.
func TestBridgePerConnectionOrder(t *testing.T) {
	const (
		connections = 50
		payloads    = 200
	)

	bridge, sender := New()

	var wg sync.WaitGroup
	for c := 0; c < connections; c++ {
		wg.Add(1)
		go func(s *Sender) {
			defer wg.Done()
			defer s.Release()

			id := NextConnectionID()
			outbound, oq := NewOutbound()
			defer oq.Close()

			_ = s.Emit(NewCreatedEvent(id, outbound))
			for i := 0; i < payloads; i++ {
				_ = s.Emit(NewPayloadEvent(id, protocol.NewEnvelope(protocol.Spawned{X: float32(i)})))
			}
			_ = s.Emit(NewDestroyedEvent(id))
		}(sender.Clone())
	}
	sender.Release()

	type state struct {
		created   bool
		destroyed bool
		next      int
	}
	states := make(map[ConnectionID]*state)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		ev, err := bridge.Receive(ctx)
		if errors.Is(err, ErrDisconnected) {
			break
		} else if err != nil {
			t.Fatal(err)
		}

		st, ok := states[ev.ConnectionID]
		if !ok {
			st = &state{}
			states[ev.ConnectionID] = st
		}

		switch data := ev.Data.(type) {
		case Created:
			if st.created {
				t.Fatalf("Connection %d created twice", ev.ConnectionID)
			}
			st.created = true

		case Payload:
			if !st.created || st.destroyed {
				t.Fatalf("Payload for connection %d outside its lifetime", ev.ConnectionID)
			}
			if x := int(data.Envelope.Payload.(protocol.Spawned).X); x != st.next {
				t.Fatalf("Connection %d: expected payload %d, got %d", ev.ConnectionID, st.next, x)
			}
			st.next++

		case Destroyed:
			if !st.created || st.destroyed {
				t.Fatalf("Connection %d destroyed out of order", ev.ConnectionID)
			}
			st.destroyed = true
		}
	}
	wg.Wait()

	if len(states) != connections {
		t.Fatalf("Expected %d connections, got %d", connections, len(states))
	}
	for id, st := range states {
		if !st.destroyed || st.next != payloads {
			t.Fatalf("Connection %d incomplete: %+v", id, st)
		}
	}
}

func TestNextConnectionIDUnique(t *testing.T) {
	const n = 1000

	ids := make(chan ConnectionID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- NextConnectionID()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[ConnectionID]struct{})
	for id := range ids {
		if _, ok := seen[id]; ok {
			t.Fatalf("ConnectionID %d handed out twice", id)
		}
		seen[id] = struct{}{}
	}
}
