// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package registry keeps track of the live connections a consumer may send to.
// It is fed with the lifecycle events drained from a bridge.Bridge.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/quicbridge/pkg/bridge"
	"github.com/dtn7/quicbridge/pkg/protocol"
)

// ErrUnknownConnection is returned when sending to a connection which is not registered.
var ErrUnknownConnection = errors.New("unknown connection")

// Registry maps each live connection's ID to its Outbound handle.
type Registry struct {
	mutex       sync.RWMutex
	connections map[bridge.ConnectionID]*bridge.Outbound
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		connections: make(map[bridge.ConnectionID]*bridge.Outbound),
	}
}

// Apply updates the Registry for a lifecycle event. Payload events are ignored.
func (r *Registry) Apply(ev bridge.Event) {
	switch data := ev.Data.(type) {
	case bridge.Created:
		r.Register(ev.ConnectionID, data.Outbound)
	case bridge.Destroyed:
		r.Deregister(ev.ConnectionID)
	}
}

// Register stores the handle of a new connection. A handle already stored for the same
// ID is released.
func (r *Registry) Register(id bridge.ConnectionID, outbound *bridge.Outbound) {
	r.mutex.Lock()
	previous, known := r.connections[id]
	r.connections[id] = outbound
	r.mutex.Unlock()

	if known {
		log.WithField("connection", id).Warn("Connection registered twice, replacing its handle")
		previous.Release()
	}

	log.WithField("connection", id).Debug("Registered connection")
}

// Deregister removes a connection and releases its handle. It reports whether the
// connection was registered.
func (r *Registry) Deregister(id bridge.ConnectionID) bool {
	r.mutex.Lock()
	outbound, known := r.connections[id]
	delete(r.connections, id)
	r.mutex.Unlock()

	if known {
		outbound.Release()
		log.WithField("connection", id).Debug("Deregistered connection")
	}
	return known
}

// Send queues an envelope for a single connection.
func (r *Registry) Send(id bridge.ConnectionID, env protocol.Envelope) error {
	r.mutex.RLock()
	outbound, known := r.connections[id]
	r.mutex.RUnlock()

	if !known {
		return fmt.Errorf("%w: %v", ErrUnknownConnection, id)
	}
	if err := outbound.Send(env); err != nil {
		return fmt.Errorf("connection %v: %w", id, err)
	}
	return nil
}

// Broadcast queues an envelope for every registered connection. Failures of single
// connections do not stop the others and are returned together.
func (r *Registry) Broadcast(env protocol.Envelope) error {
	var errs error
	for _, id := range r.IDs() {
		if err := r.Send(id, env); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

// IDs returns the registered connection IDs in ascending order.
func (r *Registry) IDs() []bridge.ConnectionID {
	r.mutex.RLock()
	ids := make([]bridge.ConnectionID, 0, len(r.connections))
	for id := range r.connections {
		ids = append(ids, id)
	}
	r.mutex.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.connections)
}

// Close releases every handle and empties the Registry.
func (r *Registry) Close() {
	r.mutex.Lock()
	connections := r.connections
	r.connections = make(map[bridge.ConnectionID]*bridge.Outbound)
	r.mutex.Unlock()

	for _, outbound := range connections {
		outbound.Release()
	}
}
