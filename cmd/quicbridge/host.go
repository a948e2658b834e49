// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/quicbridge/pkg/bridge"
	"github.com/dtn7/quicbridge/pkg/protocol"
	"github.com/dtn7/quicbridge/pkg/registry"
)

// maxEventsPerTick bounds the work of a single tick.
const maxEventsPerTick = 1024

// host is the tick-driven consumer. Once per tick it drains the bridge without blocking,
// keeps the registry up to date and logs received payloads.
type host struct {
	events   *bridge.Bridge
	registry *registry.Registry
	interval time.Duration

	// onPayload is called for every received envelope.
	onPayload func(bridge.ConnectionID, protocol.Envelope)
}

func newHost(events *bridge.Bridge, interval time.Duration) *host {
	return &host{
		events:   events,
		registry: registry.New(),
		interval: interval,
	}
}

// run ticks until every sender of the bridge is gone and the remaining events were
// applied. Afterwards all outbound handles are released.
func (h *host) run() error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	defer h.registry.Close()

	log.WithField("interval", h.interval).Debug("Host loop started")

	for range ticker.C {
		if disconnected := h.tick(); disconnected {
			log.Debug("Host loop drained all events, stopping")
			return nil
		}
	}
	return nil
}

// tick processes the pending events and reports whether the bridge is disconnected.
func (h *host) tick() bool {
	events, err := h.events.Drain(maxEventsPerTick)

	for _, ev := range events {
		h.registry.Apply(ev)

		switch data := ev.Data.(type) {
		case bridge.Created:
			log.WithFields(log.Fields{
				"connection":  ev.ConnectionID,
				"connections": h.registry.Len(),
			}).Info("Host registered connection")

		case bridge.Destroyed:
			log.WithFields(log.Fields{
				"connection":  ev.ConnectionID,
				"connections": h.registry.Len(),
			}).Info("Host deregistered connection")

		case bridge.Payload:
			log.WithFields(log.Fields{
				"connection": ev.ConnectionID,
				"envelope":   data.Envelope,
			}).Debug("Host received payload")

			if h.onPayload != nil {
				h.onPayload(ev.ConnectionID, data.Envelope)
			}
		}
	}

	return errors.Is(err, bridge.ErrDisconnected)
}
