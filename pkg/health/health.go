// SPDX-FileCopyrightText: 2022 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package health serves the HTTP liveness and readiness probes of a quicbridge daemon.
package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// ReadinessFunc reports whether the daemon is ready to serve, e.g. its listener is bound.
type ReadinessFunc func() bool

// Probes answers /liveness and /readiness requests.
type Probes struct {
	router *mux.Router
	ready  ReadinessFunc
}

// NewProbes registers the probe handlers on router.
func NewProbes(router *mux.Router, ready ReadinessFunc) (p *Probes) {
	p = &Probes{
		router: router,
		ready:  ready,
	}

	p.router.HandleFunc("/liveness", p.handleLiveness).Methods(http.MethodGet)
	p.router.HandleFunc("/readiness", p.handleReadiness).Methods(http.MethodGet)

	return p
}

// ServeHTTP is a http.Handler to be bound to a HTTP endpoint, e.g., /health.
func (p *Probes) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.router.ServeHTTP(w, r)
}

func (p *Probes) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, "Ok")
}

func (p *Probes) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if p.ready == nil || p.ready() {
		writeStatus(w, http.StatusOK, "Ok")
	} else {
		writeStatus(w, http.StatusServiceUnavailable, "Not ready")
	}
}

func writeStatus(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		log.WithError(err).Debug("Failed to write health response")
	}
}

// Server serves the probes below /health.
type Server struct {
	address  string
	server   *http.Server
	listener net.Listener
}

// NewServer creates a Server for the given TCP address.
func NewServer(address string, ready ReadinessFunc) *Server {
	router := mux.NewRouter()
	NewProbes(router.PathPrefix("/health").Subrouter(), ready)

	return &Server{
		address: address,
		server: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start binds the address and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	s.listener = listener

	log.WithField("address", listener.Addr()).Info("Serving health probes")

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Health server failed")
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start succeeded.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops the server, waiting for active requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
