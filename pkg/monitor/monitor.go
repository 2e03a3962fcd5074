// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package monitor exposes a Proton server's admission state and metrics over HTTP.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/proton-go/pkg/proton"
)

// StatusSource reports the admission slot, e.g., a *proton.AdmissionControl.
type StatusSource interface {
	Status() proton.AdmissionStatus
}

// Monitor serves /status and /metrics.
type Monitor struct {
	router *mux.Router
	status StatusSource
}

// NewMonitor registers its handlers at router.
func NewMonitor(router *mux.Router, status StatusSource, gatherer prometheus.Gatherer) *Monitor {
	m := &Monitor{
		router: router,
		status: status,
	}

	m.router.HandleFunc("/status", m.handleStatus).Methods(http.MethodGet)
	m.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return m
}

// ServeHTTP is a http.Handler to be bound to a HTTP endpoint.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.router.ServeHTTP(w, r)
}

// handleStatus processes /status GET requests.
func (m *Monitor) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(m.status.Status()); err != nil {
		log.WithError(err).Warn("Failed to write status response")
	}
}

// ListenAndServe handler on addr until ctx is done.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	log.WithField("address", addr).Info("Monitor listening")

	select {
	case err := <-errCh:
		return err

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
