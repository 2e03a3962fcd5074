// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package proton

import (
	"strconv"

	"github.com/quic-go/quic-go"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the Server's Prometheus metrics. A nil *Metrics discards everything.
type Metrics struct {
	connections *prometheus.CounterVec
	closes      *prometheus.CounterVec
	messages    *prometheus.CounterVec
	active      prometheus.Gauge
}

// NewMetrics creates and registers all metrics at reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proton",
			Name:      "connections_total",
			Help:      "Incoming connections by admission result.",
		}, []string{"result"}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proton",
			Name:      "connection_closes_total",
			Help:      "Connections closed by the server, by application error code.",
		}, []string{"code"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proton",
			Name:      "messages_total",
			Help:      "Answered requests by channel.",
		}, []string{"channel"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "proton",
			Name:      "active_sessions",
			Help:      "Connections currently holding the admission slot.",
		}),
	}

	reg.MustRegister(m.connections, m.closes, m.messages, m.active)
	return m
}

func (m *Metrics) admitted() {
	if m == nil {
		return
	}
	m.connections.WithLabelValues("admitted").Inc()
	m.active.Inc()
}

func (m *Metrics) released() {
	if m == nil {
		return
	}
	m.active.Dec()
}

func (m *Metrics) rejected() {
	if m == nil {
		return
	}
	m.connections.WithLabelValues("rejected").Inc()
}

func (m *Metrics) closed(code quic.ApplicationErrorCode) {
	if m == nil {
		return
	}
	m.closes.WithLabelValues(strconv.FormatUint(uint64(code), 10)).Inc()
}

func (m *Metrics) message(role Role) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(role.String()).Inc()
}
