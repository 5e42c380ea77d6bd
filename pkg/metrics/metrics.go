// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for netcat.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for netcat.
type Metrics struct {
	registry *prometheus.Registry

	// Connection metrics
	ActiveConnections   prometheus.Gauge
	TotalConnections    *prometheus.CounterVec
	RejectedConnections *prometheus.CounterVec
	ConnectionDuration  *prometheus.HistogramVec
	EstablishDuration   *prometheus.HistogramVec

	// Relay metrics
	RelayOutcomes *prometheus.CounterVec
	BytesRelayed  *prometheus.CounterVec

	// Worker metrics
	WorkersSpawned prometheus.Counter
	WorkerErrors   prometheus.Counter
}

// New creates a Metrics instance registered on its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "netcat"
	}

	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActiveConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of connections currently relayed in process",
			},
		),
		TotalConnections: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Total number of served connections",
			},
			[]string{"mode", "status"},
		),
		RejectedConnections: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejected_connections_total",
				Help:      "Total number of accepted connections rejected before serving",
			},
			[]string{"reason"},
		),
		ConnectionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "connection_duration_seconds",
				Help:      "Connection duration in seconds",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600},
			},
			[]string{"mode"},
		),
		EstablishDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "establish_duration_seconds",
				Help:      "Time from start to a usable connection or listening socket",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		RelayOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relay_outcomes_total",
				Help:      "Relays by how they ended",
			},
			[]string{"outcome"},
		),
		BytesRelayed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relayed_bytes_total",
				Help:      "Bytes copied by relays",
			},
			[]string{"direction"},
		),
		WorkersSpawned: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workers_spawned_total",
				Help:      "Worker processes started for accepted connections",
			},
		),
		WorkerErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_errors_total",
				Help:      "Worker processes that failed to start or exited with an error",
			},
		),
	}
}

// ObserveConnection tracks a connection lifecycle.
func (m *Metrics) ObserveConnection(mode string, f func() error) error {
	m.ActiveConnections.Inc()
	defer m.ActiveConnections.Dec()

	start := time.Now()
	defer func() {
		m.ConnectionDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}()

	err := f()
	status := "success"
	if err != nil {
		status = "error"
	}
	m.TotalConnections.WithLabelValues(mode, status).Inc()

	return err
}

// ObserveRelay records a finished relay.
func (m *Metrics) ObserveRelay(outcome string, forward, backward int64) {
	m.RelayOutcomes.WithLabelValues(outcome).Inc()
	m.BytesRelayed.WithLabelValues("forward").Add(float64(forward))
	m.BytesRelayed.WithLabelValues("backward").Add(float64(backward))
}

// Registry returns the registry holding these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
