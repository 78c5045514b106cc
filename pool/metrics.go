// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors describing pool activity. Every
// collector is labeled by backend: "thread", "process", or "inline". A
// nil *Metrics records nothing.
type Metrics struct {
	Busy       *prometheus.GaugeVec
	Completed  *prometheus.CounterVec
	Dispatched *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Failed     *prometheus.CounterVec
	Workers    *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them. If reg is nil,
// [prometheus.DefaultRegisterer] is used.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := []string{"backend"}
	m := &Metrics{
		Busy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "busy_workers",
			Help:      "Number of workers currently executing an item",
		}, labels),
		Completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "items_completed_total",
			Help:      "Total number of items that completed successfully",
		}, labels),
		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "items_dispatched_total",
			Help:      "Total number of items handed to a worker",
		}, labels),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "item_duration_seconds",
			Help:      "Time spent executing each item",
			Buckets:   prometheus.DefBuckets,
		}, labels),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "items_failed_total",
			Help:      "Total number of items whose function failed",
		}, labels),
		Workers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "workers",
			Help:      "Number of workers in unreleased pools",
		}, labels),
	}
	for _, c := range []prometheus.Collector{
		m.Busy, m.Completed, m.Dispatched, m.Duration, m.Failed, m.Workers,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// started records an item being handed to a worker and returns a
// callback to record its outcome.
func (m *Metrics) started(backend string) (finished func(err error)) {
	if m == nil {
		return func(error) {}
	}
	m.Dispatched.WithLabelValues(backend).Inc()
	busy := m.Busy.WithLabelValues(backend)
	busy.Inc()
	start := time.Now()
	return func(err error) {
		busy.Dec()
		m.Duration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
		if err != nil {
			m.Failed.WithLabelValues(backend).Inc()
		} else {
			m.Completed.WithLabelValues(backend).Inc()
		}
	}
}

func (m *Metrics) workers(backend string, delta int) {
	if m == nil {
		return
	}
	m.Workers.WithLabelValues(backend).Add(float64(delta))
}
