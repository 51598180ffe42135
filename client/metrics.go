// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package client

import (
	"strings"

	"github.com/grailbio/e3db/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the prometheus collectors of a Client.
type Metrics struct {
	// Operations counts completed operations by name and outcome. The
	// outcome is "ok" or the error's kind.
	Operations *prometheus.CounterVec
	// Renewals counts bearer token renewals by outcome.
	Renewals *prometheus.CounterVec
	// Busy counts operations rejected because the work queue was full.
	Busy prometheus.Counter
	// QueueDepth is the number of operations waiting for a worker.
	QueueDepth prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "e3db",
			Subsystem: "client",
			Name:      "operations_total",
			Help:      "Completed client operations by name and outcome.",
		}, []string{"op", "outcome"}),
		Renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "e3db",
			Subsystem: "client",
			Name:      "token_renewals_total",
			Help:      "Bearer token renewals by outcome.",
		}, []string{"outcome"}),
		Busy: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "e3db",
			Subsystem: "client",
			Name:      "busy_rejections_total",
			Help:      "Operations rejected because the work queue was full.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "e3db",
			Subsystem: "client",
			Name:      "queue_depth",
			Help:      "Operations waiting for a worker.",
		}),
	}
	for _, c := range []prometheus.Collector{m.Operations, m.Renewals, m.Busy, m.QueueDepth} {
		if err := reg.Register(c); err != nil {
			return nil, errors.E(errors.Invalid, "registering client metrics", err)
		}
	}
	return m, nil
}

func (m *Metrics) observe(op string, err error) {
	m.Operations.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) renewed(err error) {
	m.Renewals.WithLabelValues(outcome(err)).Inc()
}

// outcome returns the metric label of err: "ok" for nil, otherwise its
// kind in snake case.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	kind := errors.Other
	errors.Visit(errors.Recover(err), func(err error) {
		if e, ok := err.(*errors.Error); ok && kind == errors.Other {
			kind = e.Kind
		}
	})
	return strings.ReplaceAll(kind.String(), " ", "_")
}
