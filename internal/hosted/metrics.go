// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hosted

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/devhost/pkg/errutil"
)

// Metrics records supervisor activity. A nil *Metrics records nothing.
type Metrics struct {
	Launches        *prometheus.CounterVec
	Terminations    *prometheus.CounterVec
	State           *prometheus.GaugeVec
	StartupDuration prometheus.Histogram
}

// NewMetrics creates and registers supervisor metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Launches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devhost_launches_total",
				Help: "Hosted instance launches by outcome",
			},
			[]string{"outcome"},
		),
		Terminations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devhost_terminations_total",
				Help: "Hosted instance terminations by result",
			},
			[]string{"result"},
		),
		State: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "devhost_supervisor_state",
				Help: "1 for the current supervisor state, 0 otherwise",
			},
			[]string{"state"},
		),
		StartupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "devhost_startup_duration_seconds",
			Help:    "Time from spawn to a reachable endpoint",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
	}

	reg.MustRegister(m.Launches, m.Terminations, m.State, m.StartupDuration)
	m.setState(StateIdle)
	return m
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	for _, st := range []State{StateIdle, StateStarting, StateRunning, StateTerminating} {
		v := 0.0
		if st == s {
			v = 1
		}
		m.State.WithLabelValues(st.String()).Set(v)
	}
}

func (m *Metrics) observeLaunch(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = outcomeOf(err)
	} else {
		m.StartupDuration.Observe(elapsed.Seconds())
	}
	m.Launches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeTerminate(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = outcomeOf(err)
	}
	m.Terminations.WithLabelValues(result).Inc()
}

func outcomeOf(err error) string {
	if code := errutil.Code(err); code != "" {
		return code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "CANCELLED"
	}
	return "ERROR"
}
