package planner

import (
	"github.com/prometheus/client_golang/prometheus"

	"pulsecnc/standalone/stepgen"
)

// Metrics are the Prometheus collectors updated by the planner.
// A nil *Metrics records nothing.
type Metrics struct {
	moves       *prometheus.CounterVec
	steps       prometheus.Counter
	prepare     prometheus.Histogram
	estimated   prometheus.Histogram
	instantRuns prometheus.Counter
	slowStarts  prometheus.Counter
	homing      *prometheus.CounterVec
}

// NewMetrics creates the planner collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		moves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsecnc_moves_total",
				Help: "Linear moves requested, by result",
			},
			[]string{"result"},
		),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulsecnc_step_events_total",
			Help: "Step events streamed to the pulse engine",
		}),
		prepare: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulsecnc_move_prepare_seconds",
			Help:    "Wall time spent generating a move's pulse buffer",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		estimated: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulsecnc_move_estimated_seconds",
			Help:    "Estimated execution time of planned moves",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		instantRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulsecnc_instant_run_starts_total",
			Help: "Moves started before generation finished",
		}),
		slowStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulsecnc_instant_run_slow_total",
			Help: "Instant runs whose buffer filled slower than the budget",
		}),
		homing: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsecnc_homing_runs_total",
				Help: "Homing runs, by outcome",
			},
			[]string{"outcome"},
		),
	}
	reg.MustRegister(m.moves, m.steps, m.prepare, m.estimated, m.instantRuns, m.slowStarts, m.homing)
	return m
}

func (m *Metrics) observeMove(estimated float64, r stepgen.StreamReport, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.moves.WithLabelValues("error").Inc()
		return
	}
	m.moves.WithLabelValues("ok").Inc()
	m.steps.Add(float64(r.Steps))
	m.prepare.Observe(r.Prepared.Seconds())
	m.estimated.Observe(estimated)
	if r.InstantRun {
		m.instantRuns.Inc()
	}
	if r.SlowStart {
		m.slowStarts.Inc()
	}
}

func (m *Metrics) observeRejected() {
	if m == nil {
		return
	}
	m.moves.WithLabelValues("rejected").Inc()
}

func (m *Metrics) observeHoming(outcome HomingOutcome) {
	if m == nil {
		return
	}
	m.homing.WithLabelValues(outcome.String()).Inc()
}
