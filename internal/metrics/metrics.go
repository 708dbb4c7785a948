// Package metrics records pipeline counters on a private Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pathsim"

const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"

	StatusCompleted  = "completed"
	StatusInfeasible = "infeasible"
	StatusDegenerate = "degenerate"
	StatusFailed     = "failed"
)

// Recorder owns the pipeline collectors. The nil Recorder is valid and
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	simulations       *prometheus.CounterVec
	simulationSeconds prometheus.Histogram
	runs              *prometheus.CounterVec
	efficiency        prometheus.Gauge
	validationRMSE    prometheus.Histogram
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		simulations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulations_total",
			Help:      "Pathway simulations by outcome.",
		}, []string{"outcome"}),
		simulationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "simulation_seconds",
			Help:      "Wall time of a single pathway simulation.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by terminal status.",
		}, []string{"status"}),
		efficiency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "design_efficiency",
			Help:      "D-efficiency of the most recent design.",
		}),
		validationRMSE: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_rmse",
			Help:      "RMSE between predicted and re-simulated endpoints.",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 10, 8),
		}),
	}
	r.registry.MustRegister(
		r.simulations,
		r.simulationSeconds,
		r.runs,
		r.efficiency,
		r.validationRMSE,
		collectors.NewGoCollector(),
	)
	return r
}

func (r *Recorder) Simulation(ok bool, seconds float64) {
	if r == nil {
		return
	}
	outcome := OutcomeOK
	if !ok {
		outcome = OutcomeFailed
	}
	r.simulations.WithLabelValues(outcome).Inc()
	r.simulationSeconds.Observe(seconds)
}

func (r *Recorder) Run(status string) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(status).Inc()
}

func (r *Recorder) Efficiency(j float64) {
	if r == nil {
		return
	}
	r.efficiency.Set(j)
}

func (r *Recorder) ValidationRMSE(rmse float64) {
	if r == nil {
		return
	}
	r.validationRMSE.Observe(rmse)
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
