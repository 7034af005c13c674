// Package telemetry collects solver metrics in a private prometheus
// registry. A nil *Metrics accepts every call and records nothing.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	registry *prometheus.Registry

	newtonIterations prometheus.Counter
	newtonSolves     *prometheus.CounterVec
	linearSolve      prometheus.Histogram
	assembly         *prometheus.HistogramVec
	adaptSteps       prometheus.Counter
	adaptError       prometheus.Gauge
	adaptNDOF        *prometheus.GaugeVec
}

// New registers the metrics; constLabels are attached to every series,
// typically the run identifier.
func New(constLabels prometheus.Labels) (m *Metrics) {
	var (
		reg     = prometheus.NewRegistry()
		factory = promauto.With(reg)
		timings = []float64{1e-5, 1e-4, 1e-3, 1e-2, 1e-1, 1, 10}
	)
	m = &Metrics{
		registry: reg,
		newtonIterations: factory.NewCounter(prometheus.CounterOpts{
			Name:        "gohpfem_newton_iterations_total",
			Help:        "Newton iterations performed",
			ConstLabels: constLabels,
		}),
		newtonSolves: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "gohpfem_newton_solves_total",
			Help:        "Newton solves by final status",
			ConstLabels: constLabels,
		}, []string{"status"}),
		linearSolve: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "gohpfem_linear_solve_seconds",
			Help:        "Time spent in the linear solver",
			Buckets:     timings,
			ConstLabels: constLabels,
		}),
		assembly: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "gohpfem_assembly_seconds",
			Help:        "Time spent assembling, by output",
			Buckets:     timings,
			ConstLabels: constLabels,
		}, []string{"kind"}),
		adaptSteps: factory.NewCounter(prometheus.CounterOpts{
			Name:        "gohpfem_adapt_steps_total",
			Help:        "Adaptivity steps taken",
			ConstLabels: constLabels,
		}),
		adaptError: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "gohpfem_adapt_relative_error",
			Help:        "Relative error estimate of the last adaptivity step",
			ConstLabels: constLabels,
		}),
		adaptNDOF: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "gohpfem_adapt_ndof",
			Help:        "Degrees of freedom of the last adaptivity step",
			ConstLabels: constLabels,
		}, []string{"space"}),
	}
	return
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) NewtonIteration() {
	if m == nil {
		return
	}
	m.newtonIterations.Inc()
}

func (m *Metrics) NewtonSolve(status string) {
	if m == nil {
		return
	}
	m.newtonSolves.WithLabelValues(status).Inc()
}

func (m *Metrics) LinearSolve(d time.Duration) {
	if m == nil {
		return
	}
	m.linearSolve.Observe(d.Seconds())
}

// Assembly records an assembly of kind "jacobian", "residual" or "both".
func (m *Metrics) Assembly(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.assembly.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) AdaptStep(relErr float64, coarseNDOF, refNDOF int) {
	if m == nil {
		return
	}
	m.adaptSteps.Inc()
	m.adaptError.Set(relErr)
	m.adaptNDOF.WithLabelValues("coarse").Set(float64(coarseNDOF))
	m.adaptNDOF.WithLabelValues("reference").Set(float64(refNDOF))
}

// WriteTextfile writes the registry in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
