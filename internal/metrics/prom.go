package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service starts.",
		}, []string{"name"},
	)
	serviceRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "restarts_total",
			Help:      "Number of supervised restarts.",
		}, []string{"name"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or kill).",
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "state_transitions_total",
			Help:      "Number of transitions between service states.",
		}, []string{"name", "from", "to"},
	)
	healthStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "health",
			Name:      "component_status",
			Help:      "Component health (0=healthy, 1=degraded, 2=unhealthy).",
		}, []string{"component"},
	)
	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=half_open, 2=open).",
		}, []string{"name"},
	)
	probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "warden",
			Subsystem: "health",
			Name:      "probe_duration_seconds",
			Help:      "Observed health probe durations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"component"},
	)
)

// Register registers all collectors with the provided registerer, or the
// default registerer when r is nil. It is safe to call multiple times;
// subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	if r == nil {
		r = prometheus.DefaultRegisterer
	}
	cs := []prometheus.Collector{serviceStarts, serviceRestarts, serviceStops, stateTransitions, healthStatus, breakerState, probeDuration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer. The caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Lightweight helpers used by internal packages. They no-op before Register.

func IncStart(name string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(name).Inc()
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		serviceRestarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(name).Inc()
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

// SetHealthStatus maps a component's verdict onto the status gauge.
// severity: 0 healthy, 1 degraded, 2 unhealthy.
func SetHealthStatus(component string, severity int) {
	if regOK.Load() {
		healthStatus.WithLabelValues(component).Set(float64(severity))
	}
}

// SetBreakerState maps a breaker's state onto its gauge.
// severity: 0 closed, 1 half_open, 2 open.
func SetBreakerState(name string, severity int) {
	if regOK.Load() {
		breakerState.WithLabelValues(name).Set(float64(severity))
	}
}

func ObserveProbeDuration(component string, seconds float64) {
	if regOK.Load() {
		probeDuration.WithLabelValues(component).Observe(seconds)
	}
}
