package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "browserun",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful child process spawns.",
		}, []string{"name"},
	)
	processExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "browserun",
			Subsystem: "process",
			Name:      "exits_total",
			Help:      "Number of settled child process runs by exit code.",
		}, []string{"name", "code"},
	)
	killEscalations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "browserun",
			Subsystem: "process",
			Name:      "kill_escalations_total",
			Help:      "Number of times a kill was escalated to SIGKILL.",
		}, []string{"name"},
	)
	runSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "browserun",
			Subsystem: "run",
			Name:      "signals_total",
			Help:      "Run signals delivered to adapters, by kind (broadcast or targeted).",
		}, []string{"kind"},
	)
	mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "browserun",
			Subsystem: "store",
			Name:      "mutations_total",
			Help:      "Number of state mutations applied.",
		}, []string{"mutation"},
	)
	connectedSockets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "browserun",
			Subsystem: "sockets",
			Name:      "connected",
			Help:      "Currently connected sockets.",
		},
	)
	readinessWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "browserun",
			Subsystem: "run",
			Name:      "readiness_wait_seconds",
			Help:      "Time from launching browsers until the run became ready.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		processStarts, processExits, killEscalations, runSignals, mutations,
		connectedSockets, readinessWait,
		browserCPUPercent, browserMemoryMB,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncProcessStart(name string) {
	if regOK.Load() {
		processStarts.WithLabelValues(name).Inc()
	}
}

func IncProcessExit(name string, code int) {
	if regOK.Load() {
		processExits.WithLabelValues(name, strconv.Itoa(code)).Inc()
	}
}

func IncKillEscalation(name string) {
	if regOK.Load() {
		killEscalations.WithLabelValues(name).Inc()
	}
}

func IncRunSignal(kind string) {
	if regOK.Load() {
		runSignals.WithLabelValues(kind).Inc()
	}
}

func IncMutation(name string) {
	if regOK.Load() {
		mutations.WithLabelValues(name).Inc()
	}
}

func SetConnectedSockets(n int) {
	if regOK.Load() {
		connectedSockets.Set(float64(n))
	}
}

func ObserveReadinessWait(seconds float64) {
	if regOK.Load() {
		readinessWait.Observe(seconds)
	}
}
