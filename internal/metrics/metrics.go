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

	runStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "steamkeeper",
			Subsystem: "supervisor",
			Name:      "run_starts_total",
			Help:      "Number of tool launches per profile.",
		}, []string{"profile"},
	)
	runResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "steamkeeper",
			Subsystem: "supervisor",
			Name:      "run_results_total",
			Help:      "Finished tool runs by result (success, failure).",
		}, []string{"profile", "result"},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "steamkeeper",
			Subsystem: "supervisor",
			Name:      "run_duration_seconds",
			Help:      "Wall time of tool runs.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200},
		}, []string{"profile"},
	)
	orphanKills = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "steamkeeper",
			Subsystem: "supervisor",
			Name:      "orphan_kills_total",
			Help:      "Untracked tool processes killed by the orphan sweep.",
		},
	)
	installs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "steamkeeper",
			Subsystem: "supervisor",
			Name:      "installs_total",
			Help:      "Tool installation attempts by result.",
		}, []string{"result"},
	)
	queuePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "steamkeeper",
			Subsystem: "queue",
			Name:      "pending",
			Help:      "Items currently waiting in the update queue.",
		},
	)
	queueJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "steamkeeper",
			Subsystem: "queue",
			Name:      "jobs_total",
			Help:      "Queue items reaching a terminal status.",
		}, []string{"status"},
	)
	scheduleTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "steamkeeper",
			Subsystem: "schedule",
			Name:      "ticks_total",
			Help:      "Schedule loop ticks by loop and outcome (ran, skipped, busy, failed).",
		}, []string{"loop", "outcome"},
	)
	logEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "steamkeeper",
			Subsystem: "logs",
			Name:      "entries_total",
			Help:      "Log entries added by level.",
		}, []string{"level"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{runStarts, runResults, runDuration, orphanKills, installs, queuePending, queueJobs, scheduleTicks, logEntries}
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

// Helpers below no-op until Register has succeeded.

func IncRunStart(profile string) {
	if regOK.Load() {
		runStarts.WithLabelValues(profile).Inc()
	}
}

func ObserveRun(profile string, success bool, seconds float64) {
	if !regOK.Load() {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	runResults.WithLabelValues(profile, result).Inc()
	runDuration.WithLabelValues(profile).Observe(seconds)
}

func AddOrphanKills(n int) {
	if regOK.Load() && n > 0 {
		orphanKills.Add(float64(n))
	}
}

func IncInstall(success bool) {
	if !regOK.Load() {
		return
	}
	if success {
		installs.WithLabelValues("success").Inc()
	} else {
		installs.WithLabelValues("failure").Inc()
	}
}

func SetQueuePending(n int) {
	if regOK.Load() {
		queuePending.Set(float64(n))
	}
}

func IncQueueJob(status string) {
	if regOK.Load() {
		queueJobs.WithLabelValues(status).Inc()
	}
}

func IncScheduleTick(loop, outcome string) {
	if regOK.Load() {
		scheduleTicks.WithLabelValues(loop, outcome).Inc()
	}
}

func IncLogEntry(level string) {
	if regOK.Load() {
		logEntries.WithLabelValues(level).Inc()
	}
}
