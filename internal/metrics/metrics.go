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

	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reforge",
			Subsystem: "messages",
			Name:      "sent_total",
			Help:      "Number of chat messages posted, by message kind.",
		}, []string{"kind"},
	)
	messagesEdited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reforge",
			Subsystem: "messages",
			Name:      "edited_total",
			Help:      "Number of in-place message edits, by message kind.",
		}, []string{"kind"},
	)
	messagesRecreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reforge",
			Subsystem: "messages",
			Name:      "recreated_total",
			Help:      "Number of tracked messages recreated after external deletion.",
		}, []string{"kind"},
	)
	tickErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reforge",
			Subsystem: "scheduler",
			Name:      "tick_errors_total",
			Help:      "Number of job runs that returned an error.",
		}, []string{"job"},
	)
	tickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reforge",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent in a job run.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"},
	)
	countdownStage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "reforge",
			Subsystem: "countdown",
			Name:      "stage",
			Help:      "Ordinal of the last countdown stage announced in the current cycle (0 = none).",
		},
	)
	nextRestart = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "reforge",
			Subsystem: "schedule",
			Name:      "next_restart_timestamp_seconds",
			Help:      "Unix time of the restart instant owning the current cycle.",
		},
	)
	maintenance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "reforge",
			Subsystem: "schedule",
			Name:      "maintenance",
			Help:      "1 while inside the maintenance window, 0 otherwise.",
		},
	)
)

// Register registers all collectors with r. Calling it more than once is a no-op.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{messagesSent, messagesEdited, messagesRecreated, tickErrors, tickDuration, countdownStage, nextRestart, maintenance, NewProcessCollector(0)}
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// The helpers below no-op until Register has been called.

func IncSent(kind string) {
	if regOK.Load() {
		messagesSent.WithLabelValues(kind).Inc()
	}
}

func IncEdited(kind string) {
	if regOK.Load() {
		messagesEdited.WithLabelValues(kind).Inc()
	}
}

func IncRecreated(kind string) {
	if regOK.Load() {
		messagesRecreated.WithLabelValues(kind).Inc()
	}
}

func IncTickError(job string) {
	if regOK.Load() {
		tickErrors.WithLabelValues(job).Inc()
	}
}

func ObserveTick(job string, seconds float64) {
	if regOK.Load() {
		tickDuration.WithLabelValues(job).Observe(seconds)
	}
}

func SetStage(ordinal int) {
	if regOK.Load() {
		countdownStage.Set(float64(ordinal))
	}
}

func SetNextRestart(unix int64) {
	if regOK.Load() {
		nextRestart.Set(float64(unix))
	}
}

func SetMaintenance(active bool) {
	if regOK.Load() {
		var v float64
		if active {
			v = 1
		}
		maintenance.Set(v)
	}
}
