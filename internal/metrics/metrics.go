// Package metrics exposes Prometheus collectors for migration runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Task outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Run statuses.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusInvalid = "invalid"
	StatusError   = "error"
)

type Config struct {
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
	Subsystem string `mapstructure:"subsystem" yaml:"subsystem"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{Namespace: "dbmigrate"}
}

// Collector holds the migrator's metric vectors on its own registry. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	Runs         *prometheus.CounterVec
	Tasks        *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec
	LockWait     prometheus.Histogram
	LastSuccess  prometheus.Gauge
}

// New creates a collector with the default configuration.
func New() *Collector {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a collector with its own Prometheus registry.
func NewWithConfig(cfg Config) *Collector {
	reg := prometheus.NewRegistry()
	ns, sub := cfg.Namespace, cfg.Subsystem

	c := &Collector{
		registry: reg,
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "runs_total",
			Help:      "Total number of migrate invocations by final status",
		}, []string{"status"}),
		Tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "tasks_total",
			Help:      "Total number of tasks processed by outcome",
		}, []string{"outcome"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "task_duration_seconds",
			Help:      "Duration of task executions in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		LockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the ledger lock",
			Buckets:   []float64{.001, .01, .1, .5, 1, 5, 15, 60, 300},
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last migrate invocation that finished without failures",
		}),
	}
	reg.MustRegister(c.Runs, c.Tasks, c.TaskDuration, c.LockWait, c.LastSuccess)
	return c
}

// Registry returns the collector's registry, e.g. to add process collectors.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler returns an HTTP handler that serves Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordRun counts a finished migrate invocation.
func (c *Collector) RecordRun(status string) {
	if c == nil {
		return
	}
	c.Runs.WithLabelValues(status).Inc()
	if status == StatusOK {
		c.LastSuccess.SetToCurrentTime()
	}
}

// RecordTask counts a task outcome; skipped tasks carry no duration.
func (c *Collector) RecordTask(outcome string, took time.Duration) {
	if c == nil {
		return
	}
	c.Tasks.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSkipped {
		c.TaskDuration.WithLabelValues(outcome).Observe(took.Seconds())
	}
}

// RecordLockWait records how long a migrator blocked on the ledger lock.
func (c *Collector) RecordLockWait(waited time.Duration) {
	if c == nil {
		return
	}
	c.LockWait.Observe(waited.Seconds())
}
