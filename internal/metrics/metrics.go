// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from the sales loader.
//
// The package exposes a narrow interface (Backend) with counters, timings and
// gauges. The global backend defaults to a no-op implementation, so metrics are
// always safe to call even when no real backend is configured. Concrete metric
// systems (Prometheus Pushgateway, DogStatsD) live in subpackages.
package metrics

import (
	"sync"
	"time"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// SetGauge sets a point-in-time value such as a quality score.
	SetGauge(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) SetGauge(name string, value float64, labels Labels)         {}
func (nopBackend) Flush() error                                               { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep measures latency and success/failure of one pipeline step
// (extract, transform, load, quality, ...).
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}

	b := current()
	b.IncCounter("etl_step_total", 1, lbls)
	b.ObserveHistogram("etl_step_duration_seconds", d.Seconds(), lbls)
}

// RecordRow increments a record-level counter for the given job and kind.
//
// Kinds mirror the run counters:
//   - "processed"
//   - "rejected"
//   - "loaded"
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter("etl_records_total", float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordBatches increments a batch-level counter for the given job.
func RecordBatches(job string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter("etl_batches_total", float64(delta), Labels{
		"job": job,
	})
}

// RecordRetry counts one failed attempt of a retried operation.
func RecordRetry(operation string) {
	current().IncCounter("etl_retries_total", 1, Labels{"operation": operation})
}

// RecordScore publishes the latest score (0-100) of a data-quality check.
func RecordScore(check string, score float64) {
	current().SetGauge("etl_dq_score", score, Labels{"check": check})
}
