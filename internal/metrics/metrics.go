// Package metrics provides a small, backend-agnostic abstraction for
// recording operational metrics from the pipeline stages.
//
// A global, pluggable backend defaults to a no-op implementation, so metric
// calls are always safe even when no real backend is configured. The
// Prometheus Pushgateway backend lives in the prompush subpackage; the rest
// of the codebase depends only on this interface.
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
	// ObserveDuration records a stage or operation duration.
	ObserveDuration(name string, d time.Duration, labels Labels)
	// Flush pushes collected metrics if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels) {}

func (nopBackend) ObserveDuration(string, time.Duration, Labels) {}

func (nopBackend) Flush() error { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs the active backend. Passing nil restores the no-op.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter increments a counter on the active backend.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveDuration records a duration on the active backend.
func ObserveDuration(name string, d time.Duration, labels Labels) {
	current().ObserveDuration(name, d, labels)
}

// Flush flushes the active backend.
func Flush() error {
	return current().Flush()
}
