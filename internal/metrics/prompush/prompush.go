// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package. It keeps all Prometheus-specific dependencies out of the
// pipeline itself: stages record through the generic metrics interface and
// the collected values are pushed once per run, which suits a short-lived
// batch process better than a scrape endpoint.
package prompush

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"waterq/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string
	jobName    string
	reg        *prometheus.Registry

	stageCounter  *prometheus.CounterVec // water_etl_stage_total{stage,status}
	stageDuration *prometheus.SummaryVec // water_etl_stage_duration_seconds{stage}
	rowCounter    *prometheus.CounterVec // water_etl_rows_total{stage}
}

// NewBackend builds a Backend pushing under the given job name.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL required")
	}
	if jobName == "" {
		jobName = "water_etl"
	}

	reg := prometheus.NewRegistry()
	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        reg,
		stageCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "water_etl_stage_total",
			Help: "Pipeline stage attempts by final status.",
		}, []string{"stage", "status"}),
		stageDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name: "water_etl_stage_duration_seconds",
			Help: "Wall-clock duration of pipeline stages.",
		}, []string{"stage"}),
		rowCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "water_etl_rows_total",
			Help: "Rows processed per stage.",
		}, []string{"stage"}),
	}
	reg.MustRegister(b.stageCounter, b.stageDuration, b.rowCounter)
	return b, nil
}

// IncCounter implements metrics.Backend. Unknown counter names are dropped
// rather than failing the pipeline.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case "water_etl_stage_total":
		b.stageCounter.WithLabelValues(labels["stage"], labels["status"]).Add(delta)
	case "water_etl_rows_total":
		b.rowCounter.WithLabelValues(labels["stage"]).Add(delta)
	}
}

// ObserveDuration implements metrics.Backend.
func (b *Backend) ObserveDuration(name string, d time.Duration, labels metrics.Labels) {
	if name == "water_etl_stage_duration_seconds" {
		b.stageDuration.WithLabelValues(labels["stage"]).Observe(d.Seconds())
	}
}

// Flush pushes the collected metrics to the Pushgateway.
func (b *Backend) Flush() error {
	if err := push.New(b.gatewayURL, b.jobName).Gatherer(b.reg).Add(); err != nil {
		return fmt.Errorf("prompush: push to %s: %w", b.gatewayURL, err)
	}
	return nil
}
