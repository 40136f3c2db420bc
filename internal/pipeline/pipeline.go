// Package pipeline sequences the three ETL stages. Each stage yields a
// typed Result; the runner applies the per-stage retry policy, invokes the
// failure notification hook when a stage exhausts its attempts, and stops at
// the first failed stage so that later stages never run on stale state.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"waterq/internal/metrics"
)

// Stage is one unit of pipeline work.
type Stage struct {
	Name string
	Run  func(ctx context.Context) error
}

// Result describes the outcome of one stage.
type Result struct {
	Stage    string
	Attempts int
	Duration time.Duration
	Err      error
}

// OK reports whether the stage ultimately succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Notifier receives failure notifications after a stage exhausts its retry
// budget. Implementations must not panic; the error has already been logged.
type Notifier interface {
	NotifyFailure(ctx context.Context, stage string, err error)
}

// LogNotifier is the default Notifier: it emits a structured error line.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) NotifyFailure(_ context.Context, stage string, err error) {
	n.Log.Error().Str("stage", stage).Err(err).Msg("stage failed after retries")
}

// Runner executes stages in order with a retry policy.
type Runner struct {
	// Retries is the number of additional attempts after the first failure.
	Retries int

	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration

	// Notifier is invoked when a stage exhausts its attempts. Nil disables
	// notification.
	Notifier Notifier

	Log zerolog.Logger

	// sleep is a test seam; nil means the context-aware default.
	sleep func(ctx context.Context, d time.Duration) error
}

// Run executes the stages strictly in order. It returns the results of every
// stage that ran; when a stage fails after all attempts, Run notifies, stops
// without running later stages, and returns an error naming the stage.
func (r *Runner) Run(ctx context.Context, stages ...Stage) ([]Result, error) {
	results := make([]Result, 0, len(stages))
	for _, s := range stages {
		res := r.runStage(ctx, s)
		results = append(results, res)

		status := "ok"
		if !res.OK() {
			status = "failed"
		}
		metrics.IncCounter("water_etl_stage_total", 1, metrics.Labels{"stage": s.Name, "status": status})
		metrics.ObserveDuration("water_etl_stage_duration_seconds", res.Duration, metrics.Labels{"stage": s.Name})

		if !res.OK() {
			if r.Notifier != nil {
				r.Notifier.NotifyFailure(ctx, s.Name, res.Err)
			}
			return results, fmt.Errorf("stage %s: %w", s.Name, res.Err)
		}
	}
	return results, nil
}

func (r *Runner) runStage(ctx context.Context, s Stage) Result {
	attempts := 1 + r.Retries
	if attempts < 1 {
		attempts = 1
	}
	start := time.Now()

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return Result{Stage: s.Name, Attempts: attempt - 1, Duration: time.Since(start), Err: err}
		}

		r.Log.Info().Str("stage", s.Name).Int("attempt", attempt).Msg("stage starting")
		err = s.Run(ctx)
		if err == nil {
			res := Result{Stage: s.Name, Attempts: attempt, Duration: time.Since(start)}
			r.Log.Info().Str("stage", s.Name).Int("attempts", attempt).
				Dur("elapsed", res.Duration).Msg("stage complete")
			return res
		}

		r.Log.Warn().Str("stage", s.Name).Int("attempt", attempt).Err(err).Msg("stage attempt failed")
		if attempt < attempts {
			if serr := r.doSleep(ctx, r.RetryDelay); serr != nil {
				// Cancelled while waiting to retry; report only the
				// attempts that actually ran.
				return Result{Stage: s.Name, Attempts: attempt, Duration: time.Since(start), Err: serr}
			}
		}
	}
	return Result{Stage: s.Name, Attempts: attempts, Duration: time.Since(start), Err: err}
}

func (r *Runner) doSleep(ctx context.Context, d time.Duration) error {
	if r.sleep != nil {
		return r.sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
