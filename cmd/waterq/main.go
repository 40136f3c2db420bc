// Command waterq runs the water-quality ETL pipeline once: extract gate,
// transform, database load. Scheduling (the daily trigger) is left to the
// operator's scheduler; the binary itself handles per-stage retries and the
// failure notification hook.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"waterq/internal/config"
	"waterq/internal/extract"
	"waterq/internal/load"
	"waterq/internal/metrics"
	"waterq/internal/metrics/prompush"
	"waterq/internal/pipeline"
	"waterq/internal/transform"
)

func main() {
	var (
		pushURL = flag.String("pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL; empty disables metrics)")
		verbose = flag.Bool("v", false, "enable debug logs")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	if err := run(log, *pushURL); err != nil {
		log.Fatal().Err(err).Msg("pipeline failed")
	}
}

func run(log zerolog.Logger, pushURL string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Metrics backend: flag → env → disabled.
	gwURL := pushURL
	if gwURL == "" {
		gwURL = cfg.PushgatewayURL
	}
	if gwURL != "" {
		b, err := prompush.NewBackend("water_etl", gwURL)
		if err != nil {
			log.Warn().Err(err).Msg("metrics backend init failed; metrics disabled")
		} else {
			metrics.SetBackend(b)
			defer func() {
				if err := metrics.Flush(); err != nil {
					log.Warn().Err(err).Msg("metrics flush failed")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	extractor := extract.New(log.With().Str("stage", "extract").Logger())
	transformer := transform.New(log.With().Str("stage", "transform").Logger())
	loader := load.New(log.With().Str("stage", "load").Logger(), cfg.DB)

	runner := &pipeline.Runner{
		Retries:    cfg.StageRetries,
		RetryDelay: cfg.RetryDelay,
		Notifier:   pipeline.LogNotifier{Log: log},
		Log:        log,
	}

	start := time.Now()
	results, err := runner.Run(ctx,
		pipeline.Stage{Name: "extract", Run: func(ctx context.Context) error {
			_, err := extractor.Check(ctx, cfg.RawFile)
			return err
		}},
		pipeline.Stage{Name: "transform", Run: func(ctx context.Context) error {
			_, err := transformer.Run(ctx, cfg.RawFile, cfg.CleanCSV, cfg.CleanParquet)
			return err
		}},
		pipeline.Stage{Name: "load", Run: func(ctx context.Context) error {
			_, err := loader.Run(ctx, cfg.CleanParquet)
			return err
		}},
	)
	for _, res := range results {
		log.Info().Str("stage", res.Stage).Int("attempts", res.Attempts).
			Dur("elapsed", res.Duration).Bool("ok", res.OK()).Msg("stage result")
	}
	if err != nil {
		return err
	}

	log.Info().Dur("elapsed", time.Since(start).Truncate(time.Millisecond)).Msg("pipeline complete")
	return nil
}
