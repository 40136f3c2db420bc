// Package config holds the runtime configuration for the pipeline. It is
// built once at process start from the environment (optionally a .env file)
// and passed by reference into each stage; no stage reads the environment
// itself.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"waterq/internal/storage/postgres"
)

const (
	defaultRawFile      = "data/calidad_agua.csv"
	defaultCleanCSV     = "data/calidad_agua_clean.csv"
	defaultCleanParquet = "data/calidad_agua_clean.parquet"

	defaultDBHost = "postgres-waterdb"
	defaultDBPort = 5432
	defaultDBName = "water_quality_db"
	defaultDBUser = "wateruser"
	defaultDBPass = "waterpass"

	defaultRetries    = 2
	defaultRetryDelay = 2 * time.Minute
)

// Config is the full pipeline configuration.
type Config struct {
	// File paths: raw input and the two cleaned outputs.
	RawFile      string
	CleanCSV     string
	CleanParquet string

	// DB holds the destination connection parameters.
	DB postgres.Config

	// StageRetries is the number of automatic retries per stage.
	StageRetries int

	// RetryDelay is the pause between retry attempts.
	RetryDelay time.Duration

	// PushgatewayURL enables the Prometheus Pushgateway metrics backend
	// when non-empty.
	PushgatewayURL string
}

// Load reads configuration from environment variables, after loading a .env
// file when one is present. Every variable has a default.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		RawFile:      envStr("WATER_RAW_FILE", defaultRawFile),
		CleanCSV:     envStr("WATER_CLEAN_CSV", defaultCleanCSV),
		CleanParquet: envStr("WATER_CLEAN_PARQUET", defaultCleanParquet),
		DB: postgres.Config{
			Host:     envStr("WATER_DB_HOST", defaultDBHost),
			Name:     envStr("WATER_DB_NAME", defaultDBName),
			User:     envStr("WATER_DB_USER", defaultDBUser),
			Password: envStr("WATER_DB_PASSWORD", defaultDBPass),
		},
		PushgatewayURL: envStr("PUSHGATEWAY_URL", ""),
	}

	var err error
	if cfg.DB.Port, err = envInt("WATER_DB_PORT", defaultDBPort); err != nil {
		return nil, err
	}
	if cfg.StageRetries, err = envInt("WATER_STAGE_RETRIES", defaultRetries); err != nil {
		return nil, err
	}
	if cfg.RetryDelay, err = envDuration("WATER_RETRY_DELAY", defaultRetryDelay); err != nil {
		return nil, err
	}
	if cfg.StageRetries < 0 {
		return nil, fmt.Errorf("WATER_STAGE_RETRIES must not be negative")
	}
	return cfg, nil
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
