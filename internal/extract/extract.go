// Package extract implements the first pipeline stage: a pure existence and
// readability gate on the raw input file. It performs no parsing; its only
// output is the file's byte size, logged for operational visibility.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
)

var (
	// ErrMissingSource marks an input file that does not exist.
	ErrMissingSource = errors.New("missing source file")

	// ErrEmptySource marks an input file with zero bytes.
	ErrEmptySource = errors.New("empty source file")
)

// Extractor checks the raw input ahead of the transform stage.
type Extractor struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Extractor {
	return &Extractor{log: log}
}

// Check verifies that path exists and is non-empty and returns its byte
// size. A missing file yields ErrMissingSource, an empty one ErrEmptySource;
// both carry the path.
func (e *Extractor) Check(ctx context.Context, path string) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrMissingSource, path)
		}
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("%w: %s", ErrEmptySource, path)
	}

	e.log.Info().Str("path", path).Int64("bytes", info.Size()).Msg("source file found")
	return info.Size(), nil
}
