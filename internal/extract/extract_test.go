package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestCheckReportsSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.csv")
	if err := os.WriteFile(path, []byte("estado,periodo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	size, err := New(zerolog.Nop()).Check(context.Background(), path)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if size != 15 {
		t.Fatalf("size = %d, want 15", size)
	}
}

func TestCheckMissingFile(t *testing.T) {
	_, err := New(zerolog.Nop()).Check(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	if !errors.Is(err, ErrMissingSource) {
		t.Fatalf("err = %v, want ErrMissingSource", err)
	}
}

func TestCheckEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := New(zerolog.Nop()).Check(context.Background(), path)
	if !errors.Is(err, ErrEmptySource) {
		t.Fatalf("err = %v, want ErrEmptySource", err)
	}
}

func TestCheckCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(zerolog.Nop()).Check(ctx, "whatever.csv")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
