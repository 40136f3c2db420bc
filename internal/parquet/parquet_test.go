package parquet

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"

	"waterq/internal/frame"
)

func TestRoundTrip(t *testing.T) {
	tbl := &frame.Table{
		Columns: []string{"estado", "calidad_dqo", "indice_calidad_dqo", "indice_calidad_general"},
		Rows: [][]any{
			{"Jalisco", "Excelente", 1.0, 2.5},
			{"Sonora", "0", nil, nil},
		},
	}
	path := filepath.Join(t.TempDir(), "clean.parquet")
	if err := WriteFile(path, tbl); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := ReadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !reflect.DeepEqual(got, tbl) {
		t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", got, tbl)
	}
}

func TestRoundTripEmptyTableKeepsSchema(t *testing.T) {
	tbl := &frame.Table{
		Columns: []string{"estado", "periodo"},
		Rows:    [][]any{},
	}
	path := filepath.Join(t.TempDir(), "empty.parquet")
	if err := WriteFile(path, tbl); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := ReadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got.NumRows() != 0 {
		t.Fatalf("rows = %d, want 0", got.NumRows())
	}
	if !reflect.DeepEqual(got.Columns, tbl.Columns) {
		t.Fatalf("columns = %v, want %v", got.Columns, tbl.Columns)
	}
}

func TestAllMissingDerivedColumnSurvives(t *testing.T) {
	// A derived ordinal column can be entirely missing when every category
	// value was unknown; it must still round-trip as a column of nulls.
	tbl := &frame.Table{
		Columns: []string{"estado", "indice_calidad_sst"},
		Rows: [][]any{
			{"Jalisco", nil},
			{"Sonora", nil},
		},
	}
	path := filepath.Join(t.TempDir(), "nulls.parquet")
	if err := WriteFile(path, tbl); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := ReadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	vals, ok := got.Column("indice_calidad_sst")
	if !ok {
		t.Fatal("column missing after round trip")
	}
	if !reflect.DeepEqual(vals, []any{nil, nil}) {
		t.Fatalf("values = %v, want all nil", vals)
	}
}

func TestReadMissingFile(t *testing.T) {
	if _, err := ReadFile(context.Background(), filepath.Join(t.TempDir(), "nope.parquet")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWithFloat64ColumnsPinsType(t *testing.T) {
	tbl := &frame.Table{
		Columns: []string{"estado", "indice_calidad_general"},
		Rows:    [][]any{},
	}

	var o writeOptions
	WithFloat64Columns("indice_calidad_general")(&o)
	schema := buildSchema(tbl, o)
	if got := schema.Field(0).Type; got != arrow.BinaryTypes.String {
		t.Fatalf("estado type = %s, want utf8", got)
	}
	if got := schema.Field(1).Type; got != arrow.PrimitiveTypes.Float64 {
		t.Fatalf("indice_calidad_general type = %s, want float64", got)
	}

	path := filepath.Join(t.TempDir(), "clean.parquet")
	if err := WriteFile(path, tbl, WithFloat64Columns("indice_calidad_general")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := ReadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !reflect.DeepEqual(got.Columns, tbl.Columns) || got.NumRows() != 0 {
		t.Fatalf("round trip = %+v", got)
	}
}
