// Package parquet persists a frame.Table as a snappy-compressed Parquet
// file and reads it back. The columnar file is the hand-off format between
// the transform and load stages.
//
// Column types are inferred from the cell values: a column whose non-missing
// values are all float64 becomes a nullable FLOAT64 field (the derived
// ordinal and index columns), everything else is written as a nullable
// string column. Callers that know a column is numeric can pin it with
// WithFloat64Columns so the stored schema stays stable even when a run
// produces no values for it.
package parquet

import (
	"context"
	"fmt"
	"os"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/compress"
	"github.com/apache/arrow/go/v17/parquet/file"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"

	"waterq/internal/frame"
)

// Option adjusts how WriteFile lays out the file.
type Option func(*writeOptions)

type writeOptions struct {
	float64Cols map[string]bool
}

// WithFloat64Columns forces the named columns to nullable FLOAT64 regardless
// of the cell values observed. Cells that are not float64 are stored as
// nulls.
func WithFloat64Columns(names ...string) Option {
	return func(o *writeOptions) {
		if o.float64Cols == nil {
			o.float64Cols = make(map[string]bool, len(names))
		}
		for _, n := range names {
			o.float64Cols[n] = true
		}
	}
}

// WriteFile writes the table to path, replacing any existing file.
func WriteFile(path string, t *frame.Table, opts ...Option) error {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	mem := memory.DefaultAllocator
	schema := buildSchema(t, o)

	cols := make([]arrow.Array, 0, t.NumCols())
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	for i, f := range schema.Fields() {
		arr, err := buildColumn(mem, f, t, i)
		if err != nil {
			return fmt.Errorf("write %s: column %s: %w", path, f.Name, err)
		}
		cols = append(cols, arr)
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithDictionaryDefault(true),
	)
	w, err := pqarrow.NewFileWriter(schema, out, props,
		pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		out.Close()
		return fmt.Errorf("open parquet writer for %s: %w", path, err)
	}

	rec := array.NewRecord(schema, cols, int64(t.NumRows()))
	defer rec.Release()
	if err := w.Write(rec); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	// Closing the writer finalizes the footer and closes the file.
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// ReadFile reads a Parquet file written by WriteFile fully into memory.
func ReadFile(ctx context.Context, path string) (*frame.Table, error) {
	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer pf.Close()

	rdr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("open arrow reader for %s: %w", path, err)
	}
	tbl, err := rdr.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer tbl.Release()

	out := frame.New(make([]string, tbl.NumCols()))
	out.Rows = make([][]any, tbl.NumRows())
	for r := range out.Rows {
		out.Rows[r] = make([]any, tbl.NumCols())
	}

	for c := 0; c < int(tbl.NumCols()); c++ {
		f := tbl.Schema().Field(c)
		out.Columns[c] = f.Name
		r := 0
		for _, chunk := range tbl.Column(c).Data().Chunks() {
			if err := readChunk(chunk, out.Rows, c, &r); err != nil {
				return nil, fmt.Errorf("read %s: column %s: %w", path, f.Name, err)
			}
		}
	}
	return out, nil
}

func buildSchema(t *frame.Table, o writeOptions) *arrow.Schema {
	fields := make([]arrow.Field, t.NumCols())
	for i, name := range t.Columns {
		typ := columnType(t, i)
		if o.float64Cols[name] {
			typ = arrow.PrimitiveTypes.Float64
		}
		fields[i] = arrow.Field{Name: name, Type: typ, Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// columnType picks FLOAT64 only when every non-missing cell is a float64 and
// at least one value is present; otherwise the column is stored as strings.
func columnType(t *frame.Table, col int) arrow.DataType {
	seen := false
	for _, row := range t.Rows {
		switch row[col].(type) {
		case nil:
		case float64:
			seen = true
		default:
			return arrow.BinaryTypes.String
		}
	}
	if !seen {
		return arrow.BinaryTypes.String
	}
	return arrow.PrimitiveTypes.Float64
}

func buildColumn(mem memory.Allocator, f arrow.Field, t *frame.Table, col int) (arrow.Array, error) {
	switch f.Type.ID() {
	case arrow.FLOAT64:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		for _, row := range t.Rows {
			if v, ok := row[col].(float64); ok {
				b.Append(v)
			} else {
				b.AppendNull()
			}
		}
		return b.NewArray(), nil
	case arrow.STRING:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		for _, row := range t.Rows {
			switch v := row[col].(type) {
			case nil:
				b.AppendNull()
			case string:
				b.Append(v)
			default:
				b.Append(frame.CellString(v))
			}
		}
		return b.NewArray(), nil
	default:
		return nil, fmt.Errorf("unsupported arrow type %s", f.Type)
	}
}

func readChunk(chunk arrow.Array, rows [][]any, col int, r *int) error {
	switch a := chunk.(type) {
	case *array.Float64:
		for i := 0; i < a.Len(); i++ {
			if !a.IsNull(i) {
				rows[*r][col] = a.Value(i)
			}
			*r++
		}
	case *array.String:
		for i := 0; i < a.Len(); i++ {
			if !a.IsNull(i) {
				rows[*r][col] = a.Value(i)
			}
			*r++
		}
	case *array.LargeString:
		for i := 0; i < a.Len(); i++ {
			if !a.IsNull(i) {
				rows[*r][col] = a.Value(i)
			}
			*r++
		}
	default:
		return fmt.Errorf("unsupported column chunk type %T", chunk)
	}
	return nil
}
