package frame

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CSVOptions controls how delimited text files are read.
type CSVOptions struct {
	// Comma is the field delimiter. Zero means ','.
	Comma rune

	// ChunkThreshold is the file size, in bytes, above which the reader
	// switches to batched row reading. Zero means DefaultChunkThreshold.
	ChunkThreshold int64

	// ChunkRows is the batch size used on the batched path. Zero means
	// DefaultChunkRows.
	ChunkRows int
}

const (
	// DefaultChunkThreshold is the input size above which rows are read in
	// fixed-size batches instead of all at once.
	DefaultChunkThreshold = 5 * 1024 * 1024

	// DefaultChunkRows is the row batch size for large inputs.
	DefaultChunkRows = 10000
)

func (o CSVOptions) withDefaults() CSVOptions {
	if o.Comma == 0 {
		o.Comma = ','
	}
	if o.ChunkThreshold <= 0 {
		o.ChunkThreshold = DefaultChunkThreshold
	}
	if o.ChunkRows <= 0 {
		o.ChunkRows = DefaultChunkRows
	}
	return o
}

// ReadCSVFile reads a delimited text file into a Table. Files larger than
// the chunk threshold are read in fixed-size row batches and concatenated;
// the result is identical to a whole-file read, the batching only bounds the
// transient slice growth per read call.
//
// The reader strips a UTF-8 byte order mark when present and tolerates
// ragged rows: short rows are padded to the header width, long rows are
// truncated.
func ReadCSVFile(path string, opt CSVOptions) (*Table, error) {
	opt = opt.withDefaults()

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := newCSVReader(f, opt.Comma)

	header, err := r.Read()
	if err == io.EOF {
		return New(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	t := New(append([]string(nil), header...))

	if info.Size() > opt.ChunkThreshold {
		err = readBatched(r, t, opt.ChunkRows)
	} else {
		err = readAll(r, t)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}

// newCSVReader builds the csv.Reader with the tolerant settings used for
// government CSV exports: lazy quotes, leading-space trim, variable field
// counts, and BOM-aware UTF-8 decoding.
func newCSVReader(src io.Reader, comma rune) *csv.Reader {
	r := csv.NewReader(transform.NewReader(src, unicode.UTF8BOM.NewDecoder()))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	return r
}

func readAll(r *csv.Reader, t *Table) error {
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		t.Rows = append(t.Rows, toCells(rec, t.NumCols()))
	}
}

// readBatched reads rows in batches of n and appends each completed batch.
// This caps per-call slice growth for large inputs; the resulting table is
// the same as readAll would produce.
func readBatched(r *csv.Reader, t *Table, n int) error {
	batch := make([][]any, 0, n)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			t.Rows = append(t.Rows, batch...)
			return nil
		}
		if err != nil {
			return err
		}
		batch = append(batch, toCells(rec, t.NumCols()))
		if len(batch) >= n {
			t.Rows = append(t.Rows, batch...)
			batch = make([][]any, 0, n)
		}
	}
}

// toCells converts a raw CSV record into a cell row of exactly width fields,
// padding short records with empty strings and truncating long ones.
func toCells(rec []string, width int) []any {
	row := make([]any, width)
	for i := 0; i < width; i++ {
		if i < len(rec) {
			row[i] = rec[i]
		} else {
			row[i] = ""
		}
	}
	return row
}

// WriteCSVFile writes the table to path as delimited text, header first.
// Missing cells are written as empty fields. Any existing file is replaced.
func WriteCSVFile(path string, t *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(t.Columns); err != nil {
		f.Close()
		return fmt.Errorf("write header of %s: %w", path, err)
	}
	rec := make([]string, t.NumCols())
	for _, row := range t.Rows {
		for i, v := range row {
			rec[i] = CellString(v)
		}
		if err := w.Write(rec); err != nil {
			f.Close()
			return fmt.Errorf("write row to %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
