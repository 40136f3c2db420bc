// Package transform implements the cleaning stage: it reads the raw
// delimited file, runs the cleaning chain (dedup, header normalization,
// null-fill, ordinal derivations), and persists the cleaned table in both
// the row-oriented text format and the columnar Parquet format.
package transform

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"waterq/internal/frame"
	"waterq/internal/metrics"
	"waterq/internal/parquet"
	"waterq/internal/transformer"
	"waterq/internal/transformer/builtin"
)

// QualityScale is the fixed 4-level ordinal mapping for the three
// per-measurement quality categories, best (1) to worst (4).
var QualityScale = map[string]float64{
	"Excelente":     1,
	"Buena calidad": 2,
	"Aceptable":     3,
	"Contaminada":   4,
}

// SemaforoScale is the 3-level ordinal mapping for the traffic-light status.
var SemaforoScale = map[string]float64{
	"VERDE":    1,
	"AMARILLO": 2,
	"ROJO":     3,
}

// qualityColumns lists the categorical source columns (canonical names) and
// their derived ordinal columns, in derivation order.
var qualityColumns = []struct{ source, target string }{
	{"calidad_dqo", "indice_calidad_dqo"},
	{"calidad_dbo", "indice_calidad_dbo"},
	{"calidad_sst", "indice_calidad_sst"},
}

const (
	generalIndexColumn = "indice_calidad_general"
	semaforoColumn     = "semaforo"
	semaforoNumeric    = "semaforo_numerico"
)

// Summary reports what the stage did, for logging and metrics.
type Summary struct {
	RowsIn     int
	Duplicates int
	RowsOut    int
	Columns    int
	Derived    []string
}

// Transformer is the cleaning stage.
type Transformer struct {
	log zerolog.Logger
	csv frame.CSVOptions
}

func New(log zerolog.Logger) *Transformer {
	return &Transformer{log: log}
}

// Run cleans the raw file at inPath and writes the cleaned table to csvPath
// and parquetPath. Any read or write error aborts the stage and is returned
// with the offending path in its context; partially written outputs are left
// behind and simply overwritten on the next run.
func (tr *Transformer) Run(ctx context.Context, inPath, csvPath, parquetPath string) (*Summary, error) {
	tbl, err := frame.ReadCSVFile(inPath, tr.csv)
	if err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}
	rowsIn := tbl.NumRows()
	tr.log.Info().Str("path", inPath).Int("rows", rowsIn).Int("columns", tbl.NumCols()).
		Msg("raw table read")

	var removed int
	chain := transformer.Chain{
		builtin.Dedup{Removed: &removed},
		builtin.NormalizeHeaders{},
		builtin.FillMissing{},
	}
	for _, q := range qualityColumns {
		chain = append(chain, builtin.OrdinalMap{
			Source:  q.source,
			Target:  q.target,
			Mapping: QualityScale,
		})
	}
	chain = append(chain,
		builtin.GeneralIndex{Prefix: "indice_calidad_", Target: generalIndexColumn},
		builtin.OrdinalMap{
			Source:  semaforoColumn,
			Target:  semaforoNumeric,
			Mapping: SemaforoScale,
		},
	)
	if err := chain.Apply(tbl); err != nil {
		return nil, fmt.Errorf("transform %s: %w", inPath, err)
	}

	sum := &Summary{
		RowsIn:     rowsIn,
		Duplicates: removed,
		RowsOut:    tbl.NumRows(),
		Columns:    tbl.NumCols(),
	}
	for _, q := range qualityColumns {
		if tbl.HasColumn(q.target) {
			sum.Derived = append(sum.Derived, q.target)
		}
	}
	if tbl.HasColumn(generalIndexColumn) {
		sum.Derived = append(sum.Derived, generalIndexColumn)
	}
	if tbl.HasColumn(semaforoNumeric) {
		sum.Derived = append(sum.Derived, semaforoNumeric)
	}
	tr.logSummary(tbl, sum)

	// The cleaned table is immutable from here on; the two sibling outputs
	// are independent, so they are written concurrently.
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return frame.WriteCSVFile(csvPath, tbl)
	})
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		// The derived columns are numeric even when every cell is missing;
		// pinning them keeps the stored schema identical run to run.
		return parquet.WriteFile(parquetPath, tbl, parquet.WithFloat64Columns(sum.Derived...))
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("transform %s: %w", inPath, err)
	}

	metrics.IncCounter("water_etl_rows_total", float64(sum.RowsOut), metrics.Labels{"stage": "transform"})
	tr.log.Info().Str("csv", csvPath).Str("parquet", parquetPath).
		Int("rows", sum.RowsOut).Int("columns", sum.Columns).
		Msg("cleaned outputs written")
	return sum, nil
}

func (tr *Transformer) logSummary(tbl *frame.Table, sum *Summary) {
	tr.log.Info().Int("rows_in", sum.RowsIn).Int("duplicates", sum.Duplicates).
		Int("rows", sum.RowsOut).Strs("derived", sum.Derived).
		Msg("table cleaned")

	if counts := valueCounts(tbl, semaforoColumn); len(counts) > 0 {
		ev := tr.log.Info()
		for _, c := range counts {
			ev = ev.Int(c.value, c.n)
		}
		ev.Msg("semaforo distribution")
	}

	for _, col := range sum.Derived {
		if mean, min, max, n := columnStats(tbl, col); n > 0 {
			tr.log.Debug().Str("column", col).Int("values", n).
				Float64("mean", mean).Float64("min", min).Float64("max", max).
				Msg("index stats")
		}
	}
}

// columnStats computes mean, min and max over the numeric cells of a column.
func columnStats(tbl *frame.Table, column string) (mean, min, max float64, n int) {
	vals, ok := tbl.Column(column)
	if !ok {
		return 0, 0, 0, 0
	}
	var sum float64
	for _, v := range vals {
		f, ok := v.(float64)
		if !ok {
			continue
		}
		if n == 0 || f < min {
			min = f
		}
		if n == 0 || f > max {
			max = f
		}
		sum += f
		n++
	}
	if n > 0 {
		mean = sum / float64(n)
	}
	return mean, min, max, n
}

type countPair struct {
	value string
	n     int
}

// valueCounts tallies the string values of a column, most frequent first.
func valueCounts(tbl *frame.Table, column string) []countPair {
	vals, ok := tbl.Column(column)
	if !ok {
		return nil
	}
	counts := map[string]int{}
	for _, v := range vals {
		if s, ok := v.(string); ok {
			counts[s]++
		}
	}
	out := make([]countPair, 0, len(counts))
	for v, n := range counts {
		out = append(out, countPair{v, n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].n != out[j].n {
			return out[i].n > out[j].n
		}
		return out[i].value < out[j].value
	})
	return out
}
