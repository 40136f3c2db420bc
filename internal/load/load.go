// Package load implements the final pipeline stage: it reads the cleaned
// columnar file, replaces the destination table wholesale, recreates the two
// analytical views, and verifies the result.
package load

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"waterq/internal/frame"
	"waterq/internal/metrics"
	"waterq/internal/parquet"
	"waterq/internal/storage/postgres"
)

// Fixed destination names.
const (
	Table       = "water_data.calidad_agua_clean"
	ResumenView = "water_data.resumen_por_estado"
	PeriodoView = "water_data.calidad_por_periodo"
	loadTimeCol = "fecha_carga"
	semaforoCol = "semaforo"
	insertBatch = 1000

	// Derived numeric columns produced by the transform stage. The view
	// aggregates depend on these being DOUBLE PRECISION, so their type is
	// fixed by name rather than inferred from the cell values.
	indexColPrefix     = "indice_calidad_"
	semaforoNumericCol = "semaforo_numerico"
)

// The two analytical views over the cleaned table. Both tolerate an empty
// base table.
const (
	resumenViewSQL = `CREATE VIEW water_data.resumen_por_estado AS
SELECT
    estado,
    COUNT(*) AS total_sitios,
    AVG(indice_calidad_general) AS calidad_promedio,
    COUNT(CASE WHEN semaforo = 'VERDE' THEN 1 END) AS sitios_verdes,
    COUNT(CASE WHEN semaforo = 'AMARILLO' THEN 1 END) AS sitios_amarillos,
    COUNT(CASE WHEN semaforo = 'ROJO' THEN 1 END) AS sitios_rojos
FROM water_data.calidad_agua_clean
GROUP BY estado
ORDER BY calidad_promedio DESC`

	periodoViewSQL = `CREATE VIEW water_data.calidad_por_periodo AS
SELECT
    periodo,
    estado,
    COUNT(*) AS mediciones,
    AVG(indice_calidad_general) AS calidad_promedio,
    MIN(indice_calidad_general) AS calidad_minima,
    MAX(indice_calidad_general) AS calidad_maxima
FROM water_data.calidad_agua_clean
GROUP BY periodo, estado
ORDER BY periodo DESC, estado`
)

// repository is the slice of postgres.Repository the loader needs; the
// indirection exists so tests can substitute a fake.
type repository interface {
	Ping(ctx context.Context) (string, error)
	DropViews(ctx context.Context, views ...string) error
	ReplaceTable(ctx context.Context, table string, columns []postgres.Column, rows [][]any, batchSize int) (int64, error)
	CreateViews(ctx context.Context, stmts ...string) error
	CountRows(ctx context.Context, table string) (int64, error)
	ValueCounts(ctx context.Context, table, column string) ([]postgres.ValueCount, error)
}

// newRepository is a test hook pointing at postgres.NewRepository.
var newRepository = func(ctx context.Context, cfg postgres.Config, log zerolog.Logger) (repository, func(), error) {
	return postgres.NewRepository(ctx, cfg, log)
}

// Summary reports what the stage did.
type Summary struct {
	Rows     int64
	Verified int64
	Semaforo []postgres.ValueCount
}

// Loader is the database load stage.
type Loader struct {
	log zerolog.Logger
	cfg postgres.Config

	// now supplies the load timestamp; replaced in tests.
	now func() time.Time
}

func New(log zerolog.Logger, cfg postgres.Config) *Loader {
	return &Loader{log: log, cfg: cfg, now: time.Now}
}

// Run executes the load protocol in strict order: read the columnar file,
// probe connectivity, attach the load timestamp, drop the dependent views,
// replace the table, recreate the views, verify. Any failure aborts the load
// and is returned with the (redacted) connection parameters logged for
// diagnosis.
func (l *Loader) Run(ctx context.Context, parquetPath string) (*Summary, error) {
	sum, err := l.run(ctx, parquetPath)
	if err != nil {
		l.log.Error().Err(err).Str("db", l.cfg.Redacted()).Msg("load failed")
		return nil, err
	}
	return sum, nil
}

func (l *Loader) run(ctx context.Context, parquetPath string) (*Summary, error) {
	tbl, err := parquet.ReadFile(ctx, parquetPath)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	l.log.Info().Str("path", parquetPath).Int("rows", tbl.NumRows()).Msg("cleaned data read")

	repo, closeRepo, err := newRepository(ctx, l.cfg, l.log)
	if err != nil {
		return nil, fmt.Errorf("load: connect: %w", err)
	}
	defer closeRepo()

	version, err := repo.Ping(ctx)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	l.log.Info().Str("server", truncate(version, 50)).Msg("database connection verified")

	// One wall-clock timestamp per run, attached to every row at load time.
	ts := l.now()
	carga := make([]any, tbl.NumRows())
	for i := range carga {
		carga[i] = ts
	}
	if err := tbl.AddColumn(loadTimeCol, carga); err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}

	if err := repo.DropViews(ctx, ResumenView, PeriodoView); err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}

	inserted, err := repo.ReplaceTable(ctx, Table, tableColumns(tbl), tbl.Rows, insertBatch)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	l.log.Info().Int64("rows", inserted).Str("table", Table).Msg("table replaced")

	if err := repo.CreateViews(ctx, resumenViewSQL, periodoViewSQL); err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}

	count, err := repo.CountRows(ctx, Table)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	sum := &Summary{Rows: inserted, Verified: count}

	if tbl.HasColumn(semaforoCol) {
		counts, err := repo.ValueCounts(ctx, Table, semaforoCol)
		if err != nil {
			return nil, fmt.Errorf("load: %w", err)
		}
		sum.Semaforo = counts
		for _, vc := range counts {
			l.log.Info().Str("semaforo", vc.Value).Int64("total", vc.Count).Msg("semaforo distribution")
		}
	}

	metrics.IncCounter("water_etl_rows_total", float64(inserted), metrics.Labels{"stage": "load"})
	l.log.Info().Int64("rows", count).Str("table", Table).Int("views", 2).Msg("load complete")
	return sum, nil
}

// tableColumns maps the table's columns onto destination column types: the
// derived indices are DOUBLE PRECISION and the load timestamp TIMESTAMPTZ by
// name, everything else falls back to the observed cell types and defaults
// to TEXT. Name-fixed typing keeps the schema stable even when a run leaves
// a derived column, or the whole table, without values.
func tableColumns(t *frame.Table) []postgres.Column {
	cols := make([]postgres.Column, t.NumCols())
	for i, name := range t.Columns {
		cols[i] = postgres.Column{Name: name, SQLType: sqlType(t, i)}
	}
	return cols
}

func sqlType(t *frame.Table, col int) string {
	name := t.Columns[col]
	if name == loadTimeCol {
		return "TIMESTAMPTZ"
	}
	if name == semaforoNumericCol || strings.HasPrefix(name, indexColPrefix) {
		return "DOUBLE PRECISION"
	}
	for _, row := range t.Rows {
		switch row[col].(type) {
		case float64:
			return "DOUBLE PRECISION"
		case time.Time:
			return "TIMESTAMPTZ"
		case string:
			return "TEXT"
		}
	}
	return "TEXT"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
