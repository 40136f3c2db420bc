package load

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"waterq/internal/frame"
	"waterq/internal/parquet"
	"waterq/internal/storage/postgres"
	"waterq/internal/transform"
)

// fakeRepo records the order of repository calls and can fail any of them.
type fakeRepo struct {
	calls []string

	failDropViews    error
	failReplaceTable error
	failCreateViews  error

	gotColumns []postgres.Column
	gotRows    [][]any
	gotBatch   int
	count      int64
	semaforo   []postgres.ValueCount
}

func (f *fakeRepo) Ping(context.Context) (string, error) {
	f.calls = append(f.calls, "ping")
	return "PostgreSQL 16.2 (test)", nil
}

func (f *fakeRepo) DropViews(_ context.Context, views ...string) error {
	f.calls = append(f.calls, "drop_views")
	return f.failDropViews
}

func (f *fakeRepo) ReplaceTable(_ context.Context, table string, columns []postgres.Column, rows [][]any, batchSize int) (int64, error) {
	f.calls = append(f.calls, "replace_table")
	if f.failReplaceTable != nil {
		return 0, f.failReplaceTable
	}
	f.gotColumns = columns
	f.gotRows = rows
	f.gotBatch = batchSize
	f.count = int64(len(rows))
	return f.count, nil
}

func (f *fakeRepo) CreateViews(_ context.Context, stmts ...string) error {
	f.calls = append(f.calls, "create_views")
	return f.failCreateViews
}

func (f *fakeRepo) CountRows(context.Context, string) (int64, error) {
	f.calls = append(f.calls, "count_rows")
	return f.count, nil
}

func (f *fakeRepo) ValueCounts(context.Context, string, string) ([]postgres.ValueCount, error) {
	f.calls = append(f.calls, "value_counts")
	return f.semaforo, nil
}

func withFakeRepo(t *testing.T, repo *fakeRepo) {
	t.Helper()
	orig := newRepository
	newRepository = func(context.Context, postgres.Config, zerolog.Logger) (repository, func(), error) {
		return repo, func() {}, nil
	}
	t.Cleanup(func() { newRepository = orig })
}

func writeParquet(t *testing.T, tbl *frame.Table) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clean.parquet")
	if err := parquet.WriteFile(path, tbl); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func cleanTable() *frame.Table {
	return &frame.Table{
		Columns: []string{"estado", "semaforo", "indice_calidad_general"},
		Rows: [][]any{
			{"Jalisco", "VERDE", 2.5},
			{"Sonora", "ROJO", nil},
		},
	}
}

func newLoader(t *testing.T) *Loader {
	l := New(zerolog.Nop(), postgres.Config{Host: "h", Port: 5432, Name: "d", User: "u"})
	l.now = func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) }
	return l
}

func TestRunProtocolOrder(t *testing.T) {
	repo := &fakeRepo{semaforo: []postgres.ValueCount{{Value: "VERDE", Count: 1}, {Value: "ROJO", Count: 1}}}
	withFakeRepo(t, repo)

	sum, err := newLoader(t).Run(context.Background(), writeParquet(t, cleanTable()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	wantCalls := []string{"ping", "drop_views", "replace_table", "create_views", "count_rows", "value_counts"}
	if !reflect.DeepEqual(repo.calls, wantCalls) {
		t.Fatalf("calls = %v, want %v", repo.calls, wantCalls)
	}
	if sum.Rows != 2 || sum.Verified != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	if repo.gotBatch != 1000 {
		t.Fatalf("batch size = %d, want 1000", repo.gotBatch)
	}
}

func TestRunAttachesLoadTimestamp(t *testing.T) {
	repo := &fakeRepo{}
	withFakeRepo(t, repo)

	l := newLoader(t)
	if _, err := l.Run(context.Background(), writeParquet(t, cleanTable())); err != nil {
		t.Fatalf("Run: %v", err)
	}

	last := len(repo.gotColumns) - 1
	if repo.gotColumns[last].Name != "fecha_carga" || repo.gotColumns[last].SQLType != "TIMESTAMPTZ" {
		t.Fatalf("last column = %+v, want fecha_carga TIMESTAMPTZ", repo.gotColumns[last])
	}
	want := l.now()
	for _, row := range repo.gotRows {
		if !row[last].(time.Time).Equal(want) {
			t.Fatalf("fecha_carga = %v, want %v", row[last], want)
		}
	}
}

func TestRunColumnTypes(t *testing.T) {
	repo := &fakeRepo{}
	withFakeRepo(t, repo)

	if _, err := newLoader(t).Run(context.Background(), writeParquet(t, cleanTable())); err != nil {
		t.Fatalf("Run: %v", err)
	}
	types := map[string]string{}
	for _, c := range repo.gotColumns {
		types[c.Name] = c.SQLType
	}
	want := map[string]string{
		"estado":                 "TEXT",
		"semaforo":               "TEXT",
		"indice_calidad_general": "DOUBLE PRECISION",
		"fecha_carga":            "TIMESTAMPTZ",
	}
	if !reflect.DeepEqual(types, want) {
		t.Fatalf("types = %v, want %v", types, want)
	}
}

func TestRunDropViewsFailureStopsBeforeReplace(t *testing.T) {
	boom := errors.New("permission denied")
	repo := &fakeRepo{failDropViews: boom}
	withFakeRepo(t, repo)

	_, err := newLoader(t).Run(context.Background(), writeParquet(t, cleanTable()))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	for _, c := range repo.calls {
		if c == "replace_table" {
			t.Fatal("table replacement executed after view drop failed")
		}
	}
}

func TestRunViewRecreationFailureAfterReplace(t *testing.T) {
	boom := errors.New("syntax error")
	repo := &fakeRepo{failCreateViews: boom}
	withFakeRepo(t, repo)

	_, err := newLoader(t).Run(context.Background(), writeParquet(t, cleanTable()))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	// The committed table replacement is not rolled back.
	want := []string{"ping", "drop_views", "replace_table", "create_views"}
	if !reflect.DeepEqual(repo.calls, want) {
		t.Fatalf("calls = %v, want %v", repo.calls, want)
	}
}

func TestRunEmptyTableStillCreatesViews(t *testing.T) {
	repo := &fakeRepo{}
	withFakeRepo(t, repo)

	empty := &frame.Table{Columns: []string{"estado", "periodo"}, Rows: [][]any{}}
	sum, err := newLoader(t).Run(context.Background(), writeParquet(t, empty))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Rows != 0 {
		t.Fatalf("rows = %d, want 0", sum.Rows)
	}
	created := false
	for _, c := range repo.calls {
		if c == "create_views" {
			created = true
		}
	}
	if !created {
		t.Fatal("views not recreated for empty table")
	}
}

func TestRunRereadYieldsSameCount(t *testing.T) {
	path := writeParquet(t, cleanTable())

	repo1 := &fakeRepo{}
	withFakeRepo(t, repo1)
	sum1, err := newLoader(t).Run(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}

	repo2 := &fakeRepo{}
	withFakeRepo(t, repo2)
	sum2, err := newLoader(t).Run(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if sum1.Verified != sum2.Verified {
		t.Fatalf("row counts differ across reruns: %d vs %d", sum1.Verified, sum2.Verified)
	}
}

func TestRunMissingParquet(t *testing.T) {
	withFakeRepo(t, &fakeRepo{})
	_, err := newLoader(t).Run(context.Background(), filepath.Join(t.TempDir(), "nope.parquet"))
	if err == nil {
		t.Fatal("expected error for missing cleaned file")
	}
}

// transformFixture runs the real transform stage over raw CSV content and
// returns the cleaned parquet path, so the loader sees exactly what a
// pipeline run would hand it.
func transformFixture(t *testing.T, raw string) string {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "raw.csv")
	if err := os.WriteFile(in, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	pq := filepath.Join(dir, "clean.parquet")
	if _, err := transform.New(zerolog.Nop()).Run(context.Background(), in,
		filepath.Join(dir, "clean.csv"), pq); err != nil {
		t.Fatalf("transform: %v", err)
	}
	return pq
}

func assertColumnTypes(t *testing.T, cols []postgres.Column, want map[string]string) {
	t.Helper()
	types := map[string]string{}
	for _, c := range cols {
		types[c.Name] = c.SQLType
	}
	for name, typ := range want {
		if types[name] != typ {
			t.Fatalf("column %s type = %q, want %q (all: %v)", name, types[name], typ, types)
		}
	}
}

func TestRunHeaderOnlyInputKeepsNumericColumnTypes(t *testing.T) {
	repo := &fakeRepo{}
	withFakeRepo(t, repo)

	pq := transformFixture(t, "estado,periodo,calidad_dqo,semaforo\n")
	sum, err := newLoader(t).Run(context.Background(), pq)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Rows != 0 {
		t.Fatalf("rows = %d, want 0", sum.Rows)
	}
	// AVG over these columns in the view definitions requires a numeric
	// type even when the table carries no rows.
	assertColumnTypes(t, repo.gotColumns, map[string]string{
		"indice_calidad_dqo":     "DOUBLE PRECISION",
		"indice_calidad_general": "DOUBLE PRECISION",
		"semaforo_numerico":      "DOUBLE PRECISION",
		"fecha_carga":            "TIMESTAMPTZ",
		"estado":                 "TEXT",
	})
}

func TestRunAllUnmappedInputKeepsNumericColumnTypes(t *testing.T) {
	repo := &fakeRepo{}
	withFakeRepo(t, repo)

	raw := "estado,periodo,calidad_dqo,semaforo\n" +
		"Jalisco,2024,sucio,GRIS\n" +
		"Sonora,2023,ilegible,GRIS\n"
	pq := transformFixture(t, raw)
	if _, err := newLoader(t).Run(context.Background(), pq); err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertColumnTypes(t, repo.gotColumns, map[string]string{
		"indice_calidad_dqo":     "DOUBLE PRECISION",
		"indice_calidad_general": "DOUBLE PRECISION",
		"semaforo_numerico":      "DOUBLE PRECISION",
		"fecha_carga":            "TIMESTAMPTZ",
	})
	for _, row := range repo.gotRows {
		if row[0] != "Jalisco" && row[0] != "Sonora" {
			t.Fatalf("unexpected row %v", row)
		}
	}
}
