// Package postgres implements the destination side of the load stage using
// pgx v5: connectivity probing, transactional view management, wholesale
// table replacement with batched multi-row inserts, and the verification
// queries run after a load.
package postgres

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Config holds the database connection parameters.
type Config struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

// DSN renders the pgx connection string. User and password are escaped so
// special characters survive.
func (c Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Name,
	}
	return u.String()
}

// Redacted renders the connection parameters without the password, for
// diagnostic logging on failure.
func (c Config) Redacted() string {
	return fmt.Sprintf("host=%s port=%d db=%s user=%s", c.Host, c.Port, c.Name, c.User)
}

// Column describes one destination column.
type Column struct {
	Name    string
	SQLType string
}

// Repository is a pgxpool-backed destination database handle.
type Repository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewRepository opens a connection pool and returns the repository together
// with a close function for deterministic cleanup.
func NewRepository(ctx context.Context, cfg Config, log zerolog.Logger) (*Repository, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	return &Repository{pool: pool, log: log}, pool.Close, nil
}

// Ping runs a trivial query to confirm connectivity and returns the server
// version string.
func (r *Repository) Ping(ctx context.Context) (string, error) {
	var version string
	if err := r.pool.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		return "", fmt.Errorf("connectivity check: %w", err)
	}
	return version, nil
}

// DropViews drops the named views, cascading to dependents, inside a single
// transaction. Views that do not exist are skipped. This must run before the
// base table is replaced, since the database refuses to drop a table that
// views still depend on.
func (r *Repository) DropViews(ctx context.Context, views ...string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin drop views: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, v := range views {
		if _, err := tx.Exec(ctx, fmt.Sprintf("DROP VIEW IF EXISTS %s CASCADE", pgFQN(v))); err != nil {
			return fmt.Errorf("drop view %s: %w", v, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit drop views: %w", err)
	}
	return nil
}

// ReplaceTable discards the destination table and recreates it with the
// given columns and rows: schema ensured, old table dropped, new table
// created, rows inserted in multi-row batches of batchSize. Returns the
// number of rows inserted.
func (r *Repository) ReplaceTable(ctx context.Context, table string, columns []Column, rows [][]any, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("replace %s: batchSize must be > 0", table)
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("replace %s: no columns", table)
	}

	if schema, _, ok := strings.Cut(table, "."); ok {
		if _, err := r.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgIdent(schema)); err != nil {
			return 0, fmt.Errorf("ensure schema %s: %w", schema, err)
		}
	}
	if _, err := r.pool.Exec(ctx, "DROP TABLE IF EXISTS "+pgFQN(table)); err != nil {
		return 0, fmt.Errorf("drop table %s: %w", table, err)
	}

	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = pgIdent(c.Name) + " " + c.SQLType
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", pgFQN(table), strings.Join(defs, ", "))
	if _, err := r.pool.Exec(ctx, create); err != nil {
		return 0, fmt.Errorf("create table %s: %w", table, err)
	}

	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}

	var total int64
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]
		sql, args := insertBatchSQL(table, names, batch)
		tag, err := r.pool.Exec(ctx, sql, args...)
		if err != nil {
			return total, fmt.Errorf("insert batch into %s (rows %d-%d): %w", table, start, end-1, err)
		}
		total += tag.RowsAffected()
		r.log.Debug().Str("table", table).Int("batch_rows", len(batch)).Int64("total", total).
			Msg("batch inserted")
	}
	return total, nil
}

// insertBatchSQL builds one multi-row INSERT statement with positional
// placeholders and the flattened argument list.
func insertBatchSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgFQN(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(mapIdent(columns), ","))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('(')
		for j, v := range row {
			if j > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "$%d", p)
			p++
			args = append(args, v)
		}
		b.WriteByte(')')
	}
	return b.String(), args
}

// CreateViews executes the given CREATE VIEW statements inside a single
// transaction.
func (r *Repository) CreateViews(ctx context.Context, stmts ...string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create views: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, s := range stmts {
		if _, err := tx.Exec(ctx, s); err != nil {
			return fmt.Errorf("create view: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create views: %w", err)
	}
	return nil
}

// CountRows returns the destination table's row count.
func (r *Repository) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+pgFQN(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// ValueCount is one (value, occurrences) pair from ValueCounts.
type ValueCount struct {
	Value string
	Count int64
}

// ValueCounts returns the distribution of a column's values, most frequent
// first. NULLs are reported as the empty string.
func (r *Repository) ValueCounts(ctx context.Context, table, column string) ([]ValueCount, error) {
	q := fmt.Sprintf("SELECT COALESCE(%s::text, ''), COUNT(*) FROM %s GROUP BY 1 ORDER BY 2 DESC, 1",
		pgIdent(column), pgFQN(table))
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("value counts of %s.%s: %w", table, column, err)
	}
	defer rows.Close()

	var out []ValueCount
	for rows.Next() {
		var vc ValueCount
		if err := rows.Scan(&vc.Value, &vc.Count); err != nil {
			return nil, fmt.Errorf("value counts of %s.%s: %w", table, column, err)
		}
		out = append(out, vc)
	}
	return out, rows.Err()
}

// pgIdent quotes a single identifier segment.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// pgFQN quotes a possibly schema-qualified name like "water_data.t" to
// "water_data"."t".
func pgFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pgIdent(p)
	}
	return strings.Join(parts, ".")
}

func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return out
}
