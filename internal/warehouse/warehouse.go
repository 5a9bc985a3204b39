// Package warehouse is the analytical store submissions are loaded into. Each
// dataset is a Postgres schema; loads run as asynchronous jobs tracked in the
// steward.load_jobs table so callers can submit, wait and then inspect them.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/DataSteward/internal/model"
)

// ErrTableNotFound is returned when a referenced table does not exist.
var ErrTableNotFound = errors.New("table not found")

// systemSchemas never show up in ListDatasets.
var systemSchemas = map[string]bool{
	"information_schema": true,
	"public":             true,
	"steward":            true,
}

// TableRef names a table inside a dataset.
type TableRef struct {
	Dataset string
	Table   string
}

// Sanitize quotes the reference for use in SQL.
func (t TableRef) Sanitize() string {
	return pgx.Identifier{t.Dataset, t.Table}.Sanitize()
}

func (t TableRef) String() string { return t.Dataset + "." + t.Table }

// ObjectRef points at an object in a bucket.
type ObjectRef struct {
	Bucket string
	Name   string
}

// URI renders the reference as bucket/name.
func (o ObjectRef) URI() string { return o.Bucket + "/" + o.Name }

// ObjectOpener streams object content for loads.
type ObjectOpener interface {
	Open(ctx context.Context, bucket, name string) (io.ReadCloser, error)
}

// Options tunes load job polling.
type Options struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// Warehouse runs DDL, loads and queries against Postgres.
type Warehouse struct {
	pool    *pgxpool.Pool
	objects ObjectOpener
	opts    Options
	log     *slog.Logger
	jobs    sync.WaitGroup
}

// New constructs a Warehouse.
func New(pool *pgxpool.Pool, objects ObjectOpener, opts Options, logger *slog.Logger) *Warehouse {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Warehouse{pool: pool, objects: objects, opts: opts, log: logger}
}

// Close waits for in-flight load jobs to finish.
func (w *Warehouse) Close() {
	w.jobs.Wait()
}

// CreateDataset creates the schema backing a dataset.
func (w *Warehouse) CreateDataset(ctx context.Context, dataset string) error {
	if _, err := w.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{dataset}.Sanitize()); err != nil {
		return fmt.Errorf("create dataset %s: %w", dataset, err)
	}
	return nil
}

// DeleteDataset drops a dataset and every table in it.
func (w *Warehouse) DeleteDataset(ctx context.Context, dataset string) error {
	if _, err := w.pool.Exec(ctx, "DROP SCHEMA IF EXISTS "+pgx.Identifier{dataset}.Sanitize()+" CASCADE"); err != nil {
		return fmt.Errorf("delete dataset %s: %w", dataset, err)
	}
	return nil
}

// ListDatasets returns user datasets sorted by name.
func (w *Warehouse) ListDatasets(ctx context.Context) ([]string, error) {
	rows, err := w.pool.Query(ctx, `
		SELECT schema_name FROM information_schema.schemata
		WHERE schema_name NOT LIKE 'pg\_%'
		ORDER BY schema_name`)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	out := names[:0]
	for _, n := range names {
		if !systemSchemas[n] {
			out = append(out, n)
		}
	}
	return out, nil
}

// ListTables returns the tables of dataset sorted by name.
func (w *Warehouse) ListTables(ctx context.Context, dataset string) ([]string, error) {
	rows, err := w.pool.Query(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1
		ORDER BY table_name`, dataset)
	if err != nil {
		return nil, fmt.Errorf("list tables in %s: %w", dataset, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list tables in %s: %w", dataset, err)
	}
	return names, nil
}

// CreateTable creates ref with fields, dropping any existing table first when
// dropExisting is set.
func (w *Warehouse) CreateTable(ctx context.Context, ref TableRef, fields []Field, dropExisting bool) error {
	if dropExisting {
		if err := w.DropTable(ctx, ref); err != nil {
			return err
		}
	}
	if _, err := w.pool.Exec(ctx, createTableSQL(ref, fields)); err != nil {
		return fmt.Errorf("create table %s: %w", ref, err)
	}
	return nil
}

// DropTable removes ref if it exists.
func (w *Warehouse) DropTable(ctx context.Context, ref TableRef) error {
	if _, err := w.pool.Exec(ctx, "DROP TABLE IF EXISTS "+ref.Sanitize()); err != nil {
		return fmt.Errorf("drop table %s: %w", ref, err)
	}
	return nil
}

// QueryToTable replaces dst with the result of query.
func (w *Warehouse) QueryToTable(ctx context.Context, query string, dst TableRef, args ...any) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+dst.Sanitize()); err != nil {
		return fmt.Errorf("drop table %s: %w", dst, err)
	}
	if _, err := tx.Exec(ctx, "CREATE TABLE "+dst.Sanitize()+" AS "+query, args...); err != nil {
		return fmt.Errorf("write table %s: %w", dst, err)
	}
	return tx.Commit(ctx)
}

// Query runs a statement and returns every row keyed by column name.
func (w *Warehouse) Query(ctx context.Context, query string, args ...any) ([]model.Row, error) {
	rows, err := w.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("collect rows: %w", err)
	}
	out := make([]model.Row, len(maps))
	for i, m := range maps {
		out[i] = model.Row(m)
	}
	return out, nil
}

// Exec runs a statement that returns no rows and reports the rows affected.
func (w *Warehouse) Exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	tag, err := w.pool.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("exec: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Columns returns the column names of ref in ordinal order.
func (w *Warehouse) Columns(ctx context.Context, ref TableRef) ([]string, error) {
	rows, err := w.pool.Query(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, ref.Dataset, ref.Table)
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", ref, err)
	}
	cols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", ref, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, ref)
	}
	return cols, nil
}

func createTableSQL(ref TableRef, fields []Field) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(ref.Sanitize())
	b.WriteString(" (")
	for i, f := range fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgx.Identifier{f.Name}.Sanitize())
		b.WriteString(" ")
		b.WriteString(sqlType(f.Type))
		if f.Required {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString(")")
	return b.String()
}
