package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"statsync/internal/dataset"
	"statsync/internal/schema"
	"statsync/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// Key design points vs Postgres:
//   - SQLite ignores the length in VARCHAR(n). To keep the fixed text cap a
//     real limit, text columns carry CHECK (length(col) <= n) so an oversized
//     value fails the insert like it would on the other stores.
//   - Column types only set affinity; the loader binds values to the
//     inferred kind before they reach the driver.
type Repo struct {
	db *sql.DB
}

// maxParams stays under SQLITE_MAX_VARIABLE_NUMBER (32766 in modernc builds).
const maxParams = 32000

// Types is the SQLite kind mapping.
var Types = schema.TypeMap{
	Integer: "INTEGER",
	Real:    "REAL",
	Text:    fmt.Sprintf("VARCHAR(%d)", schema.TextCap),
}

func init() {
	storage.Register("sqlite", NewRepo)
}

// NewRepo opens cfg.DSN with the modernc driver and pings it.
//
// DSN is a file path or URI, e.g. "stats.db" or
// "file:stats.db?_pragma=busy_timeout(5000)". A plain ":memory:" database
// is private to each connection, which does not work with per-call Conns.
func NewRepo(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) Kind() string { return "sqlite" }

func (r *Repo) Types() schema.TypeMap { return Types }

// Acquire checks out a dedicated *sql.Conn for one load call.
func (r *Repo) Acquire(ctx context.Context) (storage.Conn, error) {
	c, err := r.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &conn{c: c}, nil
}

// Classify reads modernc result codes first, then falls back to message
// text for schema mismatches, which SQLite reports as SQLITE_ERROR.
func (r *Repo) Classify(err error) storage.FailureKind {
	if err == nil {
		return storage.FailureUnclassified
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_AUTH, sqlite3.SQLITE_PERM:
			return storage.FailureConnection
		case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_MISMATCH, sqlite3.SQLITE_TOOBIG:
			return storage.FailureRejected
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "has no column named"),
		strings.Contains(msg, "no such table"),
		strings.Contains(msg, "no such column"),
		strings.Contains(msg, "values for") && strings.Contains(msg, "columns"):
		return storage.FailureConflict
	}
	return storage.ClassifyCommon(err)
}

type conn struct {
	c *sql.Conn
}

func (c *conn) EnsureTable(ctx context.Context, def schema.TableDefinition) error {
	ddl, err := buildCreateTableSQL(def)
	if err != nil {
		return err
	}
	if _, err := c.c.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", def.Name, err)
	}
	return nil
}

func (c *conn) Begin(ctx context.Context) (storage.Batch, error) {
	tx, err := c.c.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &batch{tx: tx}, nil
}

func (c *conn) Release() { _ = c.c.Close() }

type batch struct {
	tx *sql.Tx
}

// InsertRows performs SQLite multi-row inserts inside the batch transaction.
func (b *batch) InsertRows(ctx context.Context, def schema.TableDefinition, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	columns := def.ColumnNames()

	var total int64
	for _, part := range storage.Chunks(rows, storage.RowsPerStatement(len(columns), maxParams)) {
		q, args := buildInsertSQL(def.Name, columns, part)
		res, err := b.tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (b *batch) Commit(ctx context.Context) error { return b.tx.Commit() }

func (b *batch) Rollback(ctx context.Context) error {
	if err := b.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// tableIdent quotes each part of an optionally schema-qualified name.
func tableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = sqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// buildCreateTableSQL renders CREATE TABLE IF NOT EXISTS for def. Text and
// Unknown columns get a length CHECK matching schema.TextCap.
func buildCreateTableSQL(def schema.TableDefinition) (string, error) {
	if strings.TrimSpace(def.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}
	if len(def.Columns) == 0 {
		return "", fmt.Errorf("table %s: no columns", def.Name)
	}

	parts := make([]string, 0, len(def.Columns))
	for _, c := range def.Columns {
		if strings.TrimSpace(c.Type) == "" {
			return "", fmt.Errorf("table %s: column %s type is empty", def.Name, c.Name)
		}
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), c.Type)
		if c.Kind == dataset.Text || c.Kind == dataset.Unknown {
			col += fmt.Sprintf(" CHECK (length(%s) <= %d)", sqlIdent(c.Name), schema.TextCap)
		}
		parts = append(parts, col)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", tableIdent(def.Name), strings.Join(parts, ",\n  ")), nil
}

// buildInsertSQL builds one multi-row INSERT with "?" placeholders.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(tableIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}
	return b.String(), args
}

var _ storage.Repository = (*Repo)(nil)
