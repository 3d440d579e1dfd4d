package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"statsync/internal/schema"
	"statsync/internal/storage"
)

/*
Repo implements storage.Repository for Postgres on a pgxpool.

Each load checks out its own pooled connection, so concurrent loads of
different tables never share a transaction. Qualified names ("stats.games")
get a CREATE SCHEMA IF NOT EXISTS ahead of the table DDL.
*/
type Repo struct {
	pool *pgxpool.Pool
}

// Postgres caps bind parameters at 65535 per statement.
const maxParams = 65000

// Types is the Postgres kind mapping. Integers are BIGINT because stat IDs
// (1610612737 and up) already sit close to the int4 ceiling.
var Types = schema.TypeMap{
	Integer: "BIGINT",
	Real:    "DOUBLE PRECISION",
	Text:    fmt.Sprintf("VARCHAR(%d)", schema.TextCap),
}

func init() {
	storage.Register("postgres", NewRepo)
}

// NewRepo creates a pool for cfg.DSN and verifies it with a ping.
func NewRepo(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() { r.pool.Close() }

func (r *Repo) Kind() string { return "postgres" }

func (r *Repo) Types() schema.TypeMap { return Types }

func (r *Repo) Acquire(ctx context.Context) (storage.Conn, error) {
	c, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &conn{c: c}, nil
}

// Classify maps SQLSTATE classes onto storage failure kinds.
func (r *Repo) Classify(err error) storage.FailureKind {
	if err == nil {
		return storage.FailureUnclassified
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyCode(pgErr.Code)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return storage.FailureConnection
	}
	return storage.ClassifyCommon(err)
}

func classifyCode(code string) storage.FailureKind {
	switch code {
	case "42703", "42P01", "42804", "3F000":
		// undefined column, undefined table, datatype mismatch, invalid schema
		return storage.FailureConflict
	case "3D000", "57P01", "57P02", "57P03":
		return storage.FailureConnection
	}
	switch {
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "28"):
		return storage.FailureConnection
	case strings.HasPrefix(code, "22"), strings.HasPrefix(code, "23"):
		return storage.FailureRejected
	}
	return storage.FailureUnclassified
}

type conn struct {
	c *pgxpool.Conn
}

func (c *conn) EnsureTable(ctx context.Context, def schema.TableDefinition) error {
	schemaSQL, tableSQL, err := buildCreateSQL(def)
	if err != nil {
		return err
	}
	if schemaSQL != "" {
		if _, err := c.c.Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema for %s: %w", def.Name, err)
		}
	}
	if _, err := c.c.Exec(ctx, tableSQL); err != nil {
		return fmt.Errorf("create table %s: %w", def.Name, err)
	}
	return nil
}

func (c *conn) Begin(ctx context.Context) (storage.Batch, error) {
	tx, err := c.c.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &batch{tx: tx}, nil
}

func (c *conn) Release() { c.c.Release() }

type batch struct {
	tx pgx.Tx
}

func (b *batch) InsertRows(ctx context.Context, def schema.TableDefinition, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	columns := def.ColumnNames()

	var total int64
	for _, part := range storage.Chunks(rows, storage.RowsPerStatement(len(columns), maxParams)) {
		q, args := buildInsertSQL(def.Name, columns, part)
		tag, err := b.tx.Exec(ctx, q, args...)
		if err != nil {
			return total, err
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

func (b *batch) Commit(ctx context.Context) error { return b.tx.Commit(ctx) }

func (b *batch) Rollback(ctx context.Context) error {
	if err := b.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// buildInsertSQL constructs a single multi-row INSERT with $N placeholders.
//
// It is pure so placeholder numbering can be tested without a database.
// Every row must have len(columns) values.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(table))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	b.WriteString(";")
	return b.String(), args
}

// buildCreateSQL returns the optional CREATE SCHEMA statement and the
// CREATE TABLE IF NOT EXISTS statement for def.
func buildCreateSQL(def schema.TableDefinition) (schemaSQL, tableSQL string, err error) {
	if strings.TrimSpace(def.Name) == "" {
		return "", "", fmt.Errorf("table name is empty")
	}
	if len(def.Columns) == 0 {
		return "", "", fmt.Errorf("table %s: no columns", def.Name)
	}

	if ns, _ := schema.SplitQualified(def.Name); ns != "" {
		schemaSQL = fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(ns))
	}

	cols := make([]string, 0, len(def.Columns))
	for _, c := range def.Columns {
		if strings.TrimSpace(c.Type) == "" {
			return "", "", fmt.Errorf("table %s: column %s type is empty", def.Name, c.Name)
		}
		cols = append(cols, fmt.Sprintf("%s %s", pgIdent(c.Name), c.Type))
	}

	tableSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`,
		pgTableIdent(def.Name), strings.Join(cols, ", "))
	return schemaSQL, tableSQL, nil
}

// pgIdent double-quotes an identifier, doubling embedded quotes.
func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func pgTableIdent(name string) string {
	ns, table := schema.SplitQualified(name)
	if ns == "" {
		return pgIdent(table)
	}
	return pgIdent(ns) + "." + pgIdent(table)
}

var _ storage.Repository = (*Repo)(nil)
