package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"statsync/internal/schema"
	"statsync/internal/storage"
)

// Repo implements storage.Repository for Microsoft SQL Server.
//
// SQL Server has no CREATE TABLE IF NOT EXISTS, so EnsureTable wraps the DDL
// in an OBJECT_ID guard. Inserts are multi-row VALUES statements kept under
// both the 2100 parameter limit and the 1000 row limit of a table value
// constructor; every statement of a load runs in one transaction.
type Repo struct {
	db dbConn
}

const (
	// SQL Server caps parameters at 2100 per request. Stay comfortably below.
	maxParams = 2000
	// INSERT ... VALUES accepts at most 1000 row constructors.
	maxRowsPerInsert = 1000
)

// Types is the SQL Server kind mapping. Text is NVARCHAR so player names
// with diacritics round-trip.
var Types = schema.TypeMap{
	Integer: "BIGINT",
	Real:    "FLOAT",
	Text:    fmt.Sprintf("NVARCHAR(%d)", schema.TextCap),
}

func init() {
	storage.Register("mssql", NewRepo)
}

// NewRepo opens cfg.DSN with the "sqlserver" driver and pings it.
func NewRepo(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 16
	}
	raw.SetMaxOpenConns(maxConns)
	raw.SetMaxIdleConns(maxConns)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

func (r *Repo) Kind() string { return "mssql" }

func (r *Repo) Types() schema.TypeMap { return Types }

func (r *Repo) Acquire(ctx context.Context) (storage.Conn, error) {
	c, err := r.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &conn{c: c}, nil
}

// Classify reads the server error number.
func (r *Repo) Classify(err error) storage.FailureKind {
	if err == nil {
		return storage.FailureUnclassified
	}
	var me mssql.Error
	if errors.As(err, &me) {
		return classifyNumber(me.Number)
	}
	var mp *mssql.Error
	if errors.As(err, &mp) && mp != nil {
		return classifyNumber(mp.Number)
	}
	return storage.ClassifyCommon(err)
}

func classifyNumber(n int32) storage.FailureKind {
	switch n {
	case 207, 208, 213, 2714:
		// invalid column, invalid object, column count mismatch, object exists
		return storage.FailureConflict
	case 245, 515, 547, 2627, 2628, 8114, 8152:
		// conversion, NULL, FK/check, unique, truncation
		return storage.FailureRejected
	case 18456, 4060, 233, 10054:
		return storage.FailureConnection
	}
	return storage.FailureUnclassified
}

type conn struct {
	c connHandle
}

func (c *conn) EnsureTable(ctx context.Context, def schema.TableDefinition) error {
	stmts, err := buildCreateSQL(def)
	if err != nil {
		return err
	}
	for _, s := range stmts {
		if _, err := c.c.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("create table %s: %w", def.Name, err)
		}
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
	tx txConn
}

func (b *batch) InsertRows(ctx context.Context, def schema.TableDefinition, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	columns := def.ColumnNames()

	var total int64
	for _, part := range storage.Chunks(rows, rowsPerStatement(len(columns))) {
		q, args := buildBulkInsertSQL(def.Name, columns, part)
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

func rowsPerStatement(columns int) int {
	n := storage.RowsPerStatement(columns, maxParams)
	if n > maxRowsPerInsert {
		return maxRowsPerInsert
	}
	return n
}

// buildCreateSQL returns the guarded DDL for def: a schema guard when the
// name is qualified, then the OBJECT_ID-guarded CREATE TABLE.
func buildCreateSQL(def schema.TableDefinition) ([]string, error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, fmt.Errorf("mssql: table name is empty")
	}
	if len(def.Columns) == 0 {
		return nil, fmt.Errorf("mssql: table %s: no columns", def.Name)
	}

	cols := make([]string, 0, len(def.Columns))
	for _, c := range def.Columns {
		d, err := mssqlColumnDef(c)
		if err != nil {
			return nil, err
		}
		cols = append(cols, d)
	}

	var out []string
	if ns, _ := schema.SplitQualified(def.Name); ns != "" {
		// CREATE SCHEMA must be alone in its batch, hence EXEC.
		out = append(out, fmt.Sprintf(
			"IF SCHEMA_ID(N'%s') IS NULL EXEC(N'CREATE SCHEMA %s');",
			quoteLiteral(ns), quoteLiteral(mssqlIdent(ns)),
		))
	}
	out = append(out, wrapCreateIfMissing(def.Name, strings.Join(cols, ", ")))
	return out, nil
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		quoteLiteral(tableName),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

func mssqlColumnDef(c schema.Column) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", fmt.Errorf("mssql: column name is empty")
	}
	if strings.TrimSpace(c.Type) == "" {
		return "", fmt.Errorf("mssql: column %s type is empty", c.Name)
	}
	return mssqlIdent(c.Name) + " " + c.Type + " NULL", nil
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for rows,
// numbering placeholders @p1..@pN.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
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
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	return b.String(), args
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent quotes each part of a schema-qualified name.
//
//	"dbo.games_raw" -> [dbo].[games_raw]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func quoteLiteral(s string) string { return strings.ReplaceAll(s, "'", "''") }

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	Conn(ctx context.Context) (connHandle, error)
	Close() error
}

// connHandle is the subset of *sql.Conn a load needs.
type connHandle interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is satisfied by *sql.Tx.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) Conn(ctx context.Context) (connHandle, error) {
	c, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &sqlConn{c: c}, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

type sqlConn struct {
	c *sql.Conn
}

func (s *sqlConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.c.ExecContext(ctx, query, args...)
}

func (s *sqlConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.c.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlConn) Close() error { return s.c.Close() }

var (
	_ dbConn             = (*sqlDB)(nil)
	_ connHandle         = (*sqlConn)(nil)
	_ txConn             = (*sql.Tx)(nil)
	_ storage.Repository = (*Repo)(nil)
)
