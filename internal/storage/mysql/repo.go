package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"statsync/internal/schema"
	"statsync/internal/storage"
)

// Repo implements storage.Repository for MySQL and MariaDB.
//
// Connections run with a strict sql_mode unless the DSN sets one, so an
// over-wide string fails the insert instead of being silently truncated.
type Repo struct {
	db *sql.DB
}

// MySQL allows 65535 placeholders per prepared statement.
const maxParams = 60000

const strictMode = "'STRICT_ALL_TABLES,NO_ENGINE_SUBSTITUTION'"

// Types is the MySQL kind mapping.
var Types = schema.TypeMap{
	Integer: "BIGINT",
	Real:    "DOUBLE",
	Text:    fmt.Sprintf("VARCHAR(%d)", schema.TextCap),
}

func init() {
	storage.Register("mysql", NewRepo)
}

// NewRepo parses cfg.DSN (go-sql-driver format, e.g.
// "user:pass@tcp(host:3306)/nba"), forces strict mode and pings.
func NewRepo(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	mc, err := strictConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(connector)
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func strictConfig(dsn string) (*mysql.Config, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if mc.Params == nil {
		mc.Params = map[string]string{}
	}
	if _, ok := mc.Params["sql_mode"]; !ok {
		mc.Params["sql_mode"] = strictMode
	}
	return mc, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) Kind() string { return "mysql" }

func (r *Repo) Types() schema.TypeMap { return Types }

func (r *Repo) Acquire(ctx context.Context) (storage.Conn, error) {
	c, err := r.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &conn{c: c}, nil
}

// Classify reads server error numbers, then driver connection sentinels.
func (r *Repo) Classify(err error) storage.FailureKind {
	if err == nil {
		return storage.FailureUnclassified
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case 1054, 1136, 1146, 1050:
			// unknown column, column count, no such table, table exists
			return storage.FailureConflict
		case 1044, 1045, 1049, 1040, 1129:
			return storage.FailureConnection
		case 1048, 1062, 1264, 1265, 1366, 1406, 1452, 3819:
			return storage.FailureRejected
		}
		return storage.FailureUnclassified
	}
	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, driver.ErrBadConn) {
		return storage.FailureConnection
	}
	return storage.ClassifyCommon(err)
}

type conn struct {
	c *sql.Conn
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
	tx *sql.Tx
}

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

// buildCreateSQL returns CREATE SCHEMA (for qualified names) and
// CREATE TABLE IF NOT EXISTS statements. The driver runs one statement per
// Exec, so they are returned separately.
func buildCreateSQL(def schema.TableDefinition) ([]string, error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, fmt.Errorf("mysql: table name is empty")
	}
	if len(def.Columns) == 0 {
		return nil, fmt.Errorf("mysql: table %s: no columns", def.Name)
	}

	cols := make([]string, 0, len(def.Columns))
	for _, c := range def.Columns {
		if strings.TrimSpace(c.Type) == "" {
			return nil, fmt.Errorf("mysql: column %s type is empty", c.Name)
		}
		cols = append(cols, myIdent(c.Name)+" "+c.Type)
	}

	var out []string
	if ns, _ := schema.SplitQualified(def.Name); ns != "" {
		out = append(out, "CREATE SCHEMA IF NOT EXISTS "+myIdent(ns))
	}
	out = append(out, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		myTableIdent(def.Name), strings.Join(cols, ", ")))
	return out, nil
}

// buildInsertSQL builds one multi-row INSERT with "?" placeholders.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(myTableIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(myIdent(c))
	}
	b.WriteString(") VALUES ")

	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	args := make([]any, 0, len(rows)*len(columns))
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(row)
		args = append(args, r...)
	}
	return b.String(), args
}

// myIdent backtick-quotes an identifier, doubling embedded backticks.
func myIdent(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}

func myTableIdent(name string) string {
	ns, table := schema.SplitQualified(name)
	if ns == "" {
		return myIdent(table)
	}
	return myIdent(ns) + "." + myIdent(table)
}

var _ storage.Repository = (*Repo)(nil)
