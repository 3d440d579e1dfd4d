package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"statsync/internal/dataset"
	"statsync/internal/schema"
	"statsync/internal/storage"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_pragma=busy_timeout(5000)"
	r, err := NewRepo(context.Background(), storage.Config{Kind: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("NewRepo: %v", err)
	}
	t.Cleanup(r.Close)
	return r.(*Repo)
}

func teamsDef() schema.TableDefinition {
	return schema.TableDefinition{
		Name: "teams_raw",
		Columns: []schema.Column{
			{Name: "id", Kind: dataset.Integer, Type: "INTEGER"},
			{Name: "name", Kind: dataset.Text, Type: "VARCHAR(255)"},
		},
	}
}

func countRows(t *testing.T, r *Repo, table string) int {
	t.Helper()
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM ` + tableIdent(table)).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestBuildCreateTableSQL(t *testing.T) {
	t.Parallel()

	ddl, err := buildCreateTableSQL(teamsDef())
	if err != nil {
		t.Fatalf("buildCreateTableSQL: %v", err)
	}
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "teams_raw"`,
		`"id" INTEGER`,
		`"name" VARCHAR(255) CHECK (length("name") <= 255)`,
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("ddl missing %q:\n%s", want, ddl)
		}
	}
	if strings.Contains(ddl, `length("id")`) {
		t.Fatalf("integer column should not get a length check:\n%s", ddl)
	}

	if _, err := buildCreateTableSQL(schema.TableDefinition{Name: "t"}); err == nil {
		t.Fatalf("expected error for definition without columns")
	}
}

func TestBuildInsertSQL(t *testing.T) {
	t.Parallel()

	q, args := buildInsertSQL("main.teams", []string{"id", `we"ird`}, [][]any{{int64(1), "a"}, {int64(2), "b"}})
	want := `INSERT INTO "main"."teams" ("id", "we""ird") VALUES (?,?), (?,?)`
	if q != want {
		t.Fatalf("sql = %q, want %q", q, want)
	}
	if len(args) != 4 || args[3] != "b" {
		t.Fatalf("args = %#v", args)
	}
}

func TestConn_EnsureInsertCommit(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	c, err := r.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer c.Release()

	def := teamsDef()
	for i := 0; i < 2; i++ {
		if err := c.EnsureTable(ctx, def); err != nil {
			t.Fatalf("EnsureTable #%d: %v", i+1, err)
		}
	}

	b, err := c.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	n, err := b.InsertRows(ctx, def, [][]any{{int64(1), "Lakers"}, {int64(2), "Celtics"}})
	if err != nil {
		t.Fatalf("InsertRows: %v", err)
	}
	if n != 2 {
		t.Fatalf("InsertRows n=%d, want 2", n)
	}
	if err := b.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := b.Rollback(ctx); err != nil {
		t.Fatalf("Rollback after Commit should be a no-op, got %v", err)
	}

	if got := countRows(t, r, "teams_raw"); got != 2 {
		t.Fatalf("rows = %d, want 2", got)
	}
}

func TestConn_OversizedTextRollsBackWholeBatch(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	c, err := r.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer c.Release()

	def := teamsDef()
	if err := c.EnsureTable(ctx, def); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	b, err := c.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	_, err = b.InsertRows(ctx, def, [][]any{
		{int64(1), "ok"},
		{int64(2), strings.Repeat("x", schema.TextCap+1)},
	})
	if err == nil {
		t.Fatalf("expected CHECK violation for oversized text")
	}
	if got := r.Classify(err); got != storage.FailureRejected {
		t.Fatalf("Classify = %v, want rejected (err=%v)", got, err)
	}
	if err := b.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if got := countRows(t, r, "teams_raw"); got != 0 {
		t.Fatalf("rows = %d, want 0 after rollback", got)
	}
}

func TestClassify_SchemaMismatchIsConflict(t *testing.T) {
	r := openTestRepo(t)
	ctx := context.Background()

	c, err := r.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer c.Release()

	if err := c.EnsureTable(ctx, teamsDef()); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	other := schema.TableDefinition{
		Name: "teams_raw",
		Columns: []schema.Column{
			{Name: "id", Kind: dataset.Integer, Type: "INTEGER"},
			{Name: "nickname", Kind: dataset.Text, Type: "VARCHAR(255)"},
		},
	}
	b, err := c.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer b.Rollback(ctx) //nolint:errcheck

	_, err = b.InsertRows(ctx, other, [][]any{{int64(1), "Lake Show"}})
	if err == nil {
		t.Fatalf("expected insert into missing column to fail")
	}
	if got := r.Classify(err); got != storage.FailureConflict {
		t.Fatalf("Classify = %v, want conflict (err=%v)", got, err)
	}
}

func TestClassify_Fallbacks(t *testing.T) {
	t.Parallel()

	r := &Repo{}
	if got := r.Classify(nil); got != storage.FailureUnclassified {
		t.Fatalf("Classify(nil) = %v", got)
	}
	if got := r.Classify(errors.New("no such table: games_raw")); got != storage.FailureConflict {
		t.Fatalf("Classify(no such table) = %v", got)
	}
	if got := r.Classify(sql.ErrConnDone); got != storage.FailureUnclassified {
		t.Fatalf("Classify(ErrConnDone) = %v", got)
	}
}
