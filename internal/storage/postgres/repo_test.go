package postgres

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"statsync/internal/dataset"
	"statsync/internal/schema"
	"statsync/internal/storage"
)

func TestBuildCreateSQL_QualifiedNameCreatesSchema(t *testing.T) {
	t.Parallel()

	def := schema.TableDefinition{
		Name: "stats.games_raw",
		Columns: []schema.Column{
			{Name: "GAME_ID", Kind: dataset.Text, Type: Types.Text},
			{Name: "PTS", Kind: dataset.Integer, Type: Types.Integer},
			{Name: "FG_PCT", Kind: dataset.Real, Type: Types.Real},
		},
	}

	schemaSQL, tableSQL, err := buildCreateSQL(def)
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	if schemaSQL != `CREATE SCHEMA IF NOT EXISTS "stats";` {
		t.Fatalf("schemaSQL = %q", schemaSQL)
	}
	want := `CREATE TABLE IF NOT EXISTS "stats"."games_raw" ("GAME_ID" VARCHAR(255), "PTS" BIGINT, "FG_PCT" DOUBLE PRECISION);`
	if tableSQL != want {
		t.Fatalf("tableSQL =\n%q\nwant\n%q", tableSQL, want)
	}
}

func TestBuildCreateSQL_UnqualifiedNameSkipsSchema(t *testing.T) {
	t.Parallel()

	schemaSQL, tableSQL, err := buildCreateSQL(schema.TableDefinition{
		Name:    "teams_raw",
		Columns: []schema.Column{{Name: "id", Kind: dataset.Integer, Type: "BIGINT"}},
	})
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	if schemaSQL != "" {
		t.Fatalf("expected no schema DDL, got %q", schemaSQL)
	}
	if !strings.HasPrefix(tableSQL, `CREATE TABLE IF NOT EXISTS "teams_raw" (`) {
		t.Fatalf("tableSQL = %q", tableSQL)
	}
}

func TestBuildCreateSQL_RejectsIncompleteDefinitions(t *testing.T) {
	t.Parallel()

	cases := []schema.TableDefinition{
		{Name: "", Columns: []schema.Column{{Name: "a", Type: "BIGINT"}}},
		{Name: "t"},
		{Name: "t", Columns: []schema.Column{{Name: "a"}}},
	}
	for i, def := range cases {
		if _, _, err := buildCreateSQL(def); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestBuildInsertSQL_PlaceholdersAndArgs(t *testing.T) {
	t.Parallel()

	cols := []string{"id", "name"}
	rows := [][]any{
		{int64(1), "Lakers"},
		{int64(2), "Celtics"},
	}

	sql, args := buildInsertSQL("teams_raw", cols, rows)
	want := `INSERT INTO "teams_raw" ("id", "name") VALUES ($1, $2), ($3, $4);`
	if sql != want {
		t.Fatalf("sql =\n%q\nwant\n%q", sql, want)
	}
	if len(args) != 4 || args[0] != int64(1) || args[3] != "Celtics" {
		t.Fatalf("args = %#v", args)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	r := &Repo{}
	tests := []struct {
		name string
		err  error
		want storage.FailureKind
	}{
		{"nil", nil, storage.FailureUnclassified},
		{"undefined column", &pgconn.PgError{Code: "42703"}, storage.FailureConflict},
		{"undefined table", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "42P01"}), storage.FailureConflict},
		{"datatype mismatch", &pgconn.PgError{Code: "42804"}, storage.FailureConflict},
		{"string too long", &pgconn.PgError{Code: "22001"}, storage.FailureRejected},
		{"not null", &pgconn.PgError{Code: "23502"}, storage.FailureRejected},
		{"auth", &pgconn.PgError{Code: "28P01"}, storage.FailureConnection},
		{"connection failure", &pgconn.PgError{Code: "08006"}, storage.FailureConnection},
		{"unknown database", &pgconn.PgError{Code: "3D000"}, storage.FailureConnection},
		{"syntax", &pgconn.PgError{Code: "42601"}, storage.FailureUnclassified},
		{"plain", errors.New("boom"), storage.FailureUnclassified},
	}
	for _, tt := range tests {
		if got := r.Classify(tt.err); got != tt.want {
			t.Fatalf("%s: Classify = %v, want %v", tt.name, got, tt.want)
		}
	}
}
