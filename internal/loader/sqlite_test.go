package loader_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"statsync/internal/dataset"
	"statsync/internal/loader"
	"statsync/internal/storage"
	_ "statsync/internal/storage/sqlite"
)

// openStore returns a repository and a side connection on one temp-file
// database. Transactions begin IMMEDIATE so concurrent writers queue on the
// busy timeout instead of failing on lock upgrade.
func openStore(t *testing.T) (storage.Repository, *sql.DB) {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "stats.db") + "?_pragma=busy_timeout(10000)&_txlock=immediate"
	repo, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(repo.Close)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return repo, db
}

func rowCount(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, table)).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func columnTypes(t *testing.T, db *sql.DB, table string) map[string]string {
	t.Helper()
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info("%s")`, table))
	if err != nil {
		t.Fatalf("table_info: %v", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			t.Fatalf("scan table_info: %v", err)
		}
		out[name] = typ
	}
	return out
}

func teams() dataset.Dataset {
	ds := dataset.New("id", "name")
	ds.Append(1, "Lakers")
	ds.Append(2, "Celtics")
	return *ds
}

func TestSQLite_TeamsScenario(t *testing.T) {
	repo, db := openStore(t)
	l := &loader.Loader{Repo: repo}

	res := l.Load(context.Background(), "teams_raw", teams())
	if !res.OK() {
		t.Fatalf("Load: %v", res.Err)
	}
	if res.Attempted != 2 || res.Committed != 2 {
		t.Fatalf("attempted=%d committed=%d", res.Attempted, res.Committed)
	}

	types := columnTypes(t, db, "teams_raw")
	if types["id"] != "INTEGER" || types["name"] != "VARCHAR(255)" {
		t.Fatalf("column types = %v", types)
	}
	if got := rowCount(t, db, "teams_raw"); got != 2 {
		t.Fatalf("rows = %d, want 2", got)
	}
}

func TestSQLite_LoadTwiceAppends(t *testing.T) {
	repo, db := openStore(t)
	l := &loader.Loader{Repo: repo}

	for i := 0; i < 2; i++ {
		if res := l.Load(context.Background(), "teams_raw", teams()); !res.OK() {
			t.Fatalf("load #%d: %v", i+1, res.Err)
		}
	}
	if got := rowCount(t, db, "teams_raw"); got != 4 {
		t.Fatalf("rows = %d, want 4", got)
	}
}

func TestSQLite_OversizedTextCommitsNothing(t *testing.T) {
	repo, db := openStore(t)
	l := &loader.Loader{Repo: repo}

	ds := dataset.New("id", "note")
	ds.Append(1, "short")
	ds.Append(2, strings.Repeat("x", 300))

	res := l.Load(context.Background(), "notes_raw", *ds)
	if res.Kind() != loader.InsertFailure {
		t.Fatalf("Kind=%v, want InsertFailure (err=%v)", res.Kind(), res.Err)
	}
	if res.Attempted != 2 || res.Committed != 0 {
		t.Fatalf("attempted=%d committed=%d", res.Attempted, res.Committed)
	}
	// The table exists from the create step; the batch left nothing behind.
	if got := rowCount(t, db, "notes_raw"); got != 0 {
		t.Fatalf("rows = %d, want 0", got)
	}
}

func TestSQLite_ZeroRowsCreatesTable(t *testing.T) {
	repo, db := openStore(t)
	l := &loader.Loader{Repo: repo}

	res := l.Load(context.Background(), "empty_raw", *dataset.New("a", "b"))
	if !res.OK() || res.Committed != 0 {
		t.Fatalf("res = %+v", res)
	}
	if types := columnTypes(t, db, "empty_raw"); types["a"] != "VARCHAR(255)" || types["b"] != "VARCHAR(255)" {
		t.Fatalf("column types = %v", types)
	}
	if got := rowCount(t, db, "empty_raw"); got != 0 {
		t.Fatalf("rows = %d", got)
	}
}

func TestSQLite_MixedAndNullColumns(t *testing.T) {
	repo, db := openStore(t)
	l := &loader.Loader{Repo: repo}

	ds := dataset.New("GAME_ID", "PTS", "FG_PCT", "MIXED", "ALL_NULL")
	ds.Append("0022300001", json.Number("110"), json.Number("0.481"), 1, nil)
	ds.Append("0022300002", json.Number("98"), nil, "one", nil)

	res := l.Load(context.Background(), "games_raw", *ds)
	if !res.OK() {
		t.Fatalf("Load: %v", res.Err)
	}
	types := columnTypes(t, db, "games_raw")
	want := map[string]string{
		"GAME_ID":  "VARCHAR(255)",
		"PTS":      "INTEGER",
		"FG_PCT":   "REAL",
		"MIXED":    "VARCHAR(255)",
		"ALL_NULL": "VARCHAR(255)",
	}
	for k, v := range want {
		if types[k] != v {
			t.Fatalf("%s type = %q, want %q (all=%v)", k, types[k], v, types)
		}
	}

	var pts int64
	var mixed string
	var null sql.NullString
	if err := db.QueryRow(`SELECT "PTS", "MIXED", "ALL_NULL" FROM "games_raw" WHERE "GAME_ID" = '0022300001'`).Scan(&pts, &mixed, &null); err != nil {
		t.Fatalf("select: %v", err)
	}
	if pts != 110 || mixed != "1" || null.Valid {
		t.Fatalf("pts=%d mixed=%q null=%v", pts, mixed, null)
	}
}

func TestSQLite_ExistingTableWithOtherColumnsConflicts(t *testing.T) {
	repo, db := openStore(t)
	l := &loader.Loader{Repo: repo}

	if res := l.Load(context.Background(), "teams_raw", teams()); !res.OK() {
		t.Fatalf("first load: %v", res.Err)
	}

	ds := dataset.New("id", "nickname")
	ds.Append(3, "Heat")
	res := l.Load(context.Background(), "teams_raw", *ds)
	if res.Kind() != loader.CreateConflict {
		t.Fatalf("Kind=%v, want CreateConflict (err=%v)", res.Kind(), res.Err)
	}
	if !errors.Is(res.AsError(), loader.ErrCreateConflict) {
		t.Fatalf("errors.Is ErrCreateConflict failed: %v", res.Err)
	}
	if got := rowCount(t, db, "teams_raw"); got != 2 {
		t.Fatalf("rows = %d, want the original 2", got)
	}
}

func TestSQLite_ConcurrentDistinctTables(t *testing.T) {
	repo, db := openStore(t)
	l := &loader.Loader{Repo: repo}

	abbrs := []string{"ATL", "BOS", "CLE", "NOP", "CHI", "DAL"}
	var wg sync.WaitGroup
	results := make([]loader.Result, len(abbrs))
	for i, a := range abbrs {
		wg.Add(1)
		go func(i int, table string) {
			defer wg.Done()
			results[i] = l.Load(context.Background(), table, teams())
		}(i, a+"_stats_raw")
	}
	wg.Wait()

	for i, r := range results {
		if !r.OK() {
			t.Fatalf("%s: %v", abbrs[i], r.Err)
		}
		if got := rowCount(t, db, abbrs[i]+"_stats_raw"); got != 2 {
			t.Fatalf("%s rows = %d", abbrs[i], got)
		}
	}
}
