package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"statsync/internal/config"
	"statsync/internal/dataset"
	"statsync/internal/metrics"
	"statsync/internal/source/statsapi"
	"statsync/internal/storage"
	"statsync/internal/syncjob"
)

type testBackend struct {
	mu     sync.Mutex
	closed bool
	loads  int
}

func (b *testBackend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if name == metrics.LoadsTotal {
		b.mu.Lock()
		b.loads++
		b.mu.Unlock()
	}
}
func (b *testBackend) ObserveHistogram(string, float64, metrics.Labels) {}
func (b *testBackend) Flush() error                                     { return nil }
func (b *testBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

type stubSource struct {
	failGames bool
}

func (s stubSource) LeagueGameFinder(context.Context, string, string) (dataset.Dataset, error) {
	if s.failGames {
		return dataset.Dataset{}, &statsapi.StatusError{Endpoint: "leaguegamefinder", StatusCode: 503}
	}
	ds := dataset.New("GAME_ID", "PTS")
	ds.Append("0022300001", json.Number("110"))
	return *ds, nil
}

func (s stubSource) TeamYearByYearStats(_ context.Context, id int64) (dataset.Dataset, error) {
	ds := dataset.New("TEAM_ID", "WINS")
	ds.Append(json.Number(fmt.Sprint(id)), json.Number("50"))
	return *ds, nil
}

// clearDBEnv hides database overrides the host environment may carry.
func clearDBEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{config.EnvHost, config.EnvDB, config.EnvUser, config.EnvPassword, config.EnvKind, config.EnvPort, config.EnvWorkers, config.EnvTimeout} {
		if v, ok := os.LookupEnv(k); ok {
			t.Setenv(k, v)
			_ = os.Unsetenv(k)
		}
	}
}

func writeSQLiteConfig(t *testing.T) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "stats.db")
	cfgPath = filepath.Join(dir, "config.json")
	body := fmt.Sprintf(`{"database":{"kind":"sqlite","database":%q,"host":"","user":"","password":""}}`, dbPath)
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgPath, dbPath
}

func testDeps(stderr *bytes.Buffer, src syncjob.Source, backend *testBackend) deps {
	return deps{
		Stderr:    stderr,
		Getenv:    func(string) string { return "" },
		OpenRepo:  storage.New,
		NewSource: func(statsapi.Options) syncjob.Source { return src },
		BackendFactory: func(context.Context, string, []string, time.Duration) (backendCloser, error) {
			return backend, nil
		},
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr string
		check   func(t *testing.T, rc runConfig)
	}{
		{
			name: "defaults",
			args: nil,
			check: func(t *testing.T, rc runConfig) {
				if rc.ConfigPath != "config.json" || rc.League != "00" || rc.SeasonType != "Regular Season" || rc.Workers != 0 {
					t.Fatalf("rc = %+v", rc)
				}
			},
		},
		{name: "negative workers", args: []string{"-workers", "-1"}, wantErr: "-workers must be >= 0"},
		{name: "nothing to sync", args: []string{"-skip-games", "-skip-teams"}, wantErr: "nothing to sync"},
		{name: "stray args", args: []string{"extra"}, wantErr: "unexpected arguments"},
		{name: "help", args: []string{"-h"}, wantErr: "Usage of statsync"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rc, err := parseFlags(tt.args)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFlags: %v", err)
			}
			tt.check(t, rc)
		})
	}
}

func TestSplitCSV(t *testing.T) {
	t.Parallel()

	got := splitCSV(" LAL, ,BOS,")
	if len(got) != 2 || got[0] != "LAL" || got[1] != "BOS" {
		t.Fatalf("splitCSV = %v", got)
	}
	if splitCSV("") != nil {
		t.Fatal("empty input should give nil")
	}
}

func TestRun_SyncsIntoSQLite(t *testing.T) {
	clearDBEnv(t)
	cfgPath, dbPath := writeSQLiteConfig(t)

	var stderr bytes.Buffer
	backend := &testBackend{}
	code := run(context.Background(), []string{"-config", cfgPath, "-teams", "LAL,BOS", "-workers", "2", "-metrics-backend", "datadog"},
		testDeps(&stderr, stubSource{}, backend))
	if code != 0 {
		t.Fatalf("code = %d, stderr:\n%s", code, stderr.String())
	}

	db, err := sql.Open("sqlite", "file:"+dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	for _, table := range []string{"games_raw", "LAL_stats_raw", "BOS_stats_raw"} {
		var n int
		if err := db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, table)).Scan(&n); err != nil || n != 1 {
			t.Fatalf("%s: n=%d err=%v", table, n, err)
		}
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if !backend.closed || backend.loads != 3 {
		t.Fatalf("backend closed=%v loads=%d", backend.closed, backend.loads)
	}
}

func TestRun_TableFailureExitsOne(t *testing.T) {
	clearDBEnv(t)
	cfgPath, _ := writeSQLiteConfig(t)

	var stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", cfgPath, "-teams", "LAL"},
		testDeps(&stderr, stubSource{failGames: true}, &testBackend{}))
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "games_raw: fetch failed") || !strings.Contains(stderr.String(), "1 of 2 tables failed") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestRun_InitErrors(t *testing.T) {
	clearDBEnv(t)
	cfgPath, _ := writeSQLiteConfig(t)

	tests := []struct {
		name     string
		args     []string
		openErr  error
		wantCode int
		wantMsg  string
	}{
		{"bad flag", []string{"-nope"}, nil, 2, "flag provided but not defined"},
		{"unknown team", []string{"-config", cfgPath, "-teams", "SEA"}, nil, 2, "unknown abbreviation"},
		{"store unreachable", []string{"-config", cfgPath}, errors.New("dial tcp: refused"), 1, "storage sqlite"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			d := testDeps(&stderr, stubSource{}, &testBackend{})
			if tt.openErr != nil {
				d.OpenRepo = func(context.Context, storage.Config) (storage.Repository, error) { return nil, tt.openErr }
			}
			if code := run(context.Background(), tt.args, d); code != tt.wantCode {
				t.Fatalf("code = %d, want %d (stderr %s)", code, tt.wantCode, stderr.String())
			}
			if !strings.Contains(stderr.String(), tt.wantMsg) {
				t.Fatalf("stderr = %q, want containing %q", stderr.String(), tt.wantMsg)
			}
		})
	}
}
