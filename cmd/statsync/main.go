package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"statsync/internal/config"
	"statsync/internal/loader"
	"statsync/internal/metrics"
	"statsync/internal/metrics/datadog"
	"statsync/internal/source/statsapi"
	"statsync/internal/source/teams"
	"statsync/internal/storage"
	"statsync/internal/syncjob"

	// register every store; config.json picks one.
	_ "statsync/internal/storage/all"
)

// backendCloser is a metrics backend the command must close on exit.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps are the external seams of run.
type deps struct {
	Stderr io.Writer
	Getenv func(string) string

	OpenRepo       func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	NewSource      func(opts statsapi.Options) syncjob.Source
	BackendFactory func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error)
}

type runConfig struct {
	ConfigPath     string
	Teams          string
	Workers        int
	League         string
	SeasonType     string
	SkipGames      bool
	SkipTeams      bool
	LoadTimeout    time.Duration
	APIBaseURL     string
	APITimeout     time.Duration
	MetricsBackend string
	MetricsTags    string
	FlushEvery     time.Duration
	Verbose        bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := run(ctx, os.Args[1:], deps{
		Stderr:   os.Stderr,
		Getenv:   os.Getenv,
		OpenRepo: storage.New,
		NewSource: func(opts statsapi.Options) syncjob.Source {
			return statsapi.New(opts)
		},
		BackendFactory: func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error) {
			return datadog.NewBackend(ctx, datadog.Options{JobName: jobName, Tags: tags, FlushEvery: flushEvery})
		},
	})
	os.Exit(code)
}

// run executes one sync and returns an exit code.
//
// Exit codes:
//   - 0: every table loaded.
//   - 1: at least one table failed to fetch or load.
//   - 2: configuration or initialization error.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.Getenv == nil {
		d.Getenv = os.Getenv
	}
	logger := log.New(d.Stderr, "", log.LstdFlags)

	rc, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	cfg, err := config.Load(rc.ConfigPath)
	if err != nil {
		fmt.Fprintf(d.Stderr, "config: %v\n", err)
		return 2
	}
	if rc.Workers > 0 {
		cfg.Workers = rc.Workers
	}
	loadTimeout, _ := cfg.Timeout()
	if rc.LoadTimeout > 0 {
		loadTimeout = rc.LoadTimeout
	}

	selected, err := teams.Select(splitCSV(rc.Teams))
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	closeMetrics := setupMetrics(ctx, rc, d, logger)
	defer closeMetrics()

	sc, err := cfg.Storage()
	if err != nil {
		fmt.Fprintf(d.Stderr, "config: %v\n", err)
		return 2
	}
	repo, err := d.OpenRepo(ctx, sc)
	if err != nil {
		// An unreachable store fails every table; report it like one.
		fmt.Fprintf(d.Stderr, "storage %s: %v\n", sc.Kind, err)
		return 1
	}
	defer repo.Close()

	var stageLog syncjob.Logger
	if rc.Verbose {
		stageLog = logger
		logger.Printf("storage: kind=%s teams=%d workers=%d", sc.Kind, len(selected), cfg.Workers)
	}

	job := &syncjob.Job{
		Source: d.NewSource(statsapi.Options{BaseURL: rc.APIBaseURL, Timeout: rc.APITimeout}),
		Loader: &loader.Loader{
			Repo:    repo,
			Logger:  stageLog,
			Timeout: loadTimeout,
		},
		Logger:     stageLog,
		League:     rc.League,
		SeasonType: rc.SeasonType,
		Teams:      selected,
		Workers:    cfg.Workers,
		SkipGames:  rc.SkipGames,
		SkipTeams:  rc.SkipTeams,
	}

	rep, err := job.Run(ctx)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	for _, o := range rep.Outcomes {
		switch {
		case o.FetchErr != nil:
			fmt.Fprintf(d.Stderr, "%s: fetch failed: %v\n", o.Table, o.FetchErr)
		case !o.Result.OK():
			fmt.Fprintf(d.Stderr, "%s: %v\n", o.Table, o.Result.Err)
		case rc.Verbose:
			logger.Printf("%s: %d rows", o.Table, o.Result.Committed)
		}
	}
	if n := rep.Failed(); n > 0 {
		fmt.Fprintf(d.Stderr, "%d of %d tables failed\n", n, len(rep.Outcomes))
		return 1
	}
	if rc.Verbose {
		logger.Printf("completed %d tables in %s", len(rep.Outcomes), rep.Duration.Truncate(time.Millisecond))
	}
	return 0
}

// setupMetrics installs the selected backend and returns its shutdown hook.
// Backend choice: flag, then METRICS_BACKEND, then none.
func setupMetrics(ctx context.Context, rc runConfig, d deps, logger *log.Logger) func() {
	name := rc.MetricsBackend
	if name == "" {
		name = d.Getenv("METRICS_BACKEND")
	}
	switch name {
	case "datadog":
		tagsCSV := rc.MetricsTags
		if tagsCSV == "" {
			tagsCSV = d.Getenv("METRICS_TAGS")
		}
		tags := append(datadog.ParseTagsCSV(tagsCSV), "tool:statsync")
		b, err := d.BackendFactory(ctx, "statsync", tags, rc.FlushEvery)
		if err != nil {
			logger.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}
		}
		if rc.Verbose {
			logger.Printf("metrics: backend=%s tags=%v", name, tags)
		}
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logger.Printf("metrics: datadog close/flush error: %v", err)
			}
			metrics.SetBackend(nil)
		}

	case "", "none":
		return func() {}

	default:
		logger.Printf("metrics: unknown backend %q; metrics disabled", name)
		return func() {}
	}
}

// parseFlags parses command arguments without exiting the process.
func parseFlags(args []string) (runConfig, error) {
	fs := flag.NewFlagSet("statsync", flag.ContinueOnError)

	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)
	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}

	var rc runConfig
	fs.StringVar(&rc.ConfigPath, "config", config.DefaultPath, "config file, JSON or YAML (database block)")
	fs.StringVar(&rc.Teams, "teams", "", "comma-separated team abbreviations (default all)")
	fs.IntVar(&rc.Workers, "workers", 0, "concurrent team loads (overrides config; default 1)")
	fs.StringVar(&rc.League, "league", statsapi.LeagueNBA, "league id for the game log")
	fs.StringVar(&rc.SeasonType, "season-type", statsapi.SeasonRegular, "season type for the game log")
	fs.BoolVar(&rc.SkipGames, "skip-games", false, "do not sync games_raw")
	fs.BoolVar(&rc.SkipTeams, "skip-teams", false, "do not sync <ABBR>_stats_raw tables")
	fs.DurationVar(&rc.LoadTimeout, "load-timeout", 0, "bound on each table load (overrides config)")
	fs.StringVar(&rc.APIBaseURL, "api-base-url", statsapi.DefaultBaseURL, "stats API root")
	fs.DurationVar(&rc.APITimeout, "api-timeout", 60*time.Second, "HTTP timeout per stats API request")
	fs.StringVar(&rc.MetricsBackend, "metrics-backend", "", "metrics backend (datadog, none; default $METRICS_BACKEND)")
	fs.StringVar(&rc.MetricsTags, "metrics-tags", "", "extra Datadog tags CSV (default $METRICS_TAGS)")
	fs.DurationVar(&rc.FlushEvery, "metrics-flush", time.Minute, "Datadog flush interval")
	fs.BoolVar(&rc.Verbose, "v", false, "log every stage")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return runConfig{}, errors.New(usageBuf.String())
		}
		return runConfig{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}
	if fs.NArg() > 0 {
		return runConfig{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if rc.Workers < 0 {
		return runConfig{}, errors.New("-workers must be >= 0")
	}
	if rc.LoadTimeout < 0 {
		return runConfig{}, errors.New("-load-timeout must be >= 0")
	}
	if rc.SkipGames && rc.SkipTeams {
		return runConfig{}, errors.New("-skip-games and -skip-teams leave nothing to sync")
	}
	return rc, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
