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
	"statsync/internal/schema"
	"statsync/internal/source/file"
	"statsync/internal/storage"

	_ "statsync/internal/storage/all"
)

type backendCloser interface {
	metrics.Backend
	Close() error
}

type deps struct {
	Stdout io.Writer
	Stderr io.Writer
	Getenv func(string) string

	OpenRepo       func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	BackendFactory func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error)
}

type runConfig struct {
	ConfigPath     string
	Input          string
	Table          string
	Format         string
	Comma          string
	NoHeader       bool
	KeepText       bool
	Normalize      bool
	TableSelector  string
	TableIndex     int
	Timeout        time.Duration
	DryRun         bool
	MetricsBackend string
	Verbose        bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], deps{
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		Getenv:   os.Getenv,
		OpenRepo: storage.New,
		BackendFactory: func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error) {
			return datadog.NewBackend(ctx, datadog.Options{JobName: jobName, Tags: tags, FlushEvery: flushEvery})
		},
	}))
}

// run loads one local file into one table.
//
// Exit codes:
//   - 0: every row committed (or the dry run printed a definition).
//   - 1: the load failed.
//   - 2: bad arguments, unreadable input or configuration error.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
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

	opts := file.Options{
		Format:           file.Format(rc.Format),
		NoHeader:         rc.NoHeader,
		KeepText:         rc.KeepText,
		NormalizeHeaders: rc.Normalize,
		TableSelector:    rc.TableSelector,
		TableIndex:       rc.TableIndex,
	}
	switch rc.Comma {
	case "":
	case `\t`, "tab":
		opts.Comma = '\t'
	default:
		opts.Comma = []rune(rc.Comma)[0]
	}
	ds, err := file.ReadFile(ctx, rc.Input, opts)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	if rc.DryRun {
		def, err := schema.Infer(ds, rc.Table)
		if err != nil {
			fmt.Fprintln(d.Stderr, err.Error())
			return 2
		}
		printDefinition(d.Stdout, def, ds.Len())
		fmt.Fprintf(d.Stdout, "fingerprint %s\n", ds.Fingerprint())
		return 0
	}

	cfg, err := config.Load(rc.ConfigPath)
	if err != nil {
		fmt.Fprintf(d.Stderr, "config: %v\n", err)
		return 2
	}
	timeout, _ := cfg.Timeout()
	if rc.Timeout > 0 {
		timeout = rc.Timeout
	}
	sc, err := cfg.Storage()
	if err != nil {
		fmt.Fprintf(d.Stderr, "config: %v\n", err)
		return 2
	}

	if name := metricsBackend(rc, d); name == "datadog" {
		b, err := d.BackendFactory(ctx, "loadfile", append(datadog.ParseTagsCSV(d.Getenv("METRICS_TAGS")), "tool:loadfile"), time.Minute)
		if err != nil {
			logger.Printf("metrics: failed to init datadog backend: %v; using nop", err)
		} else {
			metrics.SetBackend(b)
			defer func() {
				if err := b.Close(); err != nil {
					logger.Printf("metrics: datadog close/flush error: %v", err)
				}
				metrics.SetBackend(nil)
			}()
		}
	} else if name != "" && name != "none" {
		logger.Printf("metrics: unknown backend %q; metrics disabled", name)
	}

	repo, err := d.OpenRepo(ctx, sc)
	if err != nil {
		fmt.Fprintf(d.Stderr, "storage %s: %v\n", sc.Kind, err)
		return 1
	}
	defer repo.Close()

	l := &loader.Loader{Repo: repo, Timeout: timeout}
	if rc.Verbose {
		l.Logger = logger
	}
	res := l.Load(ctx, rc.Table, ds)
	if !res.OK() {
		fmt.Fprintln(d.Stderr, res.Err.Error())
		return 1
	}
	fmt.Fprintf(d.Stdout, "%s: %d rows in %s\n", res.Table, res.Committed, res.Duration.Truncate(time.Millisecond))
	return 0
}

func metricsBackend(rc runConfig, d deps) string {
	if rc.MetricsBackend != "" {
		return rc.MetricsBackend
	}
	return d.Getenv("METRICS_BACKEND")
}

func printDefinition(w io.Writer, def schema.TableDefinition, rows int) {
	fmt.Fprintf(w, "table %s (%d rows)\n", def.Name, rows)
	for _, c := range def.Columns {
		fmt.Fprintf(w, "  %-32s %-8s %s\n", c.Name, c.Kind, c.Type)
	}
}

func parseFlags(args []string) (runConfig, error) {
	fs := flag.NewFlagSet("loadfile", flag.ContinueOnError)

	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)
	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}

	var rc runConfig
	fs.StringVar(&rc.ConfigPath, "config", config.DefaultPath, "config file, JSON or YAML (database block)")
	fs.StringVar(&rc.Input, "i", "", "input file (.csv, .tsv, .json, .jsonl, .html)")
	fs.StringVar(&rc.Table, "table", "", "destination table, optionally schema-qualified")
	fs.StringVar(&rc.Format, "format", "", "csv, json or html (default from extension)")
	fs.StringVar(&rc.Comma, "comma", "", "CSV field separator; \\t or tab for tabs (default ',')")
	fs.BoolVar(&rc.NoHeader, "no-header", false, "CSV has no header row")
	fs.BoolVar(&rc.KeepText, "keep-text", false, "do not coerce numeric text")
	fs.BoolVar(&rc.Normalize, "normalize-headers", false, "rewrite headers as lowercase SQL identifiers")
	fs.StringVar(&rc.TableSelector, "html-selector", "table", "CSS selector for HTML tables")
	fs.IntVar(&rc.TableIndex, "html-index", 0, "which selector match to read")
	fs.DurationVar(&rc.Timeout, "timeout", 0, "bound on the load (overrides config)")
	fs.BoolVar(&rc.DryRun, "dry-run", false, "print the inferred definition and exit")
	fs.StringVar(&rc.MetricsBackend, "metrics-backend", "", "metrics backend (datadog, none; default $METRICS_BACKEND)")
	fs.BoolVar(&rc.Verbose, "v", false, "log every stage")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return runConfig{}, errors.New(usageBuf.String())
		}
		return runConfig{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}
	if rc.Input == "" {
		return runConfig{}, errors.New("missing required -i <file>")
	}
	if rc.Table == "" {
		return runConfig{}, errors.New("missing required -table <name>")
	}
	if err := schema.ValidateTableName(rc.Table); err != nil {
		return runConfig{}, err
	}
	switch rc.Format {
	case "", string(file.FormatCSV), string(file.FormatJSON), string(file.FormatHTML):
	default:
		return runConfig{}, fmt.Errorf("-format %q: want csv, json or html", rc.Format)
	}
	if rc.Comma != "" && rc.Comma != `\t` && rc.Comma != "tab" && len([]rune(rc.Comma)) != 1 {
		return runConfig{}, errors.New("-comma must be a single character")
	}
	if rc.TableIndex < 0 {
		return runConfig{}, errors.New("-html-index must be >= 0")
	}
	return rc, nil
}
