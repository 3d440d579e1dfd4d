// Package syncjob runs one full sync: the league game log into games_raw,
// then each team's year-by-year stats into <ABBR>_stats_raw.
//
// A failing table never stops the others; every table gets an Outcome.
package syncjob

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"statsync/internal/dataset"
	"statsync/internal/loader"
	"statsync/internal/metrics"
	"statsync/internal/source/statsapi"
	"statsync/internal/source/teams"
)

// GamesTable receives the league game log.
const GamesTable = "games_raw"

// Source is the data-source collaborator. *statsapi.Client satisfies it.
type Source interface {
	LeagueGameFinder(ctx context.Context, league, seasonType string) (dataset.Dataset, error)
	TeamYearByYearStats(ctx context.Context, teamID int64) (dataset.Dataset, error)
}

// Loader is satisfied by *loader.Loader.
type Loader interface {
	Load(ctx context.Context, table string, ds dataset.Dataset) loader.Result
}

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// Job configures a sync run. Zero values take the defaults noted.
type Job struct {
	Source Source
	Loader Loader
	Logger Logger

	League     string // statsapi.LeagueNBA
	SeasonType string // statsapi.SeasonRegular

	// Teams to sync; empty means every team.
	Teams []teams.Team

	// Workers bounds concurrent team loads. The default of 1 keeps the
	// teams strictly sequential. Each team writes a distinct table.
	Workers int

	SkipGames bool
	SkipTeams bool
}

// Outcome is what happened to one table.
type Outcome struct {
	Table string

	// FetchErr is set when the source failed; nothing was loaded.
	FetchErr error

	// Result is the load result when the fetch succeeded.
	Result loader.Result
}

// OK reports whether the table was fetched and fully committed.
func (o Outcome) OK() bool { return o.FetchErr == nil && o.Result.OK() }

// Err returns the fetch or load error, or nil.
func (o Outcome) Err() error {
	if o.FetchErr != nil {
		return o.FetchErr
	}
	return o.Result.AsError()
}

// Report lists outcomes: games first, then teams in list order.
type Report struct {
	Outcomes []Outcome
	Duration time.Duration
}

// Failed counts tables that did not fully load.
func (r Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.OK() {
			n++
		}
	}
	return n
}

// Err joins every table error, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if err := o.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Table, err))
		}
	}
	return errors.Join(errs...)
}

// Run executes the job. It returns an error only for a misconfigured job;
// table failures are in the Report.
func (j *Job) Run(ctx context.Context) (Report, error) {
	if j.Source == nil || j.Loader == nil {
		return Report{}, errors.New("syncjob: Source and Loader are required")
	}
	start := time.Now()
	logf := j.logger()

	league := j.League
	if league == "" {
		league = statsapi.LeagueNBA
	}
	season := j.SeasonType
	if season == "" {
		season = statsapi.SeasonRegular
	}
	list := j.Teams
	if len(list) == 0 {
		list = teams.All()
	}

	var rep Report
	if !j.SkipGames {
		rep.Outcomes = append(rep.Outcomes, j.syncTable(ctx, GamesTable, func(ctx context.Context) (dataset.Dataset, error) {
			return j.Source.LeagueGameFinder(ctx, league, season)
		}))
	}

	if !j.SkipTeams {
		teamOut := make([]Outcome, len(list))
		workers := j.Workers
		if workers < 1 {
			workers = 1
		}

		var g errgroup.Group
		g.SetLimit(workers)
		for i, t := range list {
			g.Go(func() error {
				teamOut[i] = j.syncTable(ctx, t.StatsTable(), func(ctx context.Context) (dataset.Dataset, error) {
					return j.Source.TeamYearByYearStats(ctx, t.ID)
				})
				return nil
			})
		}
		_ = g.Wait()
		rep.Outcomes = append(rep.Outcomes, teamOut...)
	}

	rep.Duration = time.Since(start)
	logf("stage=sync tables=%d failed=%d duration=%s", len(rep.Outcomes), rep.Failed(), rep.Duration.Truncate(time.Millisecond))
	return rep, nil
}

func (j *Job) syncTable(ctx context.Context, table string, fetch func(context.Context) (dataset.Dataset, error)) Outcome {
	logf := j.logger()
	if err := ctx.Err(); err != nil {
		return Outcome{Table: table, FetchErr: err}
	}

	fetchStart := time.Now()
	ds, err := fetch(ctx)
	if err != nil {
		metrics.RecordStep("fetch", "error", time.Since(fetchStart))
		logf("stage=fetch table=%s status=error err=%v", table, err)
		return Outcome{Table: table, FetchErr: err}
	}
	metrics.RecordStep("fetch", "ok", time.Since(fetchStart))
	logf("stage=fetch table=%s ok rows=%d duration=%s", table, ds.Len(), time.Since(fetchStart).Truncate(time.Millisecond))

	return Outcome{Table: table, Result: j.Loader.Load(ctx, table, ds)}
}

func (j *Job) logger() func(format string, v ...any) {
	if j.Logger == nil {
		return log.New(discardWriter{}, "", 0).Printf
	}
	return j.Logger.Printf
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
