// Package loader materializes a dataset into a destination table: infer the
// definition, ensure the table exists, and insert every row in one
// all-or-nothing transaction.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"statsync/internal/dataset"
	"statsync/internal/metrics"
	"statsync/internal/schema"
	"statsync/internal/storage"
)

// Logger is the minimal logging interface used by the loader.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Loader loads datasets through Repo. It holds no mutable state, so Load
// may be called concurrently for different tables.
type Loader struct {
	Repo   storage.Repository
	Logger Logger

	// Timeout bounds each Load call when > 0. A load that runs out of time
	// is an InsertFailure with nothing committed.
	Timeout time.Duration
}

// Result reports one Load call. On success Committed == Attempted.
type Result struct {
	Table      string
	Definition schema.TableDefinition
	Attempted  int
	Committed  int
	Duration   time.Duration
	Err        *Error

	// Fingerprint is the dataset's content hash, set once it validated.
	Fingerprint string
}

// OK reports whether every row was committed.
func (r Result) OK() bool { return r.Err == nil }

// Kind is KindNone on success.
func (r Result) Kind() Kind {
	if r.Err == nil {
		return KindNone
	}
	return r.Err.Kind
}

// AsError returns r.Err as an error, or nil on success.
func (r Result) AsError() error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}

// Load infers table's definition from ds, creates the table if it does not
// exist, and inserts all rows in a single transaction. Failures never leave
// a partial commit: Committed is either len(ds.Rows) or 0. The acquired
// connection is released on every path.
func (l *Loader) Load(ctx context.Context, table string, ds dataset.Dataset) (res Result) {
	start := time.Now()
	logf := l.logger()

	res = Result{Table: table, Attempted: ds.Len()}
	defer func() {
		res.Duration = time.Since(start)
		status := "ok"
		if res.Err != nil {
			status = "error"
			logf("stage=load table=%s status=error kind=%s attempted=%d duration=%s err=%v",
				table, res.Err.Kind, res.Attempted, res.Duration.Truncate(time.Millisecond), res.Err.Err)
		} else {
			logf("stage=load table=%s status=ok rows=%d duration=%s",
				table, res.Committed, res.Duration.Truncate(time.Millisecond))
		}
		metrics.RecordLoad(status)
		metrics.RecordRows("attempted", int64(res.Attempted))
		metrics.RecordRows("committed", int64(res.Committed))
	}()

	if l.Repo == nil {
		res.Err = &Error{Kind: ConnectionError, Table: table, Stage: "acquire", Err: errors.New("loader: Repo is required")}
		return res
	}

	if err := schema.ValidateTableName(table); err != nil {
		res.Err = &Error{Kind: InvalidDataset, Table: table, Stage: "validate", Err: fmt.Errorf("%w: %v", dataset.ErrInvalid, err)}
		return res
	}
	def, err := schema.InferWith(ds, table, l.Repo.Types())
	if err != nil {
		res.Err = &Error{Kind: InvalidDataset, Table: table, Stage: "validate", Err: err}
		return res
	}
	res.Definition = def
	res.Fingerprint = ds.Fingerprint()
	logf("stage=validate table=%s ok columns=%d rows=%d fingerprint=%s", table, len(def.Columns), ds.Len(), res.Fingerprint)

	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	stepStart := time.Now()
	conn, err := l.Repo.Acquire(ctx)
	if err != nil {
		res.Err = l.fail(ctx, "acquire", table, err, stepStart)
		return res
	}
	defer conn.Release()
	l.ok("acquire", table, stepStart)

	stepStart = time.Now()
	if err := conn.EnsureTable(ctx, def); err != nil {
		res.Err = l.fail(ctx, "create", table, err, stepStart)
		return res
	}
	l.ok("create", table, stepStart)

	if ds.Len() == 0 {
		return res
	}

	rows, err := bindRows(def.Kinds(), ds.Rows)
	if err != nil {
		res.Err = l.fail(ctx, "bind", table, err, time.Now())
		return res
	}

	stepStart = time.Now()
	batch, err := conn.Begin(ctx)
	if err != nil {
		res.Err = l.fail(ctx, "begin", table, err, stepStart)
		return res
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		// The transaction may already be dead with the connection; the
		// insert error is the one worth reporting.
		if rbErr := batch.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			logf("stage=rollback table=%s status=error err=%v", table, rbErr)
		}
	}()

	inserted, err := batch.InsertRows(ctx, def, rows)
	if err != nil {
		res.Err = l.fail(ctx, "insert", table, err, stepStart)
		return res
	}
	l.ok("insert", table, stepStart)

	stepStart = time.Now()
	if err := batch.Commit(ctx); err != nil {
		res.Err = l.fail(ctx, "commit", table, err, stepStart)
		return res
	}
	committed = true
	l.ok("commit", table, stepStart)

	if inserted != int64(len(rows)) {
		logf("stage=commit table=%s rows=%d affected=%d", table, len(rows), inserted)
	}
	res.Committed = len(rows)
	return res
}

func bindRows(kinds []dataset.ColumnKind, in [][]any) ([][]any, error) {
	out := make([][]any, len(in))
	for i, row := range in {
		b, err := dataset.BindRow(kinds, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		out[i] = b
	}
	return out, nil
}

// fail builds the typed error for a failed stage and records it.
func (l *Loader) fail(ctx context.Context, stage, table string, err error, stepStart time.Time) *Error {
	kind := l.kindFor(ctx, stage, err)
	metrics.RecordStep(stage, "error", time.Since(stepStart))
	l.logger()("stage=%s table=%s status=error kind=%s duration=%s", stage, table, kind, durMS(stepStart))
	return &Error{Kind: kind, Table: table, Stage: stage, Err: err}
}

func (l *Loader) ok(stage, table string, stepStart time.Time) {
	metrics.RecordStep(stage, "ok", time.Since(stepStart))
	l.logger()("stage=%s table=%s ok duration=%s", stage, table, durMS(stepStart))
}

// kindFor applies the stage default, then lets the backend's reading of
// err override it. Running out of time is always an InsertFailure.
func (l *Loader) kindFor(ctx context.Context, stage string, err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return InsertFailure
	}

	fk := l.Repo.Classify(err)
	switch stage {
	case "acquire":
		return ConnectionError
	case "create":
		if fk == storage.FailureConnection {
			return ConnectionError
		}
		return CreateConflict
	default:
		switch fk {
		case storage.FailureConnection:
			return ConnectionError
		case storage.FailureConflict:
			return CreateConflict
		}
		return InsertFailure
	}
}

func (l *Loader) logger() func(format string, v ...any) {
	if l.Logger == nil {
		return log.New(discardWriter{}, "", 0).Printf
	}
	return l.Logger.Printf
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (n int, err error) { return len(p), nil }
