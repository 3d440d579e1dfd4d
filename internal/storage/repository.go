package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"statsync/internal/schema"
)

// Config is the minimal configuration needed to open a repository.
//
// When to use:
//   - Use Config when constructing a Repository via New.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
//
// Errors:
//   - New returns an error if Kind is empty or unsupported.
type Config struct {
	Kind string
	DSN  string

	// MaxConns caps open connections where the backend pools them.
	// Zero keeps the backend default.
	MaxConns int
}

// Repository is a handle on one destination database.
//
// IMPORTANT: This interface is intentionally minimal and focused on what the
// table loader needs. Each backend implements these semantics in its own
// idiomatic way (Postgres IF NOT EXISTS, SQL Server OBJECT_ID guards, etc).
type Repository interface {
	// Close releases the pool or database handle.
	//
	// Edge cases:
	//   - Callers should treat Close as "call once" at process shutdown.
	//   - Conns acquired earlier must be released before Close.
	Close()

	// Kind is the registry key the repository was created under.
	Kind() string

	// Types maps inferred column kinds to this store's type names.
	Types() schema.TypeMap

	// Acquire checks out one connection scoped to a single load call.
	// Errors here mean the store is unreachable or rejected credentials.
	Acquire(ctx context.Context) (Conn, error)

	// Classify maps a driver error to a FailureKind.
	Classify(err error) FailureKind
}

// Conn is one checked-out connection. Release must be called exactly once,
// on every exit path.
type Conn interface {
	// EnsureTable issues CREATE TABLE IF NOT EXISTS for def. It is
	// idempotent by name only: an existing table is left as-is even if its
	// columns differ from def.
	EnsureTable(ctx context.Context, def schema.TableDefinition) error

	// Begin opens the transaction that scopes one all-or-nothing insert.
	Begin(ctx context.Context) (Batch, error)

	// Release returns the connection to its pool (or closes it).
	Release()
}

// Batch is an open transaction on a Conn.
type Batch interface {
	// InsertRows inserts rows (already bound to def's kinds, aligned with
	// def.Columns) using parameter placeholders only. Backends split rows
	// into statements that fit their parameter limit; all statements run in
	// this transaction.
	InsertRows(ctx context.Context, def schema.TableDefinition, rows [][]any) (int64, error)

	Commit(ctx context.Context) error

	// Rollback aborts the transaction. Calling it after Commit is a no-op.
	Rollback(ctx context.Context) error
}

// ---- factories ----

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The `kind` string becomes the lookup key used by New.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. This is intentional to fail fast and
//     avoid ambiguous backend selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register. New takes a read lock while
//     selecting the factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing Kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	return f(ctx, cfg)
}

// Kinds lists registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
