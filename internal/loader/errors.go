package loader

import (
	"errors"
	"fmt"
)

// Kind is the failure category of a load call.
type Kind int

const (
	// KindNone means the load succeeded.
	KindNone Kind = iota
	// InvalidDataset: the table name or dataset broke an input constraint.
	// Nothing touched the store.
	InvalidDataset
	// ConnectionError: the store was unreachable or rejected credentials.
	ConnectionError
	// CreateConflict: the target table exists with columns that do not fit
	// the inferred definition, or could not be created.
	CreateConflict
	// InsertFailure: the store rejected the batch (type, width, constraint,
	// timeout). The transaction was rolled back.
	InsertFailure
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case InvalidDataset:
		return "invalid_dataset"
	case ConnectionError:
		return "connection_error"
	case CreateConflict:
		return "create_conflict"
	case InsertFailure:
		return "insert_failure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels for errors.Is against a load error.
var (
	ErrInvalidDataset = errors.New("invalid dataset")
	ErrConnection     = errors.New("connection error")
	ErrCreateConflict = errors.New("create conflict")
	ErrInsertFailure  = errors.New("insert failure")
)

func (k Kind) sentinel() error {
	switch k {
	case InvalidDataset:
		return ErrInvalidDataset
	case ConnectionError:
		return ErrConnection
	case CreateConflict:
		return ErrCreateConflict
	case InsertFailure:
		return ErrInsertFailure
	}
	return nil
}

// Error is the failure variant of a Result.
type Error struct {
	Kind  Kind
	Table string
	// Stage is where the load stopped: validate, acquire, create, bind,
	// begin, insert or commit.
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("load %s: %s at %s: %v", e.Table, e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the Kind sentinel, so errors.Is(err, ErrInsertFailure) works
// alongside errors.Is(err, context.DeadlineExceeded).
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}
