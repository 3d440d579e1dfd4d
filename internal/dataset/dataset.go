// Package dataset defines the in-memory tabular shape handed to the load
// engine: ordered named columns plus positionally aligned rows.
//
// A Dataset is owned by whoever built it (a source package or a test). The
// schema and loader packages only read it.
package dataset

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is wrapped by every error returned from Validate.
var ErrInvalid = errors.New("invalid dataset")

// Dataset is an ordered list of column names and the rows that go with them.
//
// Invariants (checked by Validate, never enforced on construction):
//   - at least one column
//   - column names are non-empty and unique (case-insensitive, since most
//     SQL stores fold or compare identifiers that way)
//   - every row has exactly len(Columns) values
type Dataset struct {
	Columns []string
	Rows    [][]any
}

// New returns a Dataset over the given columns with no rows.
func New(columns ...string) *Dataset {
	return &Dataset{Columns: append([]string(nil), columns...)}
}

// Append adds one row. It does not check arity; Validate does.
func (d *Dataset) Append(values ...any) {
	d.Rows = append(d.Rows, values)
}

// Len returns the number of rows.
func (d Dataset) Len() int { return len(d.Rows) }

// Column returns the values of column i in row order.
func (d Dataset) Column(i int) []any {
	out := make([]any, 0, len(d.Rows))
	for _, r := range d.Rows {
		if i < len(r) {
			out = append(out, r[i])
		}
	}
	return out
}

// Validate reports whether d satisfies the Dataset invariants.
//
// Errors wrap ErrInvalid and name the first offending column or row (rows
// are reported 1-based to match how the sources count records).
func (d Dataset) Validate() error {
	if len(d.Columns) == 0 {
		return fmt.Errorf("%w: no columns", ErrInvalid)
	}

	seen := make(map[string]int, len(d.Columns))
	for i, c := range d.Columns {
		name := strings.TrimSpace(c)
		if name == "" {
			return fmt.Errorf("%w: column %d has an empty name", ErrInvalid, i)
		}
		k := strings.ToLower(name)
		if j, dup := seen[k]; dup {
			return fmt.Errorf("%w: column %q repeats column %d", ErrInvalid, c, j)
		}
		seen[k] = i
	}

	for i, r := range d.Rows {
		if len(r) != len(d.Columns) {
			return fmt.Errorf("%w: row %d has %d values, want %d", ErrInvalid, i+1, len(r), len(d.Columns))
		}
	}
	return nil
}
