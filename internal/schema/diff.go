package schema

import "strings"

// ChangeKind describes how a column differs between two definitions.
type ChangeKind string

const (
	ColumnAdded   ChangeKind = "added"
	ColumnRemoved ChangeKind = "removed"
	ColumnRetyped ChangeKind = "retyped"
	ColumnMoved   ChangeKind = "moved"
)

// Change is one column-level difference reported by Diff.
type Change struct {
	Kind    ChangeKind
	Column  string
	OldType string
	NewType string
}

// Diff lists the column differences going from d to next. Names are matched
// case-insensitively; an empty result means the two definitions are
// interchangeable for loading.
//
// Diff only reports. Deciding whether and how to migrate a table is left to
// the caller.
func (d TableDefinition) Diff(next TableDefinition) []Change {
	type pos struct {
		i   int
		col Column
	}
	old := make(map[string]pos, len(d.Columns))
	for i, c := range d.Columns {
		old[strings.ToLower(c.Name)] = pos{i, c}
	}

	var out []Change
	matched := make(map[string]bool, len(next.Columns))
	for i, c := range next.Columns {
		k := strings.ToLower(c.Name)
		p, ok := old[k]
		if !ok {
			out = append(out, Change{Kind: ColumnAdded, Column: c.Name, NewType: c.Type})
			continue
		}
		matched[k] = true
		if !strings.EqualFold(p.col.Type, c.Type) {
			out = append(out, Change{Kind: ColumnRetyped, Column: c.Name, OldType: p.col.Type, NewType: c.Type})
		}
		if p.i != i {
			out = append(out, Change{Kind: ColumnMoved, Column: c.Name, OldType: p.col.Type, NewType: c.Type})
		}
	}
	for _, c := range d.Columns {
		if !matched[strings.ToLower(c.Name)] {
			out = append(out, Change{Kind: ColumnRemoved, Column: c.Name, OldType: c.Type})
		}
	}
	return out
}
