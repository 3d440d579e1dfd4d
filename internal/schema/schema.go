// Package schema derives a destination table definition from the shape of a
// dataset.
//
// Inference is pure: it never looks at an existing table. Column kinds come
// from dataset.ClassifyValues; the mapping from kind to a store-specific type
// name lives in TypeMap so that the same classification can feed every
// backend.
package schema

import (
	"fmt"
	"strings"

	"statsync/internal/dataset"
)

// TextCap is the fixed width used for Text and Unknown columns. It is a
// policy constant, not derived from the data; longer values are rejected by
// the store at load time.
const TextCap = 255

// TypeMap names the destination column type for each kind.
type TypeMap struct {
	Integer string
	Real    string
	Text    string // also used for Unknown
}

// Generic is the store-neutral mapping used by Infer.
var Generic = TypeMap{
	Integer: "INTEGER",
	Real:    "DOUBLE PRECISION",
	Text:    fmt.Sprintf("VARCHAR(%d)", TextCap),
}

// For returns the type name for k. Unknown falls back to the text type.
func (m TypeMap) For(k dataset.ColumnKind) string {
	switch k {
	case dataset.Integer:
		return m.Integer
	case dataset.Real:
		return m.Real
	default:
		return m.Text
	}
}

// Column is one destination column.
type Column struct {
	Name string
	Kind dataset.ColumnKind
	Type string
}

// TableDefinition is the destination table derived for one load call.
// Column order matches the dataset's column order exactly.
type TableDefinition struct {
	Name    string
	Columns []Column
}

// ColumnNames returns the column names in definition order.
func (d TableDefinition) ColumnNames() []string {
	out := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		out[i] = c.Name
	}
	return out
}

// Kinds returns the column kinds in definition order.
func (d TableDefinition) Kinds() []dataset.ColumnKind {
	out := make([]dataset.ColumnKind, len(d.Columns))
	for i, c := range d.Columns {
		out[i] = c.Kind
	}
	return out
}

// Infer derives a TableDefinition using the Generic type map.
func Infer(ds dataset.Dataset, table string) (TableDefinition, error) {
	return InferWith(ds, table, Generic)
}

// InferWith derives a TableDefinition for ds named table, mapping kinds
// through types.
//
// Errors:
//   - table is empty
//   - ds fails dataset.Validate (no columns, blank or duplicate names, row
//     arity mismatch)
//
// Identifier safety of table is not checked here; see ValidateTableName.
func InferWith(ds dataset.Dataset, table string, types TypeMap) (TableDefinition, error) {
	if strings.TrimSpace(table) == "" {
		return TableDefinition{}, fmt.Errorf("schema: table name is empty")
	}
	if err := ds.Validate(); err != nil {
		return TableDefinition{}, fmt.Errorf("schema: %w", err)
	}

	kinds := ds.Kinds()
	def := TableDefinition{
		Name:    table,
		Columns: make([]Column, len(ds.Columns)),
	}
	for i, name := range ds.Columns {
		def.Columns[i] = Column{
			Name: name,
			Kind: kinds[i],
			Type: types.For(kinds[i]),
		}
	}
	return def, nil
}
