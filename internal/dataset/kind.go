package dataset

import (
	"encoding/json"
	"strconv"
)

// ColumnKind is the primitive category inferred for a column.
type ColumnKind int

const (
	// Unknown covers empty, all-NULL, mixed and unrecognized columns.
	Unknown ColumnKind = iota
	Integer
	Real
	Text
)

func (k ColumnKind) String() string {
	switch k {
	case Integer:
		return "integer"
	case Real:
		return "real"
	case Text:
		return "text"
	default:
		return "unknown"
	}
}

// valueKind classifies a single non-nil value.
func valueKind(v any) ColumnKind {
	switch t := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return Integer
	case float32, float64:
		return Real
	case json.Number:
		if _, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return Integer
		}
		if _, err := strconv.ParseFloat(t.String(), 64); err == nil {
			return Real
		}
		return Unknown
	case string:
		return Text
	default:
		return Unknown
	}
}

// ClassifyValues returns the kind shared by all non-nil values.
//
// Rules, in order:
//   - no non-nil values             -> Unknown
//   - every value is whole          -> Integer
//   - every value is whole or float -> Real
//   - every value is a string       -> Text
//   - anything else                 -> Unknown
//
// Strings are never parsed: "12" is Text. Sources that read untyped text
// (CSV, HTML) coerce numbers before building the Dataset.
func ClassifyValues(values []any) ColumnKind {
	var seen, allInt, allNum, allText = false, true, true, true

	for _, v := range values {
		if v == nil {
			continue
		}
		seen = true

		switch valueKind(v) {
		case Integer:
			allText = false
		case Real:
			allInt = false
			allText = false
		case Text:
			allInt = false
			allNum = false
		default:
			return Unknown
		}
	}

	switch {
	case !seen:
		return Unknown
	case allInt:
		return Integer
	case allNum:
		return Real
	case allText:
		return Text
	default:
		return Unknown
	}
}

// Kinds classifies every column of d, in column order.
func (d Dataset) Kinds() []ColumnKind {
	out := make([]ColumnKind, len(d.Columns))
	for i := range d.Columns {
		out[i] = ClassifyValues(d.Column(i))
	}
	return out
}
