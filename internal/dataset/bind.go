package dataset

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Bind converts v to the Go type a driver should receive for a column of
// kind k. nil stays nil (SQL NULL).
//
//   - Integer -> int64
//   - Real    -> float64
//   - Text and Unknown -> string
//
// Text rendering is deterministic so that the same Dataset always produces
// the same stored text.
func Bind(k ColumnKind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch k {
	case Integer:
		return bindInt(v)
	case Real:
		return bindFloat(v)
	default:
		return bindText(v), nil
	}
}

// BindRow binds every value of row against kinds. It allocates a new slice
// and leaves row untouched.
func BindRow(kinds []ColumnKind, row []any) ([]any, error) {
	if len(row) != len(kinds) {
		return nil, fmt.Errorf("%w: row has %d values, want %d", ErrInvalid, len(row), len(kinds))
	}
	out := make([]any, len(row))
	for i, v := range row {
		b, err := Bind(kinds[i], v)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

func bindInt(v any) (any, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint:
		return uintToInt64(uint64(t))
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		return uintToInt64(t)
	case json.Number:
		return t.Int64()
	default:
		return nil, fmt.Errorf("cannot bind %T as integer", v)
	}
}

func uintToInt64(u uint64) (any, error) {
	if u > math.MaxInt64 {
		return nil, fmt.Errorf("integer %d overflows int64", u)
	}
	return int64(u), nil
}

func bindFloat(v any) (any, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	default:
		i, err := bindInt(v)
		if err != nil {
			return nil, fmt.Errorf("cannot bind %T as real", v)
		}
		return float64(i.(int64)), nil
	}
}

func bindText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
