package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"statsync/internal/dataset"
	"statsync/internal/source/statsapi"
)

// readJSON accepts:
//   - a saved stats API response (first resultSet is used)
//   - a root array of objects
//   - a root object whose first array field holds the records (envelope)
//   - a single object, optionally followed by more objects (JSON lines)
//
// Columns are the union of object keys in first-seen order; a record that
// lacks a key gets NULL there.
func readJSON(ctx context.Context, r io.Reader, opts Options) (dataset.Dataset, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return dataset.Dataset{}, fmt.Errorf("json: read: %w", err)
	}
	if isResultSetResponse(body) {
		return statsapi.DecodeFirst(body)
	}

	sep := opts.ArrayJoinSeparator
	if sep == "" {
		sep = ","
	}
	c := &collector{index: map[string]int{}, sep: sep, headerMap: opts.HeaderMap}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return dataset.Dataset{}, errors.New("json: empty input")
		}
		return dataset.Dataset{}, fmt.Errorf("json: read first token: %w", err)
	}

	switch tok {
	case json.Delim('['):
		if err := streamArray(ctx, dec, c); err != nil {
			return dataset.Dataset{}, err
		}
		if err := expectDelim(dec, ']'); err != nil {
			return dataset.Dataset{}, err
		}
	case json.Delim('{'):
		if err := envelopeOrSingle(ctx, body, dec, c); err != nil {
			return dataset.Dataset{}, err
		}
	default:
		return dataset.Dataset{}, fmt.Errorf("json: unsupported root token %v (want object or array)", tok)
	}

	// Trailing objects (JSON lines).
	for dec.More() {
		if err := expectDelim(dec, '{'); err != nil {
			return dataset.Dataset{}, err
		}
		if err := c.object(dec); err != nil {
			return dataset.Dataset{}, err
		}
	}
	return c.dataset(), nil
}

func isResultSetResponse(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var probe struct {
		ResultSets json.RawMessage `json:"resultSets"`
		ResultSet  json.RawMessage `json:"resultSet"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return false
	}
	return len(probe.ResultSets) > 0 || len(probe.ResultSet) > 0
}

// streamArray consumes array elements after '['. null elements are skipped.
func streamArray(ctx context.Context, dec *json.Decoder, c *collector) error {
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return err
		}
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: record %d: %w", c.n+1, err)
		}
		if tok == nil {
			continue
		}
		if tok != json.Delim('{') {
			return fmt.Errorf("json: record %d is not an object (got %v)", c.n+1, tok)
		}
		if err := c.object(dec); err != nil {
			return err
		}
	}
	return nil
}

// envelopeOrSingle walks a root object after '{'. The first array field is
// streamed as the record list and the rest of the object is skipped;
// without one, the object itself is the single record.
func envelopeOrSingle(ctx context.Context, body []byte, dec *json.Decoder, c *collector) error {
	var (
		keys      []string
		vals      []any
		nestedErr error
	)
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: read key: %w", err)
		}
		key, _ := kt.(string)

		vt, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: read value of %q: %w", key, err)
		}
		if vt == json.Delim('[') && opensObject(body, dec.InputOffset()) {
			if err := streamArray(ctx, dec, c); err != nil {
				return err
			}
			if err := expectDelim(dec, ']'); err != nil {
				return err
			}
			for dec.More() {
				if _, err := dec.Token(); err != nil {
					return fmt.Errorf("json: skip key: %w", err)
				}
				if err := skipValue(dec); err != nil {
					return err
				}
			}
			return expectDelim(dec, '}')
		}

		// Envelope metadata may be nested; it only matters if this object
		// turns out to be the record itself.
		if vt == json.Delim('{') {
			if err := skipFrom(dec, vt); err != nil {
				return err
			}
			if nestedErr == nil {
				nestedErr = fmt.Errorf("json: record 1 field %q: nested objects are not supported", key)
			}
			continue
		}
		v, err := c.value(dec, key, vt)
		if err != nil {
			return err
		}
		keys = append(keys, key)
		vals = append(vals, v)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return err
	}
	if nestedErr != nil {
		return nestedErr
	}
	c.add(keys, vals)
	return nil
}

// opensObject reports whether the first element of the array starting at
// off is an object.
func opensObject(body []byte, off int64) bool {
	if off < 0 || off >= int64(len(body)) {
		return false
	}
	rest := bytes.TrimLeft(body[off:], " \t\r\n")
	return len(rest) > 0 && rest[0] == '{'
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: want %q: %w", want, err)
	}
	if tok != want {
		return fmt.Errorf("json: want %q, got %v", want, tok)
	}
	return nil
}

func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: skip value: %w", err)
	}
	return skipFrom(dec, tok)
}

func skipFrom(dec *json.Decoder, tok json.Token) error {
	d, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	closing := json.Delim('}')
	if d == '[' {
		closing = ']'
	}
	for dec.More() {
		if d == '{' {
			if _, err := dec.Token(); err != nil {
				return fmt.Errorf("json: skip key: %w", err)
			}
		}
		if err := skipValue(dec); err != nil {
			return err
		}
	}
	return expectDelim(dec, closing)
}

// collector accumulates records into columns.
type collector struct {
	cols      []string
	index     map[string]int
	rows      [][]any
	n         int
	sep       string
	headerMap map[string]string
}

// object reads the members of an object whose '{' has been consumed and
// adds it as one record.
func (c *collector) object(dec *json.Decoder) error {
	var (
		keys []string
		vals []any
	)
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: record %d: %w", c.n+1, err)
		}
		key, _ := kt.(string)
		vt, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: record %d field %q: %w", c.n+1, key, err)
		}
		v, err := c.value(dec, key, vt)
		if err != nil {
			return err
		}
		keys = append(keys, key)
		vals = append(vals, v)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return err
	}
	c.add(keys, vals)
	return nil
}

// value turns the token(s) of one field into a scalar. Arrays of strings
// are joined; nested objects and other arrays are rejected.
func (c *collector) value(dec *json.Decoder, key string, tok json.Token) (any, error) {
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	if d == '{' {
		return nil, fmt.Errorf("json: record %d field %q: nested objects are not supported", c.n+1, key)
	}

	var parts []string
	for dec.More() {
		et, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("json: record %d field %q: %w", c.n+1, key, err)
		}
		switch e := et.(type) {
		case nil:
		case string:
			parts = append(parts, e)
		default:
			return nil, fmt.Errorf("json: record %d field %q: only arrays of strings are supported", c.n+1, key)
		}
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	return strings.Join(parts, c.sep), nil
}

func (c *collector) add(keys []string, vals []any) {
	row := make([]any, len(c.cols), len(c.cols)+len(keys))
	for i, k := range keys {
		name := columnName(k, len(c.cols)+1, c.headerMap)
		ix, ok := c.index[name]
		if !ok {
			ix = len(c.cols)
			c.index[name] = ix
			c.cols = append(c.cols, name)
			row = append(row, nil)
		}
		row[ix] = vals[i]
	}
	c.rows = append(c.rows, row)
	c.n++
}

func (c *collector) dataset() dataset.Dataset {
	ds := dataset.New(c.cols...)
	for _, r := range c.rows {
		if len(r) < len(c.cols) {
			r = append(r, make([]any, len(c.cols)-len(r))...)
		}
		ds.Append(r...)
	}
	return *ds
}
