package statsapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"statsync/internal/dataset"
)

// ErrNoResultSet is returned when a response carries no tables.
var ErrNoResultSet = errors.New("response has no resultSet")

type resultSet struct {
	Name    string            `json:"name"`
	Headers []string          `json:"headers"`
	RowSet  []json.RawMessage `json:"rowSet"`
}

// envelope covers both shapes the API uses: a "resultSets" array on most
// endpoints and a single "resultSet" object on a few.
type envelope struct {
	ResultSets []resultSet `json:"resultSets"`
	ResultSet  *resultSet  `json:"resultSet"`
}

// DecodeFirst parses a stats API response and returns its first resultSet.
// Numbers stay json.Number so integer columns are not widened to float.
func DecodeFirst(body []byte) (dataset.Dataset, error) {
	sets, err := decodeEnvelope(body)
	if err != nil {
		return dataset.Dataset{}, err
	}
	return sets[0].dataset()
}

// DecodeNamed returns the resultSet called name.
func DecodeNamed(body []byte, name string) (dataset.Dataset, error) {
	sets, err := decodeEnvelope(body)
	if err != nil {
		return dataset.Dataset{}, err
	}
	for _, s := range sets {
		if s.Name == name {
			return s.dataset()
		}
	}
	return dataset.Dataset{}, fmt.Errorf("resultSet %q not found", name)
}

func decodeEnvelope(body []byte) ([]resultSet, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	sets := env.ResultSets
	if len(sets) == 0 && env.ResultSet != nil {
		sets = []resultSet{*env.ResultSet}
	}
	if len(sets) == 0 {
		return nil, ErrNoResultSet
	}
	return sets, nil
}

func (s resultSet) dataset() (dataset.Dataset, error) {
	ds := dataset.New(s.Headers...)
	for i, raw := range s.RowSet {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var row []any
		if err := dec.Decode(&row); err != nil {
			return dataset.Dataset{}, fmt.Errorf("resultSet %q row %d: %w", s.Name, i+1, err)
		}
		ds.Append(row...)
	}
	if err := ds.Validate(); err != nil {
		return dataset.Dataset{}, fmt.Errorf("resultSet %q: %w", s.Name, err)
	}
	return *ds, nil
}
