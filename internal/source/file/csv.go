package file

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"statsync/internal/dataset"
)

// readCSV reads every record into one Dataset. Short records are padded
// with NULL; records longer than the header are an error, since the extra
// values have no column to land in.
func readCSV(ctx context.Context, r io.Reader, opts Options) (dataset.Dataset, error) {
	cr := csv.NewReader(r)
	cr.Comma = ','
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	cr.LazyQuotes = opts.LazyQuote
	cr.FieldsPerRecord = -1

	line := 0
	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	var (
		ds    *dataset.Dataset
		first []string
	)
	if !opts.NoHeader {
		hdr, err := readRec()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return dataset.Dataset{}, errors.New("csv: empty input")
			}
			return dataset.Dataset{}, fmt.Errorf("csv: read header: %w", err)
		}
		cols := make([]string, len(hdr))
		for i, h := range hdr {
			cols[i] = columnName(h, i, opts.HeaderMap)
		}
		ds = dataset.New(cols...)
	} else {
		rec, err := readRec()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return dataset.Dataset{}, errors.New("csv: empty input")
			}
			return dataset.Dataset{}, fmt.Errorf("csv: line %d: %w", line, err)
		}
		first = append([]string(nil), rec...)
		cols := make([]string, len(rec))
		for i := range rec {
			cols[i] = fmt.Sprintf("col_%d", i+1)
		}
		ds = dataset.New(cols...)
	}

	appendRec := func(rec []string) error {
		if len(rec) > len(ds.Columns) {
			return fmt.Errorf("csv: line %d has %d fields, header has %d", line, len(rec), len(ds.Columns))
		}
		row := make([]any, len(ds.Columns))
		for i, v := range rec {
			row[i] = coerceCell(strings.TrimSpace(v), opts.KeepText)
		}
		ds.Append(row...)
		return nil
	}

	if first != nil {
		if err := appendRec(first); err != nil {
			return dataset.Dataset{}, err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return dataset.Dataset{}, err
		}
		rec, err := readRec()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return dataset.Dataset{}, fmt.Errorf("csv: line %d: %w", line, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if err := appendRec(rec); err != nil {
			return dataset.Dataset{}, err
		}
	}
	return *ds, nil
}
