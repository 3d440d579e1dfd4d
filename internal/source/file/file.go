// Package file reads a local tabular file (CSV, JSON or an HTML table) into a
// dataset.Dataset so it can go through the same load path as API data.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"statsync/internal/dataset"
	"statsync/internal/schema"
)

// Format names a supported input format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatHTML Format = "html"
)

// Options controls parsing. The zero value reads a comma-separated file with
// a header row and coerces numeric text.
type Options struct {
	// Format overrides detection from the file extension.
	Format Format

	// CSV
	Comma     rune // default ','
	NoHeader  bool // columns are named col_1..col_n
	LazyQuote bool

	// HeaderMap renames source headers (after trimming) to column names.
	HeaderMap map[string]string

	// NormalizeHeaders rewrites every column name that HeaderMap did not
	// set into a lowercase SQL-safe identifier ("FG%" -> "fg_pct").
	NormalizeHeaders bool

	// KeepText disables numeric coercion, so every non-empty cell stays a
	// string.
	KeepText bool

	// HTML: CSS selector for candidate tables and which match to read.
	TableSelector string // default "table"
	TableIndex    int

	// JSON: separator used to flatten arrays of strings.
	ArrayJoinSeparator string // default ","
}

// DetectFormat maps a file extension to a Format.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv", ".txt":
		return FormatCSV, nil
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON, nil
	case ".html", ".htm":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("file: cannot detect format of %q; pass a format explicitly", path)
}

// ReadFile opens path and parses it with opts.
func ReadFile(ctx context.Context, path string, opts Options) (dataset.Dataset, error) {
	if opts.Format == "" {
		f, err := DetectFormat(path)
		if err != nil {
			return dataset.Dataset{}, err
		}
		opts.Format = f
		if strings.EqualFold(filepath.Ext(path), ".tsv") && opts.Comma == 0 {
			opts.Comma = '\t'
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return dataset.Dataset{}, fmt.Errorf("file: %w", err)
	}
	defer f.Close()

	ds, err := Read(ctx, f, opts)
	if err != nil {
		return dataset.Dataset{}, fmt.Errorf("file %s: %w", filepath.Base(path), err)
	}
	return ds, nil
}

// Read parses r according to opts.Format.
func Read(ctx context.Context, r io.Reader, opts Options) (dataset.Dataset, error) {
	var (
		ds  dataset.Dataset
		err error
	)
	switch opts.Format {
	case FormatCSV:
		ds, err = readCSV(ctx, r, opts)
	case FormatJSON:
		ds, err = readJSON(ctx, r, opts)
	case FormatHTML:
		ds, err = readHTML(r, opts)
	default:
		return dataset.Dataset{}, fmt.Errorf("unsupported format %q", opts.Format)
	}
	if err != nil {
		return dataset.Dataset{}, err
	}
	if opts.NormalizeHeaders {
		normalizeColumns(&ds, opts.HeaderMap)
	}
	if err := ds.Validate(); err != nil {
		return dataset.Dataset{}, err
	}
	return ds, nil
}

// columnName applies the header map, strips a UTF-8 BOM and trims.
func columnName(raw string, i int, hm map[string]string) string {
	h := raw
	if i == 0 {
		h = strings.TrimPrefix(h, "\uFEFF")
	}
	h = strings.TrimSpace(h)
	if mapped, ok := hm[h]; ok {
		return mapped
	}
	if h == "" {
		return fmt.Sprintf("col_%d", i+1)
	}
	return h
}

// normalizeColumns rewrites column names in place. Names produced by the
// header map are kept; names with nothing usable fall back to col_N.
func normalizeColumns(ds *dataset.Dataset, hm map[string]string) {
	mapped := make(map[string]bool, len(hm))
	for _, v := range hm {
		mapped[v] = true
	}
	for i, c := range ds.Columns {
		if mapped[c] {
			continue
		}
		n := schema.NormalizeIdentifier(c)
		if n == "" {
			n = fmt.Sprintf("col_%d", i+1)
		}
		ds.Columns[i] = n
	}
}
