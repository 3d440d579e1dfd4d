package file

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"statsync/internal/dataset"
)

// readHTML reads one <table>. Header cells come from the first row that
// holds <th> cells (thead or not); without one, columns are col_1..col_n.
// Every later row with <td> cells is a record. colspan is not expanded.
func readHTML(r io.Reader, opts Options) (dataset.Dataset, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return dataset.Dataset{}, fmt.Errorf("html: parse: %w", err)
	}

	sel := opts.TableSelector
	if strings.TrimSpace(sel) == "" {
		sel = "table"
	}
	tables := doc.Find(sel)
	if tables.Length() == 0 {
		return dataset.Dataset{}, fmt.Errorf("html: no element matches %q", sel)
	}
	if opts.TableIndex < 0 || opts.TableIndex >= tables.Length() {
		return dataset.Dataset{}, fmt.Errorf("html: table index %d out of range (%d matches)", opts.TableIndex, tables.Length())
	}
	table := tables.Eq(opts.TableIndex)

	var (
		header []string
		rows   [][]string
	)
	// Rows of nested tables belong to those tables.
	table.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.Closest("table").IsSelection(table)
	}).Each(func(_ int, tr *goquery.Selection) {
		tds := tr.ChildrenFiltered("td")
		if tds.Length() == 0 {
			if ths := tr.ChildrenFiltered("th"); header == nil && !opts.NoHeader && ths.Length() > 0 {
				header = cellTexts(ths)
			}
			return
		}
		// Row headers (<th scope="row">) stay in place as ordinary cells.
		rows = append(rows, cellTexts(tr.ChildrenFiltered("td, th")))
	})

	width := len(header)
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	if width == 0 {
		return dataset.Dataset{}, fmt.Errorf("html: table %d has no cells", opts.TableIndex)
	}

	cols := make([]string, width)
	for i := range cols {
		raw := ""
		if i < len(header) {
			raw = header[i]
		}
		cols[i] = columnName(raw, i, opts.HeaderMap)
	}

	ds := dataset.New(cols...)
	for _, r := range rows {
		row := make([]any, width)
		for i, v := range r {
			row[i] = coerceCell(v, opts.KeepText)
		}
		ds.Append(row...)
	}
	return *ds, nil
}

func cellTexts(s *goquery.Selection) []string {
	out := make([]string, 0, s.Length())
	s.Each(func(_ int, c *goquery.Selection) {
		out = append(out, strings.Join(strings.Fields(c.Text()), " "))
	})
	return out
}
