package source

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Table is a CSV sheet held as a string-typed dataframe with trimmed headers
type Table struct {
	df dataframe.DataFrame
}

// EmptyTable returns a table with no columns and no rows
func EmptyTable() *Table {
	return &Table{}
}

// ReadTable parses a CSV export. Every column is read as text; cleaning
// and type coercion happen in the pipeline.
func ReadTable(r io.Reader) (*Table, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.LazyQuotes = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(records) == 0 {
		return EmptyTable(), nil
	}
	records[0] = uniqueHeaders(records[0])

	df := dataframe.LoadRecords(records,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", df.Err)
	}
	return &Table{df: df}, nil
}

// uniqueHeaders trims header cells and renames repeats. The first
// occurrence keeps its name so lookups resolve to the leftmost column;
// later ones get a numeric suffix starting at _2.
func uniqueHeaders(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		out[i] = strings.TrimSpace(h)
		if out[i] != "" {
			seen[out[i]] = true
		}
	}
	first := make(map[string]bool, len(header))
	for i, name := range out {
		if name == "" {
			continue
		}
		if !first[name] {
			first[name] = true
			continue
		}
		for n := 2; ; n++ {
			candidate := fmt.Sprintf("%s_%d", name, n)
			if !seen[candidate] {
				out[i] = candidate
				seen[candidate] = true
				break
			}
		}
	}
	return out
}

// NewTable builds a table from a header row and records
func NewTable(header []string, rows [][]string) *Table {
	records := make([][]string, 0, len(rows)+1)
	records = append(records, uniqueHeaders(header))
	records = append(records, rows...)
	df := dataframe.LoadRecords(records,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	return &Table{df: df}
}

// Columns returns the header names
func (t *Table) Columns() []string {
	if t == nil || t.df.Ncol() == 0 {
		return nil
	}
	return t.df.Names()
}

// Len returns the number of data rows
func (t *Table) Len() int {
	if t == nil || t.df.Ncol() == 0 {
		return 0
	}
	return t.df.Nrow()
}

// Column returns the cells of a column, with missing values as ""
func (t *Table) Column(name string) []string {
	if t == nil || t.df.Ncol() == 0 {
		return nil
	}
	col := t.df.Col(name)
	if col.Err != nil {
		return nil
	}
	records := col.Records()
	for i, v := range records {
		if v == "NaN" {
			records[i] = ""
		} else {
			records[i] = strings.TrimSpace(v)
		}
	}
	return records
}
