// Package export writes the monthly joined table as CSV or Parquet.
package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/parquet-go/parquet-go"

	"pm25-surveillance/internal/models"
)

// Format is an export file format
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// ParseFormat validates a format name; empty means CSV
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatParquet:
		return FormatParquet, nil
	}
	return "", &models.ValidationError{Field: "format", Value: s, Message: "format must be csv or parquet"}
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	if f == FormatParquet {
		return "application/vnd.apache.parquet"
	}
	return "text/csv; charset=utf-8"
}

// Columns is the header of the exported table
var Columns = []string{"month_key", "group", "visit_count", "pm25_value"}

// Write dispatches on format
func Write(w io.Writer, format Format, rows []models.MonthlyRow) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, rows)
	case FormatParquet:
		return WriteParquet(w, rows)
	}
	return fmt.Errorf("unsupported export format %q", format)
}

// Frame converts monthly rows into a string dataframe. Missing counts and
// PM2.5 values become empty cells.
func Frame(rows []models.MonthlyRow) dataframe.DataFrame {
	months := make([]string, len(rows))
	groups := make([]string, len(rows))
	counts := make([]string, len(rows))
	values := make([]string, len(rows))
	for i, r := range rows {
		months[i] = r.Month.String()
		groups[i] = r.Group
		if r.VisitCount != nil {
			counts[i] = strconv.Itoa(*r.VisitCount)
		}
		if r.PM25Value != nil {
			values[i] = strconv.FormatFloat(*r.PM25Value, 'f', -1, 64)
		}
	}
	return dataframe.New(
		series.New(months, series.String, Columns[0]),
		series.New(groups, series.String, Columns[1]),
		series.New(counts, series.String, Columns[2]),
		series.New(values, series.String, Columns[3]),
	)
}

// WriteCSV writes rows as CSV with a header line
func WriteCSV(w io.Writer, rows []models.MonthlyRow) error {
	if err := Frame(rows).WriteCSV(w); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}

// MonthlyParquetRow is the Parquet layout of a monthly row
type MonthlyParquetRow struct {
	MonthKey   string   `parquet:"month_key"`
	Group      string   `parquet:"group"`
	VisitCount *int64   `parquet:"visit_count,optional"`
	PM25Value  *float64 `parquet:"pm25_value,optional"`
}

// WriteParquet writes rows as a single Snappy-compressed Parquet file
func WriteParquet(w io.Writer, rows []models.MonthlyRow) error {
	records := make([]MonthlyParquetRow, len(rows))
	for i, r := range rows {
		records[i] = MonthlyParquetRow{MonthKey: r.Month.String(), Group: r.Group}
		if r.VisitCount != nil {
			n := int64(*r.VisitCount)
			records[i].VisitCount = &n
		}
		if r.PM25Value != nil {
			v := *r.PM25Value
			records[i].PM25Value = &v
		}
	}

	writer := parquet.NewGenericWriter[MonthlyParquetRow](w,
		parquet.Compression(&parquet.Snappy),
		parquet.CreatedBy("pm25-surveillance", "1.0.0", ""),
	)
	if _, err := writer.Write(records); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}
