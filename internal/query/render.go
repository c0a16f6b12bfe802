package query

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"

	"spectralog/internal/timespec"
)

// Render writes a result set in the requested format. Timestamps render
// in loc; everything else renders as scanned.
func Render(w io.Writer, rs *ResultSet, format Format, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	switch format {
	case FormatTable:
		return renderTable(w, rs, loc)
	case FormatCSV:
		return renderCSV(w, rs, loc)
	case FormatJSON:
		return renderJSON(w, rs, loc, false)
	case FormatIndentedJSON:
		return renderJSON(w, rs, loc, true)
	}
	return usagef("unknown output format %q", format)
}

var tableCellSanitizer = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

func renderTable(w io.Writer, rs *ResultSet, loc *time.Location) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, strings.Join(rs.Columns, "\t")); err != nil {
		return err
	}
	for _, row := range rs.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = tableCellSanitizer.Replace(formatValue(v, loc))
		}
		if _, err := fmt.Fprintln(tw, strings.Join(cells, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func renderCSV(w io.Writer, rs *ResultSet, loc *time.Location) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(rs.Columns); err != nil {
		return err
	}
	for _, row := range rs.Rows {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = formatValue(v, loc)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// renderJSON emits one object per line, or, indented, a single pretty
// array of objects.
func renderJSON(w io.Writer, rs *ResultSet, loc *time.Location, indent bool) error {
	objs := make([]map[string]any, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		obj := make(map[string]any, len(rs.Columns))
		for i, col := range rs.Columns {
			obj[col] = jsonValue(row[i], loc)
		}
		objs = append(objs, obj)
	}

	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
		return enc.Encode(objs)
	}
	for _, obj := range objs {
		if err := enc.Encode(obj); err != nil {
			return err
		}
	}
	return nil
}

func formatValue(v any, loc *time.Location) string {
	switch v := v.(type) {
	case nil:
		return ""
	case time.Time:
		return timespec.Format(v, loc)
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// jsonValue keeps scalars as scalars; only times and raw bytes need a
// presentation form.
func jsonValue(v any, loc *time.Location) any {
	switch v := v.(type) {
	case time.Time:
		return timespec.Format(v, loc)
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return v
	}
}
