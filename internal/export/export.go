// Package export writes metrics tables as CSV, JSON, or Apache Arrow IPC
// streams, and reads Arrow streams back into tables.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nvandessel/meccsim/internal/metrics"
)

// Format names an output encoding.
type Format string

// Supported formats.
const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatArrow Format = "arrow"
)

// ColFinal marks the row recorded by Finish.
const ColFinal = "Final"

// Formats lists the supported formats.
func Formats() []Format { return []Format{FormatCSV, FormatJSON, FormatArrow} }

// ParseFormat validates a format name (case-insensitive).
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FormatCSV, FormatJSON, FormatArrow:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q (valid: csv, json, arrow)", s)
}

// FormatFromPath picks a format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".arrow", ".arrows", ".ipc":
		return FormatArrow, nil
	}
	return "", fmt.Errorf("cannot infer export format from %q", path)
}

// Write encodes t to w in the given format.
func Write(w io.Writer, format Format, t *metrics.Table) error {
	if t == nil {
		return fmt.Errorf("table is required")
	}
	switch format {
	case FormatCSV:
		return WriteCSV(w, t)
	case FormatJSON:
		return WriteJSON(w, t)
	case FormatArrow:
		return WriteArrow(w, t)
	}
	return fmt.Errorf("unknown export format %q", format)
}

// WriteFile encodes t into path, creating parent directories.
func WriteFile(path string, format Format, t *metrics.Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := Write(f, format, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteCSV writes one header line of column names followed by one line per row.
func WriteCSV(w io.Writer, t *metrics.Table) error {
	cols := t.Columns()
	cw := csv.NewWriter(w)

	header := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		header = append(header, c.Name)
	}
	header = append(header, ColFinal)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	record := make([]string, len(header))
	for _, r := range t.Rows {
		for i, c := range cols {
			v := c.Value(r)
			if c.Integer {
				record[i] = strconv.FormatInt(int64(v), 10)
			} else {
				record[i] = strconv.FormatFloat(v, 'f', -1, 64)
			}
		}
		record[len(cols)] = strconv.FormatBool(r.Final)
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv row %d: %w", r.Step, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the table as indented JSON.
func WriteJSON(w io.Writer, t *metrics.Table) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t); err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}
	return nil
}
