package transaction

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// Table is a CSV table kept verbatim so that output can echo every input column.
type Table struct {
	Header []string
	Rows   [][]string
	index  map[string]int
}

// NewTable builds a table from a header and rows. Rows are not copied.
func NewTable(header []string, rows [][]string) *Table {
	t := &Table{Header: header, Rows: rows}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Header))
	for i, col := range t.Header {
		if _, dup := t.index[col]; !dup {
			t.index[col] = i
		}
	}
}

// Has reports whether the table carries the named column.
func (t *Table) Has(col string) bool {
	_, ok := t.index[col]
	return ok
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Column returns the values of one column, or nil when absent.
func (t *Table) Column(col string) []string {
	idx, ok := t.index[col]
	if !ok {
		return nil
	}
	values := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		if idx < len(row) {
			values[i] = row[idx]
		}
	}
	return values
}

// WithColumn returns a copy of the table with the column appended, or
// replaced if it already exists.
func (t *Table) WithColumn(name string, values []string) (*Table, error) {
	if len(values) != len(t.Rows) {
		return nil, fmt.Errorf("column %s has %d values for %d rows", name, len(values), len(t.Rows))
	}

	header := append([]string(nil), t.Header...)
	idx, exists := t.index[name]
	if !exists {
		idx = len(header)
		header = append(header, name)
	}

	rows := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		out := make([]string, len(header))
		copy(out, row)
		out[idx] = values[i]
		rows[i] = out
	}

	return NewTable(header, rows), nil
}

// Without returns a copy of the table with the named columns removed.
func (t *Table) Without(cols ...string) *Table {
	drop := make(map[int]bool, len(cols))
	for _, col := range cols {
		if idx, ok := t.index[col]; ok {
			drop[idx] = true
		}
	}
	if len(drop) == 0 {
		return t
	}

	keep := make([]int, 0, len(t.Header))
	header := make([]string, 0, len(t.Header))
	for i, col := range t.Header {
		if !drop[i] {
			keep = append(keep, i)
			header = append(header, col)
		}
	}

	rows := make([][]string, len(t.Rows))
	for r, row := range t.Rows {
		out := make([]string, len(keep))
		for j, idx := range keep {
			if idx < len(row) {
				out[j] = row[idx]
			}
		}
		rows[r] = out
	}

	return NewTable(header, rows)
}

// Head returns a table with at most n rows.
func (t *Table) Head(n int) *Table {
	if n >= len(t.Rows) {
		return t
	}
	return NewTable(t.Header, t.Rows[:n])
}

// ReadCSV parses a CSV stream whose first line is the header.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty CSV input")
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", len(rows)+1, err)
		}
		rows = append(rows, row)
	}

	return NewTable(header, rows), nil
}

// LoadCSV reads a CSV file from disk.
func LoadCSV(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	t, err := ReadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	log.Info().
		Str("file", path).
		Int("rows", t.Len()).
		Int("columns", len(t.Header)).
		Msg("CSV data loaded")

	return t, nil
}

// WriteCSV writes the header and rows.
func (t *Table) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("failed to write CSV rows: %w", err)
	}
	return nil
}

// SaveCSV writes the table to path, creating parent directories.
func (t *Table) SaveCSV(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	if err := t.WriteCSV(file); err != nil {
		return err
	}

	log.Info().Str("file", path).Int("rows", t.Len()).Msg("CSV data written")
	return nil
}
