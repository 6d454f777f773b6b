// Package ingest parses the pipeline's CSV, XLSX, and JSON inputs into typed rows.
//
// Readers fail fast on malformed headers so downstream stages never operate on
// partially mapped columns.
package ingest

import (
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVTable holds a fully read CSV file with a header-to-index mapping.
type CSVTable struct {
	Path   string
	Header []string
	Rows   [][]string

	index map[string]int
}

// ReadCSVTable reads path and verifies that every required column is present.
// Extra columns are kept; rows may be ragged (missing trailing cells read as "").
func ReadCSVTable(path string, required []string) (*CSVTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open csv")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.Errorf("ingest: %s: missing CSV header", path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: %s: read header", path)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		header[i] = name
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}

	var missing []string
	for _, col := range required {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, eris.Errorf("ingest: %s: missing required columns: %s", path, strings.Join(missing, ", "))
	}

	table := &CSVTable{Path: path, Header: header, index: index}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: %s: read row", path)
		}
		table.Rows = append(table.Rows, record)
	}
	return table, nil
}

// Cell returns the named column of row, or "" when the row is too short or
// the column does not exist.
func (t *CSVTable) Cell(row []string, column string) string {
	i, ok := t.index[column]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}
