// Package csvimport turns a spreadsheet export into a catalog import batch.
//
// The flow follows the operator wizard: ingestion and repair, row
// normalization, category resolution, inventory reconciliation, markup and
// finally submission. Wizard holds the state machine; Importer performs the
// backend calls around it.
package csvimport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Table is a parsed CSV file with string-only values.
type Table struct {
	Header []string
	Rows   []Row
}

// Row is one data record keyed by trimmed header name.
type Row struct {
	Line   int
	Fields map[string]string
}

// Value returns the raw value stored under header.
func (r Row) Value(header string) (string, bool) {
	v, ok := r.Fields[header]
	return v, ok
}

// Parse reads, repairs and parses a CSV export.
//
// Input without a byte order mark is passed through unchanged; UTF-8 and
// UTF-16 marks select the matching decoder.
func Parse(r io.Reader) (*Table, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(transform.Nop))
	raw, err := io.ReadAll(decoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseCSV, err)
	}

	reader := csv.NewReader(strings.NewReader(RepairNumericFields(string(raw))))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyCSV
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseCSV, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	table := &Table{Header: header}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParseCSV, err)
		}
		if blankRecord(record) {
			continue
		}
		line, _ := reader.FieldPos(0)
		fields := make(map[string]string, len(header))
		for i, name := range header {
			if i >= len(record) || name == "" {
				continue
			}
			fields[name] = record[i]
		}
		table.Rows = append(table.Rows, Row{Line: line, Fields: fields})
	}
	if len(table.Rows) == 0 {
		return nil, ErrEmptyCSV
	}
	return table, nil
}

func blankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
