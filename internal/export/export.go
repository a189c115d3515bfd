// Package export writes the catalog back out in a shape the importer accepts.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/odyssey-erp/stockroom/internal/catalog"
)

// Format selects the output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

const sheetName = "Products"

// ErrUnknownFormat is returned for formats other than csv and xlsx.
var ErrUnknownFormat = errors.New("export: unknown format")

// Header is the column layout of every export.
var Header = []string{"Product Name", "Part Number", "Cost Price", "Sale Price", "Quantity"}

// ParseFormat accepts "csv" or "xlsx", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Write encodes products to w.
func Write(w io.Writer, products []catalog.Product, format Format) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, products)
	case FormatXLSX:
		return writeXLSX(w, products)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func record(p catalog.Product) []string {
	qty := ""
	if p.Quantity != nil {
		qty = strconv.Itoa(*p.Quantity)
	}
	return []string{
		p.Name,
		p.PartNo,
		strconv.FormatFloat(p.CostPrice, 'f', -1, 64),
		strconv.FormatFloat(p.SalePrice, 'f', -1, 64),
		qty,
	}
}

func writeCSV(w io.Writer, products []catalog.Product) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	for _, p := range products {
		if err := cw.Write(record(p)); err != nil {
			return fmt.Errorf("export: write %s: %w", p.PartNo, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: flush: %w", err)
	}
	return nil
}

func writeXLSX(w io.Writer, products []catalog.Product) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return fmt.Errorf("export: rename sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true},
		Border: []excelize.Border{{Type: "bottom", Color: "000000", Style: 1}},
	})
	if err != nil {
		return fmt.Errorf("export: header style: %w", err)
	}
	for i, h := range Header {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return fmt.Errorf("export: write header: %w", err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("export: write header: %w", err)
		}
	}
	_ = f.SetColWidth(sheetName, "A", "A", 32)
	_ = f.SetColWidth(sheetName, "B", "B", 20)

	for i, p := range products {
		row := i + 2
		cells := []struct {
			col   string
			value any
		}{
			{"A", p.Name},
			{"C", p.CostPrice},
			{"D", p.SalePrice},
		}
		for _, c := range cells {
			if err := f.SetCellValue(sheetName, fmt.Sprintf("%s%d", c.col, row), c.value); err != nil {
				return fmt.Errorf("export: write %s: %w", p.PartNo, err)
			}
		}
		// Long part numbers would otherwise be shown in scientific notation.
		if err := f.SetCellStr(sheetName, fmt.Sprintf("B%d", row), p.PartNo); err != nil {
			return fmt.Errorf("export: write %s: %w", p.PartNo, err)
		}
		if p.Quantity != nil {
			if err := f.SetCellInt(sheetName, fmt.Sprintf("E%d", row), *p.Quantity); err != nil {
				return fmt.Errorf("export: write %s: %w", p.PartNo, err)
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("export: write workbook: %w", err)
	}
	return nil
}
