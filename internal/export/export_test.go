package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/odyssey-erp/stockroom/internal/catalog"
	"github.com/odyssey-erp/stockroom/internal/csvimport"
)

func intPtr(v int) *int { return &v }

func sampleProducts() []catalog.Product {
	return []catalog.Product{
		{Name: "Widget, large", PartNo: "123456789012345", CostPrice: 10.5, SalePrice: 12.6, Quantity: intPtr(4)},
		{Name: "Gizmo", PartNo: "G-1", CostPrice: 3, SalePrice: 3.6},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" XLSX ")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = ParseFormat("pdf")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestWriteCSVReimports(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleProducts(), FormatCSV))

	table, err := csvimport.Parse(&buf)
	require.NoError(t, err)
	assert.Equal(t, Header, table.Header)

	candidates, rejections, err := csvimport.Normalize(table.Rows)
	require.NoError(t, err)
	assert.Empty(t, rejections)
	require.Len(t, candidates, 2)

	assert.Equal(t, "Widget, large", candidates[0].Name)
	assert.Equal(t, "123456789012345", candidates[0].PartNo)
	assert.Equal(t, 10.5, candidates[0].CostPrice)
	require.NotNil(t, candidates[0].Quantity)
	assert.Equal(t, 4, *candidates[0].Quantity)
	assert.Nil(t, candidates[1].Quantity)
}

func TestWriteXLSXKeepsPartNumbersAsText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleProducts(), FormatXLSX))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, "123456789012345", rows[1][1])
	assert.Equal(t, "4", rows[1][4])

	cellType, err := f.GetCellType(sheetName, "B2")
	require.NoError(t, err)
	assert.NotEqual(t, excelize.CellTypeNumber, cellType)
}

func TestWriteRejectsUnknownFormat(t *testing.T) {
	err := Write(&bytes.Buffer{}, nil, Format("pdf"))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
