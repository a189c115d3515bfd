package invoicing

import (
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockroom/internal/catalog"
	"github.com/odyssey-erp/stockroom/internal/csvimport"
	"github.com/odyssey-erp/stockroom/internal/scanner"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func testProducts() csvimport.Inventory {
	return csvimport.NewInventory([]catalog.Product{
		{PartNo: "12345678901", Name: "Widget", SalePrice: 12},
		{PartNo: "G-1", Name: "Gizmo", SalePrice: 5.5},
	})
}

func TestLineAmounts(t *testing.T) {
	line := Line{Quantity: 2, UnitPrice: dec("10")}
	discount, tax, total := line.Amounts(dec("10"), dec("11"))
	assertDecimal(t, "2", discount)
	assertDecimal(t, "1.98", tax)
	assertDecimal(t, "19.98", total)
}

func TestDraftMergesAndTotals(t *testing.T) {
	d := NewDraft(10, 11)
	d.Add(Line{PartNo: "A", Name: "Alpha", Quantity: 2, UnitPrice: dec("10")})
	d.Add(Line{PartNo: "B", Name: "Beta", Quantity: 1, UnitPrice: dec("5.50")})
	d.Add(Line{PartNo: "A", Quantity: 1, UnitPrice: dec("99")})
	d.Add(Line{PartNo: "C", Quantity: 0, UnitPrice: dec("1")})

	lines := d.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, 3, lines[0].Quantity)
	assertDecimal(t, "10", lines[0].UnitPrice)

	totals := d.Totals()
	assertDecimal(t, "35.5", totals.Subtotal)
	assertDecimal(t, "3.55", totals.Discount)
	assertDecimal(t, "3.5145", totals.Tax)
	assertDecimal(t, "35.4645", totals.Total)
}

func TestItemsFromCSV(t *testing.T) {
	raw := "Product Name,UPC,Sold Price,Quantity\n" +
		"Widget,12345678901,,3\n" +
		",G-1,6.25,\n" +
		"Nope,X-9,1,1\n" +
		"Widget,12345678901,1,zero\n" +
		"Widget,12345678901,1,-1\n" +
		"Gizmo,G-1,abc,1\n" +
		"Blank,,1,1\n"
	table, err := csvimport.Parse(strings.NewReader(raw))
	require.NoError(t, err)

	lines, rejections := ItemsFromCSV(table, testProducts())
	require.Len(t, lines, 2)
	assert.Equal(t, Line{PartNo: "12345678901", Name: "Widget", Quantity: 3, UnitPrice: decimal.NewFromFloat(12)}, lines[0])
	assert.Equal(t, "Gizmo", lines[1].Name)
	assert.Equal(t, 1, lines[1].Quantity)
	assertDecimal(t, "6.25", lines[1].UnitPrice)

	var reasons []string
	for _, r := range rejections {
		reasons = append(reasons, r.Reason)
	}
	assert.Equal(t, []string{
		ReasonUnknownPart,
		ReasonInvalidQuantity,
		ReasonInvalidQuantity,
		ReasonInvalidPrice,
		csvimport.ReasonMissingPartNo,
	}, reasons)
	assert.Equal(t, 4, rejections[0].Line)
}

func TestDraftAttachToScanner(t *testing.T) {
	hub := scanner.NewHub()
	d := NewDraft(0, 0)
	var unknown []string
	var mu sync.Mutex
	detach := d.Attach(hub, testProducts(), func(code string) {
		mu.Lock()
		unknown = append(unknown, code)
		mu.Unlock()
	})

	hub.Scan("12345678901")
	hub.Scan("12345678901")
	hub.Scan("G-1")
	hub.Scan("???")

	lines := d.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, []string{"???"}, unknown)
	assertDecimal(t, "29.5", d.Totals().Total)

	detach()
	assert.Equal(t, 0, hub.Subscribers())
	hub.Scan("G-1")
	assert.Equal(t, 1, d.Lines()[1].Quantity)
}

func TestNewDraftIgnoresNonFinitePercentages(t *testing.T) {
	d := NewDraft(math.NaN(), math.Inf(1))
	d.Add(Line{PartNo: "A", Quantity: 2, UnitPrice: dec("10")})

	totals := d.Totals()
	assertDecimal(t, "0", totals.Discount)
	assertDecimal(t, "0", totals.Tax)
	assertDecimal(t, "20", totals.Total)
}
