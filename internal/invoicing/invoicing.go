// Package invoicing assembles draft invoice lines from a CSV file or from
// barcode scans.
package invoicing

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockroom/internal/csvimport"
	"github.com/odyssey-erp/stockroom/internal/scanner"
)

// Rejection reasons specific to invoice rows.
const (
	ReasonInvalidQuantity = "invalid quantity"
	ReasonInvalidPrice    = "invalid price"
	ReasonUnknownPart     = "unknown part number"
)

var hundred = decimal.NewFromInt(100)

// Line is one invoice item.
type Line struct {
	PartNo    string          `json:"partNo"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// Amounts computes the discount, tax and total of the line.
func (l Line) Amounts(discountPercent, taxPercent decimal.Decimal) (discount, tax, total decimal.Decimal) {
	gross := l.Gross()
	discount = gross.Mul(discountPercent).Div(hundred)
	net := gross.Sub(discount)
	tax = net.Mul(taxPercent).Div(hundred)
	total = net.Add(tax)
	return
}

// Gross is quantity times unit price.
func (l Line) Gross() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Totals summarises a draft.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// Draft accumulates lines. It is safe for concurrent use since scans arrive
// from the scanner goroutine.
type Draft struct {
	mu              sync.Mutex
	lines           []Line
	index           map[string]int
	discountPercent decimal.Decimal
	taxPercent      decimal.Decimal
}

// NewDraft creates an empty draft with document-level discount and tax.
func NewDraft(discountPercent, taxPercent float64) *Draft {
	return &Draft{
		index:           make(map[string]int),
		discountPercent: percent(discountPercent),
		taxPercent:      percent(taxPercent),
	}
}

// percent treats NaN and infinities as zero; decimal cannot hold them.
func percent(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

// Add appends line, or raises the quantity of an existing line with the
// same part number. The first unit price wins.
func (d *Draft) Add(line Line) {
	if line.Quantity <= 0 || line.PartNo == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if i, ok := d.index[line.PartNo]; ok {
		d.lines[i].Quantity += line.Quantity
		return
	}
	d.index[line.PartNo] = len(d.lines)
	d.lines = append(d.lines, line)
}

// AddAll adds every line in order.
func (d *Draft) AddAll(lines []Line) {
	for _, l := range lines {
		d.Add(l)
	}
}

// Lines returns a copy of the current lines.
func (d *Draft) Lines() []Line {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Line(nil), d.lines...)
}

// Totals sums every line.
func (d *Draft) Totals() Totals {
	d.mu.Lock()
	defer d.mu.Unlock()
	var t Totals
	for _, l := range d.lines {
		discount, tax, total := l.Amounts(d.discountPercent, d.taxPercent)
		t.Subtotal = t.Subtotal.Add(l.Gross())
		t.Discount = t.Discount.Add(discount)
		t.Tax = t.Tax.Add(tax)
		t.Total = t.Total.Add(total)
	}
	return t
}

// Attach adds one unit per scanned code known to products. Unknown codes go
// to onUnknown when set. The returned func detaches the draft.
func (d *Draft) Attach(src scanner.Source, products csvimport.Inventory, onUnknown func(code string)) func() {
	return src.Subscribe(func(code string) {
		p, ok := products[code]
		if !ok {
			if onUnknown != nil {
				onUnknown(code)
			}
			return
		}
		d.Add(Line{PartNo: p.PartNo, Name: p.Name, Quantity: 1, UnitPrice: decimal.NewFromFloat(p.SalePrice)})
	})
}

// ItemsFromCSV turns parsed rows into invoice lines. Rows need a part number
// known to products; a blank quantity counts as one. The unit price comes
// from the row's Sold Price when given, otherwise from the product.
func ItemsFromCSV(table *csvimport.Table, products csvimport.Inventory) ([]Line, []csvimport.Rejection) {
	var lines []Line
	var rejections []csvimport.Rejection
	for _, row := range table.Rows {
		partNo := row.PartNo()
		reject := func(reason string) {
			rejections = append(rejections, csvimport.Rejection{Line: row.Line, Name: row.Text(csvimport.HeaderProductName), PartNo: partNo, Reason: reason})
		}
		if partNo == "" {
			reject(csvimport.ReasonMissingPartNo)
			continue
		}
		product, ok := products[partNo]
		if !ok {
			reject(ReasonUnknownPart)
			continue
		}

		qty := 1
		if raw := row.Text(csvimport.HeaderQuantity); raw != "" {
			n, ok := csvimport.ParseCount(raw)
			if !ok || n <= 0 {
				reject(ReasonInvalidQuantity)
				continue
			}
			qty = n
		}

		price := decimal.NewFromFloat(product.SalePrice)
		if raw := row.Text(csvimport.HeaderSoldPrice); raw != "" {
			v, ok := csvimport.ParseAmount(raw)
			if !ok || v < 0 {
				reject(ReasonInvalidPrice)
				continue
			}
			price = decimal.NewFromFloat(v)
		}

		name := row.Text(csvimport.HeaderProductName)
		if name == "" {
			name = product.Name
		}
		lines = append(lines, Line{PartNo: partNo, Name: name, Quantity: qty, UnitPrice: price})
	}
	return lines, rejections
}
