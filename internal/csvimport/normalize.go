package csvimport

import "strings"

// Recognised headers.
const (
	HeaderProductName = "Product Name"
	HeaderUPC         = "UPC"
	HeaderSingleUPC   = "Single Upc"
	HeaderPartNumber  = "Part Number"
	HeaderSoldPrice   = "Sold Price"
	HeaderCostPrice   = "Cost Price"
	HeaderQuantity    = "Quantity"
)

// Rejection reasons.
const (
	ReasonMissingName   = "missing product name"
	ReasonMissingPartNo = "missing part number"
	ReasonInvalidCost   = "invalid cost price"
)

var (
	partNoHeaders = []string{HeaderUPC, HeaderSingleUPC, HeaderPartNumber}
	costHeaders   = []string{HeaderSoldPrice, HeaderCostPrice}
)

// Rejection records a row dropped during normalization.
type Rejection struct {
	Line   int    `json:"line"`
	Name   string `json:"name,omitempty"`
	PartNo string `json:"partNo,omitempty"`
	Reason string `json:"reason"`
}

// Normalize maps parsed rows to candidates. Rows without a name, a part
// number or a numeric cost are dropped and reported as rejections.
func Normalize(rows []Row) ([]Candidate, []Rejection, error) {
	candidates := make([]Candidate, 0, len(rows))
	var rejections []Rejection
	for _, row := range rows {
		c, reason := normalizeRow(row)
		if reason != "" {
			rejections = append(rejections, Rejection{Line: row.Line, Name: c.Name, PartNo: c.PartNo, Reason: reason})
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil, rejections, ErrNoValidProducts
	}
	return candidates, rejections, nil
}

func normalizeRow(row Row) (Candidate, string) {
	c := Candidate{
		Line:   row.Line,
		Name:   row.Text(HeaderProductName),
		PartNo: row.PartNo(),
	}
	if c.Name == "" {
		return c, ReasonMissingName
	}
	if c.PartNo == "" {
		return c, ReasonMissingPartNo
	}
	cost, ok := ParseAmount(firstPresent(row, costHeaders...))
	if !ok {
		return c, ReasonInvalidCost
	}
	c.CostPrice = cost
	if raw := row.Text(HeaderQuantity); raw != "" {
		if qty, ok := ParseCount(raw); ok {
			c.Quantity = &qty
		}
	}
	c.ApplyMarkup(DefaultMarkup)
	return c, ""
}

// firstPresent returns the first non-blank value among headers.
func firstPresent(row Row, headers ...string) string {
	for _, h := range headers {
		if v := cleanValue(row.Fields[h]); v != "" {
			return v
		}
	}
	return ""
}

func cleanValue(v string) string {
	return unmark(strings.TrimSpace(v))
}

// PartNo resolves the part number through the header aliases.
func (r Row) PartNo() string {
	return firstPresent(r, partNoHeaders...)
}

// Text returns the trimmed value under header.
func (r Row) Text(header string) string {
	return cleanValue(r.Fields[header])
}

// ParseAmount reads a currency-like value: thousands separators are ignored
// and trailing text after the number is dropped.
func ParseAmount(s string) (float64, bool) {
	return parseLeadingFloat(stripThousands(strings.TrimSpace(s)))
}

// ParseCount reads an integer count the same way quantities are read.
func ParseCount(s string) (int, bool) {
	return parseLeadingInt(stripThousands(strings.TrimSpace(s)))
}
