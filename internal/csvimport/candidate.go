package csvimport

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockroom/internal/catalog"
)

// DefaultMarkup is the markup percentage applied on the skip path.
const DefaultMarkup = 20.0

var hundred = decimal.NewFromInt(100)

// Candidate is a normalized row waiting for category, quantity and markup.
type Candidate struct {
	Line             int     `json:"line"`
	Name             string  `json:"name"`
	PartNo           string  `json:"partNo"`
	CostPrice        float64 `json:"costPrice"`
	Quantity         *int    `json:"quantity"`
	MarkupPercentage float64 `json:"markupPercentage"`
	SalePrice        float64 `json:"salePrice"`
}

// SalePrice derives cost * (1 + markup/100).
func SalePrice(cost, markupPercent float64) float64 {
	factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(markupPercent).Div(hundred))
	price, _ := decimal.NewFromFloat(cost).Mul(factor).Float64()
	return price
}

// ApplyMarkup sets the markup and recomputes the sale price from cost.
func (c *Candidate) ApplyMarkup(percent float64) {
	c.MarkupPercentage = percent
	c.SalePrice = SalePrice(c.CostPrice, percent)
}

// ImportProduct converts the candidate to the backend wire shape.
func (c Candidate) ImportProduct() catalog.ImportProduct {
	var qty *int
	if c.Quantity != nil {
		q := *c.Quantity
		qty = &q
	}
	return catalog.ImportProduct{
		Name:             c.Name,
		PartNo:           c.PartNo,
		CostPrice:        c.CostPrice,
		MarkupPercentage: c.MarkupPercentage,
		Quantity:         qty,
	}
}

func cloneCandidates(in []Candidate) []Candidate {
	out := make([]Candidate, len(in))
	for i, c := range in {
		if c.Quantity != nil {
			q := *c.Quantity
			c.Quantity = &q
		}
		out[i] = c
	}
	return out
}
