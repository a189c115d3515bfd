package catalog

import (
	"encoding/json"
	"strings"
)

// Category is a node of the backend category tree.
type Category struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	ParentID *int64     `json:"parentId"`
	Children []Category `json:"children"`
}

// Product is the backend's view of a persisted product.
type Product struct {
	ID               int64    `json:"id,omitempty"`
	Name             string   `json:"name"`
	PartNo           string   `json:"partNo"`
	CategoryID       *int64   `json:"categoryId,omitempty"`
	CostPrice        float64  `json:"costPrice"`
	SalePrice        float64  `json:"salePrice"`
	MarkupPercentage *float64 `json:"markupPercentage,omitempty"`
	Quantity         *int     `json:"quantity"`
}

// ImportProduct is one line of the bulk import payload.
type ImportProduct struct {
	Name             string  `json:"name"`
	PartNo           string  `json:"partNo"`
	CostPrice        float64 `json:"costPrice"`
	MarkupPercentage float64 `json:"markupPercentage"`
	Quantity         *int    `json:"quantity"`
}

// ImportRequest is posted to the bulk import endpoint.
type ImportRequest struct {
	CategoryID int64           `json:"categoryId"`
	Products   []ImportProduct `json:"products"`
}

// ImportResult is computed by the backend; the client only relays it.
type ImportResult struct {
	NewCount        int               `json:"newCount"`
	UpdateCount     int               `json:"updateCount"`
	SkippedCount    int               `json:"skippedCount"`
	CreatedProducts []ImportedProduct `json:"createdProducts"`
	UpdatedProducts []ImportedProduct `json:"updatedProducts"`
	SkippedProducts []ImportedProduct `json:"skippedProducts"`
}

// ImportedProduct is an entry of the created/updated/skipped lists.
// The backend sends either a bare string or an object, both are accepted.
type ImportedProduct struct {
	Name   string `json:"name,omitempty"`
	PartNo string `json:"partNo,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// UnmarshalJSON accepts "name" strings as well as product objects.
func (p *ImportedProduct) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*p = ImportedProduct{Name: name}
		return nil
	}
	type plain ImportedProduct
	var out plain
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*p = ImportedProduct(out)
	return nil
}

// Label returns the best human readable identifier of the entry.
func (p ImportedProduct) Label() string {
	switch {
	case p.Name != "" && p.PartNo != "":
		return p.Name + " (" + p.PartNo + ")"
	case p.Name != "":
		return p.Name
	default:
		return p.PartNo
	}
}
