package csvimport

import "github.com/odyssey-erp/stockroom/internal/catalog"

// Summary is shown once an import went through. Counts and product lists
// are whatever the backend reported.
type Summary struct {
	NewCount        int                       `json:"newCount"`
	UpdateCount     int                       `json:"updateCount"`
	SkippedCount    int                       `json:"skippedCount"`
	CreatedProducts []catalog.ImportedProduct `json:"createdProducts"`
	UpdatedProducts []catalog.ImportedProduct `json:"updatedProducts"`
	SkippedProducts []catalog.ImportedProduct `json:"skippedProducts"`
	CategoryID      int64                     `json:"categoryId"`
	CategoryName    string                    `json:"categoryName"`
	Strategy        QuantityStrategy          `json:"strategy"`
	Rejections      []Rejection               `json:"rejections,omitempty"`
	Warnings        []DriftWarning            `json:"warnings,omitempty"`
}

func newSummary(result catalog.ImportResult, categoryID int64, categoryName string, strategy QuantityStrategy) Summary {
	return Summary{
		NewCount:        result.NewCount,
		UpdateCount:     result.UpdateCount,
		SkippedCount:    result.SkippedCount,
		CreatedProducts: result.CreatedProducts,
		UpdatedProducts: result.UpdatedProducts,
		SkippedProducts: result.SkippedProducts,
		CategoryID:      categoryID,
		CategoryName:    categoryName,
		Strategy:        strategy,
	}
}
