package csvimport

import (
	"fmt"
	"strings"

	"github.com/odyssey-erp/stockroom/internal/catalog"
)

// QuantityStrategy decides how an imported quantity combines with stock on hand.
type QuantityStrategy string

const (
	// StrategyAdd submits existing + imported.
	StrategyAdd QuantityStrategy = "add"
	// StrategyReplace submits the imported quantity unchanged.
	StrategyReplace QuantityStrategy = "replace"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (QuantityStrategy, error) {
	switch QuantityStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyAdd:
		return StrategyAdd, nil
	case StrategyReplace:
		return StrategyReplace, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStrategy, s)
	}
}

// Inventory indexes persisted products by part number.
type Inventory map[string]catalog.Product

// NewInventory builds the index. Later duplicates win.
func NewInventory(products []catalog.Product) Inventory {
	inv := make(Inventory, len(products))
	for _, p := range products {
		key := strings.TrimSpace(p.PartNo)
		if key == "" {
			continue
		}
		inv[key] = p
	}
	return inv
}

func (inv Inventory) quantityOf(partNo string) (*int, bool) {
	p, ok := inv[partNo]
	if !ok {
		return nil, false
	}
	return p.Quantity, true
}

// Conflict is a candidate whose quantity would meet an existing stock count.
type Conflict struct {
	PartNo   string `json:"partNo"`
	Name     string `json:"name"`
	Existing int    `json:"existing"`
	Incoming int    `json:"incoming"`
}

// QuantityConflicts lists candidates carrying a quantity whose part number
// already exists with a quantity.
func QuantityConflicts(candidates []Candidate, inv Inventory) []Conflict {
	var out []Conflict
	for _, c := range candidates {
		if c.Quantity == nil {
			continue
		}
		existing, ok := inv.quantityOf(c.PartNo)
		if !ok || existing == nil {
			continue
		}
		out = append(out, Conflict{PartNo: c.PartNo, Name: c.Name, Existing: *existing, Incoming: *c.Quantity})
	}
	return out
}

// HasQuantityConflicts reports whether the strategy question must be asked.
func HasQuantityConflicts(candidates []Candidate, inv Inventory) bool {
	return len(QuantityConflicts(candidates, inv)) > 0
}

// MergeQuantities returns a copy of candidates with quantities finalised.
// Only StrategyAdd rewrites anything; StrategyReplace forwards the imported
// count and leaves any further merging to the backend.
func MergeQuantities(candidates []Candidate, inv Inventory, strategy QuantityStrategy) []Candidate {
	out := cloneCandidates(candidates)
	if strategy != StrategyAdd {
		return out
	}
	for i := range out {
		if out[i].Quantity == nil {
			continue
		}
		existing, ok := inv.quantityOf(out[i].PartNo)
		if !ok || existing == nil {
			continue
		}
		merged := *existing + *out[i].Quantity
		out[i].Quantity = &merged
	}
	return out
}

// DriftWarning flags stock that moved between planning and submission.
type DriftWarning struct {
	PartNo  string `json:"partNo"`
	Planned *int   `json:"planned"`
	Current *int   `json:"current"`
	Message string `json:"message"`
}

// DetectDrift compares the planning snapshot with the one taken just before
// the write, for every candidate that carries a quantity.
func DetectDrift(candidates []Candidate, planned, current Inventory) []DriftWarning {
	var out []DriftWarning
	for _, c := range candidates {
		if c.Quantity == nil {
			continue
		}
		before, hadBefore := planned.quantityOf(c.PartNo)
		after, hasAfter := current.quantityOf(c.PartNo)
		if hadBefore == hasAfter && equalQuantity(before, after) {
			continue
		}
		out = append(out, DriftWarning{
			PartNo:  c.PartNo,
			Planned: before,
			Current: after,
			Message: driftMessage(c.PartNo, hadBefore, hasAfter, before, after),
		})
	}
	return out
}

func equalQuantity(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func driftMessage(partNo string, hadBefore, hasAfter bool, before, after *int) string {
	switch {
	case !hadBefore:
		return fmt.Sprintf("%s was created by someone else during this import", partNo)
	case !hasAfter:
		return fmt.Sprintf("%s was removed during this import", partNo)
	default:
		return fmt.Sprintf("%s stock changed from %s to %s during this import", partNo, quantityText(before), quantityText(after))
	}
}

func quantityText(q *int) string {
	if q == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", *q)
}
