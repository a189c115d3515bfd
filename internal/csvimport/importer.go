package csvimport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockroom/internal/catalog"
	"github.com/odyssey-erp/stockroom/internal/events"
)

// Fallback messages when the backend gives no reason.
const (
	FallbackCategoryMessage = "Failed to create category"
	FallbackImportMessage   = "Failed to import products"
)

// Import outcomes and row kinds reported to the Observer.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"

	RowsCandidate = "candidate"
	RowsRejected  = "rejected"
	RowsCreated   = "created"
	RowsUpdated   = "updated"
	RowsSkipped   = "skipped"
)

// Backend is the slice of the product API the importer needs.
type Backend interface {
	ListCategories(ctx context.Context) ([]catalog.Category, error)
	CreateCategory(ctx context.Context, name string) (catalog.Category, error)
	ListProducts(ctx context.Context) ([]catalog.Product, error)
	ImportProducts(ctx context.Context, req catalog.ImportRequest) (catalog.ImportResult, error)
}

// ImportListener is told which category received a completed import.
type ImportListener func(categoryID int64)

// Observer receives import counters.
type Observer interface {
	ObserveImport(outcome string)
	ObserveRows(kind string, n int)
}

type noopObserver struct{}

func (noopObserver) ObserveImport(string)    {}
func (noopObserver) ObserveRows(string, int) {}

// ImporterOptions wires the importer's collaborators. Only Backend is required.
type ImporterOptions struct {
	Backend   Backend
	Logger    *slog.Logger
	Publisher events.Publisher
	History   HistoryRecorder
	Observer  Observer
	Listeners []ImportListener
	Now       func() time.Time
}

// Importer runs the network side of the wizard.
type Importer struct {
	backend   Backend
	logger    *slog.Logger
	publisher events.Publisher
	history   HistoryRecorder
	observer  Observer
	listeners []ImportListener
	now       func() time.Time
}

// NewImporter constructs an Importer.
func NewImporter(opts ImporterOptions) *Importer {
	im := &Importer{
		backend:   opts.Backend,
		logger:    opts.Logger,
		publisher: opts.Publisher,
		history:   opts.History,
		observer:  opts.Observer,
		listeners: opts.Listeners,
		now:       opts.Now,
	}
	if im.logger == nil {
		im.logger = slog.Default()
	}
	if im.observer == nil {
		im.observer = noopObserver{}
	}
	if im.now == nil {
		im.now = time.Now
	}
	return im
}

// Begin parses and normalizes r and loads the result into w together with
// the category list. Input errors leave w idle.
func (im *Importer) Begin(ctx context.Context, w *Wizard, r io.Reader) error {
	if err := w.expect("load", StateIdle, StateResult, StateFailed); err != nil {
		return err
	}
	table, err := Parse(r)
	if err != nil {
		return im.rejectInput(w, err)
	}
	candidates, rejections, err := Normalize(table.Rows)
	im.observer.ObserveRows(RowsRejected, len(rejections))
	if err != nil {
		return im.rejectInput(w, err)
	}
	im.observer.ObserveRows(RowsCandidate, len(candidates))
	if len(rejections) > 0 {
		im.logger.Info("csv rows rejected", slog.Int("rows", len(rejections)))
	}

	tree, err := im.backend.ListCategories(ctx)
	if err != nil {
		im.logger.Warn("category list unavailable", slog.Any("error", err))
	}
	return w.Load(candidates, rejections, catalog.Flatten(tree))
}

func (im *Importer) rejectInput(w *Wizard, err error) error {
	im.logger.Warn("csv rejected", slog.Any("error", err))
	im.observer.ObserveImport(OutcomeRejected)
	w.Reset()
	return err
}

// ConfirmCategory validates choice, snapshots the inventory and lets the
// wizard decide whether the strategy question is needed. A failed product
// fetch is treated as an empty inventory.
func (im *Importer) ConfirmCategory(ctx context.Context, w *Wizard, choice CategoryChoice) error {
	if err := w.expect("confirm category", StateCategorySelect); err != nil {
		return err
	}
	if err := w.ValidateCategory(choice); err != nil {
		return err
	}
	inv := Inventory{}
	products, err := im.backend.ListProducts(ctx)
	if err != nil {
		im.logger.Warn("existing products unavailable, assuming none", slog.Any("error", err))
	} else {
		inv = NewInventory(products)
	}
	return w.ConfirmCategory(choice, inv)
}

// Submit finalises the category and quantities and posts the batch. Terminal
// errors move w to StateFailed with the backend message; nothing is retried.
func (im *Importer) Submit(ctx context.Context, w *Wizard) (Summary, error) {
	if err := w.expect("submit", StateSubmitting); err != nil {
		return Summary{}, err
	}

	categoryID, categoryName, err := im.resolveCategory(ctx, w)
	if err != nil {
		im.fail(w, catalog.UserMessage(err, FallbackCategoryMessage), err)
		return Summary{}, fmt.Errorf("csvimport: create category: %w", err)
	}

	planned := w.PlannedInventory()
	current := planned
	if products, err := im.backend.ListProducts(ctx); err != nil {
		im.logger.Warn("existing products refetch failed, using planning snapshot", slog.Any("error", err))
	} else {
		current = NewInventory(products)
	}

	candidates := w.Candidates()
	warnings := DetectDrift(candidates, planned, current)
	for _, warn := range warnings {
		im.logger.Warn("stock changed during import", slog.String("part_no", warn.PartNo), slog.String("detail", warn.Message))
	}

	final := MergeQuantities(candidates, current, w.Strategy())
	req := catalog.ImportRequest{CategoryID: categoryID, Products: make([]catalog.ImportProduct, 0, len(final))}
	for _, c := range final {
		req.Products = append(req.Products, c.ImportProduct())
	}

	result, err := im.backend.ImportProducts(ctx, req)
	if err != nil {
		im.fail(w, catalog.UserMessage(err, FallbackImportMessage), err)
		return Summary{}, fmt.Errorf("csvimport: import products: %w", err)
	}

	summary := newSummary(result, categoryID, categoryName, w.Strategy())
	summary.Rejections = w.Rejections()
	summary.Warnings = warnings
	if err := w.Complete(summary); err != nil {
		return Summary{}, err
	}
	im.afterImport(ctx, summary)
	return summary, nil
}

func (im *Importer) resolveCategory(ctx context.Context, w *Wizard) (int64, string, error) {
	choice := w.Category()
	if !choice.New {
		node, _ := catalog.FindCategory(w.Categories(), choice.ID)
		return choice.ID, node.Name, nil
	}

	created, err := im.backend.CreateCategory(ctx, choice.NewName)
	if err != nil {
		return 0, "", err
	}
	name := created.Name
	if name == "" {
		name = choice.NewName
	}
	tree, err := im.backend.ListCategories(ctx)
	if err != nil {
		im.logger.Warn("category reload failed", slog.Any("error", err))
		return created.ID, name, nil
	}
	if node, ok := catalog.FindCategory(catalog.Flatten(tree), created.ID); ok {
		name = node.Name
	}
	return created.ID, name, nil
}

func (im *Importer) fail(w *Wizard, message string, cause error) {
	im.logger.Error("import failed", slog.String("message", message), slog.Any("error", cause))
	im.observer.ObserveImport(OutcomeFailed)
	_ = w.Fail(message)
}

// afterImport runs the best-effort side effects of a completed import.
func (im *Importer) afterImport(ctx context.Context, s Summary) {
	im.observer.ObserveImport(OutcomeSuccess)
	im.observer.ObserveRows(RowsCreated, s.NewCount)
	im.observer.ObserveRows(RowsUpdated, s.UpdateCount)
	im.observer.ObserveRows(RowsSkipped, s.SkippedCount)

	for _, fn := range im.listeners {
		fn(s.CategoryID)
	}

	if im.publisher != nil {
		evt := events.ProductsImported{NewCount: s.NewCount, UpdateCount: s.UpdateCount}
		if err := im.publisher.PublishProductsImported(ctx, evt); err != nil {
			im.logger.Warn("publish products_imported", slog.Any("error", err))
		}
	}

	if im.history != nil {
		run := Run{
			ID:            uuid.New(),
			CategoryID:    s.CategoryID,
			CategoryName:  s.CategoryName,
			NewCount:      s.NewCount,
			UpdateCount:   s.UpdateCount,
			SkippedCount:  s.SkippedCount,
			RejectedCount: len(s.Rejections),
			Strategy:      s.Strategy,
			Rejections:    s.Rejections,
			CreatedAt:     im.now().UTC(),
		}
		if err := im.history.Record(ctx, run); err != nil {
			im.logger.Warn("record import history", slog.Any("error", err))
		}
	}

	im.logger.Info("products imported",
		slog.Int64("category_id", s.CategoryID),
		slog.Int("new", s.NewCount),
		slog.Int("updated", s.UpdateCount),
		slog.Int("skipped", s.SkippedCount),
	)
}

// Plan holds the answers for a run without an operator.
type Plan struct {
	Category CategoryChoice   `json:"category"`
	Strategy QuantityStrategy `json:"strategy,omitempty"`
	// Markup nil takes the skip path.
	Markup *float64 `json:"markup,omitempty"`
}

// Run drives a whole import from plan. Strategy is only consulted when the
// quantity question comes up; it defaults to add.
func (im *Importer) Run(ctx context.Context, r io.Reader, plan Plan) (Summary, error) {
	w := NewWizard()
	if err := im.Begin(ctx, w, r); err != nil {
		return Summary{}, err
	}
	if err := im.ConfirmCategory(ctx, w, plan.Category); err != nil {
		return Summary{}, err
	}
	if w.State() == StateQuantityStrategy {
		strategy := plan.Strategy
		if strategy == "" {
			strategy = StrategyAdd
		}
		if err := w.ChooseStrategy(strategy); err != nil {
			return Summary{}, err
		}
	}
	if plan.Markup == nil {
		if err := w.SkipMarkup(); err != nil {
			return Summary{}, err
		}
	} else {
		if err := w.BeginMarkupEntry(); err != nil {
			return Summary{}, err
		}
		input := formatPercent(*plan.Markup)
		for w.State() == StateMarkupEntry {
			if err := w.SetMarkupInput(input); err != nil {
				return Summary{}, err
			}
			if err := w.NextMarkup(); err != nil {
				return Summary{}, err
			}
		}
	}
	return im.Submit(ctx, w)
}
