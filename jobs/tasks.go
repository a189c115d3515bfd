package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockroom/internal/csvimport"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueImports holds catalog imports so they never starve housekeeping.
	QueueImports = "imports"

	// TaskCatalogImport runs a spooled CSV through the import wizard.
	TaskCatalogImport = "catalog:import"
	// TaskSpoolSweep removes spooled uploads nobody picked up.
	TaskSpoolSweep = "uploads:sweep"
)

// Imports create categories and merge stock, so a rerun is not idempotent.
const (
	catalogImportMaxRetry = 0
	catalogImportTimeout  = 10 * time.Minute
)

// ErrInvalidPayload marks a payload that can never succeed.
var ErrInvalidPayload = errors.New("jobs: invalid payload")

// CatalogImportPayload points at a spooled CSV and the answers to the wizard's questions.
type CatalogImportPayload struct {
	Path string         `json:"path"`
	Plan csvimport.Plan `json:"plan"`
	// KeepFile leaves the spooled CSV in place after a successful run.
	KeepFile bool `json:"keep_file,omitempty"`
}

// Validate checks the fields that do not need the backend.
func (p CatalogImportPayload) Validate() error {
	if p.Path == "" {
		return fmt.Errorf("%w: path required", ErrInvalidPayload)
	}
	if !p.Plan.Category.New && p.Plan.Category.ID <= 0 {
		return fmt.Errorf("%w: category required", ErrInvalidPayload)
	}
	if p.Plan.Strategy != "" {
		if _, err := csvimport.ParseStrategy(string(p.Plan.Strategy)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	return nil
}

// NewCatalogImportTask constructs an Asynq task.
func NewCatalogImportTask(payload CatalogImportPayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCatalogImport, data,
		asynq.Queue(QueueImports),
		asynq.MaxRetry(catalogImportMaxRetry),
		asynq.Timeout(catalogImportTimeout),
		asynq.Retention(24*time.Hour),
	), nil
}

// SpoolSweepPayload configures the sweep.
type SpoolSweepPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewSpoolSweepTask constructs the periodic sweep task.
func NewSpoolSweepTask(olderThan time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(SpoolSweepPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSpoolSweep, data, asynq.Queue(QueueDefault), asynq.MaxRetry(0)), nil
}
