package csvimport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockroom/internal/platform/db"
)

// Run is one completed import as kept in history.
type Run struct {
	ID            uuid.UUID        `json:"id"`
	CategoryID    int64            `json:"categoryId"`
	CategoryName  string           `json:"categoryName"`
	NewCount      int              `json:"newCount"`
	UpdateCount   int              `json:"updateCount"`
	SkippedCount  int              `json:"skippedCount"`
	RejectedCount int              `json:"rejectedCount"`
	Strategy      QuantityStrategy `json:"strategy"`
	Rejections    []Rejection      `json:"rejections,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// HistoryRecorder stores completed runs.
type HistoryRecorder interface {
	Record(ctx context.Context, run Run) error
	Recent(ctx context.Context, limit int) ([]Run, error)
}

// HistorySchema creates the history tables.
const HistorySchema = `
CREATE TABLE IF NOT EXISTS import_runs (
	id             UUID PRIMARY KEY,
	category_id    BIGINT NOT NULL,
	category_name  TEXT NOT NULL DEFAULT '',
	new_count      INTEGER NOT NULL DEFAULT 0,
	update_count   INTEGER NOT NULL DEFAULT 0,
	skipped_count  INTEGER NOT NULL DEFAULT 0,
	rejected_count INTEGER NOT NULL DEFAULT 0,
	strategy       TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS import_runs_created_at_idx ON import_runs (created_at DESC);
CREATE TABLE IF NOT EXISTS import_rejections (
	run_id  UUID NOT NULL REFERENCES import_runs (id) ON DELETE CASCADE,
	line    INTEGER NOT NULL,
	part_no TEXT NOT NULL DEFAULT '',
	reason  TEXT NOT NULL
);`

// PGHistory keeps runs in Postgres.
type PGHistory struct {
	pool *pgxpool.Pool
}

// NewPGHistory wraps pool.
func NewPGHistory(pool *pgxpool.Pool) *PGHistory {
	return &PGHistory{pool: pool}
}

// EnsureSchema applies HistorySchema.
func (h *PGHistory) EnsureSchema(ctx context.Context) error {
	if _, err := h.pool.Exec(ctx, HistorySchema); err != nil {
		return fmt.Errorf("csvimport: history schema: %w", err)
	}
	return nil
}

// Record inserts run and its rejections in one transaction.
func (h *PGHistory) Record(ctx context.Context, run Run) error {
	return db.WithTx(ctx, h.pool, func(tx pgx.Tx) error {
		query := `INSERT INTO import_runs (id, category_id, category_name, new_count, update_count,
		          skipped_count, rejected_count, strategy, created_at)
		          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
		_, err := tx.Exec(ctx, query, run.ID, run.CategoryID, run.CategoryName, run.NewCount, run.UpdateCount,
			run.SkippedCount, run.RejectedCount, string(run.Strategy), run.CreatedAt)
		if err != nil {
			return fmt.Errorf("csvimport: insert run: %w", err)
		}
		if len(run.Rejections) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, rej := range run.Rejections {
			batch.Queue(`INSERT INTO import_rejections (run_id, line, part_no, reason) VALUES ($1, $2, $3, $4)`,
				run.ID, rej.Line, rej.PartNo, rej.Reason)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("csvimport: insert rejections: %w", err)
		}
		return nil
	})
}

// Recent lists the latest runs, newest first. Rejection details are not loaded.
func (h *PGHistory) Recent(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, category_id, category_name, new_count, update_count, skipped_count,
	          rejected_count, strategy, created_at
	          FROM import_runs ORDER BY created_at DESC LIMIT $1`
	rows, err := h.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("csvimport: list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var strategy string
		if err := rows.Scan(&r.ID, &r.CategoryID, &r.CategoryName, &r.NewCount, &r.UpdateCount,
			&r.SkippedCount, &r.RejectedCount, &strategy, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Strategy = QuantityStrategy(strategy)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// MemoryHistory keeps the last runs in process memory.
type MemoryHistory struct {
	mu       sync.Mutex
	runs     []Run
	capacity int
}

// NewMemoryHistory keeps at most capacity runs (100 when capacity <= 0).
func NewMemoryHistory(capacity int) *MemoryHistory {
	if capacity <= 0 {
		capacity = 100
	}
	return &MemoryHistory{capacity: capacity}
}

// Record appends run, evicting the oldest when full.
func (h *MemoryHistory) Record(_ context.Context, run Run) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, run)
	if len(h.runs) > h.capacity {
		h.runs = h.runs[len(h.runs)-h.capacity:]
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (h *MemoryHistory) Recent(_ context.Context, limit int) ([]Run, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 || limit > len(h.runs) {
		limit = len(h.runs)
	}
	out := make([]Run, 0, limit)
	for i := len(h.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.runs[i])
	}
	return out, nil
}
