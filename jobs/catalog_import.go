package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockroom/internal/csvimport"
	jobmetrics "github.com/odyssey-erp/stockroom/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ImportRunner runs an import without an operator.
type ImportRunner interface {
	Run(ctx context.Context, r io.Reader, plan csvimport.Plan) (csvimport.Summary, error)
}

// CatalogImportJob handles TaskCatalogImport.
type CatalogImportJob struct {
	Importer ImportRunner
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewCatalogImportJob constructs the job handler.
func NewCatalogImportJob(importer ImportRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *CatalogImportJob {
	return &CatalogImportJob{Importer: importer, Logger: logger, Metrics: metrics}
}

// Handle executes one import. Nothing that reaches the importer is retried:
// a failed run halts and waits for an operator.
func (j *CatalogImportJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Importer == nil {
		return errors.New("catalog import: importer not configured")
	}
	var payload CatalogImportPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		j.log().Error("decode payload", slog.Any("error", err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if err := payload.Validate(); err != nil {
		j.log().Error("invalid payload", slog.Any("error", err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	// failed holds a backend error so it is counted as a failure even though
	// the returned error skips retry.
	var failed error
	tracker := j.metrics().Track(TaskCatalogImport)
	defer func() {
		if failed != nil {
			_ = tracker.End(failed)
			return
		}
		_ = tracker.End(err)
	}()

	f, err := os.Open(payload.Path)
	if err != nil {
		j.log().Error("open spooled file", slog.String("path", payload.Path), slog.Any("error", err))
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	start := time.Now()
	summary, err := j.Importer.Run(ctx, f, payload.Plan)
	if err != nil {
		if csvimport.IsInputError(err) {
			j.log().Warn("import rejected", slog.String("path", payload.Path), slog.String("reason", csvimport.InputMessage(err)))
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		// The backend may already hold part of this run; the file stays for a manual rerun.
		j.log().Error("import failed", slog.String("path", payload.Path), slog.Any("error", err))
		failed = err
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	if w := task.ResultWriter(); w != nil {
		if body, err := json.Marshal(summary); err == nil {
			if _, err := w.Write(body); err != nil {
				j.log().Warn("write task result", slog.Any("error", err))
			}
		}
	}
	if !payload.KeepFile {
		if err := os.Remove(payload.Path); err != nil {
			j.log().Warn("remove spooled file", slog.String("path", payload.Path), slog.Any("error", err))
		}
	}

	j.log().Info("catalog import finished",
		slog.Int64("category_id", summary.CategoryID),
		slog.Int("new", summary.NewCount),
		slog.Int("updated", summary.UpdateCount),
		slog.Int("skipped", summary.SkippedCount),
		slog.Int("rejected", len(summary.Rejections)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *CatalogImportJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *CatalogImportJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCatalogImport))
	}
	return slog.Default().With(slog.String("job", TaskCatalogImport))
}

// SpoolSweepJob handles TaskSpoolSweep.
type SpoolSweepJob struct {
	Dir    string
	Logger *slog.Logger
	clock  func() time.Time
}

// NewSpoolSweepJob constructs the sweep handler for dir.
func NewSpoolSweepJob(dir string, logger *slog.Logger) *SpoolSweepJob {
	return &SpoolSweepJob{Dir: dir, Logger: logger, clock: time.Now}
}

// Handle removes spooled files older than the payload's threshold.
func (j *SpoolSweepJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload SpoolSweepPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.OlderThan <= 0 {
		payload.OlderThan = 24 * time.Hour
	}
	removed, err := SweepSpool(j.Dir, j.clock().Add(-payload.OlderThan))
	if err != nil {
		return err
	}
	if removed > 0 && j.Logger != nil {
		j.Logger.Info("swept spooled uploads", slog.Int("removed", removed), slog.String("dir", j.Dir))
	}
	return nil
}
