package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockroom/internal/catalog"
	"github.com/odyssey-erp/stockroom/internal/csvimport"
	"github.com/odyssey-erp/stockroom/internal/platform/cache"
	"github.com/odyssey-erp/stockroom/internal/platform/db"
)

// NewCatalogClient builds the product backend client from cfg.
func NewCatalogClient(cfg *Config) (*catalog.Client, error) {
	return catalog.NewClient(catalog.Options{
		BaseURL:       cfg.BackendURL,
		Authorization: cfg.BackendAuthorization,
		Cookie:        cfg.BackendCookie,
		Timeout:       cfg.BackendTimeout,
	})
}

// RedisOptions returns the Redis connection settings from cfg.
func (c *Config) RedisOptions() cache.Options {
	return cache.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// AsynqRedis returns the asynq connection settings from cfg.
func (c *Config) AsynqRedis() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// OpenHistory returns the Postgres history when PG_DSN is set, otherwise an
// in-memory one. The returned func releases the pool.
func OpenHistory(ctx context.Context, cfg *Config, logger *slog.Logger) (csvimport.HistoryRecorder, func(), error) {
	if cfg.PGDSN == "" {
		logger.Info("PG_DSN not set, keeping import history in memory")
		return csvimport.NewMemoryHistory(0), func() {}, nil
	}
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, nil, err
	}
	history := csvimport.NewPGHistory(pool)
	if err := history.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("app: history schema: %w", err)
	}
	return history, pool.Close, nil
}
