package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockroom/internal/app"
	"github.com/odyssey-erp/stockroom/internal/csvimport"
	"github.com/odyssey-erp/stockroom/internal/events"
	"github.com/odyssey-erp/stockroom/internal/observability"
	"github.com/odyssey-erp/stockroom/internal/platform/cache"
	"github.com/odyssey-erp/stockroom/jobs"
	"github.com/odyssey-erp/stockroom/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	backend, err := app.NewCatalogClient(cfg)
	if err != nil {
		logger.Error("init backend client", slog.Any("error", err))
		os.Exit(1)
	}

	history, closeHistory, err := app.OpenHistory(ctx, cfg, logger)
	if err != nil {
		logger.Error("open import history", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeHistory()

	hub := events.NewHub(logger)
	metrics := observability.NewMetrics()

	var (
		redisClient *redis.Client
		store       csvimport.Store
		publisher   events.Publisher
		jobHandler  *jobs.Handler
	)
	if cfg.RedisAddr != "" {
		redisClient, err = cache.New(ctx, cfg.RedisOptions())
		if err != nil {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		store = csvimport.NewRedisStore(redisClient, cfg.ImportSessionTTL)
		publisher = events.NewRedisPublisher(redisClient, cfg.EventsChannel)

		inspector := asynq.NewInspector(cfg.AsynqRedis())
		defer func() {
			_ = inspector.Close()
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	} else {
		logger.Warn("REDIS_ADDR not set, import sessions and events stay in this process")
		store = csvimport.NewMemoryStore(cfg.ImportSessionTTL)
		publisher = events.NewHubPublisher(hub)
		jobHandler = jobs.NewHandler(nil, logger)
	}

	importer := csvimport.NewImporter(csvimport.ImporterOptions{
		Backend:   backend,
		Logger:    logger,
		Publisher: publisher,
		History:   history,
		Observer:  metrics,
	})

	pdfClient := report.NewClient(cfg.GotenbergURL, 0)
	var renderer csvimport.PDFRenderer
	if cfg.GotenbergURL != "" {
		renderer = pdfClient
	}

	router := app.NewRouter(app.RouterParams{
		Logger: logger,
		Config: cfg,
		ImportHandler: csvimport.NewHandler(csvimport.HandlerConfig{
			Logger:           logger,
			Importer:         importer,
			Store:            store,
			History:          history,
			Renderer:         renderer,
			MaxUploadBytes:   cfg.ImportMaxUploadBytes,
			UploadsPerMinute: cfg.ImportUploadsPerMinute,
		}),
		EventsHandler: events.NewHandler(hub),
		ReportHandler: report.NewHandler(pdfClient, logger),
		JobHandler:    jobHandler,
		Metrics:       metrics,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		WriteTimeout:      cfg.AppWriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if redisClient != nil {
		// Imports finished by any instance or by the worker reach local SSE clients.
		subscriber := events.NewSubscriber(redisClient, cfg.EventsChannel, logger)
		if err := subscriber.Listen(gctx, hub.Broadcast); err != nil {
			logger.Error("subscribe events", slog.Any("error", err))
			os.Exit(1)
		}
	}

	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
