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

	"github.com/onemanvan/fsm/internal/agreements"
	"github.com/onemanvan/fsm/internal/app"
	"github.com/onemanvan/fsm/internal/assets"
	jobmetrics "github.com/onemanvan/fsm/internal/jobs"
	"github.com/onemanvan/fsm/internal/observability"
	"github.com/onemanvan/fsm/internal/platform/cache"
	"github.com/onemanvan/fsm/internal/platform/db"
	"github.com/onemanvan/fsm/internal/workflow"
	"github.com/onemanvan/fsm/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, nil)
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queue, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	notifier, err := jobs.NewNotifier(queue, cfg.Currency, logger)
	if err != nil {
		return err
	}
	engine := workflow.NewEngine(workflow.NewRepository(pool), notifier, logger)
	warranty := assets.NewService(
		assets.NewRepository(pool),
		assets.NewTermsCache(redisClient, cfg.ProductCacheTTL),
		logger,
	)
	scheduler := agreements.NewScheduler(workflow.NewRepository(pool), engine, cfg.Agreements(), logger)

	passJob := jobs.NewAgreementPassJob(scheduler, jobs.NewWatermark(redisClient), logger, jobMetrics)
	workflowJob := jobs.NewWorkflowJob(engine, warranty, logger, jobMetrics)

	cron, err := jobs.AgreementCron(cfg.AgreementCron)
	if err != nil {
		return err
	}
	handlers := append(workflowJob.Handlers(), jobs.TaskHandler{Type: jobs.TaskAgreementPass, Handler: passJob.Handle})
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    handlers,
		Cron:        cron,
	})
	if err != nil {
		return err
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		_ = inspector.Close()
	}()
	ops := &http.Server{
		Addr: cfg.OpsAddr,
		Handler: app.NewRouter(app.RouterParams{
			Logger:     logger,
			Config:     cfg,
			JobHandler: jobs.NewHandler(inspector, passJob, logger),
			Metrics:    metrics,
		}),
		ReadTimeout:  cfg.OpsReadTimeout,
		WriteTimeout: cfg.OpsWriteTimeout,
	}
	go func() {
		logger.Info("ops server listening", slog.String("addr", cfg.OpsAddr))
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ops.Shutdown(shutdownCtx); err != nil {
			logger.Warn("ops server shutdown", slog.Any("error", err))
		}
	}()

	logger.Info("worker starting",
		slog.String("agreement_cron", cfg.AgreementCron),
		slog.Int("concurrency", cfg.WorkerConcurrency))
	return worker.Run(ctx)
}
