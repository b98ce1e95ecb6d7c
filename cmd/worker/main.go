package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/odyssey-rfq/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-rfq/internal/jobs"
	"github.com/odyssey-erp/odyssey-rfq/internal/notification"
	"github.com/odyssey-erp/odyssey-rfq/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-rfq/internal/platform/db"
	"github.com/odyssey-erp/odyssey-rfq/internal/quotation"
	"github.com/odyssey-erp/odyssey-rfq/internal/shared"
	"github.com/odyssey-erp/odyssey-rfq/jobs"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}
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

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	redisOpts := cfg.Redis().Asynq()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	quotationMetrics := quotation.NewMetrics(nil)
	dispatcher := notification.NewDispatcher(notification.NewRepository(pool), jobClient, jobs.QueueNotifications)
	quotationService := quotation.NewService(quotation.ServiceParams{
		Repo:            quotation.NewRepository(pool),
		Numbers:         quotation.NewRedisNumberer(redisClient, logger),
		Notifier:        quotation.NewNotifier(dispatcher, logger, quotationMetrics),
		Mailer:          jobClient,
		Metrics:         quotationMetrics,
		Logger:          logger,
		Currency:        cfg.QuotationCurrency,
		DefaultValidity: cfg.QuotationDefaultValidity,
	})
	idempotencyStore := shared.NewIdempotencyStore(pool)

	expiryJob := jobs.NewQuotationExpiryJob(quotationService, logger, metrics)
	pushJob := jobs.NewNotificationPushJob(nil, logger, metrics)
	cleanupJob := &jobs.IdempotencyCleanupJob{
		Store:     idempotencyStore,
		Retention: cfg.IdempotencyRetention,
		Logger:    logger,
		Metrics:   metrics,
	}

	// Zero AsOf: each scheduled run sweeps as of its own start time.
	expiryTask, err := jobs.NewQuotationExpiryTask(time.Time{})
	if err != nil {
		logger.Error("build expiry task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		MailFrom:  cfg.SMTPFrom,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskQuotationExpiry, Handler: expiryJob.Handle},
			{Type: notification.TaskPush, Handler: pushJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ExpirySweepCron, Task: expiryTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 3 * * *", Task: jobs.NewIdempotencyCleanupTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
