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
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/odyssey-rfq/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-rfq/internal/app"
	"github.com/odyssey-erp/odyssey-rfq/internal/notification"
	"github.com/odyssey-erp/odyssey-rfq/internal/observability"
	"github.com/odyssey-erp/odyssey-rfq/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-rfq/internal/platform/db"
	"github.com/odyssey-erp/odyssey-rfq/internal/quotation"
	"github.com/odyssey-erp/odyssey-rfq/internal/rbac"
	"github.com/odyssey-erp/odyssey-rfq/internal/shared"
	"github.com/odyssey-erp/odyssey-rfq/jobs"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}
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

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := cli.Run(ctx, cfg.Redis(), os.Args[2:], os.Stdout); err != nil {
			slog.Default().Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	logger := app.NewLogger(cfg)

	if cfg.MigrationsAuto {
		if err := db.Migrate(cfg.PGDSN, logger); err != nil {
			logger.Error("migrate database", slog.Any("error", err))
			os.Exit(1)
		}
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis unavailable, quotation numbers fall back to random sequences", slog.Any("error", err))
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

	metrics := observability.NewMetrics()
	rbacMiddleware := rbac.Middleware{Logger: logger}

	notificationRepo := notification.NewRepository(dbpool)
	dispatcher := notification.NewDispatcher(notificationRepo, jobClient, jobs.QueueNotifications)
	notificationHandler := notification.NewHandler(notificationRepo, logger)

	quotationMetrics := quotation.NewMetrics(metrics.Registerer())
	quotationService := quotation.NewService(quotation.ServiceParams{
		Repo:        quotation.NewRepository(dbpool),
		Numbers:     quotation.NewRedisNumberer(redisClient, logger),
		Notifier:    quotation.NewNotifier(dispatcher, logger, quotationMetrics),
		Mailer:      jobClient,
		Idempotency: shared.NewIdempotencyStore(dbpool),
		Metrics:     quotationMetrics,
		Logger:      logger,
		Vendor: quotation.VendorProfile{
			CompanyName: cfg.VendorName,
			Address:     cfg.VendorAddress,
			GSTIN:       cfg.VendorGSTIN,
			Email:       cfg.VendorEmail,
			Phone:       cfg.VendorPhone,
			State:       cfg.VendorState,
		},
		Currency:        cfg.QuotationCurrency,
		DefaultValidity: cfg.QuotationDefaultValidity,
	})
	quotationHandler := quotation.NewHandler(logger, quotationService, rbacMiddleware)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		Metrics:             metrics,
		RBAC:                rbacMiddleware,
		QuotationHandler:    quotationHandler,
		NotificationHandler: notificationHandler,
		JobHandler:          jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
