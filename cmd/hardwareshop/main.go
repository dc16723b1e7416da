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

	"github.com/odyssey-erp/hardware-ledger/internal/app"
	"github.com/odyssey-erp/hardware-ledger/internal/audit"
	audithttp "github.com/odyssey-erp/hardware-ledger/internal/audit/http"
	"github.com/odyssey-erp/hardware-ledger/internal/auth"
	"github.com/odyssey-erp/hardware-ledger/internal/catalog"
	"github.com/odyssey-erp/hardware-ledger/internal/documents"
	"github.com/odyssey-erp/hardware-ledger/internal/ledger"
	"github.com/odyssey-erp/hardware-ledger/internal/observability"
	"github.com/odyssey-erp/hardware-ledger/internal/platform/cache"
	"github.com/odyssey-erp/hardware-ledger/internal/platform/db"
	"github.com/odyssey-erp/hardware-ledger/internal/posting"
	"github.com/odyssey-erp/hardware-ledger/internal/rbac"
	"github.com/odyssey-erp/hardware-ledger/internal/shared"
	"github.com/odyssey-erp/hardware-ledger/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if err := db.Migrate(ctx, dbpool); err != nil {
		logger.Error("migrate schema", slog.Any("error", err))
		os.Exit(1)
	}

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	authService, err := auth.NewService(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		logger.Error("init auth", slog.Any("error", err))
		os.Exit(1)
	}

	rbacMiddleware := rbac.Middleware{Logger: logger}

	catalogService := catalog.NewService(catalog.NewRepository(dbpool))
	catalogHandler := catalog.NewHandler(logger, catalogService, rbacMiddleware)

	var documentCache documents.Cache
	var cachePinger app.Pinger
	if redisClient != nil {
		cachePinger = cache.Pinger{Client: redisClient}
		documentCache = documents.NewRedisCache(redisClient, cfg.DocumentCacheTTL)
	}
	documentService := documents.NewService(documents.NewRepository(dbpool), documentCache, logger)

	ledgerService := ledger.NewService(
		ledger.NewRepository(dbpool),
		logger,
		ledger.WithConcurrency(cfg.ReconcileConcurrency),
		ledger.WithMetrics(ledger.NewMetrics(metrics.Registerer())),
	)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
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
	ledgerHandler := ledger.NewHandler(logger, ledgerService, jobClient, rbacMiddleware)

	postingService := posting.NewService(
		posting.NewStore(dbpool, shared.NewAuditLogger()),
		logger,
		posting.Config{AllowNegativeStock: cfg.AllowNegativeStock, Timeout: cfg.PostingTimeout},
		posting.WithCatalog(catalogService),
		posting.WithCacheInvalidator(documentService),
		posting.WithMetrics(posting.NewMetrics(metrics.Registerer())),
	)
	documentHandler := posting.NewHandler(logger, postingService, documentService, rbacMiddleware)

	auditHandler := audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool)), rbacMiddleware)
	permissionsHandler := rbac.NewPermissionsHandler(logger, rbacMiddleware)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Auth:               authService,
		CatalogHandler:     catalogHandler,
		DocumentHandler:    documentHandler,
		LedgerHandler:      ledgerHandler,
		AuditHandler:       auditHandler,
		PermissionsHandler: permissionsHandler,
		JobHandler:         jobHandler,
		Database:           dbpool,
		Cache:              cachePinger,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server starting", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown server", slog.Any("error", err))
	}
}
