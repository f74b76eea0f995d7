package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/support-router/internal/api/http"
	"github.com/spec-kit/support-router/internal/api/http/handlers"
	"github.com/spec-kit/support-router/internal/auth"
	"github.com/spec-kit/support-router/internal/config"
	"github.com/spec-kit/support-router/internal/events"
	"github.com/spec-kit/support-router/internal/gateway"
	"github.com/spec-kit/support-router/internal/observability"
	"github.com/spec-kit/support-router/internal/persistence"
	"github.com/spec-kit/support-router/internal/ratelimit"
	"github.com/spec-kit/support-router/internal/repository"
	"github.com/spec-kit/support-router/internal/routing"
	"github.com/spec-kit/support-router/internal/satisfaction"
	"github.com/spec-kit/support-router/internal/sla"
	"github.com/spec-kit/support-router/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	pool := pg.PoolHandle()
	if pool != nil && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pool, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	rds := persistence.NewRedis(cfg.Redis, logger)
	defer rds.Close()

	var repo repository.TicketRepository
	if pool != nil {
		repo = repository.NewTicketRepository(pool)
	} else {
		repo = repository.NewMemoryTicketRepository()
	}

	var cache routing.ContextCache
	var quota ratelimit.Quota
	if rds.Ping(ctx) == nil {
		cache = routing.NewRedisContextCache(rds.Client)
		quota = ratelimit.NewRedisQuota(rds.Client)
	} else {
		logger.Warn("redis unavailable; using in-memory context cache and quota")
		cache = routing.NewMemoryContextCache()
		quota = ratelimit.NewMemoryQuota()
	}

	var gw gateway.Gateway
	if cfg.Gateway.BotToken != "" {
		gw = gateway.NewTelegramGateway(cfg.Gateway.BotToken, cfg.Gateway.SupportChatID, logger)
	} else {
		logger.Warn("GATEWAY_BOT_TOKEN not provided; running with log-only gateway")
		gw = gateway.NewNoopGateway(logger)
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()

	flow := satisfaction.NewFlow(satisfaction.Dependencies{
		Repo:       repo,
		Gateway:    gw,
		Quota:      quota,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
		DailyQuota: cfg.Broadcast.DailyQuota,
	})

	engine := routing.NewEngine(routing.Dependencies{
		Repo:          repo,
		Gateway:       gw,
		Cache:         cache,
		Dispatcher:    dispatcher,
		Quota:         quota,
		Metrics:       metrics,
		Logger:        logger,
		Survey:        flow,
		SupportChatID: cfg.Gateway.SupportChatID,
		DailyQuota:    cfg.Broadcast.DailyQuota,
	})

	alerts := routing.NewAlertService(dispatcher, gw, logger, cfg.Gateway.SupportChatID)
	worker.StartAlertWorker(alerts)

	monitor := sla.NewMonitor(sla.Dependencies{
		Repo:       repo,
		Gateway:    gw,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
		Config:     cfg.SLA,
	})
	go monitor.Run(ctx)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokens)
	adminHash, err := auth.ResolvePasswordHash(cfg.Auth.AdminPasswordHash, cfg.Auth.AdminPassword, cfg.Auth.BcryptCost)
	if err != nil {
		logger.Fatal("admin password hashing failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, rds),
		Webhook:        handlers.NewWebhookHandler(engine, flow, logger, cfg.Gateway.SupportChatID, cfg.Gateway.WebhookSecret),
		Auth:           handlers.NewAuthHandler(tokens, adminHash),
		Admin:          handlers.NewAdminHandler(repo),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
