package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/jamiejackherer/cerberus-core/internal/api/http"
	"github.com/jamiejackherer/cerberus-core/internal/api/http/handlers"
	"github.com/jamiejackherer/cerberus-core/internal/audit"
	"github.com/jamiejackherer/cerberus-core/internal/config"
	"github.com/jamiejackherer/cerberus-core/internal/domain"
	"github.com/jamiejackherer/cerberus-core/internal/events"
	"github.com/jamiejackherer/cerberus-core/internal/lifecycle"
	"github.com/jamiejackherer/cerberus-core/internal/mailer"
	"github.com/jamiejackherer/cerberus-core/internal/observability"
	"github.com/jamiejackherer/cerberus-core/internal/persistence"
	"github.com/jamiejackherer/cerberus-core/internal/phishing"
	"github.com/jamiejackherer/cerberus-core/internal/policy"
	"github.com/jamiejackherer/cerberus-core/internal/repository"
	"github.com/jamiejackherer/cerberus-core/internal/rules"
	"github.com/jamiejackherer/cerberus-core/internal/schedule"
	"github.com/jamiejackherer/cerberus-core/internal/worker"
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

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	ticketRepo := repository.NewTicketRepository(pool)
	reportRepo := repository.NewReportRepository(pool)
	jobRepo := repository.NewJobRepository(pool)
	historyRepo := repository.NewHistoryRepository(pool)
	operatorRepo := repository.NewOperatorRepository(pool)
	providerRepo := repository.NewProviderRepository(pool)
	tagRepo := repository.NewTagRepository(pool)
	commentRepo := repository.NewCommentRepository(pool)
	ruleRepo := repository.NewRuleRepository(pool)

	scheduler := schedule.NewRedisScheduler(redis.Client, logger)
	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	auditLog := audit.NewHistoryLog(historyRepo, logger)
	smtpMailer := mailer.NewSMTPMailer(cfg.Mailer, logger)
	checker := phishing.NewHTTPChecker(cfg.Worker.PhishingProbeTimeout(), logger)
	engine := rules.NewEngine(logger)
	ruleEnv := lifecycle.NewReportRuleEnvironment(checker, logger)

	// component-type table for timeout remediation
	timeoutPolicy := policy.NewStaticPolicy(map[string]domain.Action{
		"vps":       {ID: "vps_block", Name: "block VPS", Module: "vps", Level: "block"},
		"dedicated": {ID: "dedicated_block", Name: "block dedicated server", Module: "dedicated", Level: "block"},
		"hosting":   {ID: "hosting_block", Name: "suspend hosting", Module: "hosting", Level: "suspend"},
	})

	controller := lifecycle.NewController(lifecycle.Dependencies{
		Tickets:    ticketRepo,
		Reports:    reportRepo,
		Jobs:       jobRepo,
		History:    historyRepo,
		Operators:  operatorRepo,
		Providers:  providerRepo,
		Tags:       tagRepo,
		Comments:   commentRepo,
		Rules:      ruleRepo,
		Scheduler:  scheduler,
		Policy:     timeoutPolicy,
		Mailer:     smtpMailer,
		Audit:      auditLog,
		Phishing:   checker,
		Engine:     engine,
		RuleEnv:    ruleEnv,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
	})

	registry := worker.NewRegistry()
	actionService := worker.NewLoggingActionService(logger)
	if err := worker.RegisterLifecycleHandlers(registry, controller, actionService); err != nil {
		logger.Fatal("failed to register job handlers", zap.Error(err))
	}
	runner := worker.NewRunner(scheduler, registry, logger,
		cfg.Worker.RunnerPollInterval(), cfg.Worker.RunnerConcurrency)
	go func() {
		if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("job runner stopped", zap.Error(err))
		}
	}()

	sweeps, err := worker.NewSweepManager(logger)
	if err != nil {
		logger.Fatal("failed to init sweep manager", zap.Error(err))
	}
	if err := sweeps.RegisterLifecycleSweeps(controller, cfg.Worker); err != nil {
		logger.Fatal("failed to register sweeps", zap.Error(err))
	}
	sweeps.Start()
	defer func() {
		if err := sweeps.Stop(); err != nil {
			logger.Error("sweep shutdown", zap.Error(err))
		}
	}()

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, 30*time.Second)

	healthHandler := handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis)
	opsHandler := handlers.NewOpsHandler(metrics, scheduler, sweeps)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: healthHandler,
		Ops:    opsHandler,
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
