package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/notifykit/notifykit/internal/config"
	"github.com/notifykit/notifykit/internal/handler"
	"github.com/notifykit/notifykit/internal/infra/postgresql"
	"github.com/notifykit/notifykit/internal/infra/postgresql/migrations"
	infraredis "github.com/notifykit/notifykit/internal/infra/redis"
	"github.com/notifykit/notifykit/internal/observability"
	"github.com/notifykit/notifykit/internal/provider"
	"github.com/notifykit/notifykit/internal/queue"
	"github.com/notifykit/notifykit/internal/repository"
	"github.com/notifykit/notifykit/internal/service"
	"github.com/notifykit/notifykit/internal/template"
	"github.com/notifykit/notifykit/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("worker exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	metrics := observability.NewMetrics()

	templateCache, err := template.NewRedisCache(rdb, cfg.TemplateCacheTTL())
	if err != nil {
		return err
	}
	resolver, err := template.NewResolver(repository.NewGormTemplateRepo(db), templateCache, logger)
	if err != nil {
		return err
	}
	resolver.SetMetrics(metrics)

	emailSender, err := provider.NewSMTPEmailSender(
		cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.EmailFrom,
	)
	if err != nil {
		return err
	}

	telephony, err := provider.NewTelephonyClient(cfg.TelephonyURL, cfg.TelephonyKey, cfg.TelephonyFrom)
	if err != nil {
		return err
	}

	subscribers, err := infraredis.NewSubscriberRegistry(rdb)
	if err != nil {
		return err
	}
	pushSender, err := provider.NewWebPushSender(provider.VAPIDConfig{
		Subscriber: cfg.VAPIDSubscriber,
		PublicKey:  cfg.VAPIDPublicKey,
		PrivateKey: cfg.VAPIDPrivateKey,
	}, subscribers, logger)
	if err != nil {
		return err
	}

	dispatcher, err := service.NewDispatcher(resolver, emailSender, telephony, telephony, pushSender, logger)
	if err != nil {
		return err
	}

	recorder, err := service.NewRecorder(repository.NewGormLogRepo(db), logger)
	if err != nil {
		return err
	}
	recorder.SetMetrics(metrics)

	jobQueue, err := queue.NewRedisQueue(rdb, cfg.MaxJobAttempts, cfg.JobRetention(), logger)
	if err != nil {
		return err
	}

	rateLimiter, err := infraredis.NewRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return err
	}

	worker, err := service.NewWorkerService(
		jobQueue, dispatcher, recorder, rateLimiter, cfg.WorkerConcurrency, logger,
	)
	if err != nil {
		return err
	}
	worker.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())
	handler.RegisterOpsRoutes(app, sqlDB, rdb, metrics.Handler())

	logger.Info("notification worker starting",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("opsPort", cfg.OpsPort),
	)

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Start(groupCtx)
	})
	g.Go(func() error {
		return app.Listen(fmt.Sprintf(":%d", cfg.OpsPort))
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	logger.Info("notification worker stopped")
	return nil
}
