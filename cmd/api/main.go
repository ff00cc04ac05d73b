package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-review/internal/config"
	"github.com/noah-isme/gema-review/internal/database"
	"github.com/noah-isme/gema-review/internal/handler"
	"github.com/noah-isme/gema-review/internal/middleware"
	"github.com/noah-isme/gema-review/internal/repository"
	"github.com/noah-isme/gema-review/internal/router"
	"github.com/noah-isme/gema-review/internal/service"
	"github.com/noah-isme/gema-review/pkg/gradingapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", cfg.AppName).Logger()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	probes := map[string]handler.HealthProbe{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		probes["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
		probes["nats"] = func(context.Context) error {
			if !natsConn.IsConnected() {
				return nats.ErrConnectionClosed
			}
			return nil
		}
	}

	client, err := gradingapi.New(gradingapi.Config{
		BaseURL: cfg.BackendURL,
		Timeout: cfg.BackendTimeout,
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("failed to create grading api client: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New(validator.WithRequiredStructEnabled())

	events := service.NewGradingEventService(redisClient, natsConn, cfg.EventsChannel, logger)
	events.Start(rootCtx)

	strategy, err := service.NewRefreshStrategy(service.RefreshOptions{
		Strategy:        cfg.RefreshStrategy,
		Delay:           cfg.RefreshDelay,
		BackoffInitial:  cfg.RefreshBackoffInitial,
		BackoffMax:      cfg.RefreshBackoffMax,
		BackoffAttempts: cfg.RefreshBackoffAttempts,
		EventTimeout:    cfg.RefreshEventTimeout,
		Events:          events,
		Logger:          logger,
	})
	if err != nil {
		log.Fatalf("failed to configure refresh strategy: %v", err)
	}

	notifications := service.NewNotificationService(redisClient, cfg.EventsChannel, natsConn, validate, logger)
	notifications.Start(rootCtx)

	activity := service.NewActivityService(repository.NewActivityLogRepository(db), validate, logger)

	reviews := service.NewReviewService(service.ReviewServiceConfig{
		Backend:       client,
		Exams:         service.NewCachedExamSource(client, redisClient, cfg.ExamCacheTTL, logger),
		Strategy:      strategy,
		Notifications: notifications,
		Activity:      activity,
		IdleTTL:       cfg.SessionIdleTTL,
		Logger:        logger,
	})
	uploads := service.NewUploadService(service.UploadServiceConfig{
		Uploader:      client,
		Notifications: notifications,
		Activity:      activity,
		MaxSizeMB:     cfg.UploadMaxSizeMB,
		IdleTTL:       cfg.SessionIdleTTL,
		Logger:        logger,
	})
	reviews.Start(rootCtx)
	uploads.Start(rootCtx)

	mutations := middleware.RateLimit("review-mutations", cfg.RateLimitMax, cfg.RateLimitWindow)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.UploadMaxSizeMB*10 + 1) * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AccessLog: cfg.AppEnv == "development"})
	router.Register(app, cfg, router.Dependencies{
		ReviewHandler:       handler.NewReviewHandler(reviews, validate, mutations, logger),
		UploadHandler:       handler.NewUploadHandler(uploads, validate, mutations, logger),
		NotificationHandler: handler.NewNotificationHandler(notifications, logger, cfg.NotificationKeepAlive),
		ActivityHandler:     handler.NewActivityHandler(activity, logger),
		HealthProbes:        probes,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
		MetricsEnabled:      true,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	logger.Info().Str("address", cfg.HTTPAddress()).Str("refresh_strategy", strategy.Name()).Msg("review gateway started")

	<-rootCtx.Done()
	waitForShutdown(app, logger, reviews, uploads)
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger, reviews service.ReviewService, uploads service.UploadService) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reviews.Shutdown()
	uploads.Shutdown()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
