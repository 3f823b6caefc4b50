package main

import (
	"context"
	"fmt"
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

	"github.com/noah-isme/gema-speaking-api/internal/audio"
	"github.com/noah-isme/gema-speaking-api/internal/auth"
	"github.com/noah-isme/gema-speaking-api/internal/blobcache"
	"github.com/noah-isme/gema-speaking-api/internal/capture"
	"github.com/noah-isme/gema-speaking-api/internal/config"
	"github.com/noah-isme/gema-speaking-api/internal/database"
	"github.com/noah-isme/gema-speaking-api/internal/handler"
	"github.com/noah-isme/gema-speaking-api/internal/middleware"
	"github.com/noah-isme/gema-speaking-api/internal/models"
	"github.com/noah-isme/gema-speaking-api/internal/repository"
	"github.com/noah-isme/gema-speaking-api/internal/router"
	"github.com/noah-isme/gema-speaking-api/internal/service"
	"github.com/noah-isme/gema-speaking-api/internal/session"
	"github.com/noah-isme/gema-speaking-api/pkg/grading"
	"github.com/noah-isme/gema-speaking-api/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.Assignment{}, &models.Submission{}, &models.UploadRecord{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newStore(ctx, cfg.Storage, logger)
	if err != nil {
		log.Fatalf("failed to create recording store: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	audioValidator := audio.NewValidator(cfg.Audio.MinSizeBytes, logger)
	blobs := blobcache.NewTracker(cfg.Session.BlobCacheTTL, blobcache.DefaultPathPrefix, logger)

	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	uploadRepo := repository.NewUploadRepository(db)

	var grader service.Grader
	if cfg.GradingEndpoint != "" {
		grader = grading.NewClient(grading.Config{
			Endpoint: cfg.GradingEndpoint,
			Token:    cfg.GradingToken,
			Timeout:  cfg.GradingTimeout,
		}, logger)
	} else {
		logger.Warn().Msg("grading endpoint not configured, submissions will not be dispatched")
	}

	uploadService := service.NewRecordingUploadService(audioValidator, store, auth.ContextProvider{}, uploadRepo, logger)
	submissionService := service.NewSubmissionService(submissionRepo, assignmentRepo, uploadService, grader, validate, logger)
	notificationService := service.NewNotificationService(redisClient, cfg.NotificationChannel, natsConn, validate, logger)
	notificationService.Start(ctx)

	var guard session.Guard = session.NewMemoryGuard()
	if redisClient != nil {
		guard = session.NewRedisGuard(redisClient, cfg.Session.CopyGuardPrefix, cfg.Session.CopyGuardTTL)
	}

	reconciler := session.NewReconciler(
		submissionRepo,
		store,
		guard,
		session.NewURLCache(cfg.Session.SignedURLCacheSize, cfg.Session.SignedURLCacheTTL()),
		submissionService,
		blobs,
		notificationService,
		session.Config{
			SignedURLTTL:   cfg.Session.SignedURLTTL,
			Concurrency:    cfg.Session.ResolveConcurrency,
			ResolveTimeout: cfg.Session.ResolveTimeout,
			UploadTimeout:  cfg.Session.UploadTimeout,
		},
		logger,
	)
	registry := session.NewRegistry(reconciler, assignmentRepo, cfg.Session.IdleTTL)

	captureCfg := capture.Config{
		MinDuration:     cfg.Audio.MinDuration,
		Timeslice:       cfg.Audio.Timeslice,
		FinalizeTimeout: cfg.Audio.FinalizeTimeout,
		BitsPerSecond:   cfg.Audio.BitsPerSecond,
		SampleRate:      cfg.Audio.SampleRate,
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    32 * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		AudioHandler:        handler.NewAudioHandler(audioValidator, blobs, validate, logger),
		SessionHandler:      handler.NewSessionHandler(registry, audioValidator, cfg.Session.MaxWait, logger),
		SubmissionHandler:   handler.NewSubmissionHandler(submissionService, logger),
		CaptureHandler:      handler.NewCaptureHandler(audioValidator, blobs, capture.NewLocks(), registry, captureCfg, logger),
		NotificationHandler: handler.NewNotificationHandler(notificationService, logger, cfg.SSEKeepAlive),
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		logger.Info().Str("address", cfg.HTTPAddress()).Str("storage", cfg.Storage.Driver).Msg("speaking api listening")
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(ctx, app, logger)
}

func newStore(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case config.StorageMinio:
		return storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:   cfg.MinioEndpoint,
			AccessKey:  cfg.MinioAccessKey,
			SecretKey:  cfg.MinioSecretKey,
			Bucket:     cfg.Bucket,
			UseSSL:     cfg.MinioUseSSL,
			PublicBase: cfg.PublicBaseURL,
			PathMarker: cfg.PublicPathMarker,
		}, logger)
	case config.StorageS3:
		return storage.NewS3Store(ctx, storage.S3Config{
			Bucket:     cfg.Bucket,
			Region:     cfg.S3Region,
			Endpoint:   cfg.S3Endpoint,
			PublicBase: cfg.PublicBaseURL,
			PathMarker: cfg.PublicPathMarker,
		}, logger)
	case config.StorageCloudinary:
		return storage.NewCloudinaryStore(storage.CloudinaryConfig{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

func waitForShutdown(ctx context.Context, app *fiber.App, logger zerolog.Logger) {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
