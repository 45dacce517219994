package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/config"
	"github.com/noah-isme/gema-grading-api/internal/database"
	"github.com/noah-isme/gema-grading-api/internal/handler"
	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/observability"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/internal/router"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/internal/storage"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
	cloud "github.com/noah-isme/gema-grading-api/pkg/cloudinary"
	"github.com/noah-isme/gema-grading-api/pkg/extract"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger = logger.With().Str("service", cfg.AppName).Str("env", cfg.AppEnv).Logger()

	observability.RegisterMetrics()

	db, err := database.ConnectPostgres(cfg.DatabaseURL, database.PoolConfig{
		MaxOpen:     cfg.GradingWorkers*2 + 10,
		MaxIdle:     cfg.GradingWorkers + 2,
		MaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	if err := db.AutoMigrate(&models.Assignment{}, &models.Submission{}, &models.TeacherGradingStat{}); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	ctx := context.Background()

	var counter repository.GradingCounter
	if cfg.RedisURL != "" {
		redisClient, err := database.ConnectRedis(ctx, cfg.RedisURL, 5*time.Second)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		counter = repository.NewRedisGradingCounter(redisClient)
	} else {
		logger.Warn().Msg("redis not configured, grading counters stored in database")
		counter = repository.NewSQLGradingCounter(db)
	}

	chatModel, closeChat, err := buildModel(ctx, cfg, cfg.AIProvider, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("provider", cfg.AIProvider).Msg("failed to create grading model")
	}
	defer closeChat()

	transcriber := chatModel
	if cfg.AIVisionProvider != cfg.AIProvider {
		vision, closeVision, err := buildModel(ctx, cfg, cfg.AIVisionProvider, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("provider", cfg.AIVisionProvider).Msg("failed to create vision model")
		}
		defer closeVision()
		transcriber = vision
	}

	uploader := buildUploader(cfg, logger)

	var events service.GradingEventPublisher
	if cfg.NATSURL != "" {
		conn, err := nats.Connect(cfg.NATSURL, nats.Name(cfg.AppName))
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, grading events disabled")
		} else {
			defer conn.Drain()
			events = service.NewNATSGradingPublisher(conn, cfg.NATSSubject)
		}
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	extractor := extract.New(transcriber, extract.Config{
		FetchTimeout: cfg.ExtractFetchTimeout,
		MaxBytes:     int64(cfg.ExtractMaxDocumentMB) * 1024 * 1024,
	}, logger)

	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)

	pipeline := service.NewGradingPipeline(submissionRepo, counter, extractor, chatModel, events, cfg.GradingTaskTimeout, logger)
	batchService := service.NewBatchGradingService(assignmentRepo, submissionRepo, pipeline, service.BatchGradingConfig{
		Workers:      cfg.GradingWorkers,
		BatchTimeout: cfg.GradingBatchTimeout,
	}, logger)
	if _, err := batchService.RecoverStale(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to release stale grading submissions")
	}
	gradingService := service.NewGradingService(assignmentRepo, submissionRepo, counter, pipeline, validate, logger)
	assignmentService := service.NewAssignmentService(assignmentRepo, validate, logger)
	submissionService := service.NewSubmissionService(submissionRepo, assignmentRepo, validate, uploader, logger)
	rubricService := service.NewRubricService(assignmentRepo, extractor, chatModel, uploader, validate, service.RubricConfig{
		AllowedHosts: cfg.RubricAllowedHosts,
	}, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.ExtractMaxDocumentMB + 1) * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AccessLog: cfg.AppEnv == "development"})
	router.Register(app, cfg, router.Dependencies{
		AssignmentHandler: handler.NewAssignmentHandler(assignmentService, validate, logger),
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, validate, logger),
		RubricHandler:     handler.NewRubricHandler(rubricService, logger),
		GradingHandler:    handler.NewGradingHandler(gradingService, batchService, logger),
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(app, batchService, logger)
}

type model interface {
	ai.ChatModel
	ai.Transcriber
}

func buildModel(ctx context.Context, cfg config.Config, provider string, logger zerolog.Logger) (model, func(), error) {
	switch provider {
	case "gemini":
		gemini, err := ai.NewGeminiModel(ctx, ai.GeminiConfig{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
			Logger: logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return gemini, func() { _ = gemini.Close() }, nil
	default:
		openAI, err := ai.NewOpenAIModel(ai.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
			Logger: logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return openAI, func() {}, nil
	}
}

func buildUploader(cfg config.Config, logger zerolog.Logger) service.FileUploader {
	cloudCfg := cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}
	if cloudCfg.Configured() {
		uploader, err := cloud.New(cloudCfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create cloudinary client")
		}
		return uploader
	}

	logger.Warn().Msg("cloudinary not configured, storing submission documents on local disk")
	store, err := storage.NewLocalStore("uploads", logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare local document store")
	}
	return store
}

func waitForShutdown(app *fiber.App, batch service.BatchGradingService, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	// In-flight batches get their own window to settle every claimed submission.
	batchCtx, batchCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer batchCancel()

	if err := batch.Shutdown(batchCtx); err != nil {
		logger.Error().Err(err).Msg("grading batches did not settle before shutdown")
	}

	logger.Info().Msg("server stopped")
}
