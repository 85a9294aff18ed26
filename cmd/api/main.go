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
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-feedback-api/internal/config"
	"github.com/noah-isme/gema-feedback-api/internal/database"
	"github.com/noah-isme/gema-feedback-api/internal/handler"
	"github.com/noah-isme/gema-feedback-api/internal/middleware"
	"github.com/noah-isme/gema-feedback-api/internal/observability"
	"github.com/noah-isme/gema-feedback-api/internal/repository"
	"github.com/noah-isme/gema-feedback-api/internal/router"
	"github.com/noah-isme/gema-feedback-api/internal/service"
	"github.com/noah-isme/gema-feedback-api/internal/submission"
	"github.com/noah-isme/gema-feedback-api/pkg/ai"
	cloud "github.com/noah-isme/gema-feedback-api/pkg/cloudinary"
	"github.com/noah-isme/gema-feedback-api/pkg/docker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv, cfg.AppRelease)
	if err != nil {
		logger.Warn().Err(err).Msg("sentry disabled")
	}
	defer flush()

	db, err := database.ConnectPostgres(cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(context.Background(), cfg.RedisURL, cfg.AppName)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NatsURL, cfg.AppName)
	if err != nil {
		logger.Warn().Err(err).Msg("nats unavailable; draft events go to redis only")
	}
	if natsConn != nil {
		defer natsConn.Drain()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	assignmentRepo := repository.NewAssignmentRepository(db)
	draftRepo := repository.NewDraftRepository(db)
	runRepo := repository.NewModelRunRepository(db)
	feedbackRepo := repository.NewFeedbackRepository(db)
	typeRepo := repository.NewSubmissionTypeRepository(db)

	seedService := service.NewSeedService(typeRepo, cfg.SeedEnabled, cfg.SeedToken, logger)
	if _, err := seedService.SeedDefaults(context.Background()); err != nil {
		log.Fatalf("failed to install default submission types: %v", err)
	}

	providers := buildProviders(cfg, logger)
	transcribers := buildTranscribers(cfg, logger)

	deps := submission.Deps{Transcribers: transcribers, Logger: logger}
	sandbox, err := docker.NewSandbox(docker.Config{
		Host:          cfg.DockerHost,
		Timeout:       cfg.ExecutionTimeout,
		MemoryLimitMB: int64(cfg.CodeRunMemoryMB),
		CPUShares:     int64(cfg.CodeRunCPUShares),
		Logger:        logger,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("docker sandbox unavailable; code runs are not executed")
	} else {
		deps.Sandbox = sandbox
		defer sandbox.Close()
	}

	types, err := typeRepo.ListActive(context.Background())
	if err != nil {
		log.Fatalf("failed to load submission types: %v", err)
	}
	registry, err := submission.NewRegistry(types, deps)
	if err != nil {
		log.Fatalf("failed to build submission registry: %v", err)
	}

	var files service.FileStore
	store, err := cloud.New(cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
	}, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("cloudinary disabled; stored originals are not removed on release")
	} else {
		files = store
	}

	pipeline := service.NewPipeline(service.PipelineDeps{
		Assignments: assignmentRepo,
		Drafts:      draftRepo,
		Runs:        runRepo,
		Feedback:    feedbackRepo,
		Registry:    registry,
		Providers:   providers,
		Files:       files,
		Events:      service.NewDraftEventPublisher(redisClient, natsConn, cfg.Evaluation.EventChannel, logger),
		Cache:       service.NewStatusCache(redisClient, cfg.Evaluation.StatusCacheTTL, logger),
		Validator:   validate,
	}, service.PipelineConfig{
		Orchestrator: service.OrchestratorConfig{
			Workers:      cfg.Evaluation.Workers,
			RunTimeout:   cfg.Evaluation.RunTimeout,
			DraftCeiling: cfg.Evaluation.DraftCeiling,
		},
		SweepGrace: cfg.Evaluation.SweepGrace,
	}, logger)

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	if err := pipeline.Sweeper.Sweep(sweepCtx); err != nil {
		logger.Error().Err(err).Msg("initial draft sweep failed")
	}
	pipeline.Sweeper.Start(sweepCtx, cfg.Evaluation.SweepInterval)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{
		Logger:         &logger,
		MetricsPrefix:  "/api/v2/evaluation",
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})
	router.Register(app, cfg, router.Dependencies{
		DraftHandler:  handler.NewDraftHandler(pipeline.Drafts, logger),
		SeedHandler:   handler.NewSeedHandler(seedService, logger),
		JWTMiddleware: middleware.JWTProtected(cfg.JWTSecret),
		HealthProbes: map[string]handler.Probe{
			"database": databaseProbe(db),
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
		Logger: logger,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, func() {
		stopSweeper()
		// Let in-flight runs settle so their drafts finalize before the process exits.
		pipeline.Orchestrator.Wait()
	})
}

func buildProviders(cfg config.Config, logger zerolog.Logger) ai.Providers {
	providers := ai.Providers{}
	if cfg.OpenAIAPIKey != "" {
		for _, model := range cfg.OpenAIModels {
			client, err := ai.NewOpenAIClient(ai.OpenAIConfig{
				APIKey:    cfg.OpenAIAPIKey,
				BaseURL:   cfg.OpenAIBaseURL,
				Model:     model,
				MaxTokens: cfg.ModelMaxTokens,
				Logger:    logger,
			})
			if err != nil {
				logger.Warn().Err(err).Str("model", model).Msg("openai model not registered")
				continue
			}
			providers[model] = client
		}
	}
	if cfg.AnthropicAPIKey != "" {
		for _, model := range cfg.AnthropicModels {
			client, err := ai.NewAnthropicClient(ai.AnthropicConfig{
				APIKey:    cfg.AnthropicAPIKey,
				Model:     model,
				MaxTokens: cfg.ModelMaxTokens,
				Logger:    logger,
			})
			if err != nil {
				logger.Warn().Err(err).Str("model", model).Msg("anthropic model not registered")
				continue
			}
			providers[model] = client
		}
	}
	if len(providers) == 0 {
		logger.Warn().Msg("no model provider configured; every run will fail")
	} else {
		logger.Info().Strs("models", providers.Names()).Msg("model providers registered")
	}
	return providers
}

func buildTranscribers(cfg config.Config, logger zerolog.Logger) ai.Providers {
	transcribers := ai.Providers{}
	if cfg.OpenAIAPIKey == "" || cfg.TranscriptionModel == "" {
		return transcribers
	}
	client, err := ai.NewTranscriptionClient(ai.TranscriptionConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.TranscriptionModel,
		Logger:  logger,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("transcription disabled")
		return transcribers
	}
	transcribers[cfg.TranscriptionModel] = client
	return transcribers
}

func databaseProbe(db *gorm.DB) handler.Probe {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}

func waitForShutdown(app *fiber.App, drain func()) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	drain()
	log.Println("server stopped")
}
