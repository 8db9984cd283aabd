package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/storyforge/api/internal/client"
	"github.com/storyforge/api/internal/config"
	"github.com/storyforge/api/internal/handler"
	"github.com/storyforge/api/internal/middleware"
	"github.com/storyforge/api/internal/pipeline"
	"github.com/storyforge/api/internal/service"
	"github.com/storyforge/api/internal/worker"
	ws "github.com/storyforge/api/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := newLogger(cfg)

	// Redis backs the job and story documents plus the asynq queue.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis not available")
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	validate := validator.New()

	hub := ws.NewHub(log)
	go hub.Run()

	// External providers
	llmClient := client.NewOpenAIClient(&cfg.OpenAI)
	if !llmClient.IsConfigured() {
		log.Warn().Msg("OpenAI API key not configured, generation jobs will fail")
	}
	imageClient := client.NewOpenAIImageClient(&cfg.OpenAI, &cfg.Image)

	// R2 is optional in development; uploads degrade to placeholders.
	var storage client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2, cfg.Pipeline.SignedURLExpiry)
		if err != nil {
			log.Warn().Err(err).Msg("R2 client not initialized, using mock storage")
			storage = client.NewMockStorage()
		} else {
			storage = r2Client
		}
	} else {
		log.Info().Msg("R2 storage not configured, using mock storage")
		storage = client.NewMockStorage()
	}

	storyService := service.NewStoryService(redisClient, asynqClient, cfg.Pipeline)

	orchestrator := pipeline.NewOrchestrator(
		pipeline.NewSafetyGate(llmClient, log),
		pipeline.NewPlanner(llmClient, log),
		pipeline.NewReferenceGenerator(imageClient, storage, cfg.Pipeline.MaxReferenceCharacters, log),
		pipeline.NewPageGenerator(llmClient, cfg.Pipeline.PageRetryLimit, log),
		pipeline.NewIllustrator(imageClient, storage,
			pipeline.NewRetryPolicy(cfg.Pipeline.IllustratorAttempts, cfg.Pipeline.IllustratorBaseDelay), log),
		pipeline.NewValidator(llmClient, log),
		pipeline.NewEnsemble(llmClient, log),
		storyService,
		log,
	)

	storyHandler := handler.NewStoryHandler(storyService, validate)

	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind the gateway auth is already done; trust the X-User-* headers.
		log.Info().Msg("gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		apiAuthMiddleware = middleware.NewAuthMiddleware(cfg.JWT.Secret).Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    5 * 1024 * 1024, // 5MB
	})

	app.Use(recover.New())
	app.Use(requestLogger(log))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		_, mockStorage := storage.(*client.MockStorage)
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"openai": llmClient.IsConfigured(),
				"images": imageClient.IsConfigured(),
				"r2":     !mockStorage,
				"auth":   cfg.Gateway.Enabled || cfg.JWT.Secret != "",
			},
		})
	})

	api := app.Group("/api", apiAuthMiddleware)

	stories := api.Group("/stories")
	stories.Post("/generate", rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour), storyHandler.Generate)
	stories.Get("/status/:jobId", rateLimiter.StatusLimit(cfg.RateLimit.StatusPerMin), storyHandler.Status)
	stories.Get("/result/:jobId", storyHandler.Result)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	go startWorkerServer(cfg, storyService, orchestrator, hub, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func startWorkerServer(
	cfg *config.Config,
	storyService *service.StoryService,
	orchestrator *pipeline.Orchestrator,
	hub *ws.Hub,
	log zerolog.Logger,
) {
	asynqLogLevel := asynq.InfoLevel
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug":
		asynqLogLevel = asynq.DebugLevel
	case "warn":
		asynqLogLevel = asynq.WarnLevel
	case "error":
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"stories": 10,
			},
			// Failed attempts rerun the whole pipeline, so a fixed delay
			// beats exponential growth here.
			RetryDelayFunc: func(n int, e error, t *asynq.Task) time.Duration {
				return cfg.Pipeline.JobRetryDelay
			},
			LogLevel: asynqLogLevel,
		},
	)

	storyWorker := worker.NewStoryWorker(storyService, orchestrator, hub, cfg.Pipeline, log)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeStoryGenerate, storyWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Error().Err(err).Msg("asynq worker error")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Server.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Server.Env == "development" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}

func requestLogger(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Dur("latency", time.Since(start)).
			Msg("request")
		return err
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
