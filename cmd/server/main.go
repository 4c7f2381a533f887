package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jangxam/api/internal/client"
	"github.com/jangxam/api/internal/config"
	"github.com/jangxam/api/internal/handler"
	"github.com/jangxam/api/internal/logger"
	"github.com/jangxam/api/internal/middleware"
	"github.com/jangxam/api/internal/repository"
	"github.com/jangxam/api/internal/service"
	"github.com/jangxam/api/internal/worker"
	ws "github.com/jangxam/api/internal/websocket"
)

// @title          Jangxam API
// @version        1.0
// @description    Image generation and lesson planning backend.
// @host           localhost:8000
// @BasePath       /
// @schemes        http https
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New(cfg.Server.Env, cfg.Server.LogLevel)

	// Initialize Redis client
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis not available")
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub(log)
	go hub.Run()

	// Initialize external clients
	replicateClient := client.NewReplicateClient(&cfg.Replicate, log)
	geminiClient := client.NewGeminiClient(&cfg.Gemini, log)

	// Initialize R2 client (optional - images keep their remote URLs if not configured)
	var storage client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2, log)
		if err != nil {
			log.Warn().Err(err).Msg("R2 client not initialized")
		} else {
			storage = r2Client
		}
	} else {
		log.Info().Msg("R2 storage not configured, images are not mirrored")
	}

	// Initialize services
	generations := repository.NewRedisRepository(redisClient)
	generationService := service.NewGenerationService(generations, asynqClient, cfg.Replicate.APIToken, cfg.Replicate.Timeout, log)
	assetService := service.NewAssetService(storage, log)
	lessonService := service.NewLessonService(geminiClient, log)

	// Initialize handlers
	generationHandler := handler.NewGenerationHandler(generationService, validate)
	lessonHandler := handler.NewLessonHandler(lessonService, validate)

	rateLimiter := middleware.NewRateLimiter(redisClient, log)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if log.GetLevel() <= zerolog.DebugLevel {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
		log.Debug().Msg("debug logging enabled")
	}
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept," + handler.HeaderReplicateToken + "," + handler.HeaderGeminiKey,
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"replicate": cfg.Replicate.APIToken != "",
				"gemini":    geminiClient.IsConfigured(),
				"r2":        assetService.Enabled(),
				"redis":     redisClient.Ping(c.UserContext()).Err() == nil,
			},
		})
	})

	api := app.Group("/api")

	// Image routes
	images := api.Group("/images")
	images.Post("/generate", rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour), generationHandler.Generate)
	images.Get("/pending", generationHandler.Pending)
	images.Get("/gallery", generationHandler.Gallery)
	images.Get("/:jobId", generationHandler.Get)
	images.Post("/:jobId/cancel", generationHandler.Cancel)

	// Lesson routes
	lessons := api.Group("/lessons", rateLimiter.LessonLimit(cfg.RateLimit.LessonsPerMin))
	lessons.Post("/generate", lessonHandler.Generate)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/images/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Start Asynq worker server
	generationWorker := worker.NewGenerationWorker(generationService, replicateClient, assetService, hub, cfg.Replicate.PollInterval, cfg.Replicate.Timeout, log)
	srv := newWorkerServer(cfg, redisOpt, log)
	go func() {
		mux := asynq.NewServeMux()
		mux.HandleFunc(service.TaskTypeGenerateImage, generationWorker.ProcessTask)
		if err := srv.Run(mux); err != nil {
			log.Error().Err(err).Msg("asynq worker error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
		srv.Shutdown()
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func newWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, log zerolog.Logger) *asynq.Server {
	return asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				service.QueueGeneration: 1,
			},
			// Generations stop polling on their own deadline; give them time to settle.
			ShutdownTimeout: 15 * time.Second,
			Logger:          logger.NewAsynqLogger(log),
			LogLevel:        logger.AsynqLevel(cfg.Server.LogLevel),
		},
	)
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
