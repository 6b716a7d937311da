package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/policy-chatbot/backend/internal/answer"
	"github.com/policy-chatbot/backend/internal/api/handlers"
	cacheredis "github.com/policy-chatbot/backend/internal/cache/redis"
	"github.com/policy-chatbot/backend/internal/chat"
	"github.com/policy-chatbot/backend/internal/llm"
	"github.com/policy-chatbot/backend/internal/metrics"
	"github.com/policy-chatbot/backend/internal/middleware/ratelimit"
	"github.com/policy-chatbot/backend/internal/middleware/security"
	"github.com/policy-chatbot/backend/internal/middleware/validation"
	"github.com/policy-chatbot/backend/internal/retrieval"
	"github.com/policy-chatbot/backend/internal/rewrite"
	"github.com/policy-chatbot/backend/internal/session"
	"github.com/policy-chatbot/backend/internal/storage/sqlite"
	"github.com/policy-chatbot/backend/internal/vector/milvus"
	"github.com/policy-chatbot/backend/pkg/config"
	appLogger "github.com/policy-chatbot/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Policy Chat API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.SectionCollection,
		cfg.Milvus.ChunkCollection,
		cfg.Milvus.VectorDim,
		cfg.Milvus.SearchTimeoutSec,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	err = milvusClient.CreateCollections(context.Background())
	if err != nil {
		appLogger.Fatal("Failed to create collections", zap.Error(err))
	}

	cacheClient, err := cacheredis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Fatal("Failed to create Redis cache client", zap.Error(err))
	}
	defer cacheClient.Close()

	sessionStore, err := session.NewStore(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
		time.Duration(cfg.Session.TTLHours)*time.Hour,
		time.Duration(cfg.Session.StoreTimeoutSec)*time.Second,
	)
	if err != nil {
		appLogger.Fatal("Failed to create session store", zap.Error(err))
	}
	defer sessionStore.Close()

	llmClient := llm.NewClient(llm.Options{
		APIKey:               cfg.LLM.APIKey,
		Model:                cfg.LLM.Model,
		EmbeddingModel:       cfg.LLM.EmbeddingModel,
		Temperature:          cfg.LLM.Temperature,
		MaxTokens:            cfg.LLM.MaxTokens,
		CompletionTimeoutSec: cfg.LLM.CompletionTimeoutSec,
		EmbeddingTimeoutSec:  cfg.LLM.EmbeddingTimeoutSec,
		Cache:                cacheClient,
	})

	rewriter := rewrite.NewRewriter(llmClient, cacheClient)
	coarseRetriever := retrieval.NewCoarseRetriever(llmClient, milvusClient, cfg.Retrieval.CoarseK, cfg.Retrieval.MaxSectionDistance)
	fineRetriever := retrieval.NewFineRetriever(llmClient, milvusClient, cfg.Retrieval.FineN)
	assembler := retrieval.NewAssembler(cfg.Retrieval.ContextBudget)
	synthesizer := answer.NewSynthesizer(llmClient, cfg.Retrieval.SnippetMaxChars)

	orchestrator := chat.NewOrchestrator(
		sessionStore,
		rewriter,
		coarseRetriever,
		fineRetriever,
		assembler,
		synthesizer,
		sqliteClient,
		chat.Config{
			HistoryLimit:   cfg.Session.HistoryLimit,
			RewriterWindow: cfg.Session.RewriterWindow,
			MinQueryTokens: cfg.Retrieval.MinQueryTokens,
		},
	)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	rateLimiter := ratelimit.New(ratelimit.Config{
		Logger: appLogger.GetLogger(),
	})
	defer rateLimiter.Stop()

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, X-Session-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use(rateLimiter.Middleware())
	app.Use(validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	chatHandler := handlers.NewChatHandler(orchestrator)
	wsHandler := handlers.NewWebSocketHandler(orchestrator)

	api := app.Group("/api/v1")

	api.Post("/chat", chatHandler.HandleChat)
	api.Get("/chat/history", chatHandler.GetHistory)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
