package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	cacheredis "github.com/policy-chatbot/backend/internal/cache/redis"
	"github.com/policy-chatbot/backend/internal/ingestion"
	"github.com/policy-chatbot/backend/internal/llm"
	"github.com/policy-chatbot/backend/internal/storage/sqlite"
	"github.com/policy-chatbot/backend/internal/vector/milvus"
	"github.com/policy-chatbot/backend/pkg/config"
	appLogger "github.com/policy-chatbot/backend/pkg/logger"
)

// Offline corpus loader: walks a directory of HTML policy documents and
// indexes each one into SQLite and Milvus.
func main() {
	dir := flag.String("dir", "./corpus", "directory of HTML policy documents")
	flag.Parse()

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

	appLogger.Info("Starting corpus ingestion", zap.String("dir", *dir))

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

	ctx := context.Background()

	err = milvusClient.CreateCollections(ctx)
	if err != nil {
		appLogger.Fatal("Failed to create collections", zap.Error(err))
	}

	cacheClient, err := cacheredis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Warn("Redis unavailable, continuing without embedding cache", zap.Error(err))
		cacheClient = nil
	} else {
		defer cacheClient.Close()
	}

	llmClient := llm.NewClient(llm.Options{
		APIKey:              cfg.LLM.APIKey,
		Model:               cfg.LLM.Model,
		EmbeddingModel:      cfg.LLM.EmbeddingModel,
		EmbeddingTimeoutSec: cfg.LLM.EmbeddingTimeoutSec,
		Cache:               cacheClient,
	})

	processor := ingestion.NewProcessor(sqliteClient, milvusClient, llmClient)

	processed := 0
	failed := 0

	err = filepath.Walk(*dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".html" && ext != ".htm" {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			appLogger.Error("Failed to read file", zap.String("path", path), zap.Error(err))
			failed++
			return nil
		}

		if err := processor.ProcessDocument(ctx, filepath.Base(path), string(content)); err != nil {
			appLogger.Error("Failed to process document", zap.String("path", path), zap.Error(err))
			failed++
			return nil
		}

		processed++
		return nil
	})
	if err != nil {
		appLogger.Fatal("Failed to walk corpus directory", zap.Error(err))
	}

	total, err := sqliteClient.CountChunks()
	if err != nil {
		appLogger.Warn("Failed to count chunks", zap.Error(err))
	}

	appLogger.Info("Ingestion finished",
		zap.Int("processed", processed),
		zap.Int("failed", failed),
		zap.Int("total_chunks", total),
	)
}
