package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/policy-chatbot/backend/internal/evaluation"
	"github.com/policy-chatbot/backend/internal/llm"
	"github.com/policy-chatbot/backend/internal/storage/sqlite"
	"github.com/policy-chatbot/backend/pkg/config"
	appLogger "github.com/policy-chatbot/backend/pkg/logger"
)

// Scores recent exchanges from the audit log and prints a grounding report.
func main() {
	limit := flag.Int("limit", 100, "number of recent exchanges to evaluate")
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

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	llmClient := llm.NewClient(llm.Options{
		APIKey:              cfg.LLM.APIKey,
		Model:               cfg.LLM.Model,
		EmbeddingModel:      cfg.LLM.EmbeddingModel,
		EmbeddingTimeoutSec: cfg.LLM.EmbeddingTimeoutSec,
	})

	evaluator := evaluation.NewEvaluator(sqliteClient, llmClient)

	report, err := evaluator.EvaluateRecent(context.Background(), *limit)
	if err != nil {
		appLogger.Fatal("Evaluation failed", zap.Error(err))
	}

	fmt.Println(evaluator.GenerateReport(report))
}
