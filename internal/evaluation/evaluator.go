package evaluation

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/policy-chatbot/backend/internal/chat"
	"github.com/policy-chatbot/backend/internal/llm"
	"github.com/policy-chatbot/backend/internal/storage/models"
	"github.com/policy-chatbot/backend/internal/storage/sqlite"
	"github.com/policy-chatbot/backend/pkg/logger"
)

// Evaluator scores past exchanges from the audit log. Grounding is measured
// as embedding similarity between the answer and the chunks it cited, so a
// high score means the answer stayed close to the retrieved policy text.
type Evaluator struct {
	db        *sqlite.Client
	llmClient *llm.Client
}

type Report struct {
	TotalExchanges         int
	AnswerCount            int
	AbstainCount           int
	ClarifyCount           int
	UnpersistedCount       int
	AbstentionRate         float64
	AvgCitationsPerAnswer  float64
	AvgGroundingSimilarity float64
	AvgLatencyMS           float64
	UncitedAnswerCount     int
}

func NewEvaluator(db *sqlite.Client, llmClient *llm.Client) *Evaluator {
	return &Evaluator{
		db:        db,
		llmClient: llmClient,
	}
}

// EvaluateRecent scores the most recent limit exchanges.
func (e *Evaluator) EvaluateRecent(ctx context.Context, limit int) (*Report, error) {
	records, err := e.db.ListChatRecords(limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat records: %w", err)
	}

	logger.Info("Evaluating exchanges", zap.Int("count", len(records)))

	report := &Report{
		TotalExchanges: len(records),
	}

	var totalCitations int
	var totalSimilarity float64
	var similarityCount int
	var totalLatency float64

	for _, record := range records {
		totalLatency += float64(record.LatencyMS)
		if !record.Persisted {
			report.UnpersistedCount++
		}

		switch record.Route {
		case chat.RouteAbstain:
			report.AbstainCount++
			continue
		case chat.RouteClarify:
			report.ClarifyCount++
			continue
		}

		report.AnswerCount++

		sources, err := e.db.GetChatSources(record.ID)
		if err != nil {
			logger.Warn("Failed to load chat sources", zap.String("chat_id", record.ID), zap.Error(err))
			continue
		}

		totalCitations += len(sources)
		if len(sources) == 0 {
			report.UncitedAnswerCount++
			continue
		}

		similarity, err := e.groundingSimilarity(ctx, record.Answer, sources)
		if err != nil {
			logger.Warn("Failed to score grounding", zap.String("chat_id", record.ID), zap.Error(err))
			continue
		}

		totalSimilarity += similarity
		similarityCount++
	}

	if report.TotalExchanges > 0 {
		report.AbstentionRate = float64(report.AbstainCount) / float64(report.TotalExchanges)
		report.AvgLatencyMS = totalLatency / float64(report.TotalExchanges)
	}
	if report.AnswerCount > 0 {
		report.AvgCitationsPerAnswer = float64(totalCitations) / float64(report.AnswerCount)
	}
	if similarityCount > 0 {
		report.AvgGroundingSimilarity = totalSimilarity / float64(similarityCount)
	}

	logger.Info("Evaluation completed",
		zap.Int("total", report.TotalExchanges),
		zap.Int("answers", report.AnswerCount),
		zap.Int("abstentions", report.AbstainCount),
		zap.Float64("avg_grounding", report.AvgGroundingSimilarity),
	)

	return report, nil
}

// groundingSimilarity embeds the answer and the concatenated cited chunk
// texts, then compares them. Cited chunks are looked up from the metadata
// store by id.
func (e *Evaluator) groundingSimilarity(ctx context.Context, answer string, sources []models.ChatSource) (float64, error) {
	var contextText strings.Builder
	for _, source := range sources {
		chunk, err := e.db.GetChunk(source.ChunkID)
		if err != nil {
			logger.Warn("Cited chunk missing from metadata store", zap.String("chunk_id", source.ChunkID))
			continue
		}
		if contextText.Len() > 0 {
			contextText.WriteString("\n")
		}
		contextText.WriteString(chunk.Text)
	}

	if contextText.Len() == 0 {
		return 0, fmt.Errorf("no cited chunk text available")
	}

	answerEmbedding, err := e.llmClient.GenerateEmbedding(ctx, answer)
	if err != nil {
		return 0, err
	}

	contextEmbedding, err := e.llmClient.GenerateEmbedding(ctx, contextText.String())
	if err != nil {
		return 0, err
	}

	return cosineSimilarity(answerEmbedding, contextEmbedding), nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

func (e *Evaluator) GenerateReport(report *Report) string {
	return fmt.Sprintf(`
Retrieval Engine Evaluation
===========================

Total Exchanges: %d

Routes:
- Answered: %d
- Abstained: %d (%.1f%% abstention rate)
- Clarified: %d

Grounding:
- Avg citations per answer: %.2f
- Answers with no citations: %d
- Avg answer-to-context similarity: %.3f

Reliability:
- Unpersisted exchanges: %d
- Avg latency: %.0f ms
`,
		report.TotalExchanges,
		report.AnswerCount,
		report.AbstainCount, report.AbstentionRate*100,
		report.ClarifyCount,
		report.AvgCitationsPerAnswer,
		report.UncitedAnswerCount,
		report.AvgGroundingSimilarity,
		report.UnpersistedCount,
		report.AvgLatencyMS,
	)
}
