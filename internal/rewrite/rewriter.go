package rewrite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/policy-chatbot/backend/internal/cache/redis"
	"github.com/policy-chatbot/backend/internal/llm"
	"github.com/policy-chatbot/backend/internal/storage/models"
	"github.com/policy-chatbot/backend/pkg/logger"
	"github.com/policy-chatbot/backend/pkg/utils"
)

const rewriteCacheTTL = time.Hour

const rewritePrompt = `You are a query rewriting assistant for a policy document search system.
Rewrite the latest user message into a single self-contained question, resolving
pronouns and references ("it", "that", "what about...") against the conversation.

Conversation:
%s

Latest user message: "%s"

Instructions:
1. If the message already stands on its own, return it unchanged.
2. Otherwise produce one standalone question that preserves the user's intent and wording.
3. Output ONLY the rewritten question. No quotes, no explanation.`

type CompletionClient interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// Rewriter turns the latest user message plus recent turns into a standalone
// query. It never fails a request: any trouble degrades to the identity
// rewrite.
type Rewriter struct {
	llmClient CompletionClient
	cache     *redis.Client
}

func NewRewriter(llmClient CompletionClient, cache *redis.Client) *Rewriter {
	return &Rewriter{
		llmClient: llmClient,
		cache:     cache,
	}
}

func (r *Rewriter) Rewrite(ctx context.Context, history []models.Turn, latest string) string {
	latest = strings.TrimSpace(latest)

	// Identity rewrite: nothing to resolve against.
	if len(history) == 0 {
		return latest
	}

	transcript := formatHistory(history)
	cacheKey := utils.HashString(transcript + "\x00" + latest)

	if r.cache != nil {
		cached, found, err := r.cache.GetRewrite(ctx, cacheKey)
		if err != nil {
			logger.Warn("Rewrite cache read failed", zap.Error(err))
		} else if found {
			return cached
		}
	}

	resp, err := r.llmClient.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "You rewrite conversational questions into standalone search queries.",
		UserPrompt:   fmt.Sprintf(rewritePrompt, transcript, latest),
		Temperature:  0.1,
		MaxTokens:    200,
	})
	if err != nil {
		logger.Warn("Query rewrite failed, using original message", zap.Error(err))
		return latest
	}

	rewritten := strings.TrimSpace(strings.Trim(strings.TrimSpace(resp.Content), `"`))
	if rewritten == "" {
		return latest
	}

	if r.cache != nil {
		if err := r.cache.SetRewrite(ctx, cacheKey, rewritten, rewriteCacheTTL); err != nil {
			logger.Warn("Rewrite cache write failed", zap.Error(err))
		}
	}

	logger.Debug("Query rewritten",
		zap.String("original", latest),
		zap.String("rewritten", rewritten),
	)

	return rewritten
}

func formatHistory(history []models.Turn) string {
	var b strings.Builder
	for _, turn := range history {
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Text)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
