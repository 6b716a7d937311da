package answer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/policy-chatbot/backend/internal/llm"
	"github.com/policy-chatbot/backend/internal/retrieval"
	"github.com/policy-chatbot/backend/internal/storage/models"
	"github.com/policy-chatbot/backend/pkg/logger"
)

// AbstentionText is returned verbatim when retrieval produced nothing. No
// model call is made on this path.
const AbstentionText = "I don't have information on that in the policy documents."

const systemPrompt = `You are a policy assistant.
Your goal is to help users find information in institutional policy documents.
You must answer using ONLY the provided context snippets.
If the context does not contain enough information, say you don't have enough
information from the documents. Do NOT guess or invent policy details.

When you use information from a snippet, cite it in brackets as
[file_name#chunk_part]. Example: "... per the policy ..." [parental_leave_policy#12]

Be concise and helpful.`

// Matches citation tokens like [leave_policy.pdf#3] in generated text.
var citationPattern = regexp.MustCompile(`\[([^\[\]#\s]+)#(\d+)\]`)

type CompletionClient interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

type Answer struct {
	Text      string
	Citations []models.Citation
}

// Synthesizer generates a grounded answer from an assembled context bundle.
type Synthesizer struct {
	llmClient       CompletionClient
	snippetMaxChars int
	retryBackoff    time.Duration
}

func NewSynthesizer(llmClient CompletionClient, snippetMaxChars int) *Synthesizer {
	return &Synthesizer{
		llmClient:       llmClient,
		snippetMaxChars: snippetMaxChars,
		retryBackoff:    500 * time.Millisecond,
	}
}

func (s *Synthesizer) Synthesize(ctx context.Context, query string, bundle retrieval.ContextBundle, history []models.Turn) (*Answer, error) {
	if bundle.Abstain {
		logger.Info("Abstaining, no grounding context available")
		return &Answer{
			Text:      AbstentionText,
			Citations: []models.Citation{},
		}, nil
	}

	contextBlock := s.buildContext(bundle)

	userPrompt := fmt.Sprintf(
		"Answer the question using ONLY the context below.\n"+
			"If the context is insufficient, say you don't have enough information from the documents.\n"+
			"Cite sources like [file_name#chunk_part].\n\n"+
			"=== CONTEXT ===\n%s\n\n"+
			"=== QUESTION ===\n%s",
		contextBlock, query,
	)

	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		History:      historyMessages(history, query),
		UserPrompt:   userPrompt,
		Temperature:  0.2,
	}

	resp, err := s.llmClient.Complete(ctx, req)
	if err != nil {
		logger.Warn("Synthesis failed, retrying once", zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.retryBackoff):
		}

		resp, err = s.llmClient.Complete(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("synthesis failed after retry: %w", err)
		}
	}

	text := strings.TrimSpace(resp.Content)
	citations := citedSubset(text, bundle)

	logger.Info("Answer synthesized",
		zap.Int("context_chunks", len(bundle.Items)),
		zap.Int("citations", len(citations)),
		zap.Int("answer_length", len(text)),
	)

	return &Answer{
		Text:      text,
		Citations: citations,
	}, nil
}

// buildContext labels every snippet with the citation token the model is told
// to reference.
func (s *Synthesizer) buildContext(bundle retrieval.ContextBundle) string {
	var b strings.Builder
	for i, item := range bundle.Items {
		token := citationToken(item.Citation)
		b.WriteString(fmt.Sprintf("[%d] (%s)\n%s\n\n", i+1, token, s.snippet(item.Chunk.Text)))
	}
	return strings.TrimSpace(b.String())
}

func (s *Synthesizer) snippet(text string) string {
	text = strings.TrimSpace(text)
	if s.snippetMaxChars <= 0 || len(text) <= s.snippetMaxChars {
		return text
	}

	// Walk back to a rune boundary so the cut never splits a multi-byte
	// character.
	cut := s.snippetMaxChars - 3
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return strings.TrimRight(text[:cut], " ") + "..."
}

// citationToken produces the token the model is told to cite. Whitespace in
// file names is collapsed to underscores so the token stays matchable by
// citationPattern.
func citationToken(c models.Citation) string {
	name := strings.Join(strings.Fields(c.FileName), "_")
	return fmt.Sprintf("%s#%d", name, c.ChunkPart)
}

// citedSubset intersects the bundle's citations with the tokens the model
// actually referenced. Citations for unused chunks are dropped.
func citedSubset(text string, bundle retrieval.ContextBundle) []models.Citation {
	referenced := make(map[string]bool)
	for _, match := range citationPattern.FindAllStringSubmatch(text, -1) {
		referenced[match[1]+"#"+match[2]] = true
	}

	citations := make([]models.Citation, 0, len(bundle.Items))
	for _, item := range bundle.Items {
		if referenced[citationToken(item.Citation)] {
			citations = append(citations, item.Citation)
		}
	}

	return citations
}

// historyMessages converts recent turns into chat messages, dropping a
// trailing user turn that duplicates the current query.
func historyMessages(history []models.Turn, query string) []llm.Message {
	messages := make([]llm.Message, 0, len(history))
	for _, turn := range history {
		messages = append(messages, llm.Message{
			Role:    turn.Role,
			Content: turn.Text,
		})
	}

	if n := len(messages); n > 0 &&
		messages[n-1].Role == models.RoleUser &&
		strings.TrimSpace(messages[n-1].Content) == strings.TrimSpace(query) {
		messages = messages[:n-1]
	}

	return messages
}
