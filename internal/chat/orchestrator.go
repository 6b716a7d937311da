package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/policy-chatbot/backend/internal/answer"
	"github.com/policy-chatbot/backend/internal/metrics"
	"github.com/policy-chatbot/backend/internal/retrieval"
	"github.com/policy-chatbot/backend/internal/session"
	"github.com/policy-chatbot/backend/internal/storage/models"
	"github.com/policy-chatbot/backend/pkg/logger"
)

// Routes taken per message. New routes extend this set and the switch in
// Handle, nothing is dispatched dynamically.
const (
	RouteAnswer  = "retrieval_answer"
	RouteAbstain = "abstain"
	RouteClarify = "clarify"
)

// ClarificationText is returned on the clarify route without any retrieval.
const ClarificationText = "Could you give me a bit more detail about which policy or topic you are asking about?"

// interruptedTurnText closes out a user turn that never received an answer,
// keeping the user/assistant alternation intact.
const interruptedTurnText = "(this message did not receive an answer)"

type SessionStore interface {
	Create(ctx context.Context) (*models.Session, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	Recent(ctx context.Context, id string, limit int) ([]models.Turn, error)
	Append(ctx context.Context, id string, turns ...models.Turn) error
}

type Rewriter interface {
	Rewrite(ctx context.Context, history []models.Turn, latest string) string
}

type CoarseRetriever interface {
	Search(ctx context.Context, query string) ([]retrieval.Candidate, error)
}

type FineRetriever interface {
	Search(ctx context.Context, query string, sectionScope []string) ([]retrieval.ChunkResult, error)
}

type ContextAssembler interface {
	Assemble(results []retrieval.ChunkResult) retrieval.ContextBundle
}

type Synthesizer interface {
	Synthesize(ctx context.Context, query string, bundle retrieval.ContextBundle, history []models.Turn) (*answer.Answer, error)
}

// AuditLog records one row per exchange; writes are best-effort.
type AuditLog interface {
	InsertChatRecord(record *models.ChatRecord) error
	InsertChatSource(source *models.ChatSource) error
}

type Response struct {
	SessionID string
	Answer    string
	Sources   []models.Citation
	Route     string
	// Persisted is false when the answer was computed but the session write
	// failed; conversation continuity may be broken.
	Persisted bool
}

type Config struct {
	HistoryLimit   int
	RewriterWindow int
	MinQueryTokens int
}

// Orchestrator sequences the pipeline per incoming message and is the only
// component that mutates sessions.
type Orchestrator struct {
	store       SessionStore
	locks       *session.Locks
	rewriter    Rewriter
	coarse      CoarseRetriever
	fine        FineRetriever
	assembler   ContextAssembler
	synthesizer Synthesizer
	audit       AuditLog
	cfg         Config
}

func NewOrchestrator(
	store SessionStore,
	rewriter Rewriter,
	coarse CoarseRetriever,
	fine FineRetriever,
	assembler ContextAssembler,
	synthesizer Synthesizer,
	audit AuditLog,
	cfg Config,
) *Orchestrator {
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = 12
	}
	if cfg.RewriterWindow == 0 {
		cfg.RewriterWindow = 6
	}
	if cfg.MinQueryTokens == 0 {
		cfg.MinQueryTokens = 2
	}

	return &Orchestrator{
		store:       store,
		locks:       session.NewLocks(),
		rewriter:    rewriter,
		coarse:      coarse,
		fine:        fine,
		assembler:   assembler,
		synthesizer: synthesizer,
		audit:       audit,
		cfg:         cfg,
	}
}

// Handle runs one full exchange. sessionID may be empty or unknown; either
// way a server-assigned id comes back and the caller is expected to adopt it.
func (o *Orchestrator) Handle(ctx context.Context, sessionID, message string) (*Response, error) {
	startTime := time.Now()

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrInvalidInput
	}

	sess, err := o.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUpstreamUnavailable, err)
	}

	// One in-flight pipeline per session. A concurrent message on the same
	// session waits here until the first one's turn pair is appended.
	release := o.locks.Acquire(sess.ID)
	defer release()

	history, err := o.store.Recent(ctx, sess.ID, o.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUpstreamUnavailable, err)
	}

	history = o.repairDanglingTurn(ctx, sess.ID, history)

	userTurn := models.Turn{
		Role:      models.RoleUser,
		Text:      message,
		Timestamp: time.Now().UTC(),
	}

	window := history
	if len(window) > o.cfg.RewriterWindow {
		window = window[len(window)-o.cfg.RewriterWindow:]
	}
	standalone := o.rewriter.Rewrite(ctx, window, message)

	result, err := o.route(ctx, standalone, history)
	if err != nil {
		return nil, err
	}

	assistantTurn := models.Turn{
		Role:      models.RoleAssistant,
		Text:      result.text,
		Timestamp: time.Now().UTC(),
		Sources:   result.citations,
	}

	// The turn pair is one atomic append: both halves land or neither does,
	// so the history never holds half an exchange.
	persisted := true
	if err := o.store.Append(ctx, sess.ID, userTurn, assistantTurn); err != nil {
		logger.Error("Failed to persist turn pair, returning unpersisted answer",
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
		persisted = false
	}

	latency := int(time.Since(startTime).Milliseconds())
	o.recordExchange(sess.ID, message, standalone, result, persisted, latency)

	metrics.ChatTotal.WithLabelValues(result.route).Inc()
	metrics.ChatDuration.WithLabelValues(result.route).Observe(time.Since(startTime).Seconds())

	logger.Info("Message handled",
		zap.String("session_id", sess.ID),
		zap.String("route", result.route),
		zap.Int("sources", len(result.citations)),
		zap.Int("latency_ms", latency),
		zap.Bool("persisted", persisted),
	)

	return &Response{
		SessionID: sess.ID,
		Answer:    result.text,
		Sources:   result.citations,
		Route:     result.route,
		Persisted: persisted,
	}, nil
}

// History returns a session's full turn sequence for the history endpoint.
func (o *Orchestrator) History(ctx context.Context, sessionID string) ([]models.Turn, error) {
	sess, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Turns, nil
}

type routeResult struct {
	route         string
	text          string
	citations     []models.Citation
	retrievalMode string
	candidates    []retrieval.Candidate
	coarseCount   int
	fineCount     int
	contextChunks int
}

func (o *Orchestrator) route(ctx context.Context, standalone string, history []models.Turn) (*routeResult, error) {
	if len(strings.Fields(standalone)) < o.cfg.MinQueryTokens {
		return &routeResult{
			route:     RouteClarify,
			text:      ClarificationText,
			citations: []models.Citation{},
		}, nil
	}

	candidates, err := o.coarse.Search(ctx, standalone)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUpstreamUnavailable, err)
	}

	chunks, err := o.fine.Search(ctx, standalone, retrieval.Scope(candidates))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUpstreamUnavailable, err)
	}

	bundle := o.assembler.Assemble(chunks)

	metrics.CoarseResults.Observe(float64(len(candidates)))
	metrics.FineResults.Observe(float64(len(chunks)))

	ans, err := o.synthesizer.Synthesize(ctx, standalone, bundle, history)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSynthesisFailure, err)
	}

	result := &routeResult{
		route:         RouteAnswer,
		text:          ans.Text,
		citations:     ans.Citations,
		retrievalMode: retrieval.ModeTwoStep,
		candidates:    candidates,
		coarseCount:   len(candidates),
		fineCount:     len(chunks),
		contextChunks: len(chunks),
	}

	if bundle.Abstain {
		result.route = RouteAbstain
		result.retrievalMode = retrieval.ModeNoCandidates
		result.contextChunks = 0
		metrics.AbstentionTotal.Inc()
	} else {
		result.contextChunks = len(bundle.Items)
	}

	return result, nil
}

// resolveSession loads the session for a known id and mints a new one when
// the id is absent or unknown. Caller-supplied ids that the store has never
// seen are treated as hints only and never written.
func (o *Orchestrator) resolveSession(ctx context.Context, sessionID string) (*models.Session, error) {
	if sessionID != "" {
		sess, err := o.store.Get(ctx, sessionID)
		if err == nil {
			return sess, nil
		}
		if err != session.ErrNotFound {
			return nil, err
		}
		logger.Info("Unknown session id, creating a new session",
			zap.String("client_session_id", sessionID),
		)
	}

	return o.store.Create(ctx)
}

// repairDanglingTurn closes out a trailing user turn left by an interrupted
// pipeline so the alternation invariant holds before the new exchange runs.
func (o *Orchestrator) repairDanglingTurn(ctx context.Context, sessionID string, history []models.Turn) []models.Turn {
	if len(history) == 0 || history[len(history)-1].Role != models.RoleUser {
		return history
	}

	logger.Warn("Dangling user turn detected, repairing",
		zap.String("session_id", sessionID),
	)

	repair := models.Turn{
		Role:      models.RoleAssistant,
		Text:      interruptedTurnText,
		Timestamp: time.Now().UTC(),
		Sources:   []models.Citation{},
	}

	if err := o.store.Append(ctx, sessionID, repair); err != nil {
		logger.Error("Failed to repair dangling turn", zap.Error(err))
		return history
	}

	return append(history, repair)
}

func (o *Orchestrator) recordExchange(sessionID, message, standalone string, result *routeResult, persisted bool, latencyMS int) {
	if o.audit == nil {
		return
	}

	chatID := uuid.New().String()

	sectionIDs := make([]string, 0, len(result.candidates))
	for _, c := range result.candidates {
		sectionIDs = append(sectionIDs, c.SectionID)
	}

	record := &models.ChatRecord{
		ID:                chatID,
		SessionID:         sessionID,
		Message:           message,
		RewrittenQuery:    standalone,
		Answer:            result.text,
		Route:             result.route,
		RetrievalMode:     result.retrievalMode,
		CandidateSections: strings.Join(sectionIDs, ";"),
		CoarseResults:     result.coarseCount,
		FineResults:       result.fineCount,
		ContextChunks:     result.contextChunks,
		Persisted:         persisted,
		LatencyMS:         latencyMS,
		CreatedAt:         time.Now().UTC(),
	}

	if err := o.audit.InsertChatRecord(record); err != nil {
		logger.Warn("Failed to write chat audit record", zap.Error(err))
		return
	}

	for _, citation := range result.citations {
		err := o.audit.InsertChatSource(&models.ChatSource{
			ChatID:     chatID,
			DocumentID: citation.DocumentID,
			ChunkID:    citation.ChunkID,
			FileName:   citation.FileName,
			ChunkPart:  citation.ChunkPart,
			Distance:   citation.Distance,
		})
		if err != nil {
			logger.Warn("Failed to write chat source", zap.Error(err))
		}
	}
}
