package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policy-chatbot/backend/internal/answer"
	"github.com/policy-chatbot/backend/internal/retrieval"
	"github.com/policy-chatbot/backend/internal/session"
	"github.com/policy-chatbot/backend/internal/storage/models"
)

type memStore struct {
	mu         sync.Mutex
	sessions   map[string][]models.Turn
	nextID     int
	failAppend bool
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string][]models.Turn)}
}

func (s *memStore) Create(ctx context.Context) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("sess-%d", s.nextID)
	s.sessions[id] = []models.Turn{}
	return &models.Session{ID: id, CreatedAt: time.Now().UTC()}, nil
}

func (s *memStore) Get(ctx context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	out := make([]models.Turn, len(turns))
	copy(out, turns)
	return &models.Session{ID: id, Turns: out}, nil
}

func (s *memStore) Recent(ctx context.Context, id string, limit int) ([]models.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]models.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *memStore) Append(ctx context.Context, id string, turns ...models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend {
		return errors.New("redis down")
	}
	existing, ok := s.sessions[id]
	if !ok {
		return session.ErrNotFound
	}
	s.sessions[id] = append(existing, turns...)
	return nil
}

type identityRewriter struct {
	mu          sync.Mutex
	lastHistory []models.Turn
	output      string
}

func (r *identityRewriter) Rewrite(ctx context.Context, history []models.Turn, latest string) string {
	r.mu.Lock()
	r.lastHistory = history
	r.mu.Unlock()
	if r.output != "" {
		return r.output
	}
	return latest
}

type fakeCoarse struct {
	mu         sync.Mutex
	candidates []retrieval.Candidate
	calls      int
	err        error
}

func (f *fakeCoarse) Search(ctx context.Context, query string) ([]retrieval.Candidate, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

type fakeFine struct {
	mu        sync.Mutex
	chunks    []retrieval.ChunkResult
	lastScope []string
	err       error
}

func (f *fakeFine) Search(ctx context.Context, query string, sectionScope []string) ([]retrieval.ChunkResult, error) {
	f.mu.Lock()
	f.lastScope = sectionScope
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(sectionScope) == 0 {
		return []retrieval.ChunkResult{}, nil
	}
	return f.chunks, nil
}

type fakeSynthesizer struct {
	mu       sync.Mutex
	llmCalls int
	err      error
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, query string, bundle retrieval.ContextBundle, history []models.Turn) (*answer.Answer, error) {
	if bundle.Abstain {
		return &answer.Answer{Text: answer.AbstentionText, Citations: []models.Citation{}}, nil
	}

	f.mu.Lock()
	f.llmCalls++
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	citations := make([]models.Citation, 0, len(bundle.Items))
	for _, item := range bundle.Items {
		citations = append(citations, item.Citation)
	}
	return &answer.Answer{Text: "Grounded answer for: " + query, Citations: citations}, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	records []models.ChatRecord
	sources []models.ChatSource
}

func (f *fakeAudit) InsertChatRecord(record *models.ChatRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, *record)
	return nil
}

func (f *fakeAudit) InsertChatSource(source *models.ChatSource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, *source)
	return nil
}

type fixture struct {
	store       *memStore
	rewriter    *identityRewriter
	coarse      *fakeCoarse
	fine        *fakeFine
	synthesizer *fakeSynthesizer
	audit       *fakeAudit
	orch        *Orchestrator
}

func newFixture() *fixture {
	f := &fixture{
		store:    newMemStore(),
		rewriter: &identityRewriter{},
		coarse: &fakeCoarse{
			candidates: []retrieval.Candidate{
				{SectionID: "s1", DocumentID: "d1", Distance: 0.2},
			},
		},
		fine: &fakeFine{
			chunks: []retrieval.ChunkResult{
				{ChunkID: "c1", DocumentID: "d1", SectionID: "s1", FileName: "leave_policy", ChunkPart: 2, Text: "Leave is 20 days.", Distance: 0.1},
			},
		},
		synthesizer: &fakeSynthesizer{},
		audit:       &fakeAudit{},
	}

	f.orch = NewOrchestrator(
		f.store,
		f.rewriter,
		f.coarse,
		f.fine,
		retrieval.NewAssembler(4800),
		f.synthesizer,
		f.audit,
		Config{},
	)
	return f
}

func TestHandleAnswerFlow(t *testing.T) {
	f := newFixture()

	resp, err := f.orch.Handle(context.Background(), "", "how many leave days do I get?")
	require.NoError(t, err)

	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, RouteAnswer, resp.Route)
	assert.True(t, resp.Persisted)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "leave_policy", resp.Sources[0].FileName)

	turns := f.store.sessions[resp.SessionID]
	require.Len(t, turns, 2)
	assert.Equal(t, models.RoleUser, turns[0].Role)
	assert.Equal(t, "how many leave days do I get?", turns[0].Text)
	assert.Equal(t, models.RoleAssistant, turns[1].Role)
	assert.Equal(t, resp.Answer, turns[1].Text)
	assert.Equal(t, resp.Sources, turns[1].Sources)
}

func TestHandleEmptyMessage(t *testing.T) {
	f := newFixture()

	_, err := f.orch.Handle(context.Background(), "", "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestHandleUnknownSessionIDMintsNewOne(t *testing.T) {
	f := newFixture()

	resp, err := f.orch.Handle(context.Background(), "made-up-by-client", "what is the travel policy?")
	require.NoError(t, err)

	assert.NotEqual(t, "made-up-by-client", resp.SessionID)
	_, exists := f.store.sessions["made-up-by-client"]
	assert.False(t, exists, "client-supplied ids must never be persisted")
}

func TestHandleReusesKnownSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.orch.Handle(ctx, "", "what is the travel policy?")
	require.NoError(t, err)

	second, err := f.orch.Handle(ctx, first.SessionID, "what about meals?")
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Len(t, f.store.sessions[first.SessionID], 4)
}

func TestHandleClarifyRouteSkipsRetrieval(t *testing.T) {
	f := newFixture()

	resp, err := f.orch.Handle(context.Background(), "", "hi")
	require.NoError(t, err)

	assert.Equal(t, RouteClarify, resp.Route)
	assert.Equal(t, ClarificationText, resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.Zero(t, f.coarse.calls)
	assert.Zero(t, f.synthesizer.llmCalls)

	// The clarify exchange is still persisted as a turn pair.
	assert.Len(t, f.store.sessions[resp.SessionID], 2)
}

func TestHandleAbstainsOnEmptyCandidates(t *testing.T) {
	f := newFixture()
	f.coarse.candidates = nil

	resp, err := f.orch.Handle(context.Background(), "", "something no policy covers")
	require.NoError(t, err)

	assert.Equal(t, RouteAbstain, resp.Route)
	assert.Equal(t, answer.AbstentionText, resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.Zero(t, f.synthesizer.llmCalls, "abstention must not call the model")
	assert.Empty(t, f.fine.lastScope)
}

func TestHandlePersistenceFailureStillAnswers(t *testing.T) {
	f := newFixture()
	f.store.failAppend = true

	resp, err := f.orch.Handle(context.Background(), "", "how many leave days do I get?")
	require.NoError(t, err)

	assert.False(t, resp.Persisted)
	assert.Equal(t, RouteAnswer, resp.Route)
	assert.NotEmpty(t, resp.Answer)
}

func TestHandleUpstreamFailure(t *testing.T) {
	f := newFixture()
	f.coarse.err = errors.New("milvus down")

	_, err := f.orch.Handle(context.Background(), "", "how many leave days?")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestHandleSynthesisFailure(t *testing.T) {
	f := newFixture()
	f.synthesizer.err = errors.New("model down")

	_, err := f.orch.Handle(context.Background(), "", "how many leave days?")
	assert.ErrorIs(t, err, ErrSynthesisFailure)
}

func TestHandleConcurrentMessagesSameSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.orch.Handle(ctx, "", "what is the leave policy?")
	require.NoError(t, err)

	const concurrent = 8
	var wg sync.WaitGroup
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.orch.Handle(ctx, first.SessionID, fmt.Sprintf("follow-up %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	turns := f.store.sessions[first.SessionID]
	require.Len(t, turns, 2*(concurrent+1))

	// Strict alternation must survive concurrency.
	for i, turn := range turns {
		if i%2 == 0 {
			assert.Equal(t, models.RoleUser, turn.Role, "turn %d", i)
		} else {
			assert.Equal(t, models.RoleAssistant, turn.Role, "turn %d", i)
		}
	}
}

func TestHandleRepairsDanglingUserTurn(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	sess, err := f.store.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, f.store.Append(ctx, sess.ID, models.Turn{
		Role: models.RoleUser, Text: "interrupted question", Timestamp: time.Now().UTC(),
	}))

	resp, err := f.orch.Handle(ctx, sess.ID, "what is the leave policy?")
	require.NoError(t, err)

	turns := f.store.sessions[resp.SessionID]
	require.Len(t, turns, 4)
	assert.Equal(t, models.RoleUser, turns[0].Role)
	assert.Equal(t, models.RoleAssistant, turns[1].Role)
	assert.Equal(t, interruptedTurnText, turns[1].Text)
	assert.Equal(t, models.RoleUser, turns[2].Role)
	assert.Equal(t, models.RoleAssistant, turns[3].Role)
}

func TestHandleBoundsRewriterWindow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.orch.Handle(ctx, "", "what is the leave policy?")
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		_, err := f.orch.Handle(ctx, first.SessionID, fmt.Sprintf("follow-up question %d", i))
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, len(f.rewriter.lastHistory), 6)
}

func TestHandleWritesAuditRecord(t *testing.T) {
	f := newFixture()

	resp, err := f.orch.Handle(context.Background(), "", "how many leave days do I get?")
	require.NoError(t, err)

	require.Len(t, f.audit.records, 1)
	record := f.audit.records[0]
	assert.Equal(t, resp.SessionID, record.SessionID)
	assert.Equal(t, RouteAnswer, record.Route)
	assert.Equal(t, retrieval.ModeTwoStep, record.RetrievalMode)
	assert.True(t, strings.Contains(record.CandidateSections, "s1"))
	assert.True(t, record.Persisted)

	require.Len(t, f.audit.sources, 1)
	assert.Equal(t, record.ID, f.audit.sources[0].ChatID)
	assert.Equal(t, "c1", f.audit.sources[0].ChunkID)
}

func TestHistoryPassthrough(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	resp, err := f.orch.Handle(ctx, "", "what is the leave policy?")
	require.NoError(t, err)

	turns, err := f.orch.History(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Len(t, turns, 2)

	_, err = f.orch.History(ctx, "unknown")
	assert.ErrorIs(t, err, session.ErrNotFound)
}
