package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policy-chatbot/backend/internal/vector/milvus"
)

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeVectorStore struct {
	sectionHits []milvus.SectionHit
	chunkHits   []milvus.ChunkHit
	err         error

	searchSectionsCalls int
	searchChunksCalls   int
	lastScope           []string
}

func (f *fakeVectorStore) SearchSections(ctx context.Context, queryEmbedding []float32, topK int) ([]milvus.SectionHit, error) {
	f.searchSectionsCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.sectionHits, nil
}

func (f *fakeVectorStore) SearchChunks(ctx context.Context, queryEmbedding []float32, topN int, sectionScope []string) ([]milvus.ChunkHit, error) {
	f.searchChunksCalls++
	f.lastScope = sectionScope
	if f.err != nil {
		return nil, f.err
	}
	return f.chunkHits, nil
}

func TestCoarseSearchOrdersByDistance(t *testing.T) {
	store := &fakeVectorStore{
		sectionHits: []milvus.SectionHit{
			{SectionID: "s-far", Distance: 0.9, OrderIndex: 0},
			{SectionID: "s-near", Distance: 0.1, OrderIndex: 5},
			{SectionID: "s-mid", Distance: 0.5, OrderIndex: 2},
		},
	}
	retriever := NewCoarseRetriever(&fakeEmbedder{}, store, 4, 0)

	candidates, err := retriever.Search(context.Background(), "vacation days")
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	assert.Equal(t, "s-near", candidates[0].SectionID)
	assert.Equal(t, "s-mid", candidates[1].SectionID)
	assert.Equal(t, "s-far", candidates[2].SectionID)
}

func TestCoarseSearchTieBreaksByOrderIndex(t *testing.T) {
	store := &fakeVectorStore{
		sectionHits: []milvus.SectionHit{
			{SectionID: "s-late", Distance: 0.4, OrderIndex: 7},
			{SectionID: "s-early", Distance: 0.4, OrderIndex: 1},
		},
	}
	retriever := NewCoarseRetriever(&fakeEmbedder{}, store, 4, 0)

	candidates, err := retriever.Search(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "s-early", candidates[0].SectionID)
	assert.Equal(t, "s-late", candidates[1].SectionID)
}

func TestCoarseSearchTruncatesToK(t *testing.T) {
	store := &fakeVectorStore{
		sectionHits: []milvus.SectionHit{
			{SectionID: "a", Distance: 0.1},
			{SectionID: "b", Distance: 0.2},
			{SectionID: "c", Distance: 0.3},
		},
	}
	retriever := NewCoarseRetriever(&fakeEmbedder{}, store, 2, 0)

	candidates, err := retriever.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
}

func TestCoarseSearchAppliesDistanceCutoff(t *testing.T) {
	store := &fakeVectorStore{
		sectionHits: []milvus.SectionHit{
			{SectionID: "in", Distance: 0.8},
			{SectionID: "out", Distance: 1.5},
		},
	}
	retriever := NewCoarseRetriever(&fakeEmbedder{}, store, 4, 1.25)

	candidates, err := retriever.Search(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "in", candidates[0].SectionID)
}

func TestCoarseSearchEmptyResultIsNotError(t *testing.T) {
	retriever := NewCoarseRetriever(&fakeEmbedder{}, &fakeVectorStore{}, 4, 0)

	candidates, err := retriever.Search(context.Background(), "completely unrelated")
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestCoarseSearchPropagatesStoreError(t *testing.T) {
	store := &fakeVectorStore{err: errors.New("milvus down")}
	retriever := NewCoarseRetriever(&fakeEmbedder{}, store, 4, 0)

	_, err := retriever.Search(context.Background(), "q")
	assert.Error(t, err)
}

func TestScope(t *testing.T) {
	candidates := []Candidate{
		{SectionID: "s1"},
		{SectionID: "s2"},
	}

	assert.Equal(t, []string{"s1", "s2"}, Scope(candidates))
	assert.Empty(t, Scope(nil))
}
