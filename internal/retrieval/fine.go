package retrieval

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/policy-chatbot/backend/pkg/logger"
)

// FineRetriever searches chunk-level embeddings restricted to the coarse
// candidate scope. It never ranks a chunk outside that scope.
type FineRetriever struct {
	embedder Embedder
	store    VectorStore
	n        int
}

func NewFineRetriever(embedder Embedder, store VectorStore, n int) *FineRetriever {
	return &FineRetriever{
		embedder: embedder,
		store:    store,
		n:        n,
	}
}

// Search returns up to n chunks ascending by distance, tie-broken by
// chunk_part. An empty scope short-circuits to an empty result without
// touching the vector store.
func (r *FineRetriever) Search(ctx context.Context, query string, sectionScope []string) ([]ChunkResult, error) {
	if len(sectionScope) == 0 {
		logger.Debug("Fine retrieval skipped, empty candidate scope")
		return []ChunkResult{}, nil
	}

	embedding, err := r.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := r.store.SearchChunks(ctx, embedding, r.n, sectionScope)
	if err != nil {
		return nil, fmt.Errorf("fine search failed: %w", err)
	}

	results := make([]ChunkResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, ChunkResult{
			ChunkID:    hit.ChunkID,
			DocumentID: hit.DocumentID,
			SectionID:  hit.SectionID,
			FileName:   hit.FileName,
			ChunkPart:  hit.ChunkPart,
			Text:       hit.Text,
			Distance:   hit.Distance,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ChunkPart < results[j].ChunkPart
	})

	if len(results) > r.n {
		results = results[:r.n]
	}

	logger.Debug("Fine retrieval completed",
		zap.Int("n", r.n),
		zap.Int("scope_sections", len(sectionScope)),
		zap.Int("results", len(results)),
	)

	return results, nil
}
