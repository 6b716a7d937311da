package retrieval

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/policy-chatbot/backend/pkg/logger"
)

// CoarseRetriever narrows the corpus to a small candidate set of sections via
// section-level embeddings.
type CoarseRetriever struct {
	embedder    Embedder
	store       VectorStore
	k           int
	maxDistance float64
}

// NewCoarseRetriever builds the first retrieval stage. maxDistance <= 0
// disables the distance cutoff.
func NewCoarseRetriever(embedder Embedder, store VectorStore, k int, maxDistance float64) *CoarseRetriever {
	return &CoarseRetriever{
		embedder:    embedder,
		store:       store,
		k:           k,
		maxDistance: maxDistance,
	}
}

// Search returns up to k candidate sections ascending by distance. Ties are
// broken by order_index so repeated identical queries yield identical
// candidate lists. An empty result is the abstention trigger, not an error.
func (r *CoarseRetriever) Search(ctx context.Context, query string) ([]Candidate, error) {
	embedding, err := r.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := r.store.SearchSections(ctx, embedding, r.k)
	if err != nil {
		return nil, fmt.Errorf("coarse search failed: %w", err)
	}

	candidates := make([]Candidate, 0, len(hits))
	for _, hit := range hits {
		if r.maxDistance > 0 && hit.Distance > r.maxDistance {
			continue
		}
		candidates = append(candidates, Candidate{
			SectionID:  hit.SectionID,
			DocumentID: hit.DocumentID,
			Title:      hit.Title,
			OrderIndex: hit.OrderIndex,
			Distance:   hit.Distance,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].OrderIndex < candidates[j].OrderIndex
	})

	if len(candidates) > r.k {
		candidates = candidates[:r.k]
	}

	logger.Debug("Coarse retrieval completed",
		zap.Int("k", r.k),
		zap.Int("candidates", len(candidates)),
	)

	return candidates, nil
}

// Scope extracts the section id set the fine stage is restricted to.
func Scope(candidates []Candidate) []string {
	scope := make([]string, 0, len(candidates))
	for _, c := range candidates {
		scope = append(scope, c.SectionID)
	}
	return scope
}
