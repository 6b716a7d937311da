package retrieval

import (
	"context"

	"github.com/policy-chatbot/backend/internal/vector/milvus"
)

// Retrieval modes recorded on the audit row.
const (
	ModeTwoStep      = "two_step"
	ModeNoCandidates = "no_candidates"
)

// Embedder is the slice of the LLM client the retrievers need.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// VectorStore is the slice of the milvus client the retrievers need.
type VectorStore interface {
	SearchSections(ctx context.Context, queryEmbedding []float32, topK int) ([]milvus.SectionHit, error)
	SearchChunks(ctx context.Context, queryEmbedding []float32, topN int, sectionScope []string) ([]milvus.ChunkHit, error)
}

// Candidate is one coarse-stage result, ordered ascending by distance.
type Candidate struct {
	SectionID  string
	DocumentID string
	Title      string
	OrderIndex int
	Distance   float64
}

// ChunkResult is one fine-stage result. Its SectionID is always contained in
// the candidate scope that produced it.
type ChunkResult struct {
	ChunkID    string
	DocumentID string
	SectionID  string
	FileName   string
	ChunkPart  int
	Text       string
	Distance   float64
}
