package models

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Document is corpus metadata, read-only to the serving path.
type Document struct {
	ID        string
	Title     string
	FileName  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Section is the coarse retrieval unit. A section belongs to exactly one
// document and keeps its position within it.
type Section struct {
	ID         string
	DocumentID string
	Title      string
	OrderIndex int
	CreatedAt  time.Time
}

// Chunk is the fine retrieval unit. A chunk belongs to exactly one section
// and one document; ChunkPart is its position within the document.
type Chunk struct {
	ID         string
	DocumentID string
	SectionID  string
	ChunkPart  int
	Text       string
	CreatedAt  time.Time
}

// Citation ties an assistant turn to one chunk that was present in the
// context used to produce it.
type Citation struct {
	DocumentID string  `json:"document_id"`
	ChunkID    string  `json:"chunk_id"`
	FileName   string  `json:"file_name"`
	ChunkPart  int     `json:"chunk_part"`
	Distance   float64 `json:"distance"`
}

// Turn is immutable once appended to a session.
type Turn struct {
	Role      string     `json:"role"`
	Text      string     `json:"text"`
	Timestamp time.Time  `json:"timestamp"`
	Sources   []Citation `json:"sources,omitempty"`
}

type Session struct {
	ID        string
	CreatedAt time.Time
	Turns     []Turn
}

// ChatRecord is one audit row per exchange, written after the answer is
// computed. Persisted=false marks exchanges whose session write failed.
type ChatRecord struct {
	ID                string
	SessionID         string
	Message           string
	RewrittenQuery    string
	Answer            string
	Route             string
	RetrievalMode     string
	CandidateSections string
	CoarseResults     int
	FineResults       int
	ContextChunks     int
	Persisted         bool
	LatencyMS         int
	CreatedAt         time.Time
}

type ChatSource struct {
	ID         int
	ChatID     string
	DocumentID string
	ChunkID    string
	FileName   string
	ChunkPart  int
	Distance   float64
}
