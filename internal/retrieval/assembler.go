package retrieval

import (
	"sort"

	"go.uber.org/zap"

	"github.com/policy-chatbot/backend/internal/storage/models"
	"github.com/policy-chatbot/backend/pkg/logger"
)

// ContextBundle is the deduplicated, budget-limited context handed to the
// synthesizer. Items are in document order, not distance order, so the model
// reads multi-chunk context the way the source document flows.
type ContextBundle struct {
	Items   []ContextItem
	Abstain bool
}

type ContextItem struct {
	Chunk    ChunkResult
	Citation models.Citation
}

// Assembler selects chunks under a character budget and builds one Citation
// per included chunk.
type Assembler struct {
	budget int
}

func NewAssembler(budget int) *Assembler {
	return &Assembler{budget: budget}
}

func (a *Assembler) Assemble(results []ChunkResult) ContextBundle {
	if len(results) == 0 {
		return ContextBundle{Abstain: true}
	}

	// Dedupe by chunk id. Results arrive ascending by distance, so the first
	// occurrence is the best one; duplicates should not happen by
	// construction but are handled anyway.
	seen := make(map[string]bool, len(results))
	unique := make([]ChunkResult, 0, len(results))
	for _, r := range results {
		if seen[r.ChunkID] {
			continue
		}
		seen[r.ChunkID] = true
		unique = append(unique, r)
	}

	// Greedy inclusion in ascending-distance order. A chunk that would blow
	// the budget is dropped whole, never truncated.
	included := make([]ChunkResult, 0, len(unique))
	used := 0
	for _, r := range unique {
		size := len(r.Text)
		if a.budget > 0 && used+size > a.budget {
			continue
		}
		included = append(included, r)
		used += size
	}

	if len(included) == 0 {
		return ContextBundle{Abstain: true}
	}

	// Presentation order: original document position.
	sort.SliceStable(included, func(i, j int) bool {
		if included[i].DocumentID != included[j].DocumentID {
			return included[i].DocumentID < included[j].DocumentID
		}
		return included[i].ChunkPart < included[j].ChunkPart
	})

	items := make([]ContextItem, 0, len(included))
	for _, r := range included {
		items = append(items, ContextItem{
			Chunk: r,
			Citation: models.Citation{
				DocumentID: r.DocumentID,
				ChunkID:    r.ChunkID,
				FileName:   r.FileName,
				ChunkPart:  r.ChunkPart,
				Distance:   r.Distance,
			},
		})
	}

	logger.Debug("Context assembled",
		zap.Int("results", len(results)),
		zap.Int("included", len(items)),
		zap.Int("chars", used),
	)

	return ContextBundle{Items: items}
}
