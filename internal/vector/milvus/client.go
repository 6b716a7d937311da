package milvus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/policy-chatbot/backend/pkg/logger"
)

// Client wraps the two corpus collections: section-level embeddings for the
// coarse stage and chunk-level embeddings for the fine stage. Both use the L2
// metric, so a smaller distance is always a better match.
type Client struct {
	client            client.Client
	sectionCollection string
	chunkCollection   string
	vectorDim         int
	searchTimeout     time.Duration
}

type SectionRecord struct {
	ID         string
	DocumentID string
	Title      string
	OrderIndex int
	Embedding  []float32
}

type ChunkRecord struct {
	ID         string
	DocumentID string
	SectionID  string
	FileName   string
	ChunkPart  int
	Text       string
	Embedding  []float32
}

type SectionHit struct {
	SectionID  string
	DocumentID string
	Title      string
	OrderIndex int
	Distance   float64
}

type ChunkHit struct {
	ChunkID    string
	DocumentID string
	SectionID  string
	FileName   string
	ChunkPart  int
	Text       string
	Distance   float64
}

func NewClient(endpoint, sectionCollection, chunkCollection string, vectorDim, searchTimeoutSec int) (*Client, error) {
	c, err := client.NewGrpcClient(
		context.Background(),
		endpoint,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	searchTimeout := 10 * time.Second
	if searchTimeoutSec > 0 {
		searchTimeout = time.Duration(searchTimeoutSec) * time.Second
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("section_collection", sectionCollection),
		zap.String("chunk_collection", chunkCollection),
		zap.Duration("search_timeout", searchTimeout),
	)

	return &Client{
		client:            c,
		sectionCollection: sectionCollection,
		chunkCollection:   chunkCollection,
		vectorDim:         vectorDim,
		searchTimeout:     searchTimeout,
	}, nil
}

// searchContext bounds one search call so a hung Milvus cannot hold the
// pipeline past its own timeout.
func (m *Client) searchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.searchTimeout)
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) CreateCollections(ctx context.Context) error {
	if err := m.createSectionCollection(ctx); err != nil {
		return err
	}
	return m.createChunkCollection(ctx)
}

func (m *Client) createSectionCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.sectionCollection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		logger.Info("Collection already exists", zap.String("collection", m.sectionCollection))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.sectionCollection,
		Description:    "Policy section embeddings (coarse retrieval)",
		Fields: []*entity.Field{
			{
				Name:       "section_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "embedding",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", m.vectorDim)},
			},
			{
				Name:       "document_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "title",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "512"},
			},
			{
				Name:     "order_index",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	return m.finishCollection(ctx, m.sectionCollection, schema)
}

func (m *Client) createChunkCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.chunkCollection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		logger.Info("Collection already exists", zap.String("collection", m.chunkCollection))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.chunkCollection,
		Description:    "Policy chunk embeddings (fine retrieval)",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "embedding",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", m.vectorDim)},
			},
			{
				Name:       "document_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "section_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "file_name",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "256"},
			},
			{
				Name:     "chunk_part",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       "text",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "4096"},
			},
		},
	}

	return m.finishCollection(ctx, m.chunkCollection, schema)
}

func (m *Client) finishCollection(ctx context.Context, name string, schema *entity.Schema) error {
	err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.L2, 1024)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	err = m.client.CreateIndex(ctx, name, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, name, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", name))
	return nil
}

func (m *Client) InsertSections(ctx context.Context, sections []SectionRecord) error {
	if len(sections) == 0 {
		return nil
	}

	ids := make([]string, len(sections))
	embeddings := make([][]float32, len(sections))
	docIDs := make([]string, len(sections))
	titles := make([]string, len(sections))
	orderIndexes := make([]int64, len(sections))

	for i, s := range sections {
		ids[i] = s.ID
		embeddings[i] = s.Embedding
		docIDs[i] = s.DocumentID
		titles[i] = s.Title
		orderIndexes[i] = int64(s.OrderIndex)
	}

	_, err := m.client.Insert(
		ctx,
		m.sectionCollection,
		"",
		entity.NewColumnVarChar("section_id", ids),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("document_id", docIDs),
		entity.NewColumnVarChar("title", titles),
		entity.NewColumnInt64("order_index", orderIndexes),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sections: %w", err)
	}

	err = m.client.Flush(ctx, m.sectionCollection, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Sections inserted into vector store", zap.Int("count", len(sections)))
	return nil
}

func (m *Client) InsertChunks(ctx context.Context, chunks []ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	docIDs := make([]string, len(chunks))
	sectionIDs := make([]string, len(chunks))
	fileNames := make([]string, len(chunks))
	chunkParts := make([]int64, len(chunks))
	texts := make([]string, len(chunks))

	for i, c := range chunks {
		ids[i] = c.ID
		embeddings[i] = c.Embedding
		docIDs[i] = c.DocumentID
		sectionIDs[i] = c.SectionID
		fileNames[i] = c.FileName
		chunkParts[i] = int64(c.ChunkPart)
		texts[i] = c.Text
	}

	_, err := m.client.Insert(
		ctx,
		m.chunkCollection,
		"",
		entity.NewColumnVarChar("chunk_id", ids),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("document_id", docIDs),
		entity.NewColumnVarChar("section_id", sectionIDs),
		entity.NewColumnVarChar("file_name", fileNames),
		entity.NewColumnInt64("chunk_part", chunkParts),
		entity.NewColumnVarChar("text", texts),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	err = m.client.Flush(ctx, m.chunkCollection, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks inserted into vector store", zap.Int("count", len(chunks)))
	return nil
}

// SearchSections runs the coarse stage over section-level embeddings.
func (m *Client) SearchSections(ctx context.Context, queryEmbedding []float32, topK int) ([]SectionHit, error) {
	ctx, cancel := m.searchContext(ctx)
	defer cancel()

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.sectionCollection,
		[]string{},
		"",
		[]string{"section_id", "document_id", "title", "order_index"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding",
		entity.L2,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search sections: %w", err)
	}

	hits := make([]SectionHit, 0)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			sectionID, _ := sr.Fields.GetColumn("section_id").Get(i)
			documentID, _ := sr.Fields.GetColumn("document_id").Get(i)
			title, _ := sr.Fields.GetColumn("title").Get(i)
			orderIndex, _ := sr.Fields.GetColumn("order_index").Get(i)

			hits = append(hits, SectionHit{
				SectionID:  sectionID.(string),
				DocumentID: documentID.(string),
				Title:      title.(string),
				OrderIndex: int(orderIndex.(int64)),
				Distance:   float64(sr.Scores[i]),
			})
		}
	}

	logger.Debug("Section search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(hits)),
	)

	return hits, nil
}

// SearchChunks runs the fine stage. sectionScope is a hard filter: only chunks
// whose section_id is in the scope are ranked at all.
func (m *Client) SearchChunks(ctx context.Context, queryEmbedding []float32, topN int, sectionScope []string) ([]ChunkHit, error) {
	if len(sectionScope) == 0 {
		return []ChunkHit{}, nil
	}

	ctx, cancel := m.searchContext(ctx)
	defer cancel()

	expr := fmt.Sprintf(`section_id in [%s]`, quoteList(sectionScope))

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.chunkCollection,
		[]string{},
		expr,
		[]string{"chunk_id", "document_id", "section_id", "file_name", "chunk_part", "text"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding",
		entity.L2,
		topN,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	hits := make([]ChunkHit, 0)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			chunkID, _ := sr.Fields.GetColumn("chunk_id").Get(i)
			documentID, _ := sr.Fields.GetColumn("document_id").Get(i)
			sectionID, _ := sr.Fields.GetColumn("section_id").Get(i)
			fileName, _ := sr.Fields.GetColumn("file_name").Get(i)
			chunkPart, _ := sr.Fields.GetColumn("chunk_part").Get(i)
			text, _ := sr.Fields.GetColumn("text").Get(i)

			hits = append(hits, ChunkHit{
				ChunkID:    chunkID.(string),
				DocumentID: documentID.(string),
				SectionID:  sectionID.(string),
				FileName:   fileName.(string),
				ChunkPart:  int(chunkPart.(int64)),
				Text:       text.(string),
				Distance:   float64(sr.Scores[i]),
			})
		}
	}

	logger.Debug("Chunk search completed",
		zap.Int("topN", topN),
		zap.Int("scope_sections", len(sectionScope)),
		zap.Int("results", len(hits)),
	)

	return hits, nil
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return strings.Join(quoted, ", ")
}
