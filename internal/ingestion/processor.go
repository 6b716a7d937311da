package ingestion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	prose "github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/policy-chatbot/backend/internal/llm"
	"github.com/policy-chatbot/backend/internal/storage/models"
	"github.com/policy-chatbot/backend/internal/storage/sqlite"
	"github.com/policy-chatbot/backend/internal/vector/milvus"
	"github.com/policy-chatbot/backend/pkg/logger"
	"github.com/policy-chatbot/backend/pkg/utils"
)

var whitespacePattern = regexp.MustCompile(`\s+`)

// Processor turns one HTML policy document into the two retrieval granularities:
// heading-delimited sections for the coarse stage and sentence-packed chunks for
// the fine stage. It writes metadata to SQLite and embeddings to Milvus.
type Processor struct {
	db            *sqlite.Client
	vectorDB      *milvus.Client
	llmClient     *llm.Client
	chunkMaxChars int
}

type section struct {
	title string
	text  string
}

func NewProcessor(db *sqlite.Client, vectorDB *milvus.Client, llmClient *llm.Client) *Processor {
	return &Processor{
		db:            db,
		vectorDB:      vectorDB,
		llmClient:     llmClient,
		chunkMaxChars: 1000,
	}
}

func (p *Processor) ProcessDocument(ctx context.Context, fileName, htmlContent string) error {
	logger.Info("Processing document", zap.String("file", fileName))

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	title := p.extractTitle(doc)
	sections := p.splitSections(doc, title)
	if len(sections) == 0 {
		return fmt.Errorf("no content extracted from %s", fileName)
	}

	docID := utils.HashString(fileName)
	now := time.Now().UTC()

	err = p.db.InsertDocument(&models.Document{
		ID:        docID,
		Title:     title,
		FileName:  fileName,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	sectionRows := make([]models.Section, 0, len(sections))
	chunkRows := make([]models.Chunk, 0)

	// chunk_part counts chunks across the whole document, so the pair
	// (file_name, chunk_part) names one chunk unambiguously in citations.
	chunkPart := 0

	for i, sec := range sections {
		sectionID := utils.HashString(fmt.Sprintf("%s#%d", docID, i))

		sectionRows = append(sectionRows, models.Section{
			ID:         sectionID,
			DocumentID: docID,
			Title:      sec.title,
			OrderIndex: i,
			CreatedAt:  now,
		})

		for _, chunkText := range p.chunkSection(sec.text) {
			chunkID := utils.HashString(fmt.Sprintf("%s#%d", docID, chunkPart))
			chunkRows = append(chunkRows, models.Chunk{
				ID:         chunkID,
				DocumentID: docID,
				SectionID:  sectionID,
				ChunkPart:  chunkPart,
				Text:       chunkText,
				CreatedAt:  now,
			})
			chunkPart++
		}
	}

	logger.Info("Document split",
		zap.String("doc_id", docID),
		zap.Int("sections", len(sectionRows)),
		zap.Int("chunks", len(chunkRows)),
	)

	if err := p.embedAndStore(ctx, fileName, sections, sectionRows, chunkRows); err != nil {
		return err
	}

	logger.Info("Document processed successfully", zap.String("doc_id", docID))
	return nil
}

func (p *Processor) embedAndStore(ctx context.Context, fileName string, sections []section, sectionRows []models.Section, chunkRows []models.Chunk) error {
	sectionTexts := make([]string, len(sections))
	for i, sec := range sections {
		// The section embedding covers the heading plus the body so a query
		// matching only the heading still lands on the section.
		sectionTexts[i] = strings.TrimSpace(sec.title + "\n" + sec.text)
	}

	sectionEmbeddings, err := p.llmClient.GenerateBatchEmbeddings(ctx, sectionTexts)
	if err != nil {
		return fmt.Errorf("failed to embed sections: %w", err)
	}
	if len(sectionEmbeddings) != len(sectionRows) {
		return fmt.Errorf("section embedding count mismatch: got %d, expected %d", len(sectionEmbeddings), len(sectionRows))
	}

	chunkTexts := make([]string, len(chunkRows))
	for i, chunk := range chunkRows {
		chunkTexts[i] = chunk.Text
	}

	chunkEmbeddings, err := p.llmClient.GenerateBatchEmbeddings(ctx, chunkTexts)
	if err != nil {
		return fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(chunkEmbeddings) != len(chunkRows) {
		return fmt.Errorf("chunk embedding count mismatch: got %d, expected %d", len(chunkEmbeddings), len(chunkRows))
	}

	sectionRecords := make([]milvus.SectionRecord, 0, len(sectionRows))
	for i, row := range sectionRows {
		if err := p.db.InsertSection(&row); err != nil {
			return fmt.Errorf("failed to insert section: %w", err)
		}
		sectionRecords = append(sectionRecords, milvus.SectionRecord{
			ID:         row.ID,
			DocumentID: row.DocumentID,
			Title:      row.Title,
			OrderIndex: row.OrderIndex,
			Embedding:  sectionEmbeddings[i],
		})
	}

	chunkRecords := make([]milvus.ChunkRecord, 0, len(chunkRows))
	for i, row := range chunkRows {
		if err := p.db.InsertChunk(&row); err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
		chunkRecords = append(chunkRecords, milvus.ChunkRecord{
			ID:         row.ID,
			DocumentID: row.DocumentID,
			SectionID:  row.SectionID,
			FileName:   fileName,
			ChunkPart:  row.ChunkPart,
			Text:       row.Text,
			Embedding:  chunkEmbeddings[i],
		})
	}

	if err := p.vectorDB.InsertSections(ctx, sectionRecords); err != nil {
		return fmt.Errorf("failed to insert sections into vector store: %w", err)
	}
	if err := p.vectorDB.InsertChunks(ctx, chunkRecords); err != nil {
		return fmt.Errorf("failed to insert chunks into vector store: %w", err)
	}

	return nil
}

func (p *Processor) extractTitle(doc *goquery.Document) string {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = "Untitled"
	}
	return title
}

// splitSections breaks the document at h1/h2/h3 headings. Text before the
// first heading becomes a leading section titled after the document.
func (p *Processor) splitSections(doc *goquery.Document, docTitle string) []section {
	var sections []section

	headings := doc.Find("h1, h2, h3")

	if headings.Length() == 0 {
		text := normalizeText(doc.Find("body").Text())
		if text == "" {
			return nil
		}
		return []section{{title: docTitle, text: text}}
	}

	preamble := normalizeText(headings.First().PrevAll().Text())
	if preamble != "" {
		sections = append(sections, section{title: docTitle, text: preamble})
	}

	headings.Each(func(i int, s *goquery.Selection) {
		title := normalizeText(s.Text())
		body := normalizeText(s.NextUntil("h1, h2, h3").Text())
		if body == "" {
			return
		}
		if title == "" {
			title = docTitle
		}
		sections = append(sections, section{title: title, text: body})
	})

	return sections
}

// chunkSection packs whole sentences into chunks of at most chunkMaxChars.
// A single sentence longer than the budget becomes its own chunk rather than
// being split mid-sentence.
func (p *Processor) chunkSection(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var current strings.Builder

	for _, sentence := range sentences {
		if current.Len() > 0 && current.Len()+len(sentence)+1 > p.chunkMaxChars {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}

	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}

	return chunks
}

func splitSentences(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		logger.Warn("Sentence segmentation failed, falling back to whole text", zap.Error(err))
		return []string{text}
	}

	sentences := make([]string, 0)
	for _, s := range doc.Sentences() {
		trimmed := strings.TrimSpace(s.Text)
		if trimmed != "" {
			sentences = append(sentences, trimmed)
		}
	}

	return sentences
}

func normalizeText(text string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}
