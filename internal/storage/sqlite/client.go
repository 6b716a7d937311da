package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/policy-chatbot/backend/internal/storage/models"
	"github.com/policy-chatbot/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		file_name TEXT UNIQUE NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_file ON documents(file_name);

	CREATE TABLE IF NOT EXISTS sections (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		title TEXT,
		order_index INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sections_doc ON sections(document_id);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		section_id TEXT NOT NULL,
		chunk_part INTEGER NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE,
		FOREIGN KEY (section_id) REFERENCES sections(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(document_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_section ON chunks(section_id);

	CREATE TABLE IF NOT EXISTS chat_history (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		message TEXT NOT NULL,
		rewritten_query TEXT,
		answer TEXT,
		route TEXT NOT NULL,
		retrieval_mode TEXT,
		candidate_sections TEXT,
		coarse_results INTEGER,
		fine_results INTEGER,
		context_chunks INTEGER,
		persisted INTEGER DEFAULT 1,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_session ON chat_history(session_id);
	CREATE INDEX IF NOT EXISTS idx_chat_created ON chat_history(created_at);

	CREATE TABLE IF NOT EXISTS chat_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		chunk_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		chunk_part INTEGER NOT NULL,
		distance REAL,
		FOREIGN KEY (chat_id) REFERENCES chat_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sources_chat ON chat_sources(chat_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertDocument(doc *models.Document) error {
	query := `
		INSERT INTO documents (id, title, file_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			updated_at = excluded.updated_at
	`

	_, err := c.db.Exec(
		query,
		doc.ID,
		doc.Title,
		doc.FileName,
		doc.CreatedAt.Unix(),
		doc.UpdatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	logger.Debug("Document inserted", zap.String("doc_id", doc.ID), zap.String("file", doc.FileName))
	return nil
}

func (c *Client) GetDocument(id string) (*models.Document, error) {
	query := `SELECT id, title, file_name, created_at, updated_at FROM documents WHERE id = ?`

	var doc models.Document
	var createdAt, updatedAt int64

	err := c.db.QueryRow(query, id).Scan(
		&doc.ID,
		&doc.Title,
		&doc.FileName,
		&createdAt,
		&updatedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.CreatedAt = time.Unix(createdAt, 0)
	doc.UpdatedAt = time.Unix(updatedAt, 0)

	return &doc, nil
}

func (c *Client) InsertSection(section *models.Section) error {
	query := `INSERT INTO sections (id, document_id, title, order_index, created_at) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.Exec(
		query,
		section.ID,
		section.DocumentID,
		section.Title,
		section.OrderIndex,
		section.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert section: %w", err)
	}

	return nil
}

func (c *Client) InsertChunk(chunk *models.Chunk) error {
	query := `INSERT INTO chunks (id, document_id, section_id, chunk_part, text, created_at) VALUES (?, ?, ?, ?, ?, ?)`

	_, err := c.db.Exec(
		query,
		chunk.ID,
		chunk.DocumentID,
		chunk.SectionID,
		chunk.ChunkPart,
		chunk.Text,
		chunk.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}

	return nil
}

func (c *Client) GetChunk(id string) (*models.Chunk, error) {
	query := `SELECT id, document_id, section_id, chunk_part, text, created_at FROM chunks WHERE id = ?`

	var chunk models.Chunk
	var createdAt int64

	err := c.db.QueryRow(query, id).Scan(
		&chunk.ID,
		&chunk.DocumentID,
		&chunk.SectionID,
		&chunk.ChunkPart,
		&chunk.Text,
		&createdAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}

	chunk.CreatedAt = time.Unix(createdAt, 0)

	return &chunk, nil
}

func (c *Client) CountChunks() (int, error) {
	var count int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM chunks`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

func (c *Client) InsertChatRecord(record *models.ChatRecord) error {
	query := `
		INSERT INTO chat_history (id, session_id, message, rewritten_query, answer, route,
			retrieval_mode, candidate_sections, coarse_results, fine_results, context_chunks,
			persisted, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	persisted := 0
	if record.Persisted {
		persisted = 1
	}

	_, err := c.db.Exec(
		query,
		record.ID,
		record.SessionID,
		record.Message,
		record.RewrittenQuery,
		record.Answer,
		record.Route,
		record.RetrievalMode,
		record.CandidateSections,
		record.CoarseResults,
		record.FineResults,
		record.ContextChunks,
		persisted,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert chat record: %w", err)
	}

	logger.Debug("Chat recorded",
		zap.String("chat_id", record.ID),
		zap.String("session_id", record.SessionID),
		zap.String("route", record.Route),
	)
	return nil
}

func (c *Client) InsertChatSource(source *models.ChatSource) error {
	query := `
		INSERT INTO chat_sources (chat_id, document_id, chunk_id, file_name, chunk_part, distance)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		source.ChatID,
		source.DocumentID,
		source.ChunkID,
		source.FileName,
		source.ChunkPart,
		source.Distance,
	)

	if err != nil {
		return fmt.Errorf("failed to insert chat source: %w", err)
	}

	return nil
}

func (c *Client) ListChatRecords(limit int) ([]models.ChatRecord, error) {
	query := `
		SELECT id, session_id, message, rewritten_query, answer, route, retrieval_mode,
			candidate_sections, coarse_results, fine_results, context_chunks, persisted,
			latency_ms, created_at
		FROM chat_history
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat records: %w", err)
	}
	defer rows.Close()

	records := make([]models.ChatRecord, 0)
	for rows.Next() {
		var record models.ChatRecord
		var persisted int
		var createdAt int64

		err := rows.Scan(
			&record.ID,
			&record.SessionID,
			&record.Message,
			&record.RewrittenQuery,
			&record.Answer,
			&record.Route,
			&record.RetrievalMode,
			&record.CandidateSections,
			&record.CoarseResults,
			&record.FineResults,
			&record.ContextChunks,
			&persisted,
			&record.LatencyMS,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat record: %w", err)
		}

		record.Persisted = persisted == 1
		record.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat records: %w", err)
	}

	return records, nil
}

func (c *Client) GetChatSources(chatID string) ([]models.ChatSource, error) {
	query := `
		SELECT id, chat_id, document_id, chunk_id, file_name, chunk_part, distance
		FROM chat_sources
		WHERE chat_id = ?
		ORDER BY id
	`

	rows, err := c.db.Query(query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat sources: %w", err)
	}
	defer rows.Close()

	sources := make([]models.ChatSource, 0)
	for rows.Next() {
		var source models.ChatSource
		err := rows.Scan(
			&source.ID,
			&source.ChatID,
			&source.DocumentID,
			&source.ChunkID,
			&source.FileName,
			&source.ChunkPart,
			&source.Distance,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat source: %w", err)
		}
		sources = append(sources, source)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat sources: %w", err)
	}

	return sources, nil
}
