package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docchat-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ErrNotFound is returned when a document id does not exist.
var ErrNotFound = errors.New("record not found")

// Store persists documents and their embedded chunks in Postgres. Vector
// similarity ranking is delegated to the pgvector cosine operator.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the pgvector extension, tables and indexes. Idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS documents (
			id            UUID PRIMARY KEY,
			filename      TEXT NOT NULL,
			file_path     TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'pending',
			error_message TEXT NOT NULL DEFAULT '',
			chunk_total   INT NOT NULL DEFAULT 0,
			uploaded_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS text_chunks (
			id          UUID PRIMARY KEY,
			document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			chunk_index INT NOT NULL,
			content     TEXT NOT NULL,
			embedding   VECTOR(%d) NOT NULL
		)`, dimensions),
		`CREATE INDEX IF NOT EXISTS idx_text_chunks_document_id ON text_chunks (document_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_text_chunks_doc_index ON text_chunks (document_id, chunk_index)`,
		`CREATE INDEX IF NOT EXISTS idx_text_chunks_embedding ON text_chunks
			USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_uploaded_at ON documents (uploaded_at DESC)`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// CreateDocument inserts a new document row in pending state. The id is
// assigned by the caller so the stored file can share it.
func (s *Store) CreateDocument(ctx context.Context, id, filename, filePath string) (models.Document, error) {
	doc := models.Document{
		ID:         id,
		Filename:   filename,
		FilePath:   filePath,
		Status:     models.StatusPending,
		UploadedAt: time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, filename, file_path, status, uploaded_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		doc.ID, doc.Filename, doc.FilePath, doc.Status, doc.UploadedAt, doc.UpdatedAt,
	)
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to create document: %w", err)
	}
	return doc, nil
}

// GetDocument loads one document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (models.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Document{}, ErrNotFound
	}

	var doc models.Document
	err := s.pool.QueryRow(ctx,
		`SELECT id, filename, file_path, status, error_message, chunk_total, uploaded_at, updated_at
		 FROM documents WHERE id = $1`, id,
	).Scan(&doc.ID, &doc.Filename, &doc.FilePath, &doc.Status, &doc.ErrorMessage,
		&doc.ChunkTotal, &doc.UploadedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, ErrNotFound
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to load document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns all documents, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]models.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, filename, file_path, status, error_message, chunk_total, uploaded_at, updated_at
		 FROM documents ORDER BY uploaded_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]models.Document, 0)
	for rows.Next() {
		var doc models.Document
		if err := rows.Scan(&doc.ID, &doc.Filename, &doc.FilePath, &doc.Status, &doc.ErrorMessage,
			&doc.ChunkTotal, &doc.UploadedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document; its chunks go with it via the cascading
// foreign key.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus moves a document to the given state.
func (s *Store) UpdateStatus(ctx context.Context, id, status, errorMessage string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $2, error_message = $3, updated_at = now() WHERE id = $1`,
		id, status, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetChunkTotal records how many chunks extraction produced for the document.
func (s *Store) SetChunkTotal(ctx context.Context, id string, total int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET chunk_total = $2, updated_at = now() WHERE id = $1`,
		id, total)
	if err != nil {
		return fmt.Errorf("failed to set chunk total: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertChunk persists one embedded chunk for a document. Re-delivered tasks
// insert the same (document, index) pair again; the conflict clause makes
// that a no-op instead of a duplicate row. Each insert also refreshes the
// parent's updated_at, so a slow but progressing ingestion never looks stale
// to the janitor.
func (s *Store) InsertChunk(ctx context.Context, documentID string, chunkIndex int, content string, embedding []float32) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO text_chunks (id, document_id, chunk_index, content, embedding)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (document_id, chunk_index) DO NOTHING`,
		uuid.NewString(), documentID, chunkIndex, content, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}

	if _, err := s.pool.Exec(ctx,
		`UPDATE documents SET updated_at = now() WHERE id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to touch document: %w", err)
	}
	return nil
}

// CountChunks returns how many chunks are persisted for a document.
func (s *Store) CountChunks(ctx context.Context, documentID string) (int, error) {
	if _, err := uuid.Parse(documentID); err != nil {
		return 0, ErrNotFound
	}

	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM text_chunks WHERE document_id = $1`, documentID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// MarkCompletedIfIngested flips a processing document to completed once every
// extracted chunk has been persisted. The subquery and update run as one
// statement, so concurrent chunk workers cannot race the transition.
func (s *Store) MarkCompletedIfIngested(ctx context.Context, documentID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents d SET status = $2, updated_at = now()
		 WHERE d.id = $1 AND d.status = $3 AND d.chunk_total > 0
		   AND (SELECT COUNT(*) FROM text_chunks c WHERE c.document_id = d.id) >= d.chunk_total`,
		documentID, models.StatusCompleted, models.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to finalize document: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SearchSimilar ranks all stored chunks by cosine distance to the query
// embedding and returns the topK closest. An empty store returns zero rows.
func (s *Store) SearchSimilar(ctx context.Context, embedding []float32, topK int) ([]models.SimilarChunk, error) {
	if topK <= 0 {
		topK = 3
	}

	rows, err := s.pool.Query(ctx,
		`SELECT content, embedding <=> $1 AS distance
		 FROM text_chunks ORDER BY distance LIMIT $2`,
		pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer rows.Close()

	results := make([]models.SimilarChunk, 0, topK)
	for rows.Next() {
		var chunk models.SimilarChunk
		if err := rows.Scan(&chunk.Content, &chunk.Distance); err != nil {
			return nil, err
		}
		results = append(results, chunk)
	}
	return results, rows.Err()
}

// MarkStaleFailed fails documents that have been sitting in pending or
// processing since before the cutoff. Used by the janitor so a crashed
// ingestion run does not look in-flight forever.
func (s *Store) MarkStaleFailed(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $3, error_message = 'ingestion timed out', updated_at = now()
		 WHERE status IN ($1, $2) AND updated_at < $4`,
		models.StatusPending, models.StatusProcessing, models.StatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale documents: %w", err)
	}
	return tag.RowsAffected(), nil
}
