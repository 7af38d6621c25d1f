package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// Document represents one uploaded PDF and the state of its ingestion run.
type Document struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	FilePath     string    `json:"file_path"`
	Status       string    `json:"status"` // pending, processing, completed, failed
	ErrorMessage string    `json:"error_message,omitempty"`
	ChunkTotal   int       `json:"chunk_total"`
	UploadedAt   time.Time `json:"uploaded_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TextChunk is a bounded-length slice of a document's extracted text together
// with its embedding. Chunks have no lifecycle of their own; they are deleted
// with the owning document.
type TextChunk struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	ChunkIndex int             `json:"chunk_index"`
	Content    string          `json:"content"`
	Embedding  pgvector.Vector `json:"-"`
}

// SimilarChunk is a retrieval hit: chunk content plus its distance to the
// query embedding (smaller is closer).
type SimilarChunk struct {
	Content  string  `json:"content"`
	Distance float64 `json:"distance"`
}

// DocumentSummary is the list-endpoint projection of a document.
type DocumentSummary struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	UploadedAt time.Time `json:"uploaded_at"`
	FileURL    string    `json:"file_url"`
}

// Document status constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)
