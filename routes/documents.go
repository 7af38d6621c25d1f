package routes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docchat-backend/internal/config"
	"docchat-backend/internal/logger"
	"docchat-backend/internal/queue"
	"docchat-backend/internal/store"
	"docchat-backend/internal/telemetry"
	"docchat-backend/models"
	"docchat-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// DocumentStore is the persistence surface the handlers need.
type DocumentStore interface {
	CreateDocument(ctx context.Context, id, filename, filePath string) (models.Document, error)
	GetDocument(ctx context.Context, id string) (models.Document, error)
	ListDocuments(ctx context.Context) ([]models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	CountChunks(ctx context.Context, documentID string) (int, error)
	SearchSimilar(ctx context.Context, embedding []float32, topK int) ([]models.SimilarChunk, error)
}

// AIService covers the two external model calls the query path makes.
type AIService interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	GenerateAnswer(ctx context.Context, query, contextText string) (string, error)
}

// TaskEnqueuer schedules background ingestion work. *asynq.Client satisfies it.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// SetupDocumentRoutes registers the document API under /api.
func SetupDocumentRoutes(router *gin.Engine, cfg *config.Config, st DocumentStore, aiSvc AIService, enqueuer TaskEnqueuer, metrics *telemetry.Metrics) {
	api := router.Group("/api")

	api.POST("/upload/", HandleUpload(cfg, st, enqueuer))
	api.GET("/status/:documentID/", HandleStatus(st))
	api.POST("/query/", HandleQuery(cfg, st, aiSvc, metrics))
	api.GET("/documents/", HandleListDocuments(st))
	api.DELETE("/documents/:documentID/", HandleDeleteDocument(st))
}

// HandleUpload accepts a multipart PDF, stores it, creates the pending
// document record and enqueues ingestion. The response returns before any
// processing happens.
func HandleUpload(cfg *config.Config, st DocumentStore, enqueuer TaskEnqueuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseMultipartForm(cfg.MaxFileSize); err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "file_too_large",
				"File size exceeds maximum limit", nil)
			return
		}

		file, header, err := c.Request.FormFile("file")
		if err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "no_file",
				"No file provided", nil)
			return
		}
		defer file.Close()

		if header.Size > cfg.MaxFileSize {
			utils.RespondWithError(c, http.StatusBadRequest, "file_too_large",
				"File size exceeds maximum limit", nil)
			return
		}

		// Basic PDF header validation without loading the whole file
		headerBuf := make([]byte, 5)
		if _, err := io.ReadFull(file, headerBuf); err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "invalid_file",
				"Cannot read file header", nil)
			return
		}
		if string(headerBuf[:4]) != "%PDF" {
			utils.RespondWithError(c, http.StatusBadRequest, "invalid_pdf",
				"File does not appear to be a valid PDF", nil)
			return
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			utils.RespondWithInternalError(c, "Failed to reset file for saving", nil)
			return
		}

		documentID := uuid.NewString()

		uploadDir := filepath.Join(cfg.FileStorageDir, "documents")
		if err := os.MkdirAll(uploadDir, 0755); err != nil {
			utils.RespondWithInternalError(c, "Failed to create upload directory", nil)
			return
		}

		filePath := filepath.Join(uploadDir, fmt.Sprintf("%s.pdf", documentID))
		dst, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to open destination", nil)
			return
		}
		defer dst.Close()
		if _, err := io.Copy(dst, io.LimitReader(file, cfg.MaxFileSize)); err != nil {
			utils.RespondWithInternalError(c, "Failed to save file", nil)
			return
		}

		doc, err := st.CreateDocument(c.Request.Context(), documentID, header.Filename, filePath)
		if err != nil {
			os.Remove(filePath)
			utils.RespondWithInternalError(c, "Failed to create document record", nil)
			return
		}

		task, err := queue.NewIngestTask(documentID, filePath, cfg.IngestMaxRetry)
		if err != nil {
			os.Remove(filePath)
			st.DeleteDocument(c.Request.Context(), documentID)
			utils.RespondWithInternalError(c, "Failed to create processing task", nil)
			return
		}

		if _, err := enqueuer.Enqueue(task); err != nil {
			os.Remove(filePath)
			st.DeleteDocument(c.Request.Context(), documentID)
			utils.RespondWithInternalError(c, "Failed to enqueue processing task", nil)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"message":     "Document upload accepted. Processing in background.",
			"document_id": documentID,
			"status":      doc.Status,
			"filename":    header.Filename,
			"uploaded_at": doc.UploadedAt,
		})
	}
}

// HandleStatus reports the ingestion state of one document plus how many
// chunks have been persisted so far.
func HandleStatus(st DocumentStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		documentID := c.Param("documentID")

		doc, err := st.GetDocument(c.Request.Context(), documentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				utils.RespondWithNotFound(c, "Document not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to retrieve document status", nil)
			return
		}

		count, err := st.CountChunks(c.Request.Context(), documentID)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to count chunks", nil)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"document_id":      doc.ID,
			"status":           doc.Status,
			"chunks_processed": count,
		})
	}
}

type queryRequest struct {
	Query string `json:"query"`
}

// HandleQuery answers a question against all ingested chunks. Everything
// after input validation runs synchronously: embed, rank, generate.
func HandleQuery(cfg *config.Config, st DocumentStore, aiSvc AIService, metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req queryRequest
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Query) == "" {
			utils.RespondWithBadRequest(c, "Query is required", nil)
			return
		}

		ctx := c.Request.Context()

		embedding, err := aiSvc.EmbedText(ctx, req.Query)
		if err != nil {
			recordQuery(metrics, "error")
			utils.RespondWithError(c, http.StatusBadRequest, "query_failed", err.Error(), nil)
			return
		}

		chunks, err := st.SearchSimilar(ctx, embedding, cfg.TopK)
		if err != nil {
			recordQuery(metrics, "error")
			utils.RespondWithError(c, http.StatusBadRequest, "query_failed", err.Error(), nil)
			return
		}

		// An empty store yields an empty context; the model still answers.
		contents := make([]string, len(chunks))
		for i, chunk := range chunks {
			contents[i] = chunk.Content
		}
		contextText := strings.Join(contents, "\n")

		answer, err := aiSvc.GenerateAnswer(ctx, req.Query, contextText)
		if err != nil {
			recordQuery(metrics, "error")
			utils.RespondWithError(c, http.StatusBadRequest, "query_failed", err.Error(), nil)
			return
		}

		recordQuery(metrics, "success")
		c.JSON(http.StatusOK, gin.H{"answer": answer})
	}
}

// HandleListDocuments returns all documents, newest first.
func HandleListDocuments(st DocumentStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		docs, err := st.ListDocuments(c.Request.Context())
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to retrieve documents", nil)
			return
		}

		summaries := make([]models.DocumentSummary, 0, len(docs))
		for _, doc := range docs {
			summaries = append(summaries, models.DocumentSummary{
				ID:         doc.ID,
				Filename:   doc.Filename,
				UploadedAt: doc.UploadedAt,
				FileURL:    fileURL(doc.FilePath),
			})
		}

		c.JSON(http.StatusOK, summaries)
	}
}

// HandleDeleteDocument removes the document record, its chunks (cascade) and
// the stored file.
func HandleDeleteDocument(st DocumentStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		documentID := c.Param("documentID")

		doc, err := st.GetDocument(c.Request.Context(), documentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				utils.RespondWithNotFound(c, "Document not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to retrieve document", nil)
			return
		}

		if err := st.DeleteDocument(c.Request.Context(), documentID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				utils.RespondWithNotFound(c, "Document not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to delete document", nil)
			return
		}

		if err := os.Remove(doc.FilePath); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove stored file", "path", doc.FilePath, "error", err)
		}

		c.JSON(http.StatusOK, gin.H{
			"message":     "Document deleted successfully",
			"document_id": documentID,
			"deleted_at":  time.Now().UTC(),
		})
	}
}

// fileURL maps a stored file path to its public /files URL.
func fileURL(filePath string) string {
	return "/files/documents/" + filepath.Base(filePath)
}

func recordQuery(metrics *telemetry.Metrics, status string) {
	if metrics != nil {
		metrics.RecordQuery(status)
	}
}
