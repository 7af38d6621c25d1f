package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"docchat-backend/internal/ai"
	"docchat-backend/internal/extractor"
	"docchat-backend/internal/logger"
	"docchat-backend/internal/store"
	"docchat-backend/internal/telemetry"
	"docchat-backend/models"
)

const (
	TaskIngestDocument = "document:ingest"
	TaskEmbedChunk     = "chunk:embed"
)

type IngestPayload struct {
	DocumentID string `json:"document_id"`
	FilePath   string `json:"file_path"`
}

type ChunkEmbedPayload struct {
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
}

// Task creators
func NewIngestTask(documentID, filePath string, maxRetry int) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestPayload{
		DocumentID: documentID,
		FilePath:   filePath,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIngestDocument,
		payload,
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("ingest"),
	), nil
}

func NewChunkEmbedTask(documentID string, chunkIndex int, content string, maxRetry int) (*asynq.Task, error) {
	payload, err := json.Marshal(ChunkEmbedPayload{
		DocumentID: documentID,
		ChunkIndex: chunkIndex,
		Content:    content,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskEmbedChunk,
		payload,
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(2*time.Minute),
		asynq.Queue("embed"),
	), nil
}

// TaskProcessor executes the ingestion pipeline: extract the document, then
// embed and persist each chunk as its own task on the same worker pool.
type TaskProcessor struct {
	store     *store.Store
	aiClient  *ai.Client
	extractor *extractor.Extractor
	enqueuer  *asynq.Client
	metrics   *telemetry.Metrics
	maxRetry  int
}

func NewTaskProcessor(st *store.Store, aiClient *ai.Client, ext *extractor.Extractor, enqueuer *asynq.Client, metrics *telemetry.Metrics, maxRetry int) *TaskProcessor {
	return &TaskProcessor{
		store:     st,
		aiClient:  aiClient,
		extractor: ext,
		enqueuer:  enqueuer,
		metrics:   metrics,
		maxRetry:  maxRetry,
	}
}

// HandleIngestDocument extracts and chunks one uploaded PDF, then fans the
// chunks out as embed tasks. Chunk persistence order is unspecified.
func (p *TaskProcessor) HandleIngestDocument(ctx context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	start := time.Now()
	logger.Info("ingesting document", "document_id", payload.DocumentID, "path", payload.FilePath)

	if err := p.store.UpdateStatus(ctx, payload.DocumentID, models.StatusProcessing, ""); err != nil {
		return err
	}

	chunks, err := p.extractor.Process(ctx, payload.FilePath)
	if err != nil {
		// A file that cannot be parsed will not parse better on retry.
		if errors.Is(err, extractor.ErrExtraction) {
			logger.Error("extraction failed", "document_id", payload.DocumentID, "error", err)
			p.store.UpdateStatus(ctx, payload.DocumentID, models.StatusFailed, err.Error())
			p.recordIngestion(start, models.StatusFailed)
			return fmt.Errorf("extraction failed: %v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	// Image-only PDFs yield no text and therefore no chunks. That is not a
	// failure; the document simply has nothing to retrieve.
	if len(chunks) == 0 {
		logger.Warn("document produced no chunks", "document_id", payload.DocumentID)
		if err := p.store.UpdateStatus(ctx, payload.DocumentID, models.StatusCompleted, ""); err != nil {
			return err
		}
		p.recordIngestion(start, models.StatusCompleted)
		return nil
	}

	if err := p.store.SetChunkTotal(ctx, payload.DocumentID, len(chunks)); err != nil {
		return err
	}

	for i, chunk := range chunks {
		task, err := NewChunkEmbedTask(payload.DocumentID, i, chunk, p.maxRetry)
		if err != nil {
			return err
		}
		if _, err := p.enqueuer.EnqueueContext(ctx, task); err != nil {
			return fmt.Errorf("failed to enqueue chunk %d: %w", i, err)
		}
	}

	logger.Info("document chunked", "document_id", payload.DocumentID, "chunks", len(chunks))
	p.recordIngestion(start, models.StatusProcessing)
	return nil
}

// HandleEmbedChunk embeds one chunk, persists it, and completes the document
// once the last chunk is in.
func (p *TaskProcessor) HandleEmbedChunk(ctx context.Context, t *asynq.Task) error {
	var payload ChunkEmbedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	vec, err := p.aiClient.EmbedText(ctx, payload.Content)
	if err != nil {
		return err // asynq retries with backoff
	}

	if err := p.store.InsertChunk(ctx, payload.DocumentID, payload.ChunkIndex, payload.Content, vec); err != nil {
		return err
	}

	if p.metrics != nil {
		p.metrics.RecordChunkIngested("stored")
	}

	completed, err := p.store.MarkCompletedIfIngested(ctx, payload.DocumentID)
	if err != nil {
		return err
	}
	if completed {
		logger.Info("document ingestion completed", "document_id", payload.DocumentID)
	}
	return nil
}

// HandleError is wired as the asynq server ErrorHandler. Once a task has
// burned through its retries the owning document is marked failed so the
// error stops being invisible to status polling.
func (p *TaskProcessor) HandleError(ctx context.Context, task *asynq.Task, err error) {
	logger.Error("task failed", "type", task.Type(), "error", err)

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	if retried < maxRetry {
		return
	}

	documentID := documentIDFromTask(task)
	if documentID == "" {
		return
	}

	if uerr := p.store.UpdateStatus(context.Background(), documentID, models.StatusFailed, err.Error()); uerr != nil {
		logger.Error("failed to mark document failed", "document_id", documentID, "error", uerr)
	}
}

func documentIDFromTask(task *asynq.Task) string {
	switch task.Type() {
	case TaskIngestDocument:
		var payload IngestPayload
		if json.Unmarshal(task.Payload(), &payload) == nil {
			return payload.DocumentID
		}
	case TaskEmbedChunk:
		var payload ChunkEmbedPayload
		if json.Unmarshal(task.Payload(), &payload) == nil {
			return payload.DocumentID
		}
	}
	return ""
}

func (p *TaskProcessor) recordIngestion(start time.Time, status string) {
	if p.metrics != nil {
		p.metrics.RecordIngestion(time.Since(start).Seconds(), status)
	}
}
