package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"docchat-backend/internal/config"
	"docchat-backend/internal/store"
	"docchat-backend/models"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

type fakeStore struct {
	docs        map[string]models.Document
	order       []string
	chunkCounts map[string]int
	searchRes   []models.SimilarChunk
	searchErr   error
	deleted     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:        make(map[string]models.Document),
		chunkCounts: make(map[string]int),
	}
}

func (f *fakeStore) CreateDocument(ctx context.Context, id, filename, filePath string) (models.Document, error) {
	doc := models.Document{
		ID:         id,
		Filename:   filename,
		FilePath:   filePath,
		Status:     models.StatusPending,
		UploadedAt: time.Now().UTC(),
	}
	f.docs[id] = doc
	f.order = append([]string{id}, f.order...)
	return doc, nil
}

func (f *fakeStore) GetDocument(ctx context.Context, id string) (models.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return models.Document{}, store.ErrNotFound
	}
	return doc, nil
}

func (f *fakeStore) ListDocuments(ctx context.Context) ([]models.Document, error) {
	docs := make([]models.Document, 0, len(f.order))
	for _, id := range f.order {
		docs = append(docs, f.docs[id])
	}
	return docs, nil
}

func (f *fakeStore) DeleteDocument(ctx context.Context, id string) error {
	if _, ok := f.docs[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.docs, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeStore) CountChunks(ctx context.Context, documentID string) (int, error) {
	return f.chunkCounts[documentID], nil
}

func (f *fakeStore) SearchSimilar(ctx context.Context, embedding []float32, topK int) ([]models.SimilarChunk, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.searchRes) > topK {
		return f.searchRes[:topK], nil
	}
	return f.searchRes, nil
}

type fakeAI struct {
	embedCalls    int
	generateCalls int
	embedErr      error
	generateErr   error
	lastContext   string
	answer        string
}

func (f *fakeAI) EmbedText(ctx context.Context, text string) ([]float32, error) {
	f.embedCalls++
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeAI) GenerateAnswer(ctx context.Context, query, contextText string) (string, error) {
	f.generateCalls++
	f.lastContext = contextText
	if f.generateErr != nil {
		return "", f.generateErr
	}
	return f.answer, nil
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: fmt.Sprintf("task-%d", len(f.tasks))}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		TopK:           3,
		MaxFileSize:    1 << 20,
		FileStorageDir: t.TempDir(),
		IngestMaxRetry: 3,
	}
}

func newTestRouter(cfg *config.Config, st DocumentStore, aiSvc AIService, enqueuer TaskEnqueuer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	SetupDocumentRoutes(router, cfg, st, aiSvc, enqueuer, nil)
	return router
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestQueryRequiresNonEmptyQuery(t *testing.T) {
	st := newFakeStore()
	aiSvc := &fakeAI{}
	router := newTestRouter(testConfig(t), st, aiSvc, &fakeEnqueuer{})

	for _, body := range []any{
		map[string]string{"query": ""},
		map[string]string{"query": "   "},
		map[string]string{},
		nil,
	} {
		w := doJSON(router, http.MethodPost, "/api/query/", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %v: status = %d, want 400", body, w.Code)
		}
	}

	// Validation must run before any external call
	if aiSvc.embedCalls != 0 || aiSvc.generateCalls != 0 {
		t.Errorf("AI called on invalid input: embed=%d generate=%d", aiSvc.embedCalls, aiSvc.generateCalls)
	}
}

func TestQueryHappyPath(t *testing.T) {
	st := newFakeStore()
	st.searchRes = []models.SimilarChunk{
		{Content: "first chunk", Distance: 0.1},
		{Content: "second chunk", Distance: 0.2},
	}
	aiSvc := &fakeAI{answer: "the answer"}
	router := newTestRouter(testConfig(t), st, aiSvc, &fakeEnqueuer{})

	w := doJSON(router, http.MethodPost, "/api/query/", map[string]string{"query": "what is this?"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["answer"] != "the answer" {
		t.Errorf("answer = %q", resp["answer"])
	}

	// Retrieved chunks are joined with newlines for the prompt context
	if aiSvc.lastContext != "first chunk\nsecond chunk" {
		t.Errorf("context = %q", aiSvc.lastContext)
	}
}

func TestQueryEmptyStoreStillAnswers(t *testing.T) {
	st := newFakeStore()
	aiSvc := &fakeAI{answer: "I don't know"}
	router := newTestRouter(testConfig(t), st, aiSvc, &fakeEnqueuer{})

	w := doJSON(router, http.MethodPost, "/api/query/", map[string]string{"query": "anything?"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if aiSvc.generateCalls != 1 {
		t.Errorf("generate calls = %d, want 1", aiSvc.generateCalls)
	}
	if aiSvc.lastContext != "" {
		t.Errorf("context = %q, want empty", aiSvc.lastContext)
	}
}

func TestQueryEmbedFailure(t *testing.T) {
	st := newFakeStore()
	aiSvc := &fakeAI{embedErr: errors.New("embedding service failed")}
	router := newTestRouter(testConfig(t), st, aiSvc, &fakeEnqueuer{})

	w := doJSON(router, http.MethodPost, "/api/query/", map[string]string{"query": "hello"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if aiSvc.generateCalls != 0 {
		t.Errorf("generate should not run after embed failure")
	}
}

func TestQuerySearchFailure(t *testing.T) {
	st := newFakeStore()
	st.searchErr = errors.New("db down")
	router := newTestRouter(testConfig(t), st, &fakeAI{}, &fakeEnqueuer{})

	w := doJSON(router, http.MethodPost, "/api/query/", map[string]string{"query": "hello"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestStatusUnknownDocument(t *testing.T) {
	router := newTestRouter(testConfig(t), newFakeStore(), &fakeAI{}, &fakeEnqueuer{})

	w := doJSON(router, http.MethodGet, "/api/status/no-such-id/", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestStatusReportsChunkProgress(t *testing.T) {
	st := newFakeStore()
	st.CreateDocument(context.Background(), "doc-1", "report.pdf", "/tmp/doc-1.pdf")
	doc := st.docs["doc-1"]
	doc.Status = models.StatusProcessing
	st.docs["doc-1"] = doc
	st.chunkCounts["doc-1"] = 4

	router := newTestRouter(testConfig(t), st, &fakeAI{}, &fakeEnqueuer{})

	w := doJSON(router, http.MethodGet, "/api/status/doc-1/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		DocumentID      string `json:"document_id"`
		Status          string `json:"status"`
		ChunksProcessed int    `json:"chunks_processed"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != models.StatusProcessing {
		t.Errorf("status = %q, want %q", resp.Status, models.StatusProcessing)
	}
	if resp.ChunksProcessed != 4 {
		t.Errorf("chunks_processed = %d, want 4", resp.ChunksProcessed)
	}
}

func TestListDocumentsNewestFirst(t *testing.T) {
	st := newFakeStore()
	st.CreateDocument(context.Background(), "doc-old", "old.pdf", "/tmp/doc-old.pdf")
	st.CreateDocument(context.Background(), "doc-new", "new.pdf", "/tmp/doc-new.pdf")

	router := newTestRouter(testConfig(t), st, &fakeAI{}, &fakeEnqueuer{})

	w := doJSON(router, http.MethodGet, "/api/documents/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp []models.DocumentSummary
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp) != 2 {
		t.Fatalf("got %d documents, want 2", len(resp))
	}
	if resp[0].ID != "doc-new" || resp[1].ID != "doc-old" {
		t.Errorf("order = [%s, %s], want newest first", resp[0].ID, resp[1].ID)
	}
	if resp[0].FileURL != "/files/documents/doc-new.pdf" {
		t.Errorf("file_url = %q", resp[0].FileURL)
	}
}

func TestDeleteUnknownDocument(t *testing.T) {
	st := newFakeStore()
	router := newTestRouter(testConfig(t), st, &fakeAI{}, &fakeEnqueuer{})

	w := doJSON(router, http.MethodDelete, "/api/documents/no-such-id/", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if len(st.deleted) != 0 {
		t.Errorf("delete had side effects: %v", st.deleted)
	}
}

func TestDeleteRemovesRecordAndFile(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "doc-1.pdf")
	if err := os.WriteFile(filePath, []byte("%PDF-1.4"), 0600); err != nil {
		t.Fatal(err)
	}

	st := newFakeStore()
	st.CreateDocument(context.Background(), "doc-1", "report.pdf", filePath)

	router := newTestRouter(testConfig(t), st, &fakeAI{}, &fakeEnqueuer{})

	w := doJSON(router, http.MethodDelete, "/api/documents/doc-1/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", w.Code, w.Body.String())
	}
	if _, ok := st.docs["doc-1"]; ok {
		t.Error("document record still present after delete")
	}
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		t.Error("stored file still present after delete")
	}
}

func multipartPDF(t *testing.T, fieldName, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(fieldName, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatal(err)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestUploadRequiresFile(t *testing.T) {
	router := newTestRouter(testConfig(t), newFakeStore(), &fakeAI{}, &fakeEnqueuer{})

	body, contentType := multipartPDF(t, "wrong_field", "doc.pdf", []byte("%PDF-1.4 data"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload/", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestUploadRejectsNonPDF(t *testing.T) {
	st := newFakeStore()
	enq := &fakeEnqueuer{}
	router := newTestRouter(testConfig(t), st, &fakeAI{}, enq)

	body, contentType := multipartPDF(t, "file", "notes.txt", []byte("just some text"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload/", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(st.docs) != 0 || len(enq.tasks) != 0 {
		t.Error("rejected upload must not create records or tasks")
	}
}

func TestUploadAccepted(t *testing.T) {
	cfg := testConfig(t)
	st := newFakeStore()
	enq := &fakeEnqueuer{}
	router := newTestRouter(cfg, st, &fakeAI{}, enq)

	body, contentType := multipartPDF(t, "file", "report.pdf", []byte("%PDF-1.4 fake pdf body"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload/", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body: %s", w.Code, w.Body.String())
	}

	var resp struct {
		DocumentID string `json:"document_id"`
		Status     string `json:"status"`
		Filename   string `json:"filename"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.DocumentID == "" {
		t.Fatal("no document_id in response")
	}
	if resp.Status != models.StatusPending {
		t.Errorf("status = %q, want %q", resp.Status, models.StatusPending)
	}
	if resp.Filename != "report.pdf" {
		t.Errorf("filename = %q", resp.Filename)
	}

	doc, ok := st.docs[resp.DocumentID]
	if !ok {
		t.Fatal("document record not created")
	}
	if _, err := os.Stat(doc.FilePath); err != nil {
		t.Errorf("stored file missing: %v", err)
	}

	if len(enq.tasks) != 1 {
		t.Fatalf("enqueued %d tasks, want 1", len(enq.tasks))
	}
	if enq.tasks[0].Type() != "document:ingest" {
		t.Errorf("task type = %q", enq.tasks[0].Type())
	}
}

func TestUploadEnqueueFailureCleansUp(t *testing.T) {
	cfg := testConfig(t)
	st := newFakeStore()
	enq := &fakeEnqueuer{err: errors.New("broker down")}
	router := newTestRouter(cfg, st, &fakeAI{}, enq)

	body, contentType := multipartPDF(t, "file", "report.pdf", []byte("%PDF-1.4 fake pdf body"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload/", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if len(st.docs) != 0 {
		t.Error("document record not rolled back after enqueue failure")
	}

	// The saved file must be gone too
	entries, err := os.ReadDir(filepath.Join(cfg.FileStorageDir, "documents"))
	if err == nil && len(entries) != 0 {
		t.Errorf("stored file not cleaned up: %d entries remain", len(entries))
	}
}
