package main

import (
	"log"

	"docchat-backend/internal/ai"
	"docchat-backend/internal/config"
	"docchat-backend/internal/extractor"
	"docchat-backend/internal/logger"
	"docchat-backend/internal/queue"
	"docchat-backend/internal/store"
	"docchat-backend/internal/telemetry"
	"docchat-backend/services"

	"github.com/hibiken/asynq"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	// Connect to Postgres
	pool, err := config.ConnectPostgres(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Postgres:", err)
	}
	defer pool.Close()

	documentStore := store.New(pool)

	// Initialize Gemini client
	aiClient, err := ai.NewClient(cfg)
	if err != nil {
		log.Fatal("Failed to initialize Gemini client:", err)
	}
	defer aiClient.Close()

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to init metrics:", err)
	}

	pdfExtractor := extractor.New(cfg.MaxChunkSize, cfg.ChunkOverlap)

	// Redis options for Asynq
	redisOpt, err := config.AsynqRedisOpt(cfg)
	if err != nil {
		log.Fatal("Failed to parse Redis URL:", err)
	}

	// The worker enqueues per-chunk embed tasks onto its own pool
	queueClient := asynq.NewClient(redisOpt)
	defer queueClient.Close()

	processor := queue.NewTaskProcessor(documentStore, aiClient, pdfExtractor, queueClient, metrics, cfg.IngestMaxRetry)

	// Create Asynq server. One bounded pool shared by document and chunk
	// tasks; a large document contends with everything else for the slots.
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				"ingest": 1,
				"embed":  1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(processor.HandleError),
		},
	)

	// Reap documents stuck by a crash or a permanently hung external call
	janitor := services.NewJanitor(cfg, documentStore)
	janitor.Start()
	defer janitor.Stop()

	// Create mux and register handlers
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskIngestDocument, processor.HandleIngestDocument)
	mux.HandleFunc(queue.TaskEmbedChunk, processor.HandleEmbedChunk)

	log.Println("Starting ingestion worker...")
	log.Printf("   Concurrency: %d", cfg.WorkerConcurrency)
	log.Printf("   Redis: %s", cfg.RedisURL)

	// Start the server
	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
