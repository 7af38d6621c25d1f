package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"docchat-backend/internal/config"
	"docchat-backend/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	pool, err := config.ConnectPostgres(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := store.Migrate(ctx, pool, cfg.VectorDimensions); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	fmt.Printf("Schema ready (vector dimensions: %d)\n", cfg.VectorDimensions)
}
