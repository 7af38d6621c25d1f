package services

import (
	"context"
	"time"

	"docchat-backend/internal/config"
	"docchat-backend/internal/logger"
	"docchat-backend/internal/store"

	"github.com/go-co-op/gocron"
)

// Janitor periodically fails documents stuck in pending or processing past
// the staleness deadline. Without it a crashed ingestion run looks in-flight
// forever.
type Janitor struct {
	store      *store.Store
	staleAfter time.Duration
	scheduler  *gocron.Scheduler
}

func NewJanitor(cfg *config.Config, st *store.Store) *Janitor {
	return &Janitor{
		store:      st,
		staleAfter: time.Duration(cfg.StaleAfterMinutes) * time.Minute,
		scheduler:  gocron.NewScheduler(time.UTC),
	}
}

// Start schedules the sweep every five minutes and runs in the background.
func (j *Janitor) Start() {
	j.scheduler.Every(5).Minutes().Do(j.sweep)
	j.scheduler.StartAsync()
	logger.Info("stale-ingestion janitor started", "stale_after", j.staleAfter.String())
}

func (j *Janitor) Stop() {
	j.scheduler.Stop()
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-j.staleAfter)
	n, err := j.store.MarkStaleFailed(ctx, cutoff)
	if err != nil {
		logger.Error("janitor sweep failed", "error", err)
		return
	}
	if n > 0 {
		logger.Warn("marked stale documents as failed", "count", n)
	}
}
