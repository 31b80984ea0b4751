package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/banksync/internal/archive"
	"github.com/dvloznov/banksync/internal/categorize"
	"github.com/dvloznov/banksync/internal/domain"
	infraBQ "github.com/dvloznov/banksync/internal/infra/bigquery"
	"github.com/dvloznov/banksync/internal/jobs"
	"github.com/dvloznov/banksync/internal/jobs/inmemory"
	"github.com/dvloznov/banksync/internal/logger"
	"github.com/dvloznov/banksync/internal/provider/truelayer"
	syncsvc "github.com/dvloznov/banksync/internal/sync"
)

func main() {
	var (
		interval = flag.Duration("interval", time.Hour, "how often to sync active connections")
		bucket   = flag.String("bucket", os.Getenv("GCS_BUCKET"), "GCS bucket for raw payload archiving (or set GCS_BUCKET env)")
		model    = flag.String("model", os.Getenv("GEMINI_MODEL"), "Gemini model for transaction categorization (or set GEMINI_MODEL env)")
	)
	flag.Parse()

	// Initialize logger
	log := logger.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := infraBQ.NewRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create repository")
	}
	defer repo.Close()

	provider := truelayer.New(truelayer.ConfigFromEnv())
	tokens := syncsvc.NewTokenManager(repo, provider, log)

	incomeCategoryID := ""
	if income, err := repo.FindCategoryByName(ctx, domain.CategoryIncome); err != nil {
		log.Fatal().Err(err).Msg("Failed to look up Income category")
	} else if income == nil {
		log.Warn().Msg("Income category not found - credits will stay uncategorized")
	} else {
		incomeCategoryID = income.ID
	}

	ingestor := syncsvc.NewIngestor(repo, incomeCategoryID, log)

	var archiver syncsvc.Archiver
	if *bucket != "" {
		archiver = archive.NewWriter(*bucket)
	}

	syncService := syncsvc.NewService(repo, provider, tokens, ingestor, archiver, log)
	categorizeService := categorize.NewService(repo, categorize.NewGeminiClassifier(*model), categorize.NewCache(), 0, log)

	// Initialize job store and queue
	// In production, this would be replaced with Cloud Tasks or Pub/Sub
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)

	log.Info().Dur("interval", *interval).Msg("Starting worker service")

	handler := func(ctx context.Context, job *jobs.Job) error {
		switch job.Type {
		case jobs.JobTypeSyncConnection:
			log.Info().
				Str("job_id", job.JobID).
				Str("connection_id", job.ConnectionID).
				Msg("Processing sync job")

			result, err := syncService.Sync(ctx, syncsvc.Request{ConnectionID: job.ConnectionID, Force: job.Force})
			if err != nil {
				log.Error().
					Err(err).
					Str("job_id", job.JobID).
					Str("connection_id", job.ConnectionID).
					Msg("Sync job failed")
				return err
			}
			for _, warning := range result.Warnings {
				log.Warn().
					Str("connection_id", job.ConnectionID).
					Str("warning", warning).
					Msg("Sync completed with warning")
			}
			return nil

		case jobs.JobTypeCategorize:
			log.Info().Str("job_id", job.JobID).Msg("Processing categorize job")

			stats, err := categorizeService.Run(ctx, job.BatchSize)
			if err != nil {
				log.Error().Err(err).Str("job_id", job.JobID).Msg("Categorize job failed")
				return err
			}
			log.Info().
				Int("cached", stats.Cached).
				Int("ai_classified", stats.Classified).
				Int("pending", stats.Pending).
				Msg("Categorize job finished")
			return nil

		default:
			return fmt.Errorf("unexpected job type: %s", job.Type)
		}
	}

	// Start consuming jobs
	if err := jobQueue.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	// Periodically enqueue one sync job per active connection plus a
	// categorization pass over whatever those syncs ingested.
	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()

		enqueue := func() {
			conns, err := repo.ListActiveConnections(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Failed to list active connections")
				return
			}
			for _, conn := range conns {
				job := &jobs.Job{Type: jobs.JobTypeSyncConnection, ConnectionID: conn.ID}
				if err := jobQueue.Publish(ctx, job); err != nil {
					log.Error().Err(err).Str("connection_id", conn.ID).Msg("Failed to enqueue sync job")
				}
			}
			if err := jobQueue.Publish(ctx, &jobs.Job{Type: jobs.JobTypeCategorize}); err != nil {
				log.Error().Err(err).Msg("Failed to enqueue categorize job")
			}
			log.Info().Int("connections", len(conns)).Msg("Enqueued scheduled sync jobs")
		}

		enqueue()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				enqueue()
			}
		}
	}()

	log.Info().Msg("Worker service started, waiting for jobs...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}
