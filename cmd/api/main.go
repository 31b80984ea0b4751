package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/banksync/internal/api/handlers"
	"github.com/dvloznov/banksync/internal/api/middleware"
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
	// Parse command-line flags
	var (
		port   = flag.String("port", "8080", "HTTP server port")
		bucket = flag.String("bucket", os.Getenv("GCS_BUCKET"), "GCS bucket for raw payload archiving (or set GCS_BUCKET env)")
		model  = flag.String("model", os.Getenv("GEMINI_MODEL"), "Gemini model for transaction categorization (or set GEMINI_MODEL env)")
	)
	flag.Parse()

	// Initialize logger
	log := logger.New()

	if *bucket == "" {
		log.Warn().Msg("No GCS bucket configured - raw payload archiving disabled")
	}

	ctx := context.Background()

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

	cache := categorize.NewCache()
	classifier := categorize.NewGeminiClassifier(*model)
	categorizeService := categorize.NewService(repo, classifier, cache, 0, log)

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	jobHandler := func(ctx context.Context, job *jobs.Job) error {
		switch job.Type {
		case jobs.JobTypeSyncConnection:
			log.Info().
				Str("job_id", job.JobID).
				Str("connection_id", job.ConnectionID).
				Bool("force", job.Force).
				Msg("Processing sync job")

			_, err := syncService.Sync(ctx, syncsvc.Request{
				ConnectionID: job.ConnectionID,
				AccountID:    job.AccountID,
				Force:        job.Force,
			})
			return err

		case jobs.JobTypeCategorize:
			log.Info().
				Str("job_id", job.JobID).
				Int("batch_size", job.BatchSize).
				Msg("Processing categorize job")

			_, err := categorizeService.Run(ctx, job.BatchSize)
			return err

		default:
			return fmt.Errorf("unexpected job type: %s", job.Type)
		}
	}

	// Start job consumer in background
	go func() {
		log.Info().Msg("Starting job worker")
		if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
			log.Error().Err(err).Msg("Job worker stopped with error")
		}
	}()

	// Initialize handlers
	syncHandler := handlers.NewSyncHandler(syncService, log)
	categorizeHandler := handlers.NewCategorizeHandler(categorizeService, log)
	connectionsHandler := handlers.NewConnectionsHandler(repo, provider, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, log)

	// Create router
	mux := http.NewServeMux()

	mux.HandleFunc("/api/sync", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			syncHandler.Sync(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/categorize", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			categorizeHandler.Categorize(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/connections", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			connectionsHandler.ListConnections(w, r)
		case http.MethodPost:
			connectionsHandler.CreateConnection(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			jobsHandler.GetJob(w, r, jobID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(
					middleware.Auth(mux),
				),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}
