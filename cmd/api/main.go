package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/doc-analyzer/internal/api/handlers"
	"github.com/dvloznov/doc-analyzer/internal/api/middleware"
	"github.com/dvloznov/doc-analyzer/internal/app"
	"github.com/dvloznov/doc-analyzer/internal/config"
	"github.com/dvloznov/doc-analyzer/internal/jobs/inmemory"
	"github.com/dvloznov/doc-analyzer/internal/logger"
)

func main() {
	cfg := config.Load()

	// Parse command-line flags
	var (
		port   = flag.String("port", cfg.Server.Port, "HTTP server port")
		bucket = flag.String("bucket", cfg.GCP.Bucket, "GCS bucket name for document uploads (or set GCS_BUCKET env)")
		store  = flag.String("store", cfg.Server.Store, "Analysis store: bigquery or memory (or set STORE env)")
	)
	flag.Parse()

	cfg.GCP.Bucket = *bucket
	cfg.Server.Store = strings.ToLower(*store)

	log := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	if cfg.GCP.Bucket == "" {
		log.Warn().Msg("No GCS bucket configured - document uploads will be disabled")
	}

	ctx := logger.WithContext(context.Background(), log)

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Jobs.Buffer, jobStore,
		inmemory.WithWorkers(cfg.Jobs.Workers),
		inmemory.WithMaxRetries(cfg.Jobs.MaxRetries),
	)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if cfg.Server.EmbeddedWorker {
		log.Info().Int("workers", cfg.Jobs.Workers).Msg("Starting job worker")
		if err := jobQueue.Start(workerCtx, app.AnalyzeJobHandler(application.Ingest)); err != nil {
			log.Fatal().Err(err).Msg("Failed to start job worker")
		}
	} else {
		log.Warn().Msg("Embedded worker disabled - enqueued jobs stay pending")
	}

	// Initialize handlers
	var uploader handlers.Uploader
	if application.Storage != nil {
		uploader = application.Storage
	}
	analysesHandler := handlers.NewAnalysesHandler(application.Ingest, log)
	documentsHandler := handlers.NewDocumentsHandler(uploader, jobQueue, cfg.GCP.Bucket, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, log)

	// Create router
	mux := http.NewServeMux()

	// Analyses endpoints
	mux.HandleFunc("/api/analyses", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			analysesHandler.ListAnalyses(w, r)
		case http.MethodPost:
			analysesHandler.CreateAnalysis(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/analyses/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			documentsHandler.EnqueueAnalysis(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/analyses/", func(w http.ResponseWriter, r *http.Request) {
		// Extract analysis ID from path
		analysisID := strings.TrimPrefix(r.URL.Path, "/api/analyses/")
		if analysisID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Analysis ID is required")
			return
		}
		switch r.Method {
		case http.MethodGet:
			analysesHandler.GetAnalysis(w, r, analysisID)
		case http.MethodDelete:
			analysesHandler.DeleteAnalysis(w, r, analysisID)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Documents endpoints
	mux.HandleFunc("/api/documents/upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			documentsHandler.UploadDocument(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Jobs endpoints
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			// Extract job ID from path
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
			"store":  cfg.Server.Store,
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

	// Synchronous analyses wait on the model, so writes get the provider
	// timeout plus headroom for extraction and storage.
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.LLM.Timeout + 60*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Str("store", cfg.Server.Store).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
