// Package app wires configuration to the analysis services shared by the
// API server, the CLI and the worker.
package app

import (
	"context"
	"errors"
	"fmt"

	bq "github.com/dvloznov/doc-analyzer/internal/bigquery"
	"github.com/dvloznov/doc-analyzer/internal/config"
	"github.com/dvloznov/doc-analyzer/internal/gcsuploader"
	infraBQ "github.com/dvloznov/doc-analyzer/internal/infra/bigquery"
	"github.com/dvloznov/doc-analyzer/internal/infra/inmemory"
	"github.com/dvloznov/doc-analyzer/internal/ingest"
	"github.com/dvloznov/doc-analyzer/internal/jobs"
	"github.com/dvloznov/doc-analyzer/internal/llm"
	"github.com/dvloznov/doc-analyzer/internal/logger"
	"github.com/dvloznov/doc-analyzer/internal/pipeline"
)

// Application holds the wired services and the resources to release on Close.
type Application struct {
	Config   *config.Config
	Analyzer *pipeline.Analyzer
	Repo     bq.AnalysisRepository
	Storage  *gcsuploader.GCSStorageService
	Ingest   *ingest.Service

	closers []func() error
}

// NewAnalyzer builds the pipeline analyzer for cfg.
func NewAnalyzer(ctx context.Context, cfg *config.Config) (*pipeline.Analyzer, error) {
	completer, err := llm.New(ctx, llm.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Timeout:  cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("NewAnalyzer: %w", err)
	}

	vocab, err := config.LoadVocabulary(cfg.Analysis)
	if err != nil {
		return nil, fmt.Errorf("NewAnalyzer: %w", err)
	}

	temperature := cfg.LLM.Temperature
	analyzer, err := pipeline.NewAnalyzer(pipeline.Options{
		Completer:         completer,
		Model:             cfg.LLM.Model,
		Temperature:       &temperature,
		MaxTokens:         cfg.LLM.MaxTokens,
		MaxPromptChars:    cfg.Analysis.MaxPromptChars,
		Language:          cfg.Analysis.Language,
		DefaultYear:       cfg.Analysis.DefaultYear,
		Vocabulary:        vocab,
		PDFAttemptTimeout: cfg.Analysis.PDFAttemptTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("NewAnalyzer: %w", err)
	}
	return analyzer, nil
}

// NewRepository opens the analysis store selected by cfg.Server.Store.
// The returned close function is never nil.
func NewRepository(ctx context.Context, cfg *config.Config) (bq.AnalysisRepository, func() error, error) {
	switch cfg.Server.Store {
	case config.StoreBigQuery:
		repo, err := infraBQ.NewBigQueryAnalysisRepository(ctx, cfg.GCP.ProjectID, cfg.GCP.Dataset)
		if err != nil {
			return nil, nil, fmt.Errorf("NewRepository: %w", err)
		}
		return repo, repo.Close, nil
	case config.StoreMemory, "":
		return inmemory.NewRepository(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("NewRepository: unknown store %q", cfg.Server.Store)
	}
}

// New wires the analyzer, the analysis store and, when a bucket or the
// BigQuery store is configured, Cloud Storage.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	a := &Application{Config: cfg}

	analyzer, err := NewAnalyzer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Analyzer = analyzer

	repo, closeRepo, err := NewRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Repo = repo
	a.closers = append(a.closers, closeRepo)

	var fetcher ingest.Fetcher
	if cfg.GCP.Bucket != "" || cfg.Server.Store == config.StoreBigQuery {
		storage, err := gcsuploader.NewGCSStorageService(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.Storage = storage
		a.closers = append(a.closers, storage.Close)
		fetcher = storage
	}

	a.Ingest = ingest.NewService(analyzer, repo, fetcher)

	log := logger.FromContext(ctx)
	log.Info().
		Str("llm_provider", cfg.LLM.Provider).
		Str("store", cfg.Server.Store).
		Bool("gcs", a.Storage != nil).
		Msg("Application initialized")

	return a, nil
}

// Close releases the resources opened by New, newest first.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// GCSAnalyzer analyzes documents stored in Cloud Storage.
type GCSAnalyzer interface {
	AnalyzeGCS(ctx context.Context, userID, gcsURI, mimeType string) (*ingest.Result, error)
}

// AnalyzeJobHandler returns the job handler that runs analyze_document jobs
// through svc. Source errors are permanent; the queue retries the rest.
func AnalyzeJobHandler(svc GCSAnalyzer) jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		analyzeJob, ok := job.(*jobs.AnalyzeDocumentJob)
		if !ok {
			return fmt.Errorf("unexpected job type %T: %w", job, jobs.ErrPermanent)
		}

		log := logger.FromContext(ctx).With().
			Str("job_id", analyzeJob.JobID).
			Str("gcs_uri", analyzeJob.GCSURI).
			Logger()
		log.Info().Msg("Processing analyze_document job")

		res, err := svc.AnalyzeGCS(ctx, analyzeJob.UserID, analyzeJob.GCSURI, analyzeJob.MIMEType)
		if err != nil {
			if errors.Is(err, ingest.ErrInvalidSource) {
				return fmt.Errorf("%w: %w", jobs.ErrPermanent, err)
			}
			return err
		}

		analyzeJob.AnalysisID = res.Analysis.AnalysisID
		analyzeJob.Duplicate = res.Duplicate

		log.Info().
			Str("analysis_id", analyzeJob.AnalysisID).
			Bool("duplicate", res.Duplicate).
			Int("transactions", len(res.Transactions)).
			Msg("Document analysis completed")
		return nil
	}
}
