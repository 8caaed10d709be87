package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/doc-analyzer/internal/app"
	"github.com/dvloznov/doc-analyzer/internal/config"
	"github.com/dvloznov/doc-analyzer/internal/inbox"
	"github.com/dvloznov/doc-analyzer/internal/ingest"
	"github.com/dvloznov/doc-analyzer/internal/jobs/inmemory"
	"github.com/dvloznov/doc-analyzer/internal/logger"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

func main() {
	cfg := config.Load()

	var (
		bucket   = flag.String("bucket", cfg.GCP.Bucket, "GCS bucket to scan (or set GCS_BUCKET env)")
		prefix   = flag.String("prefix", "inbox/", "Object prefix to scan")
		userID   = flag.String("user", ingest.DefaultUserID, "Owner of the analyses")
		schedule = flag.String("schedule", "", "Cron schedule, e.g. \"*/5 * * * *\" (empty runs one scan and exits)")
		timeout  = flag.Duration("timeout", 30*time.Minute, "Maximum duration of a single scan and its jobs")
	)
	flag.Parse()

	cfg.GCP.Bucket = *bucket

	log := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.GCP.Bucket == "" {
		log.Fatal().Msg("A bucket is required: set -bucket or GCS_BUCKET")
	}

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	// Initialize job store and queue
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Jobs.Buffer, jobStore,
		inmemory.WithWorkers(cfg.Jobs.Workers),
		inmemory.WithMaxRetries(cfg.Jobs.MaxRetries),
	)

	if err := jobQueue.Start(ctx, app.AnalyzeJobHandler(application.Ingest)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	scanner, err := inbox.NewScanner(application.Storage, jobQueue, inbox.Config{
		Bucket: cfg.GCP.Bucket,
		Prefix: *prefix,
		UserID: *userID,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create inbox scanner")
	}

	runScan := func() {
		scanCtx, cancelScan := context.WithTimeout(ctx, *timeout)
		defer cancelScan()

		res, err := scanner.Scan(scanCtx)
		if err != nil {
			log.Error().Err(err).Msg("Inbox scan failed")
		}
		if err := inbox.WaitForJobs(scanCtx, jobStore, res.JobIDs, time.Second); err != nil {
			log.Error().Err(err).Msg("Waiting for jobs failed")
		}
	}

	if *schedule == "" {
		log.Info().Str("bucket", cfg.GCP.Bucket).Str("prefix", *prefix).Msg("Running single inbox scan")
		runScan()
		shutdown(jobQueue, log)
		return
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(*schedule, runScan); err != nil {
		log.Fatal().Err(err).Str("schedule", *schedule).Msg("Invalid schedule")
	}
	c.Start()

	log.Info().
		Str("bucket", cfg.GCP.Bucket).
		Str("prefix", *prefix).
		Str("schedule", *schedule).
		Msg("Worker service started, waiting for scheduled scans...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	// Cancel context to stop in-flight scans, then stop scheduling
	cancel()
	<-c.Stop().Done()

	shutdown(jobQueue, log)
}

func shutdown(jobQueue *inmemory.Queue, log zerolog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Worker service stopped")
}
