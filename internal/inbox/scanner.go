// Package inbox turns documents dropped under a Cloud Storage prefix into
// analysis jobs.
package inbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/doc-analyzer/internal/gcsuploader"
	"github.com/dvloznov/doc-analyzer/internal/jobs"
	"github.com/dvloznov/doc-analyzer/internal/logger"
	"github.com/dvloznov/doc-analyzer/internal/pipeline"
)

// Lister lists stored objects.
type Lister interface {
	ListObjects(ctx context.Context, bucketName, prefix string) ([]gcsuploader.ObjectInfo, error)
}

// Config selects the inbox location and the owner of its documents.
type Config struct {
	Bucket string
	Prefix string
	UserID string
}

// ScanResult counts the objects seen by one scan.
type ScanResult struct {
	Listed      int
	Enqueued    int
	Seen        int
	Unsupported int
	JobIDs      []string
}

// Scanner enqueues one analysis job per new object. An object is new until a
// job was published for its name and update time, so a rewritten object is
// analyzed again while the store still deduplicates identical content.
type Scanner struct {
	lister    Lister
	publisher jobs.Publisher
	cfg       Config

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewScanner creates a Scanner.
func NewScanner(lister Lister, publisher jobs.Publisher, cfg Config) (*Scanner, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("NewScanner: bucket is required")
	}
	return &Scanner{
		lister:    lister,
		publisher: publisher,
		cfg:       cfg,
		seen:      make(map[string]time.Time),
	}, nil
}

// Scan lists the inbox once and publishes jobs for new supported objects.
// Scans are serialized.
func (s *Scanner) Scan(ctx context.Context) (ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logger.FromContext(ctx).With().
		Str("bucket", s.cfg.Bucket).
		Str("prefix", s.cfg.Prefix).
		Logger()

	var res ScanResult

	objects, err := s.lister.ListObjects(ctx, s.cfg.Bucket, s.cfg.Prefix)
	if err != nil {
		return res, fmt.Errorf("Scan: %w", err)
	}
	res.Listed = len(objects)

	for _, obj := range objects {
		if updated, ok := s.seen[obj.Name]; ok && updated.Equal(obj.Updated) {
			res.Seen++
			continue
		}

		mimeType := objectMIMEType(obj)
		if !pipeline.IsSupportedMIMEType(mimeType) {
			log.Debug().Str("object", obj.Name).Str("mime_type", mimeType).Msg("Skipping unsupported object")
			s.seen[obj.Name] = obj.Updated
			res.Unsupported++
			continue
		}

		job := &jobs.AnalyzeDocumentJob{
			UserID:   s.cfg.UserID,
			GCSURI:   obj.URI(),
			MIMEType: mimeType,
		}
		if err := s.publisher.PublishAnalyzeDocument(ctx, job); err != nil {
			return res, fmt.Errorf("Scan: publishing %s: %w", obj.URI(), err)
		}

		s.seen[obj.Name] = obj.Updated
		res.Enqueued++
		res.JobIDs = append(res.JobIDs, job.JobID)

		log.Info().Str("job_id", job.JobID).Str("gcs_uri", job.GCSURI).Msg("Enqueued inbox document")
	}

	log.Info().
		Int("listed", res.Listed).
		Int("enqueued", res.Enqueued).
		Int("seen", res.Seen).
		Int("unsupported", res.Unsupported).
		Msg("Inbox scan finished")

	return res, nil
}

// objectMIMEType prefers the file extension, since uploads often carry a
// generic content type.
func objectMIMEType(obj gcsuploader.ObjectInfo) string {
	if mt := pipeline.MIMETypeFromFileName(obj.Name); mt != "" {
		return mt
	}
	return pipeline.NormalizeMIMEType(obj.ContentType)
}

// WaitForJobs polls store until every job in ids has completed or failed.
func WaitForJobs(ctx context.Context, store jobs.JobStore, ids []string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pending := append([]string(nil), ids...)
	for {
		remaining := pending[:0]
		for _, id := range pending {
			job, err := store.GetJob(ctx, id)
			if err != nil {
				return fmt.Errorf("WaitForJobs: %w", err)
			}
			if job.Status != jobs.JobStatusCompleted && job.Status != jobs.JobStatusFailed {
				remaining = append(remaining, id)
			}
		}
		pending = remaining
		if len(pending) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
