package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/doc-analyzer/internal/jobs"
	"github.com/dvloznov/doc-analyzer/internal/logger"
	"github.com/google/uuid"
)

// QueueOptions configures a Queue.
type QueueOptions struct {
	Workers    int
	MaxRetries int
	// RetryDelay is multiplied by the retry count, giving a linear backoff.
	RetryDelay time.Duration
}

func defaultQueueOptions() QueueOptions {
	return QueueOptions{
		Workers:    5,
		MaxRetries: jobs.DefaultMaxRetries,
		RetryDelay: time.Second,
	}
}

// QueueOption is a functional option for configuring the queue.
type QueueOption func(*QueueOptions)

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) QueueOption {
	return func(o *QueueOptions) {
		if n > 0 {
			o.Workers = n
		}
	}
}

// WithMaxRetries sets the retry budget of jobs published without one.
func WithMaxRetries(n int) QueueOption {
	return func(o *QueueOptions) {
		if n >= 0 {
			o.MaxRetries = n
		}
	}
}

// WithRetryDelay sets the base delay of the linear retry backoff.
func WithRetryDelay(d time.Duration) QueueOption {
	return func(o *QueueOptions) {
		if d >= 0 {
			o.RetryDelay = d
		}
	}
}

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// This implementation is suitable for single-instance deployments and testing.
type Queue struct {
	jobChan   chan *jobs.AnalyzeDocumentJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	opts      QueueOptions
	closed    bool
}

// NewQueue creates a new in-memory job queue.
// bufferSize determines how many jobs can be queued before PublishAnalyzeDocument blocks.
func NewQueue(bufferSize int, store jobs.JobStore, options ...QueueOption) *Queue {
	opts := defaultQueueOptions()
	for _, o := range options {
		o(&opts)
	}
	return &Queue{
		jobChan:   make(chan *jobs.AnalyzeDocumentJob, bufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		opts:      opts,
	}
}

// PublishAnalyzeDocument implements the Publisher interface.
// It enqueues a document analysis job for asynchronous processing.
func (q *Queue) PublishAnalyzeDocument(ctx context.Context, job *jobs.AnalyzeDocumentJob) error {
	// The lock is not held across the send so Stop can close a full queue.
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return fmt.Errorf("queue is closed")
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.opts.MaxRetries
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start implements the Consumer interface.
// It starts consuming jobs from the queue and processes them using the provided handler.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.RUnlock()

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	return nil
}

// worker processes jobs from the queue.
func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}

			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job with retry logic.
func (q *Queue) processJob(ctx context.Context, job *jobs.AnalyzeDocumentJob, handler jobs.JobHandler) {
	log := logger.FromContext(ctx).With().
		Str("job_id", job.JobID).
		Str("gcs_uri", job.GCSURI).
		Logger()

	job.Status = jobs.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	err := q.runHandler(ctx, job, handler)

	completedAt := time.Now()
	job.CompletedAt = &completedAt

	var backoff time.Duration
	retry := false

	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	case jobs.IsPermanent(err) || ctx.Err() != nil:
		job.Error = err.Error()
		job.Status = jobs.JobStatusFailed
		log.Warn().Err(err).Msg("Job failed permanently")
	case job.RetryCount < job.MaxRetries:
		job.Error = err.Error()
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying
		retry = true
		backoff = time.Duration(job.RetryCount) * q.opts.RetryDelay
		log.Warn().Err(err).Int("retry", job.RetryCount).Dur("backoff", backoff).Msg("Job failed, scheduling retry")
	default:
		job.Error = err.Error()
		job.Status = jobs.JobStatusFailed
		log.Error().Err(err).Int("retries", job.RetryCount).Msg("Job failed after exhausting retries")
	}

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	// The timer owns job from here on.
	if retry {
		time.AfterFunc(backoff, func() { q.requeue(ctx, job) })
	}
}

func (q *Queue) requeue(ctx context.Context, job *jobs.AnalyzeDocumentJob) {
	job.Status = jobs.JobStatusPending
	job.StartedAt = nil
	job.CompletedAt = nil
	if err := q.PublishAnalyzeDocument(ctx, job); err != nil {
		job.Status = jobs.JobStatusFailed
		job.Error = fmt.Sprintf("requeue: %v", err)
		if q.store != nil {
			_ = q.store.SaveJob(context.Background(), job)
		}
	}
}

// runHandler converts a handler panic into a job error.
func (q *Queue) runHandler(ctx context.Context, job *jobs.AnalyzeDocumentJob, handler jobs.JobHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
// It closes the queue and releases resources.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
