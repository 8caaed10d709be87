package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/doc-analyzer/internal/jobs"
	"github.com/dvloznov/doc-analyzer/internal/pipeline"
)

// waitForStatus polls the store until the job reaches one of the wanted statuses.
func waitForStatus(t *testing.T, store *Store, jobID string, want ...jobs.JobStatus) *jobs.AnalyzeDocumentJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		if err == nil {
			for _, w := range want {
				if job.Status == w {
					return job
				}
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := store.GetJob(context.Background(), jobID)
	t.Fatalf("job %s did not reach %v, last state %+v", jobID, want, job)
	return nil
}

func startQueue(t *testing.T, handler jobs.JobHandler, opts ...QueueOption) (*Queue, *Store) {
	t.Helper()
	store := NewStore()
	opts = append([]QueueOption{WithRetryDelay(time.Millisecond), WithWorkers(2)}, opts...)
	q := NewQueue(10, store, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	if err := q.Start(ctx, handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = q.Stop(context.Background())
	})
	return q, store
}

func TestQueue_CompletesJob(t *testing.T) {
	handler := func(ctx context.Context, job jobs.Job) error {
		j := job.(*jobs.AnalyzeDocumentJob)
		j.AnalysisID = "an-" + j.JobID
		j.Duplicate = true
		return nil
	}
	q, store := startQueue(t, handler)

	job := &jobs.AnalyzeDocumentJob{UserID: "u1", GCSURI: "gs://b/a.pdf"}
	if err := q.PublishAnalyzeDocument(context.Background(), job); err != nil {
		t.Fatalf("PublishAnalyzeDocument() error = %v", err)
	}
	if job.JobID == "" || job.CreatedAt.IsZero() || job.MaxRetries != jobs.DefaultMaxRetries {
		t.Errorf("defaults not applied: %+v", job)
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if done.AnalysisID != "an-"+job.JobID || !done.Duplicate {
		t.Errorf("handler results not stored: %+v", done)
	}
	if done.StartedAt == nil || done.CompletedAt == nil {
		t.Error("expected timestamps")
	}
}

func TestQueue_RetriesTransientFailure(t *testing.T) {
	var calls int32
	handler := func(ctx context.Context, job jobs.Job) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("temporary storage error")
		}
		return nil
	}
	q, store := startQueue(t, handler)

	job := &jobs.AnalyzeDocumentJob{GCSURI: "gs://b/a.pdf"}
	if err := q.PublishAnalyzeDocument(context.Background(), job); err != nil {
		t.Fatalf("PublishAnalyzeDocument() error = %v", err)
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if done.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", done.RetryCount)
	}
	if done.Error != "" {
		t.Errorf("Error = %q, want cleared", done.Error)
	}
}

func TestQueue_ExhaustsRetries(t *testing.T) {
	var calls int32
	handler := func(ctx context.Context, job jobs.Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("always failing")
	}
	q, store := startQueue(t, handler, WithMaxRetries(2))

	job := &jobs.AnalyzeDocumentJob{GCSURI: "gs://b/a.pdf"}
	if err := q.PublishAnalyzeDocument(context.Background(), job); err != nil {
		t.Fatalf("PublishAnalyzeDocument() error = %v", err)
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	if done.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", done.RetryCount)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("handler calls = %d, want 3", got)
	}
}

func TestQueue_PermanentFailuresAreNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"unsupported format", fmt.Errorf("analyze: %w", &pipeline.UnsupportedFormatError{MIMEType: "application/zip"})},
		{"marked permanent", fmt.Errorf("bad uri: %w", jobs.ErrPermanent)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			handler := func(ctx context.Context, job jobs.Job) error {
				atomic.AddInt32(&calls, 1)
				return tt.err
			}
			q, store := startQueue(t, handler)

			job := &jobs.AnalyzeDocumentJob{GCSURI: "gs://b/a.zip"}
			if err := q.PublishAnalyzeDocument(context.Background(), job); err != nil {
				t.Fatalf("PublishAnalyzeDocument() error = %v", err)
			}

			done := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed, jobs.JobStatusRetrying)
			if done.Status != jobs.JobStatusFailed {
				t.Errorf("Status = %s, want failed", done.Status)
			}
			if done.RetryCount != 0 {
				t.Errorf("RetryCount = %d, want 0", done.RetryCount)
			}
			time.Sleep(20 * time.Millisecond)
			if got := atomic.LoadInt32(&calls); got != 1 {
				t.Errorf("handler calls = %d, want 1", got)
			}
		})
	}
}

func TestQueue_HandlerPanicFailsJob(t *testing.T) {
	handler := func(ctx context.Context, job jobs.Job) error {
		panic("boom")
	}
	q, store := startQueue(t, handler, WithMaxRetries(0))

	job := &jobs.AnalyzeDocumentJob{GCSURI: "gs://b/a.pdf", MaxRetries: 1}
	if err := q.PublishAnalyzeDocument(context.Background(), job); err != nil {
		t.Fatalf("PublishAnalyzeDocument() error = %v", err)
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	if done.Error == "" {
		t.Error("expected panic recorded as error")
	}
}

func TestQueue_PublishAfterStop(t *testing.T) {
	q := NewQueue(1, NewStore())
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := q.PublishAnalyzeDocument(context.Background(), &jobs.AnalyzeDocumentJob{}); err == nil {
		t.Error("expected error publishing to a stopped queue")
	}
	if err := q.Start(context.Background(), func(context.Context, jobs.Job) error { return nil }); err == nil {
		t.Error("expected error starting a stopped queue")
	}
	if err := q.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestQueue_StopUnblocksFullQueue(t *testing.T) {
	q := NewQueue(1, nil)
	if err := q.PublishAnalyzeDocument(context.Background(), &jobs.AnalyzeDocumentJob{}); err != nil {
		t.Fatalf("PublishAnalyzeDocument() error = %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- q.PublishAnalyzeDocument(context.Background(), &jobs.AnalyzeDocumentJob{})
	}()

	time.Sleep(10 * time.Millisecond)
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("expected blocked publish to fail after Stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked publish was not released by Stop")
	}
}
