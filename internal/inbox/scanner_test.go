package inbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/doc-analyzer/internal/gcsuploader"
	"github.com/dvloznov/doc-analyzer/internal/jobs"
	jobsinmemory "github.com/dvloznov/doc-analyzer/internal/jobs/inmemory"
	"github.com/dvloznov/doc-analyzer/internal/pipeline"
)

// MockLister is a mock implementation of Lister.
type MockLister struct {
	ListObjectsFunc func(ctx context.Context, bucketName, prefix string) ([]gcsuploader.ObjectInfo, error)
}

func (m *MockLister) ListObjects(ctx context.Context, bucketName, prefix string) ([]gcsuploader.ObjectInfo, error) {
	return m.ListObjectsFunc(ctx, bucketName, prefix)
}

// MockPublisher collects published jobs.
type MockPublisher struct {
	Published []*jobs.AnalyzeDocumentJob
	Err       error
}

func (m *MockPublisher) PublishAnalyzeDocument(ctx context.Context, job *jobs.AnalyzeDocumentJob) error {
	if m.Err != nil {
		return m.Err
	}
	job.JobID = job.GCSURI
	m.Published = append(m.Published, job)
	return nil
}

func (m *MockPublisher) Close() error { return nil }

func TestNewScanner_RequiresBucket(t *testing.T) {
	if _, err := NewScanner(&MockLister{}, &MockPublisher{}, Config{}); err == nil {
		t.Error("expected error without bucket")
	}
}

func TestScanner_Scan(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	objects := []gcsuploader.ObjectInfo{
		{Bucket: "docs", Name: "inbox/march.pdf", ContentType: "application/octet-stream", Updated: t0},
		{Bucket: "docs", Name: "inbox/ledger", ContentType: "text/csv; charset=utf-8", Updated: t0},
		{Bucket: "docs", Name: "inbox/notes.txt", ContentType: "text/plain", Updated: t0},
	}

	var gotBucket, gotPrefix string
	lister := &MockLister{
		ListObjectsFunc: func(ctx context.Context, bucketName, prefix string) ([]gcsuploader.ObjectInfo, error) {
			gotBucket, gotPrefix = bucketName, prefix
			return objects, nil
		},
	}
	pub := &MockPublisher{}

	s, err := NewScanner(lister, pub, Config{Bucket: "docs", Prefix: "inbox/", UserID: "u1"})
	if err != nil {
		t.Fatalf("NewScanner() error = %v", err)
	}

	res, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if gotBucket != "docs" || gotPrefix != "inbox/" {
		t.Errorf("listed %s/%s", gotBucket, gotPrefix)
	}
	if res.Listed != 3 || res.Enqueued != 2 || res.Unsupported != 1 {
		t.Errorf("first scan = %+v", res)
	}
	if len(pub.Published) != 2 {
		t.Fatalf("published %d jobs", len(pub.Published))
	}
	if pub.Published[0].MIMEType != pipeline.MIMETypePDF || pub.Published[0].UserID != "u1" || pub.Published[0].GCSURI != "gs://docs/inbox/march.pdf" {
		t.Errorf("unexpected job: %+v", pub.Published[0])
	}
	if pub.Published[1].MIMEType != pipeline.MIMETypeCSV {
		t.Errorf("content type not used without extension: %+v", pub.Published[1])
	}

	// Unchanged objects are not enqueued again.
	res, err = s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if res.Enqueued != 0 || res.Seen != 3 {
		t.Errorf("second scan = %+v", res)
	}

	// A rewritten object is.
	objects[0].Updated = t0.Add(time.Hour)
	res, _ = s.Scan(context.Background())
	if res.Enqueued != 1 || len(res.JobIDs) != 1 || res.JobIDs[0] != "gs://docs/inbox/march.pdf" {
		t.Errorf("third scan = %+v", res)
	}
}

func TestScanner_PublishErrorKeepsObjectNew(t *testing.T) {
	lister := &MockLister{
		ListObjectsFunc: func(ctx context.Context, bucketName, prefix string) ([]gcsuploader.ObjectInfo, error) {
			return []gcsuploader.ObjectInfo{{Bucket: "docs", Name: "a.pdf"}}, nil
		},
	}
	pub := &MockPublisher{Err: errors.New("queue is closed")}
	s, _ := NewScanner(lister, pub, Config{Bucket: "docs"})

	if _, err := s.Scan(context.Background()); err == nil {
		t.Fatal("expected publish error")
	}

	pub.Err = nil
	res, err := s.Scan(context.Background())
	if err != nil || res.Enqueued != 1 {
		t.Errorf("retry scan = %+v, err %v", res, err)
	}
}

func TestScanner_ListError(t *testing.T) {
	lister := &MockLister{
		ListObjectsFunc: func(ctx context.Context, bucketName, prefix string) ([]gcsuploader.ObjectInfo, error) {
			return nil, errors.New("forbidden")
		},
	}
	s, _ := NewScanner(lister, &MockPublisher{}, Config{Bucket: "docs"})
	if _, err := s.Scan(context.Background()); err == nil {
		t.Error("expected list error")
	}
}

func TestWaitForJobs(t *testing.T) {
	ctx := context.Background()
	store := jobsinmemory.NewStore()
	_ = store.SaveJob(ctx, &jobs.AnalyzeDocumentJob{JobID: "j1", Status: jobs.JobStatusCompleted})
	_ = store.SaveJob(ctx, &jobs.AnalyzeDocumentJob{JobID: "j2", Status: jobs.JobStatusRunning})

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = store.UpdateJobStatus(ctx, "j2", jobs.JobStatusFailed, "boom")
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := WaitForJobs(waitCtx, store, []string{"j1", "j2"}, 5*time.Millisecond); err != nil {
		t.Fatalf("WaitForJobs() error = %v", err)
	}

	_ = store.SaveJob(ctx, &jobs.AnalyzeDocumentJob{JobID: "j3", Status: jobs.JobStatusPending})
	shortCtx, cancelShort := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancelShort()
	if err := WaitForJobs(shortCtx, store, []string{"j3"}, 5*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForJobs() error = %v, want deadline exceeded", err)
	}

	if err := WaitForJobs(ctx, store, []string{"missing"}, time.Millisecond); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("WaitForJobs(missing) error = %v", err)
	}
}
