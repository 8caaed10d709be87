package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/doc-analyzer/internal/pipeline"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeAnalyzeDocument represents a document analysis job.
	JobTypeAnalyzeDocument JobType = "analyze_document"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// DefaultMaxRetries applies to jobs published without MaxRetries.
const DefaultMaxRetries = 3

// ErrJobNotFound is returned by a JobStore for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// ErrPermanent marks a handler error that retrying cannot fix.
var ErrPermanent = errors.New("permanent job failure")

// AnalyzeDocumentJob represents a job to analyze a document stored in GCS.
type AnalyzeDocumentJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// UserID owns the resulting analysis.
	UserID string `json:"user_id"`

	// GCSURI is the GCS URI of the document to analyze.
	GCSURI string `json:"gcs_uri"`

	// MIMEType is the declared document type; empty means infer from the extension.
	MIMEType string `json:"mime_type,omitempty"`

	// AnalysisID is set once the analysis is stored.
	AnalysisID string `json:"analysis_id,omitempty"`

	// Duplicate reports that the document had been analyzed before.
	Duplicate bool `json:"duplicate"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *AnalyzeDocumentJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *AnalyzeDocumentJob) GetType() JobType {
	return JobTypeAnalyzeDocument
}

// GetStatus implements the Job interface.
func (j *AnalyzeDocumentJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishAnalyzeDocument publishes a document analysis job.
	PublishAnalyzeDocument(ctx context.Context, job *AnalyzeDocumentJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed. Errors for which IsPermanent
// reports true fail the job without retry.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *AnalyzeDocumentJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*AnalyzeDocumentJob, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*AnalyzeDocumentJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// UserID filters jobs by owner.
	UserID string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

// IsPermanent reports whether err should fail a job without retry:
// unsupported formats, errors marked with ErrPermanent and cancellation.
func IsPermanent(err error) bool {
	return errors.Is(err, pipeline.ErrUnsupportedFormat) ||
		errors.Is(err, ErrPermanent) ||
		errors.Is(err, context.Canceled)
}
