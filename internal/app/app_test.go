package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	bq "github.com/dvloznov/doc-analyzer/internal/bigquery"
	"github.com/dvloznov/doc-analyzer/internal/config"
	"github.com/dvloznov/doc-analyzer/internal/infra/inmemory"
	"github.com/dvloznov/doc-analyzer/internal/ingest"
	"github.com/dvloznov/doc-analyzer/internal/jobs"
	"github.com/dvloznov/doc-analyzer/internal/llm"
	"github.com/dvloznov/doc-analyzer/internal/pipeline"
)

// MockGCSAnalyzer is a mock implementation of GCSAnalyzer.
type MockGCSAnalyzer struct {
	AnalyzeGCSFunc func(ctx context.Context, userID, gcsURI, mimeType string) (*ingest.Result, error)
}

func (m *MockGCSAnalyzer) AnalyzeGCS(ctx context.Context, userID, gcsURI, mimeType string) (*ingest.Result, error) {
	return m.AnalyzeGCSFunc(ctx, userID, gcsURI, mimeType)
}

type otherJob struct{}

func (otherJob) GetID() string             { return "x" }
func (otherJob) GetType() jobs.JobType     { return "other" }
func (otherJob) GetStatus() jobs.JobStatus { return jobs.JobStatusPending }

func TestAnalyzeJobHandler(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		duplicate     bool
		wantErr       bool
		wantPermanent bool
	}{
		{"success", nil, false, false, false},
		{"duplicate", nil, true, false, false},
		{"invalid source", fmt.Errorf("AnalyzeGCS: %w", ingest.ErrInvalidSource), false, true, true},
		{"unsupported", &pipeline.UnsupportedFormatError{MIMEType: "application/zip"}, false, true, true},
		{"transient", errors.New("storage: timeout"), false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser, gotURI, gotMIME string
			svc := &MockGCSAnalyzer{
				AnalyzeGCSFunc: func(ctx context.Context, userID, gcsURI, mimeType string) (*ingest.Result, error) {
					gotUser, gotURI, gotMIME = userID, gcsURI, mimeType
					if tt.err != nil {
						return nil, tt.err
					}
					return &ingest.Result{
						Analysis:  &bq.AnalysisRow{AnalysisID: "an-1"},
						Duplicate: tt.duplicate,
					}, nil
				},
			}

			job := &jobs.AnalyzeDocumentJob{JobID: "j1", UserID: "u1", GCSURI: "gs://b/a.pdf", MIMEType: "application/pdf"}
			err := AnalyzeJobHandler(svc)(context.Background(), job)

			if (err != nil) != tt.wantErr {
				t.Fatalf("handler error = %v, wantErr %v", err, tt.wantErr)
			}
			if jobs.IsPermanent(err) != tt.wantPermanent {
				t.Errorf("IsPermanent(%v) = %v, want %v", err, jobs.IsPermanent(err), tt.wantPermanent)
			}
			if gotUser != "u1" || gotURI != "gs://b/a.pdf" || gotMIME != "application/pdf" {
				t.Errorf("AnalyzeGCS called with %q %q %q", gotUser, gotURI, gotMIME)
			}
			if tt.wantErr {
				return
			}
			if job.AnalysisID != "an-1" || job.Duplicate != tt.duplicate {
				t.Errorf("job not updated: %+v", job)
			}
		})
	}
}

func TestAnalyzeJobHandler_UnexpectedJobType(t *testing.T) {
	svc := &MockGCSAnalyzer{
		AnalyzeGCSFunc: func(ctx context.Context, userID, gcsURI, mimeType string) (*ingest.Result, error) {
			t.Fatal("AnalyzeGCS should not be called")
			return nil, nil
		},
	}
	err := AnalyzeJobHandler(svc)(context.Background(), otherJob{})
	if !jobs.IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
}

func memoryConfig() *config.Config {
	return &config.Config{
		LLM: config.LLMConfig{Provider: llm.ProviderNone},
		Analysis: config.AnalysisConfig{
			Locale:            pipeline.DefaultLocale,
			MaxPromptChars:    4000,
			DefaultYear:       2024,
			PDFAttemptTimeout: time.Second,
		},
		Server: config.ServerConfig{Store: config.StoreMemory},
		Jobs:   config.JobsConfig{Workers: 1, Buffer: 1, MaxRetries: 1},
	}
}

func TestNewRepository(t *testing.T) {
	ctx := context.Background()

	repo, closeRepo, err := NewRepository(ctx, memoryConfig())
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}
	if _, ok := repo.(*inmemory.Repository); !ok {
		t.Errorf("memory store returned %T", repo)
	}
	if err := closeRepo(); err != nil {
		t.Errorf("close error = %v", err)
	}

	cfg := memoryConfig()
	cfg.Server.Store = "sqlite"
	if _, _, err := NewRepository(ctx, cfg); err == nil {
		t.Error("expected error for unknown store")
	}
}

func TestNew_MemoryStoreWithoutModel(t *testing.T) {
	ctx := context.Background()

	a, err := New(ctx, memoryConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if a.Storage != nil {
		t.Error("Cloud Storage opened without a bucket")
	}

	csv := "Tanggal,Keterangan,Jumlah\n2024-03-01,Gaji bulanan,5000000\n2024-03-02,Belanja pasar,-250000\n"
	res, err := a.Ingest.Analyze(ctx, ingest.Request{UserID: "u1", FileName: "march.csv", Bytes: []byte(csv)})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if res.Analysis.Source != string(pipeline.SourceFallback) {
		t.Errorf("Source = %q, want fallback", res.Analysis.Source)
	}

	rows, err := a.Repo.ListAnalyses(ctx, "u1", 10)
	if err != nil || len(rows) != 1 {
		t.Errorf("ListAnalyses() = %d rows, err %v", len(rows), err)
	}
}
