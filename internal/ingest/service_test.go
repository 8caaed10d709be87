package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	bq "github.com/dvloznov/doc-analyzer/internal/bigquery"
	"github.com/dvloznov/doc-analyzer/internal/datauri"
	"github.com/dvloznov/doc-analyzer/internal/infra/inmemory"
	"github.com/dvloznov/doc-analyzer/internal/pipeline"
	"github.com/shopspring/decimal"
)

// MockRunner is a mock implementation of Runner for testing.
type MockRunner struct {
	RunFunc func(ctx context.Context, doc pipeline.RawDocument) (*pipeline.Outcome, error)
	Docs    []pipeline.RawDocument
}

func (m *MockRunner) Run(ctx context.Context, doc pipeline.RawDocument) (*pipeline.Outcome, error) {
	m.Docs = append(m.Docs, doc)
	if m.RunFunc != nil {
		return m.RunFunc(ctx, doc)
	}
	return sampleOutcome(), nil
}

// MockFetcher is a mock implementation of Fetcher for testing.
type MockFetcher struct {
	FetchFromGCSFunc func(ctx context.Context, gcsURI string) ([]byte, error)
}

func (m *MockFetcher) FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	if m.FetchFromGCSFunc != nil {
		return m.FetchFromGCSFunc(ctx, gcsURI)
	}
	return []byte("a,b\n1,2"), nil
}

// failingTxRepo stores analyses but refuses transaction rows.
type failingTxRepo struct {
	*inmemory.Repository
}

func (r *failingTxRepo) InsertAnalysisTransactions(ctx context.Context, rows []*bq.AnalysisTransactionRow) error {
	return errors.New("streaming insert failed")
}

func sampleOutcome() *pipeline.Outcome {
	txs := []pipeline.Transaction{{
		ID:          "txn_1",
		Date:        civil.Date{Year: 2024, Month: 1, Day: 2},
		Description: "Penjualan",
		Amount:      decimal.NewFromInt(1000),
		Type:        pipeline.TransactionTypeIncome,
		Category:    "Penjualan",
	}}
	return &pipeline.Outcome{
		Result: &pipeline.AnalysisResult{
			Transactions: txs,
			Summary:      pipeline.Summarize(txs),
			Insights:     []string{"ok"},
		},
		Extracted: pipeline.ExtractedText{Text: "Penjualan 1000", PageCount: 1},
		Source:    pipeline.SourceFallback,
	}
}

func TestService_Analyze_StoresNewDocument(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewRepository()
	runner := &MockRunner{}
	svc := NewService(runner, repo, nil)

	res, err := svc.Analyze(ctx, Request{UserID: "u1", FileName: "book.csv", Bytes: []byte("a,b")})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if res.Duplicate {
		t.Error("first submission reported as duplicate")
	}
	if res.Outcome == nil || res.Analysis == nil {
		t.Fatal("expected outcome and analysis")
	}
	if runner.Docs[0].MIMEType != pipeline.MIMETypeCSV {
		t.Errorf("MIME type = %q, want inferred text/csv", runner.Docs[0].MIMEType)
	}
	if res.Analysis.ChecksumSHA256 != Checksum([]byte("a,b")) {
		t.Errorf("checksum = %s", res.Analysis.ChecksumSHA256)
	}

	stored, err := repo.GetAnalysis(ctx, res.Analysis.AnalysisID)
	if err != nil {
		t.Fatalf("GetAnalysis() error = %v", err)
	}
	if stored.Source != "fallback" || stored.TransactionCount != 1 {
		t.Errorf("unexpected stored row: %+v", stored)
	}
	txs, _ := repo.ListAnalysisTransactions(ctx, stored.AnalysisID)
	if len(txs) != 1 {
		t.Errorf("expected 1 stored transaction, got %d", len(txs))
	}
}

func TestService_Analyze_Duplicate(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewRepository()
	runner := &MockRunner{}
	svc := NewService(runner, repo, nil)

	first, err := svc.Analyze(ctx, Request{UserID: "u1", FileName: "a.csv", Bytes: []byte("same")})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	second, err := svc.Analyze(ctx, Request{UserID: "u1", FileName: "renamed.csv", Bytes: []byte("same")})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if !second.Duplicate {
		t.Error("expected duplicate")
	}
	if second.Analysis.AnalysisID != first.Analysis.AnalysisID {
		t.Errorf("duplicate id = %s, want %s", second.Analysis.AnalysisID, first.Analysis.AnalysisID)
	}
	if len(runner.Docs) != 1 {
		t.Errorf("pipeline ran %d times, want 1", len(runner.Docs))
	}
	if second.Outcome != nil {
		t.Error("duplicate should carry no outcome")
	}
	if len(second.Result.Transactions) != 1 || !second.Result.Transactions[0].Amount.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("duplicate result = %+v", second.Result)
	}

	// Dedupe is scoped per user.
	third, err := svc.Analyze(ctx, Request{UserID: "u2", FileName: "a.csv", Bytes: []byte("same")})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if third.Duplicate {
		t.Error("another user's document reported as duplicate")
	}
}

func TestService_Analyze_DefaultUser(t *testing.T) {
	svc := NewService(&MockRunner{}, inmemory.NewRepository(), nil)

	res, err := svc.Analyze(context.Background(), Request{FileName: "a.pdf", Bytes: []byte("%PDF")})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if res.Analysis.UserID != DefaultUserID {
		t.Errorf("UserID = %q, want %q", res.Analysis.UserID, DefaultUserID)
	}
}

func TestService_Analyze_PipelineErrorsPassThrough(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   error
	}{
		{"unsupported format", &pipeline.UnsupportedFormatError{MIMEType: "application/zip"}, pipeline.ErrUnsupportedFormat},
		{"cancelled", context.Canceled, context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := inmemory.NewRepository()
			runner := &MockRunner{
				RunFunc: func(ctx context.Context, doc pipeline.RawDocument) (*pipeline.Outcome, error) {
					return nil, tt.err
				},
			}
			svc := NewService(runner, repo, nil)

			_, err := svc.Analyze(context.Background(), Request{UserID: "u1", FileName: "x.zip", Bytes: []byte("PK")})
			if !errors.Is(err, tt.is) {
				t.Fatalf("error = %v, want %v", err, tt.is)
			}
			if err != tt.err {
				t.Errorf("error was wrapped: %v", err)
			}
			rows, _ := repo.ListAnalyses(context.Background(), "u1", 0)
			if len(rows) != 0 {
				t.Errorf("failed analysis was stored: %d rows", len(rows))
			}
		})
	}
}

func TestService_Analyze_RollsBackOnTransactionFailure(t *testing.T) {
	ctx := context.Background()
	repo := &failingTxRepo{Repository: inmemory.NewRepository()}
	svc := NewService(&MockRunner{}, repo, nil)

	if _, err := svc.Analyze(ctx, Request{UserID: "u1", FileName: "a.csv", Bytes: []byte("x")}); err == nil {
		t.Fatal("expected error")
	}
	rows, _ := repo.ListAnalyses(ctx, "u1", 0)
	if len(rows) != 0 {
		t.Errorf("partial analysis left behind: %d rows", len(rows))
	}
}

func TestService_AnalyzeDataURI(t *testing.T) {
	runner := &MockRunner{}
	svc := NewService(runner, inmemory.NewRepository(), nil)

	uri := datauri.Encode("text/csv", []byte("tanggal,jumlah\n2024-01-01,5000"))
	res, err := svc.AnalyzeDataURI(context.Background(), "u1", "data.csv", uri)
	if err != nil {
		t.Fatalf("AnalyzeDataURI() error = %v", err)
	}
	if res.Analysis.FileMimeType != "text/csv" {
		t.Errorf("FileMimeType = %q", res.Analysis.FileMimeType)
	}
	if string(runner.Docs[0].Bytes) != "tanggal,jumlah\n2024-01-01,5000" {
		t.Errorf("decoded bytes = %q", runner.Docs[0].Bytes)
	}

	_, err = svc.AnalyzeDataURI(context.Background(), "u1", "bad", "not-a-data-uri")
	if !errors.Is(err, ErrInvalidSource) || !errors.Is(err, datauri.ErrInvalid) {
		t.Errorf("error = %v, want ErrInvalidSource wrapping datauri.ErrInvalid", err)
	}
}

func TestService_AnalyzeGCS(t *testing.T) {
	var fetched string
	fetcher := &MockFetcher{
		FetchFromGCSFunc: func(ctx context.Context, gcsURI string) ([]byte, error) {
			fetched = gcsURI
			return []byte("%PDF-1.4"), nil
		},
	}
	runner := &MockRunner{}
	svc := NewService(runner, inmemory.NewRepository(), fetcher)

	res, err := svc.AnalyzeGCS(context.Background(), "u1", "gs://bucket/inbox/statement.pdf", "")
	if err != nil {
		t.Fatalf("AnalyzeGCS() error = %v", err)
	}
	if fetched != "gs://bucket/inbox/statement.pdf" {
		t.Errorf("fetched %q", fetched)
	}
	if runner.Docs[0].MIMEType != pipeline.MIMETypePDF || runner.Docs[0].FileName != "statement.pdf" {
		t.Errorf("doc = %+v", runner.Docs[0])
	}
	if res.Analysis.GCSURI.StringVal != "gs://bucket/inbox/statement.pdf" {
		t.Errorf("GCSURI = %+v", res.Analysis.GCSURI)
	}
}

func TestService_AnalyzeGCS_Errors(t *testing.T) {
	ctx := context.Background()

	noStorage := NewService(&MockRunner{}, inmemory.NewRepository(), nil)
	if _, err := noStorage.AnalyzeGCS(ctx, "u1", "gs://b/o.pdf", ""); err == nil {
		t.Error("expected error without storage")
	}

	svc := NewService(&MockRunner{}, inmemory.NewRepository(), &MockFetcher{})
	if _, err := svc.AnalyzeGCS(ctx, "u1", "https://b/o.pdf", ""); !errors.Is(err, ErrInvalidSource) {
		t.Errorf("error = %v, want ErrInvalidSource", err)
	}

	failing := NewService(&MockRunner{}, inmemory.NewRepository(), &MockFetcher{
		FetchFromGCSFunc: func(ctx context.Context, gcsURI string) ([]byte, error) {
			return nil, errors.New("object not found")
		},
	})
	_, err := failing.AnalyzeGCS(ctx, "u1", "gs://b/o.pdf", "")
	if err == nil || !strings.Contains(err.Error(), "object not found") {
		t.Errorf("error = %v", err)
	}
}

func TestService_GetListDelete(t *testing.T) {
	ctx := context.Background()
	svc := NewService(&MockRunner{}, inmemory.NewRepository(), nil)

	res, err := svc.Analyze(ctx, Request{UserID: "u1", FileName: "a.csv", Bytes: []byte("x")})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	got, err := svc.Get(ctx, res.Analysis.AnalysisID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.Transactions) != 1 || got.Result.Summary.TransactionCount != 1 {
		t.Errorf("Get() = %+v", got)
	}

	list, err := svc.List(ctx, "u1", 10)
	if err != nil || len(list) != 1 {
		t.Errorf("List() = %v, %v", list, err)
	}

	if err := svc.Delete(ctx, res.Analysis.AnalysisID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := svc.Get(ctx, res.Analysis.AnalysisID); !errors.Is(err, bq.ErrAnalysisNotFound) {
		t.Errorf("Get() after delete error = %v", err)
	}
}

func TestChecksum(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Checksum([]byte("abc")); got != want {
		t.Errorf("Checksum() = %s, want %s", got, want)
	}
}
