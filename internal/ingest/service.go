package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	bq "github.com/dvloznov/doc-analyzer/internal/bigquery"
	"github.com/dvloznov/doc-analyzer/internal/datauri"
	"github.com/dvloznov/doc-analyzer/internal/gcsuploader"
	"github.com/dvloznov/doc-analyzer/internal/logger"
	"github.com/dvloznov/doc-analyzer/internal/pipeline"
)

// DefaultUserID owns documents submitted without a caller identity.
const DefaultUserID = "anonymous"

// ErrInvalidSource marks a request whose document could not be located or decoded.
var ErrInvalidSource = errors.New("invalid document source")

// Runner runs the analysis pipeline on one document.
type Runner interface {
	Run(ctx context.Context, doc pipeline.RawDocument) (*pipeline.Outcome, error)
}

// Fetcher downloads documents referenced by gs:// URIs.
type Fetcher interface {
	FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error)
}

// Request is one document submitted for analysis.
type Request struct {
	UserID   string
	FileName string
	MIMEType string
	Bytes    []byte
	// GCSURI records where the bytes came from, if anywhere.
	GCSURI string
}

// Result is a stored analysis. Outcome is nil for duplicates, which skip the pipeline.
type Result struct {
	Analysis     *bq.AnalysisRow
	Transactions []*bq.AnalysisTransactionRow
	Result       *pipeline.AnalysisResult
	Outcome      *pipeline.Outcome
	Duplicate    bool
}

// Service deduplicates documents by content hash, analyzes new ones and persists the outcome.
type Service struct {
	runner  Runner
	repo    bq.AnalysisRepository
	fetcher Fetcher
	now     func() time.Time
}

// NewService creates a Service. fetcher may be nil when GCS sources are not used.
func NewService(runner Runner, repo bq.AnalysisRepository, fetcher Fetcher) *Service {
	return &Service{
		runner:  runner,
		repo:    repo,
		fetcher: fetcher,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Analyze analyzes req.Bytes unless the same user already stored a document with identical content.
// Unsupported formats and context errors are returned unchanged.
func (s *Service) Analyze(ctx context.Context, req Request) (*Result, error) {
	if req.UserID == "" {
		req.UserID = DefaultUserID
	}
	if req.MIMEType == "" {
		req.MIMEType = pipeline.MIMETypeFromFileName(req.FileName)
	}

	checksum := Checksum(req.Bytes)
	log := logger.FromContext(ctx).With().
		Str("user_id", req.UserID).
		Str("file_name", req.FileName).
		Str("checksum", checksum).
		Logger()

	existing, err := s.repo.FindAnalysisByChecksum(ctx, req.UserID, checksum)
	if err != nil {
		return nil, fmt.Errorf("Analyze: checking for duplicate: %w", err)
	}
	if existing != nil {
		log.Info().Str("analysis_id", existing.AnalysisID).Msg("Document already analyzed, skipping pipeline")
		txRows, err := s.repo.ListAnalysisTransactions(ctx, existing.AnalysisID)
		if err != nil {
			return nil, fmt.Errorf("Analyze: loading duplicate transactions: %w", err)
		}
		return &Result{
			Analysis:     existing,
			Transactions: txRows,
			Result:       existing.Result(txRows),
			Duplicate:    true,
		}, nil
	}

	out, err := s.runner.Run(ctx, pipeline.RawDocument{
		Bytes:    req.Bytes,
		MIMEType: req.MIMEType,
		FileName: req.FileName,
	})
	if err != nil {
		return nil, err
	}

	row, txRows, err := bq.RowsFromOutcome(bq.AnalysisMeta{
		UserID:    req.UserID,
		FileName:  req.FileName,
		MIMEType:  req.MIMEType,
		GCSURI:    req.GCSURI,
		Checksum:  checksum,
		CreatedAt: s.now(),
	}, out)
	if err != nil {
		return nil, fmt.Errorf("Analyze: %w", err)
	}

	if err := s.repo.InsertAnalysis(ctx, row); err != nil {
		return nil, fmt.Errorf("Analyze: inserting analysis: %w", err)
	}
	if err := s.repo.InsertAnalysisTransactions(ctx, txRows); err != nil {
		if delErr := s.repo.DeleteAnalysis(ctx, row.AnalysisID); delErr != nil {
			log.Error().Err(delErr).Str("analysis_id", row.AnalysisID).Msg("Failed to remove partially stored analysis")
		}
		return nil, fmt.Errorf("Analyze: inserting transactions: %w", err)
	}

	log.Info().
		Str("analysis_id", row.AnalysisID).
		Str("source", row.Source).
		Int("transactions", len(txRows)).
		Msg("Analysis stored")

	return &Result{
		Analysis:     row,
		Transactions: txRows,
		Result:       out.Result,
		Outcome:      out,
	}, nil
}

// AnalyzeDataURI decodes an RFC 2397 data URI and analyzes its payload.
func (s *Service) AnalyzeDataURI(ctx context.Context, userID, fileName, uri string) (*Result, error) {
	data, mimeType, err := datauri.Decode(uri)
	if err != nil {
		return nil, fmt.Errorf("AnalyzeDataURI: %w: %w", ErrInvalidSource, err)
	}
	return s.Analyze(ctx, Request{
		UserID:   userID,
		FileName: fileName,
		MIMEType: mimeType,
		Bytes:    data,
	})
}

// AnalyzeGCS fetches the object at gcsURI and analyzes it. An empty mimeType
// is inferred from the object's extension.
func (s *Service) AnalyzeGCS(ctx context.Context, userID, gcsURI, mimeType string) (*Result, error) {
	if s.fetcher == nil {
		return nil, fmt.Errorf("AnalyzeGCS: no storage configured")
	}
	if _, _, err := gcsuploader.ParseGCSURI(gcsURI); err != nil {
		return nil, fmt.Errorf("AnalyzeGCS: %w: %w", ErrInvalidSource, err)
	}

	data, err := s.fetcher.FetchFromGCS(ctx, gcsURI)
	if err != nil {
		return nil, fmt.Errorf("AnalyzeGCS: %w", err)
	}

	fileName := gcsuploader.ExtractFilenameFromGCSURI(gcsURI)
	if mimeType == "" {
		mimeType = pipeline.MIMETypeFromFileName(fileName)
	}

	return s.Analyze(ctx, Request{
		UserID:   userID,
		FileName: fileName,
		MIMEType: mimeType,
		Bytes:    data,
		GCSURI:   gcsURI,
	})
}

// Get loads a stored analysis with its transactions.
func (s *Service) Get(ctx context.Context, analysisID string) (*Result, error) {
	row, err := s.repo.GetAnalysis(ctx, analysisID)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	txRows, err := s.repo.ListAnalysisTransactions(ctx, analysisID)
	if err != nil {
		return nil, fmt.Errorf("Get: listing transactions: %w", err)
	}
	return &Result{Analysis: row, Transactions: txRows, Result: row.Result(txRows)}, nil
}

// List returns the newest analyses of a user.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]*bq.AnalysisRow, error) {
	if userID == "" {
		userID = DefaultUserID
	}
	rows, err := s.repo.ListAnalyses(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return rows, nil
}

// Delete removes a stored analysis.
func (s *Service) Delete(ctx context.Context, analysisID string) error {
	if err := s.repo.DeleteAnalysis(ctx, analysisID); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

// Checksum returns the lowercase hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
