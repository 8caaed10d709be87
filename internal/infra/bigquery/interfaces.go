package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	bq "github.com/dvloznov/doc-analyzer/internal/bigquery"
)

// Re-export the contract and rows from the shared package.
type (
	AnalysisRepository     = bq.AnalysisRepository
	AnalysisRow            = bq.AnalysisRow
	AnalysisTransactionRow = bq.AnalysisTransactionRow
)

// BigQueryAnalysisRepository is the concrete implementation of AnalysisRepository
// that interacts with BigQuery. It holds a shared BigQuery client to avoid
// creating a new connection for each operation.
type BigQueryAnalysisRepository struct {
	client *bigquery.Client
	ds     Dataset
}

var _ AnalysisRepository = (*BigQueryAnalysisRepository)(nil)

// NewBigQueryAnalysisRepository creates a new instance of BigQueryAnalysisRepository
// with a shared BigQuery client.
func NewBigQueryAnalysisRepository(ctx context.Context, projectID, datasetID string) (*BigQueryAnalysisRepository, error) {
	ds := Dataset{ProjectID: projectID, DatasetID: datasetID}
	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("NewBigQueryAnalysisRepository: %w", err)
	}
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryAnalysisRepository: creating client: %w", err)
	}
	return &BigQueryAnalysisRepository{
		client: client,
		ds:     ds,
	}, nil
}

// Close closes the BigQuery client connection. This should be called when
// the repository is no longer needed to release resources.
func (r *BigQueryAnalysisRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// InsertAnalysis delegates to InsertAnalysisWithClient with the shared client.
func (r *BigQueryAnalysisRepository) InsertAnalysis(ctx context.Context, row *AnalysisRow) error {
	return InsertAnalysisWithClient(ctx, r.client, r.ds, row)
}

// InsertAnalysisTransactions delegates to InsertAnalysisTransactionsWithClient with the shared client.
func (r *BigQueryAnalysisRepository) InsertAnalysisTransactions(ctx context.Context, rows []*AnalysisTransactionRow) error {
	return InsertAnalysisTransactionsWithClient(ctx, r.client, r.ds, rows)
}

// FindAnalysisByChecksum delegates to FindAnalysisByChecksumWithClient with the shared client.
func (r *BigQueryAnalysisRepository) FindAnalysisByChecksum(ctx context.Context, userID, checksum string) (*AnalysisRow, error) {
	return FindAnalysisByChecksumWithClient(ctx, r.client, r.ds, userID, checksum)
}

// GetAnalysis delegates to GetAnalysisWithClient with the shared client.
func (r *BigQueryAnalysisRepository) GetAnalysis(ctx context.Context, analysisID string) (*AnalysisRow, error) {
	return GetAnalysisWithClient(ctx, r.client, r.ds, analysisID)
}

// ListAnalyses delegates to ListAnalysesWithClient with the shared client.
func (r *BigQueryAnalysisRepository) ListAnalyses(ctx context.Context, userID string, limit int) ([]*AnalysisRow, error) {
	return ListAnalysesWithClient(ctx, r.client, r.ds, userID, limit)
}

// ListAnalysisTransactions delegates to ListAnalysisTransactionsWithClient with the shared client.
func (r *BigQueryAnalysisRepository) ListAnalysisTransactions(ctx context.Context, analysisID string) ([]*AnalysisTransactionRow, error) {
	return ListAnalysisTransactionsWithClient(ctx, r.client, r.ds, analysisID)
}

// DeleteAnalysis delegates to DeleteAnalysisWithClient with the shared client.
func (r *BigQueryAnalysisRepository) DeleteAnalysis(ctx context.Context, analysisID string) error {
	return DeleteAnalysisWithClient(ctx, r.client, r.ds, analysisID)
}
