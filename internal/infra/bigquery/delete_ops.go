package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// DeleteAnalysisWithClient deletes an analysis and its transactions.
// Transactions go first so a failure never leaves orphaned rows behind a missing parent.
func DeleteAnalysisWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, analysisID string) error {
	if err := deleteByAnalysisID(ctx, client, ds.Table(analysisTransactionsTable), analysisID); err != nil {
		return fmt.Errorf("DeleteAnalysisWithClient: deleting transactions: %w", err)
	}
	if err := deleteByAnalysisID(ctx, client, ds.Table(analysesTable), analysisID); err != nil {
		return fmt.Errorf("DeleteAnalysisWithClient: deleting analysis: %w", err)
	}
	return nil
}

func deleteByAnalysisID(ctx context.Context, client *bigquery.Client, table, analysisID string) error {
	q := client.Query(`
		DELETE FROM ` + table + `
		WHERE analysis_id = @analysis_id
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "analysis_id", Value: analysisID},
	}
	return runDML(ctx, q)
}
