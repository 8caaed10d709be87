package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// InsertAnalysisTransactionsWithClient inserts a batch of AnalysisTransactionRow
// using the provided BigQuery client.
func InsertAnalysisTransactionsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, rows []*AnalysisTransactionRow) error {
	if len(rows) == 0 {
		return nil
	}

	table := client.DatasetInProject(ds.ProjectID, ds.DatasetID).Table(analysisTransactionsTable)
	inserter := table.Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("InsertAnalysisTransactionsWithClient: inserting rows: %w", err)
	}

	return nil
}

// ListAnalysisTransactionsWithClient retrieves the transactions of an analysis in
// document order using the provided BigQuery client.
func ListAnalysisTransactionsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, analysisID string) ([]*AnalysisTransactionRow, error) {
	q := client.Query(`
		SELECT
			transaction_id,
			analysis_id,
			user_id,
			external_id,
			line_no,
			transaction_date,
			description,
			amount,
			type,
			category,
			created_ts
		FROM ` + ds.Table(analysisTransactionsTable) + `
		WHERE analysis_id = @analysis_id
		ORDER BY line_no
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "analysis_id", Value: analysisID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListAnalysisTransactionsWithClient: query read: %w", err)
	}

	var rows []*AnalysisTransactionRow
	for {
		var r AnalysisTransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListAnalysisTransactionsWithClient: iter next: %w", err)
		}
		rows = append(rows, &r)
	}

	return rows, nil
}
