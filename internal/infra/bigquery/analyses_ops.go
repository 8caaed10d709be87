package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	bq "github.com/dvloznov/doc-analyzer/internal/bigquery"
	"google.golang.org/api/iterator"
)

const analysisColumns = `
			analysis_id,
			user_id,
			original_filename,
			file_mime_type,
			gcs_uri,
			checksum_sha256,
			source,
			page_count,
			is_guidance_only,
			truncated,
			total_income,
			total_expense,
			net_profit,
			transaction_count,
			insights,
			diagnostics,
			created_ts`

// InsertAnalysisWithClient inserts a single AnalysisRow using the provided BigQuery client.
// Uses DML INSERT so the row is immediately visible to checksum lookups and deletes.
func InsertAnalysisWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, row *AnalysisRow) error {
	q := client.Query(`
		INSERT INTO ` + ds.Table(analysesTable) + ` (` + analysisColumns + `
		)
		VALUES (
			@analysis_id, @user_id, @original_filename, @file_mime_type,
			@gcs_uri, @checksum_sha256, @source, @page_count,
			@is_guidance_only, @truncated, @total_income, @total_expense,
			@net_profit, @transaction_count, @insights, @diagnostics,
			@created_ts
		)
	`)

	insights := row.Insights
	if insights == nil {
		insights = []string{}
	}

	q.Parameters = []bigquery.QueryParameter{
		{Name: "analysis_id", Value: row.AnalysisID},
		{Name: "user_id", Value: row.UserID},
		{Name: "original_filename", Value: row.OriginalFilename},
		{Name: "file_mime_type", Value: row.FileMimeType},
		{Name: "gcs_uri", Value: row.GCSURI},
		{Name: "checksum_sha256", Value: row.ChecksumSHA256},
		{Name: "source", Value: row.Source},
		{Name: "page_count", Value: row.PageCount},
		{Name: "is_guidance_only", Value: row.IsGuidanceOnly},
		{Name: "truncated", Value: row.Truncated},
		{Name: "total_income", Value: row.TotalIncome},
		{Name: "total_expense", Value: row.TotalExpense},
		{Name: "net_profit", Value: row.NetProfit},
		{Name: "transaction_count", Value: row.TransactionCount},
		{Name: "insights", Value: insights},
		{Name: "diagnostics", Value: row.Diagnostics},
		{Name: "created_ts", Value: row.CreatedTS},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("InsertAnalysisWithClient: %w", err)
	}
	return nil
}

// FindAnalysisByChecksumWithClient retrieves the analysis a user stored for a checksum.
// Returns nil if no analysis with the given checksum exists.
func FindAnalysisByChecksumWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, userID, checksum string) (*AnalysisRow, error) {
	q := client.Query(`
		SELECT` + analysisColumns + `
		FROM ` + ds.Table(analysesTable) + `
		WHERE user_id = @user_id
		  AND checksum_sha256 = @checksum
		ORDER BY created_ts DESC
		LIMIT 1
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "checksum", Value: checksum},
	}

	rows, err := readAnalyses(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("FindAnalysisByChecksumWithClient: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// GetAnalysisWithClient retrieves an analysis by id using the provided BigQuery client.
func GetAnalysisWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, analysisID string) (*AnalysisRow, error) {
	q := client.Query(`
		SELECT` + analysisColumns + `
		FROM ` + ds.Table(analysesTable) + `
		WHERE analysis_id = @analysis_id
		LIMIT 1
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "analysis_id", Value: analysisID},
	}

	rows, err := readAnalyses(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("GetAnalysisWithClient: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("GetAnalysisWithClient: %s: %w", analysisID, bq.ErrAnalysisNotFound)
	}
	return rows[0], nil
}

// ListAnalysesWithClient retrieves the newest analyses of a user using the provided BigQuery client.
func ListAnalysesWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, userID string, limit int) ([]*AnalysisRow, error) {
	if limit <= 0 {
		limit = 50
	}

	q := client.Query(`
		SELECT` + analysisColumns + `
		FROM ` + ds.Table(analysesTable) + `
		WHERE user_id = @user_id
		ORDER BY created_ts DESC
		LIMIT @limit
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "limit", Value: int64(limit)},
	}

	rows, err := readAnalyses(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListAnalysesWithClient: %w", err)
	}
	return rows, nil
}

func readAnalyses(ctx context.Context, q *bigquery.Query) ([]*AnalysisRow, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading query: %w", err)
	}

	var rows []*AnalysisRow
	for {
		var row AnalysisRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating: %w", err)
		}
		rows = append(rows, &row)
	}

	return rows, nil
}
