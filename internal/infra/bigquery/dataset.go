package bigquery

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"cloud.google.com/go/bigquery"
)

const (
	analysesTable             = "analyses"
	analysisTransactionsTable = "analysis_transactions"
)

var identPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Dataset names the project and dataset that hold the analyses tables.
type Dataset struct {
	ProjectID string
	DatasetID string
}

// Validate rejects identifiers that cannot be spliced into a table reference.
func (d Dataset) Validate() error {
	if d.ProjectID == "" || d.DatasetID == "" {
		return errors.New("project and dataset are required")
	}
	if !identPattern.MatchString(d.ProjectID) || !identPattern.MatchString(d.DatasetID) {
		return fmt.Errorf("invalid dataset reference %q.%q", d.ProjectID, d.DatasetID)
	}
	return nil
}

// Table returns the fully qualified, backtick-quoted reference of a table.
func (d Dataset) Table(name string) string {
	return "`" + d.ProjectID + "." + d.DatasetID + "." + name + "`"
}

func runDML(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}

	return nil
}
