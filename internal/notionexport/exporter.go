// Package notionexport copies stored analyses into a Notion database, one
// page per transaction.
package notionexport

import (
	"context"
	"errors"
	"fmt"

	bq "github.com/dvloznov/doc-analyzer/internal/bigquery"
	"github.com/dvloznov/doc-analyzer/internal/logger"
	"github.com/jomei/notionapi"
)

// ErrNotConfigured is returned when no database ID was given.
var ErrNotConfigured = errors.New("notion export is not configured")

const queryPageSize = 100

// Stats counts the outcome of one export.
type Stats struct {
	Created  int
	Skipped  int
	Failed   int
	Archived int
}

// Exporter writes analysis transactions to a Notion database. Pages carry the
// transaction ID, so re-exporting an analysis only creates the missing pages.
type Exporter struct {
	notion     NotionService
	databaseID string
	dryRun     bool
}

// NewExporter creates an Exporter for databaseID.
func NewExporter(notion NotionService, databaseID string, dryRun bool) (*Exporter, error) {
	if databaseID == "" {
		return nil, ErrNotConfigured
	}
	return &Exporter{notion: notion, databaseID: databaseID, dryRun: dryRun}, nil
}

// ExportAnalysis creates a page for every transaction of the analysis that has
// none yet. A failed page does not stop the export; the returned error joins
// all page failures.
func (e *Exporter) ExportAnalysis(ctx context.Context, row *bq.AnalysisRow, txRows []*bq.AnalysisTransactionRow) (Stats, error) {
	log := logger.FromContext(ctx).With().
		Str("analysis_id", row.AnalysisID).
		Bool("dry_run", e.dryRun).
		Logger()

	var stats Stats

	existing, err := e.analysisPages(ctx, row.AnalysisID)
	if err != nil {
		return stats, fmt.Errorf("ExportAnalysis: %w", err)
	}
	exported := make(map[string]bool, len(existing))
	for _, page := range existing {
		if txID := extractRichText(page, PropTransactionID); txID != "" {
			exported[txID] = true
		}
	}

	var errs []error
	for _, tx := range txRows {
		if exported[tx.TransactionID] {
			stats.Skipped++
			continue
		}

		if e.dryRun {
			log.Info().
				Str("transaction_id", tx.TransactionID).
				Str("description", tx.Description).
				Msg("[DRY RUN] Would create Notion page")
			stats.Created++
			continue
		}

		props := TransactionToNotionProperties(tx, row.OriginalFilename)
		page, err := e.notion.CreatePage(ctx, e.databaseID, props)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			log.Warn().Err(err).Str("transaction_id", tx.TransactionID).Msg("Failed to create Notion page")
			errs = append(errs, fmt.Errorf("transaction %s: %w", tx.TransactionID, err))
			stats.Failed++
			continue
		}

		log.Debug().
			Str("transaction_id", tx.TransactionID).
			Str("page_id", string(page.ID)).
			Msg("Created Notion page")
		stats.Created++
	}

	log.Info().
		Int("created", stats.Created).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Msg("Notion export finished")

	if len(errs) > 0 {
		return stats, fmt.Errorf("ExportAnalysis: %w", errors.Join(errs...))
	}
	return stats, nil
}

// RemoveAnalysis archives every page exported for the analysis.
func (e *Exporter) RemoveAnalysis(ctx context.Context, analysisID string) (Stats, error) {
	log := logger.FromContext(ctx).With().Str("analysis_id", analysisID).Logger()

	var stats Stats

	pages, err := e.analysisPages(ctx, analysisID)
	if err != nil {
		return stats, fmt.Errorf("RemoveAnalysis: %w", err)
	}

	for _, page := range pages {
		if e.dryRun {
			log.Info().Str("page_id", string(page.ID)).Msg("[DRY RUN] Would archive Notion page")
			stats.Archived++
			continue
		}
		if err := e.notion.ArchivePage(ctx, string(page.ID)); err != nil {
			return stats, fmt.Errorf("RemoveAnalysis: %w", err)
		}
		stats.Archived++
	}

	log.Info().Int("archived", stats.Archived).Msg("Notion pages archived")
	return stats, nil
}

// analysisPages returns all pages whose Analysis ID equals analysisID.
func (e *Exporter) analysisPages(ctx context.Context, analysisID string) ([]notionapi.Page, error) {
	var pages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			Filter: &notionapi.PropertyFilter{
				Property: PropAnalysisID,
				RichText: &notionapi.TextFilterCondition{Equals: analysisID},
			},
			PageSize: queryPageSize,
		}

		// Only set StartCursor if we have a cursor value
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := e.notion.QueryDatabase(ctx, e.databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("analysisPages: %w", err)
		}

		pages = append(pages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return pages, nil
}
