package bigquery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/doc-analyzer/internal/pipeline"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrAnalysisNotFound is returned by GetAnalysis when no record has the requested id.
var ErrAnalysisNotFound = errors.New("analysis not found")

// AnalysisRepository provides an interface for analysis-related database operations.
type AnalysisRepository interface {
	// InsertAnalysis inserts a single AnalysisRow into the database.
	InsertAnalysis(ctx context.Context, row *AnalysisRow) error

	// InsertAnalysisTransactions inserts a batch of AnalysisTransactionRow into the database.
	InsertAnalysisTransactions(ctx context.Context, rows []*AnalysisTransactionRow) error

	// FindAnalysisByChecksum retrieves the analysis a user already stored for a document
	// with the given SHA-256 checksum. Returns nil, nil when there is none.
	FindAnalysisByChecksum(ctx context.Context, userID, checksum string) (*AnalysisRow, error)

	// GetAnalysis retrieves an analysis by id or returns ErrAnalysisNotFound.
	GetAnalysis(ctx context.Context, analysisID string) (*AnalysisRow, error)

	// ListAnalyses retrieves the most recent analyses of a user, newest first.
	ListAnalyses(ctx context.Context, userID string, limit int) ([]*AnalysisRow, error)

	// ListAnalysisTransactions retrieves the transactions of an analysis in document order.
	ListAnalysisTransactions(ctx context.Context, analysisID string) ([]*AnalysisTransactionRow, error)

	// DeleteAnalysis removes an analysis together with its transactions.
	DeleteAnalysis(ctx context.Context, analysisID string) error
}

// AnalysisRow represents one analyzed document in BigQuery.
type AnalysisRow struct {
	AnalysisID string `bigquery:"analysis_id" json:"analysis_id"`
	UserID     string `bigquery:"user_id" json:"user_id"`

	OriginalFilename string              `bigquery:"original_filename" json:"original_filename"`
	FileMimeType     string              `bigquery:"file_mime_type" json:"file_mime_type"`
	GCSURI           bigquery.NullString `bigquery:"gcs_uri" json:"gcs_uri,omitempty"`
	ChecksumSHA256   string              `bigquery:"checksum_sha256" json:"checksum_sha256"`

	Source         string `bigquery:"source" json:"source"`
	PageCount      int64  `bigquery:"page_count" json:"page_count"`
	IsGuidanceOnly bool   `bigquery:"is_guidance_only" json:"is_guidance_only"`
	Truncated      bool   `bigquery:"truncated" json:"truncated"`

	TotalIncome      *big.Rat `bigquery:"total_income" json:"total_income"`
	TotalExpense     *big.Rat `bigquery:"total_expense" json:"total_expense"`
	NetProfit        *big.Rat `bigquery:"net_profit" json:"net_profit"`
	TransactionCount int64    `bigquery:"transaction_count" json:"transaction_count"`

	Insights []string `bigquery:"insights" json:"insights"`

	Diagnostics bigquery.NullJSON `bigquery:"diagnostics" json:"diagnostics,omitempty"`

	CreatedTS time.Time `bigquery:"created_ts" json:"created_ts"`
}

// MarshalJSON renders NUMERIC columns as fixed two-decimal strings.
func (a AnalysisRow) MarshalJSON() ([]byte, error) {
	type Alias AnalysisRow
	return json.Marshal(&struct {
		GCSURI       string          `json:"gcs_uri,omitempty"`
		TotalIncome  string          `json:"total_income"`
		TotalExpense string          `json:"total_expense"`
		NetProfit    string          `json:"net_profit"`
		Diagnostics  json.RawMessage `json:"diagnostics,omitempty"`
		*Alias
	}{
		GCSURI:       a.GCSURI.StringVal,
		TotalIncome:  formatRat(a.TotalIncome),
		TotalExpense: formatRat(a.TotalExpense),
		NetProfit:    formatRat(a.NetProfit),
		Diagnostics: func() json.RawMessage {
			if !a.Diagnostics.Valid || a.Diagnostics.JSONVal == "" {
				return nil
			}
			return json.RawMessage(a.Diagnostics.JSONVal)
		}(),
		Alias: (*Alias)(&a),
	})
}

// AnalysisTransactionRow represents one validated transaction of an analysis in BigQuery.
type AnalysisTransactionRow struct {
	TransactionID string `bigquery:"transaction_id" json:"transaction_id"`
	AnalysisID    string `bigquery:"analysis_id" json:"analysis_id"`
	UserID        string `bigquery:"user_id" json:"user_id"`

	// ExternalID is the id the pipeline assigned inside the document, e.g. "txn_1".
	ExternalID string `bigquery:"external_id" json:"external_id"`
	LineNo     int64  `bigquery:"line_no" json:"line_no"`

	TransactionDate civil.Date `bigquery:"transaction_date" json:"transaction_date"`
	Description     string     `bigquery:"description" json:"description"`
	Amount          *big.Rat   `bigquery:"amount" json:"amount"`
	Type            string     `bigquery:"type" json:"type"`
	Category        string     `bigquery:"category" json:"category"`

	CreatedTS time.Time `bigquery:"created_ts" json:"created_ts"`
}

// MarshalJSON customizes JSON serialization for AnalysisTransactionRow.
func (t AnalysisTransactionRow) MarshalJSON() ([]byte, error) {
	type Alias AnalysisTransactionRow
	return json.Marshal(&struct {
		Amount string `json:"amount"`
		*Alias
	}{
		Amount: formatRat(t.Amount),
		Alias:  (*Alias)(&t),
	})
}

// AnalysisMeta describes the stored document an outcome belongs to.
type AnalysisMeta struct {
	AnalysisID string
	UserID     string
	FileName   string
	MIMEType   string
	GCSURI     string
	Checksum   string
	CreatedAt  time.Time
}

// RowsFromOutcome maps a pipeline outcome to the rows persisted for it.
// An empty AnalysisID gets a fresh UUID and a zero CreatedAt becomes now.
func RowsFromOutcome(meta AnalysisMeta, out *pipeline.Outcome) (*AnalysisRow, []*AnalysisTransactionRow, error) {
	if out == nil || out.Result == nil {
		return nil, nil, fmt.Errorf("RowsFromOutcome: outcome has no result")
	}
	if meta.AnalysisID == "" {
		meta.AnalysisID = uuid.NewString()
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	res := out.Result
	row := &AnalysisRow{
		AnalysisID:       meta.AnalysisID,
		UserID:           meta.UserID,
		OriginalFilename: meta.FileName,
		FileMimeType:     meta.MIMEType,
		GCSURI:           bigquery.NullString{StringVal: meta.GCSURI, Valid: meta.GCSURI != ""},
		ChecksumSHA256:   meta.Checksum,
		Source:           string(out.Source),
		PageCount:        int64(out.Extracted.PageCount),
		IsGuidanceOnly:   out.Extracted.IsGuidanceOnly,
		Truncated:        out.Truncated,
		TotalIncome:      res.Summary.TotalIncome.Rat(),
		TotalExpense:     res.Summary.TotalExpense.Rat(),
		NetProfit:        res.Summary.NetProfit.Rat(),
		TransactionCount: int64(res.Summary.TransactionCount),
		Insights:         append([]string(nil), res.Insights...),
		CreatedTS:        meta.CreatedAt,
	}

	if len(out.Diagnostics) > 0 {
		b, err := json.Marshal(out.Diagnostics)
		if err != nil {
			return nil, nil, fmt.Errorf("RowsFromOutcome: marshalling diagnostics: %w", err)
		}
		row.Diagnostics = bigquery.NullJSON{JSONVal: string(b), Valid: true}
	}

	txRows := make([]*AnalysisTransactionRow, 0, len(res.Transactions))
	for i, tx := range res.Transactions {
		txRows = append(txRows, &AnalysisTransactionRow{
			TransactionID:   uuid.NewString(),
			AnalysisID:      meta.AnalysisID,
			UserID:          meta.UserID,
			ExternalID:      tx.ID,
			LineNo:          int64(i + 1),
			TransactionDate: tx.Date,
			Description:     tx.Description,
			Amount:          tx.Amount.Rat(),
			Type:            string(tx.Type),
			Category:        tx.Category,
			CreatedTS:       meta.CreatedAt,
		})
	}

	return row, txRows, nil
}

// Result rebuilds the validated result stored in an analysis and its transactions.
func (a *AnalysisRow) Result(txRows []*AnalysisTransactionRow) *pipeline.AnalysisResult {
	txs := make([]pipeline.Transaction, 0, len(txRows))
	for _, r := range txRows {
		txs = append(txs, pipeline.Transaction{
			ID:          r.ExternalID,
			Date:        r.TransactionDate,
			Description: r.Description,
			Amount:      ratToDecimal(r.Amount),
			Type:        pipeline.TransactionType(r.Type),
			Category:    r.Category,
		})
	}
	insights := append([]string{}, a.Insights...)
	return &pipeline.AnalysisResult{
		Transactions: txs,
		Summary: pipeline.FinancialSummary{
			TotalIncome:      ratToDecimal(a.TotalIncome),
			TotalExpense:     ratToDecimal(a.TotalExpense),
			NetProfit:        ratToDecimal(a.NetProfit),
			TransactionCount: int(a.TransactionCount),
		},
		Insights: insights,
	}
}

// numericScale is the fractional precision of the BigQuery NUMERIC type.
const numericScale = 9

func ratToDecimal(r *big.Rat) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(r.FloatString(numericScale))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func formatRat(r *big.Rat) string {
	if r == nil {
		return "0.00"
	}
	return r.FloatString(2)
}
