package pipeline

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// RawDocument is one uploaded document as handed to the pipeline.
type RawDocument struct {
	Bytes    []byte
	MIMEType string
	FileName string
}

// ExtractedText is the plain text produced from a RawDocument.
// IsGuidanceOnly marks instructional prose written for a human rather than
// document content; later stages still run on it.
type ExtractedText struct {
	Text           string `json:"text"`
	PageCount      int    `json:"page_count"`
	IsGuidanceOnly bool   `json:"is_guidance_only"`
}

// TransactionType is the direction of a transaction.
type TransactionType string

const (
	TransactionTypeIncome  TransactionType = "income"
	TransactionTypeExpense TransactionType = "expense"
)

// Transaction is one validated record. The sign of Amount always agrees with
// Type: income is >= 0, expense is <= 0.
type Transaction struct {
	ID          string          `json:"id"`
	Date        civil.Date      `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Type        TransactionType `json:"type"`
	Category    string          `json:"category"`
}

// FinancialSummary is always derived from the transaction list.
type FinancialSummary struct {
	TotalIncome      decimal.Decimal `json:"total_income"`
	TotalExpense     decimal.Decimal `json:"total_expense"`
	NetProfit        decimal.Decimal `json:"net_profit"`
	TransactionCount int             `json:"transaction_count"`
}

// AnalysisResult is the terminal artifact of the pipeline.
type AnalysisResult struct {
	Transactions []Transaction    `json:"transactions"`
	Summary      FinancialSummary `json:"summary"`
	Insights     []string         `json:"insights"`
}

// Candidate is the loosely-typed output of a producer (the model or the
// fallback extractor) before repair. Keys follow the JSON contract:
// "transactions", "summary", "insights".
type Candidate map[string]interface{}

// Candidate converts a validated result back into the producer shape.
// Repairing the returned candidate yields an equal result.
func (r *AnalysisResult) Candidate() Candidate {
	txs := make([]interface{}, 0, len(r.Transactions))
	for _, tx := range r.Transactions {
		txs = append(txs, map[string]interface{}{
			"id":          tx.ID,
			"date":        tx.Date.String(),
			"description": tx.Description,
			"amount":      tx.Amount,
			"type":        string(tx.Type),
			"category":    tx.Category,
		})
	}
	insights := make([]interface{}, 0, len(r.Insights))
	for _, s := range r.Insights {
		insights = append(insights, s)
	}
	return Candidate{
		"transactions": txs,
		"summary": map[string]interface{}{
			"totalIncome":      r.Summary.TotalIncome,
			"totalExpense":     r.Summary.TotalExpense,
			"netProfit":        r.Summary.NetProfit,
			"transactionCount": r.Summary.TransactionCount,
		},
		"insights": insights,
	}
}

// Source names the producer whose candidate became the result.
type Source string

const (
	SourceAI       Source = "ai"
	SourceFallback Source = "fallback"
)

// Diagnostic is one entry of the internal trail of recovered failures.
type Diagnostic struct {
	Stage   string `json:"stage"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Outcome is the result of a pipeline run together with how it was produced.
type Outcome struct {
	Result      *AnalysisResult `json:"result"`
	Extracted   ExtractedText   `json:"extracted"`
	Source      Source          `json:"source"`
	Truncated   bool            `json:"truncated"`
	Diagnostics []Diagnostic    `json:"diagnostics,omitempty"`
}
