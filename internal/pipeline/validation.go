package pipeline

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/doc-analyzer/internal/logger"
)

const (
	// maxDescriptionChars bounds a validated transaction description.
	maxDescriptionChars = 100

	defaultIDPrefix = "transaction_"
)

// Validator turns any candidate into a result that satisfies the output
// invariants. It never fails and repairing its own output changes nothing.
type Validator struct {
	vocab     *Vocabulary
	canonical map[string]string
	placeDate civil.Date
}

// NewValidator creates a validator that takes its defaults from vocab.
func NewValidator(vocab *Vocabulary) *Validator {
	canonical := make(map[string]string)
	for _, name := range vocab.CategoryNames() {
		canonical[normalizeCategory(name)] = name
	}
	canonical[normalizeCategory(vocab.DefaultCategory())] = vocab.DefaultCategory()

	return &Validator{vocab: vocab, canonical: canonical, placeDate: PlaceholderDate}
}

// Repair validates c field by field and recomputes the summary from the
// repaired transactions. The diagnostics list every repair made.
func (v *Validator) Repair(ctx context.Context, c Candidate) (*AnalysisResult, []Diagnostic) {
	var diags []Diagnostic
	note := func(kind, format string, args ...interface{}) {
		diags = append(diags, Diagnostic{Stage: "validate", Kind: kind, Message: fmt.Sprintf(format, args...)})
	}

	items, ok := getListField(c, "transactions")
	if !ok {
		note("transactions_missing", "transactions is %T, replaced with an empty list", c["transactions"])
	}

	txs := make([]Transaction, 0, len(items))
	seen := make(map[string]bool, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			note("transaction_dropped", "transaction %d is %T, not an object", i, item)
			continue
		}

		tx := v.repairTransaction(i, obj, note)

		for seen[tx.ID] {
			tx.ID = fmt.Sprintf("%s_%d", tx.ID, i+1)
			note("id_duplicate", "transaction %d: duplicate id renamed to %q", i, tx.ID)
		}
		seen[tx.ID] = true

		txs = append(txs, tx)
	}

	insights := v.repairInsights(c, note)

	result := &AnalysisResult{
		Transactions: txs,
		Summary:      Summarize(txs),
		Insights:     insights,
	}

	if len(diags) > 0 {
		log := logger.FromContext(ctx)
		log.Debug().Int("repairs", len(diags)).Msg("Candidate repaired")
	}
	return result, diags
}

func (v *Validator) repairTransaction(i int, obj map[string]interface{}, note func(kind, format string, args ...interface{})) Transaction {
	id, _ := getStringField(obj, "id")
	if id == "" {
		id = fmt.Sprintf("%s%d", defaultIDPrefix, i+1)
		note("id_default", "transaction %d: id set to %q", i, id)
	}

	date, ok := coerceDate(obj["date"])
	if !ok {
		date = v.placeDate
		note("date_default", "transaction %d: date %v replaced with placeholder", i, obj["date"])
	}

	description, _ := getStringField(obj, "description")
	if cut := truncateRunes(description, maxDescriptionChars, ""); cut != description {
		description = strings.TrimSpace(cut)
		note("description_truncated", "transaction %d: description truncated", i)
	}

	amount, ok := coerceDecimal(obj["amount"])
	if !ok {
		amount = decimal.Zero
		note("amount_default", "transaction %d: amount %v replaced with 0", i, obj["amount"])
	}

	txType, ok := coerceTransactionType(obj["type"])
	if !ok {
		note("type_default", "transaction %d: type %v replaced with %q", i, obj["type"], txType)
	}
	if (txType == TransactionTypeIncome && amount.IsNegative()) ||
		(txType == TransactionTypeExpense && amount.IsPositive()) {
		amount = amount.Neg()
		note("amount_sign", "transaction %d: amount sign flipped to match type %q", i, txType)
	}

	category, _ := getStringField(obj, "category")
	if category == "" {
		category = v.vocab.DefaultCategory()
	} else if name, ok := v.canonical[normalizeCategory(category)]; ok {
		category = name
	}

	return Transaction{
		ID:          id,
		Date:        date,
		Description: description,
		Amount:      amount,
		Type:        txType,
		Category:    category,
	}
}

func (v *Validator) repairInsights(c Candidate, note func(kind, format string, args ...interface{})) []string {
	items, ok := getListField(c, "insights")
	if !ok {
		note("insights_missing", "insights is %T, replaced with the default insight", c["insights"])
		return []string{v.vocab.DefaultInsight()}
	}

	insights := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := coerceString(item); ok && s != "" {
			insights = append(insights, s)
		}
	}
	if len(insights) == 0 {
		note("insights_empty", "no usable insights, using the default insight")
		return []string{v.vocab.DefaultInsight()}
	}
	return insights
}

// Summarize derives the summary from transactions: income and expense
// totals are sums of absolute amounts.
func Summarize(txs []Transaction) FinancialSummary {
	income, expense := decimal.Zero, decimal.Zero
	for _, tx := range txs {
		switch tx.Type {
		case TransactionTypeIncome:
			income = income.Add(tx.Amount.Abs())
		case TransactionTypeExpense:
			expense = expense.Add(tx.Amount.Abs())
		}
	}
	return FinancialSummary{
		TotalIncome:      income,
		TotalExpense:     expense,
		NetProfit:        income.Sub(expense),
		TransactionCount: len(txs),
	}
}

// normalizeCategory folds case and surrounding space for comparisons.
func normalizeCategory(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
