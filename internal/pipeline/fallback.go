package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/doc-analyzer/internal/logger"
)

const (
	// minFallbackLineChars drops short lines as noise.
	minFallbackLineChars = 10

	// maxFallbackDescriptionChars bounds descriptions taken from a line.
	maxFallbackDescriptionChars = 50

	fallbackIDPrefix = "fallback_"
)

var (
	// materialityThreshold is the smallest amount, exclusive, that becomes a
	// transaction.
	materialityThreshold = decimal.NewFromInt(1000)

	dateLikePattern = regexp.MustCompile(`\b\d{1,4}[-/]\d{1,2}[-/]\d{1,4}\b`)
	amountPattern   = regexp.MustCompile(`(?i)(?:(?:rp|idr)\.?\s?|\$\s?)?(\d{1,3}(?:[.,]\d{3})+(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?)`)
)

// FallbackExtractor finds transactions with regular expressions and keyword
// tables. It needs no external service and never returns an empty
// transaction list.
type FallbackExtractor struct {
	vocab *Vocabulary
	date  civil.Date
}

// NewFallbackExtractor creates an extractor that labels transactions with
// vocab. Every transaction gets the placeholder date.
func NewFallbackExtractor(vocab *Vocabulary) *FallbackExtractor {
	return &FallbackExtractor{vocab: vocab, date: PlaceholderDate}
}

// Extract builds a candidate from text.
func (f *FallbackExtractor) Extract(ctx context.Context, text string) Candidate {
	log := logger.FromContext(ctx)

	var txs []Transaction
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if len([]rune(line)) < minFallbackLineChars {
			continue
		}

		amount, ok := findMaterialAmount(line)
		if !ok {
			continue
		}

		tx := Transaction{
			ID:          fmt.Sprintf("%s%d", fallbackIDPrefix, len(txs)+1),
			Date:        f.date,
			Description: truncateRunes(line, maxFallbackDescriptionChars, "..."),
			Amount:      amount,
			Type:        TransactionTypeIncome,
			Category:    f.vocab.Categorize(line),
		}
		if f.vocab.IsExpense(line) {
			tx.Type = TransactionTypeExpense
			tx.Amount = amount.Neg()
		}
		txs = append(txs, tx)
	}

	var insights []string
	if len(txs) == 0 {
		txs = f.placeholders()
		insights = f.vocab.PlaceholderInsights()
		log.Info().Msg("Fallback extractor found no amounts, using placeholder transactions")
	} else {
		insights = f.vocab.FallbackInsights(len(txs))
		log.Info().Int("transactions", len(txs)).Msg("Fallback extractor matched transactions")
	}

	result := &AnalysisResult{
		Transactions: txs,
		Summary:      Summarize(txs),
		Insights:     insights,
	}
	return result.Candidate()
}

func (f *FallbackExtractor) placeholders() []Transaction {
	income, expense := f.vocab.Placeholders()
	category := func(p Placeholder) string {
		if p.Category == "" {
			return f.vocab.DefaultCategory()
		}
		return p.Category
	}
	return []Transaction{
		{
			ID:          fallbackIDPrefix + "1",
			Date:        f.date,
			Description: income.Description,
			Amount:      income.Amount,
			Type:        TransactionTypeIncome,
			Category:    category(income),
		},
		{
			ID:          fallbackIDPrefix + "2",
			Date:        f.date,
			Description: expense.Description,
			Amount:      expense.Amount,
			Type:        TransactionTypeExpense,
			Category:    category(expense),
		},
	}
}

// findMaterialAmount takes the first currency-like token in line and
// returns it when it is above the materiality threshold. Date-like tokens
// such as 2024-01-15 are not currency-like and are skipped.
func findMaterialAmount(line string) (decimal.Decimal, bool) {
	line = dateLikePattern.ReplaceAllString(line, " ")
	m := amountPattern.FindStringSubmatch(line)
	if m == nil {
		return decimal.Decimal{}, false
	}
	amount, err := parseGroupedNumber(m[1])
	if err != nil {
		return decimal.Decimal{}, false
	}
	amount, ok := boundAmount(amount)
	if !ok || !amount.GreaterThan(materialityThreshold) {
		return decimal.Decimal{}, false
	}
	return amount, true
}

// parseGroupedNumber parses digits with "," or "." separators. The last
// separator is a decimal point unless exactly three digits follow it; every
// other separator groups thousands. "5,000,000" and "5.000.000" are both
// five million, "1.234,56" is 1234.56.
func parseGroupedNumber(s string) (decimal.Decimal, error) {
	last := strings.LastIndexAny(s, ".,")
	if last < 0 {
		return decimal.NewFromString(s)
	}

	intPart, frac := s[:last], s[last+1:]
	if len(frac) == 3 {
		intPart, frac = s, ""
	}
	intPart = strings.NewReplacer(",", "", ".", "").Replace(intPart)
	if frac == "" {
		return decimal.NewFromString(intPart)
	}
	return decimal.NewFromString(intPart + "." + frac)
}

// truncateRunes cuts s to max runes, appending marker when it was cut.
func truncateRunes(s string, max int, marker string) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + marker
}
