package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func mustBuiltin(t *testing.T, locale string) *Vocabulary {
	t.Helper()
	v, err := BuiltinVocabulary(locale)
	if err != nil {
		t.Fatalf("BuiltinVocabulary(%q) error = %v", locale, err)
	}
	return v
}

// extractAndRepair runs the fallback extractor and the validator, the way
// the pipeline does.
func extractAndRepair(t *testing.T, vocab *Vocabulary, text string) *AnalysisResult {
	t.Helper()
	ctx := context.Background()
	c := NewFallbackExtractor(vocab).Extract(ctx, text)
	result, _ := NewValidator(vocab).Repair(ctx, c)
	return result
}

func TestFallbackExtractor_IndonesianSale(t *testing.T) {
	result := extractAndRepair(t, mustBuiltin(t, "id"), "Penjualan produk Rp 5,000,000 tanggal 15 Jan")

	if len(result.Transactions) != 1 {
		t.Fatalf("got %d transactions, want 1: %+v", len(result.Transactions), result.Transactions)
	}
	tx := result.Transactions[0]
	if tx.Type != TransactionTypeIncome {
		t.Errorf("Type = %q, want income", tx.Type)
	}
	if tx.Category != "Penjualan" {
		t.Errorf("Category = %q, want Penjualan", tx.Category)
	}
	if !tx.Amount.Equal(decimal.NewFromInt(5000000)) {
		t.Errorf("Amount = %s, want 5000000", tx.Amount)
	}
	if tx.ID != "fallback_1" {
		t.Errorf("ID = %q, want fallback_1", tx.ID)
	}
	if tx.Date != PlaceholderDate {
		t.Errorf("Date = %s, want placeholder %s", tx.Date, PlaceholderDate)
	}
	if !result.Summary.TotalIncome.Equal(decimal.NewFromInt(5000000)) || result.Summary.TransactionCount != 1 {
		t.Errorf("unexpected summary: %+v", result.Summary)
	}
	if len(result.Insights) == 0 {
		t.Error("expected insights")
	}
}

func TestFallbackExtractor_Lines(t *testing.T) {
	text := strings.Join([]string{
		"Rp 9.000",                                   // shorter than 10 characters
		"Biaya sewa kantor bulan ini Rp 2.500.000",   // expense, Operasional
		"Gaji karyawan dibayar 15/01/2024 7.000.000", // date ignored, SDM, expense via "bayar"
		"Catatan: stok 500 unit",                     // below the threshold
		"Iklan media sosial IDR 1.250.000,50",        // income, Pemasaran
	}, "\n")

	result := extractAndRepair(t, mustBuiltin(t, "id"), text)

	want := []struct {
		typ      TransactionType
		category string
		amount   string
	}{
		{TransactionTypeExpense, "Operasional", "-2500000"},
		{TransactionTypeExpense, "SDM", "-7000000"},
		{TransactionTypeIncome, "Pemasaran", "1250000.5"},
	}
	if len(result.Transactions) != len(want) {
		t.Fatalf("got %d transactions, want %d: %+v", len(result.Transactions), len(want), result.Transactions)
	}
	for i, w := range want {
		tx := result.Transactions[i]
		if tx.Type != w.typ || tx.Category != w.category || !tx.Amount.Equal(decimal.RequireFromString(w.amount)) {
			t.Errorf("transaction %d = {%s %s %s}, want {%s %s %s}", i, tx.Type, tx.Category, tx.Amount, w.typ, w.category, w.amount)
		}
	}

	s := result.Summary
	if !s.TotalExpense.Equal(decimal.NewFromInt(9500000)) {
		t.Errorf("TotalExpense = %s, want 9500000", s.TotalExpense)
	}
	if !s.NetProfit.Equal(s.TotalIncome.Sub(s.TotalExpense)) {
		t.Errorf("NetProfit = %s, want income - expense", s.NetProfit)
	}
}

func TestFallbackExtractor_Placeholders(t *testing.T) {
	for _, text := range []string{"", "no numbers anywhere in this document", PDFGuidanceText, ImageGuidanceText} {
		result := extractAndRepair(t, mustBuiltin(t, "en"), text)

		if len(result.Transactions) != 2 {
			t.Fatalf("text %q: got %d transactions, want 2 placeholders", text, len(result.Transactions))
		}
		income, expense := result.Transactions[0], result.Transactions[1]
		if income.Type != TransactionTypeIncome || !income.Amount.IsPositive() {
			t.Errorf("first placeholder = %+v, want positive income", income)
		}
		if expense.Type != TransactionTypeExpense || !expense.Amount.IsNegative() {
			t.Errorf("second placeholder = %+v, want negative expense", expense)
		}
		if len(result.Insights) == 0 {
			t.Error("expected placeholder insights")
		}
	}
}

func TestFallbackExtractor_LongDescription(t *testing.T) {
	line := "Penjualan grosir kepada pelanggan tetap di wilayah timur kota Rp 12.000.000"
	result := extractAndRepair(t, mustBuiltin(t, "id"), line)

	if len(result.Transactions) != 1 {
		t.Fatalf("got %d transactions, want 1", len(result.Transactions))
	}
	desc := result.Transactions[0].Description
	if !strings.HasSuffix(desc, "...") || len([]rune(desc)) != maxFallbackDescriptionChars+3 {
		t.Errorf("Description = %q, want 50 characters plus ellipsis", desc)
	}
}

func TestParseGroupedNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"5,000,000", "5000000"},
		{"5.000.000", "5000000"},
		{"1.234,56", "1234.56"},
		{"1,234.56", "1234.56"},
		{"2500", "2500"},
		{"12.5", "12.5"},
		{"1,000", "1000"},
	}

	for _, tt := range tests {
		got, err := parseGroupedNumber(tt.in)
		if err != nil {
			t.Errorf("parseGroupedNumber(%q) error = %v", tt.in, err)
			continue
		}
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("parseGroupedNumber(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFindMaterialAmount(t *testing.T) {
	tests := []struct {
		line   string
		want   string
		wantOK bool
	}{
		{"Total $ 1,500.00 due", "1500", true},
		{"Invoice 2024-01-15 amount 999", "", false},
		{"Qty 3 at 250 then 4.500", "", false},
		{"2024-01-15 Penjualan Rp 4.500", "4500", true},
		{"exactly 1000 units", "", false},
		{"Saldo " + strings.Repeat("9", 40), "", false},
	}

	for _, tt := range tests {
		got, ok := findMaterialAmount(tt.line)
		if ok != tt.wantOK {
			t.Errorf("findMaterialAmount(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
			continue
		}
		if ok && !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("findMaterialAmount(%q) = %s, want %s", tt.line, got, tt.want)
		}
	}
}
