package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/doc-analyzer/internal/llm"
	"github.com/dvloznov/doc-analyzer/internal/pipeline"
)

// MockCompleter is a mock implementation of llm.Completer for testing.
type MockCompleter struct {
	CompleteFunc func(ctx context.Context, req llm.Request) (string, error)
	Calls        int
}

func (m *MockCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	m.Calls++
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return `{"transactions":[],"insights":["mock"]}`, nil
}

func csvDoc(body string) pipeline.RawDocument {
	return pipeline.RawDocument{Bytes: []byte(body), MIMEType: pipeline.MIMETypeCSV, FileName: "ledger.csv"}
}

func newAnalyzer(t *testing.T, opts pipeline.Options) *pipeline.Analyzer {
	t.Helper()
	a, err := pipeline.NewAnalyzer(opts)
	if err != nil {
		t.Fatalf("NewAnalyzer() error = %v", err)
	}
	return a
}

func TestAnalyzer_AIResult(t *testing.T) {
	mock := &MockCompleter{
		CompleteFunc: func(ctx context.Context, req llm.Request) (string, error) {
			return "```json\n" + `{
  "transactions": [
    {"id": "t1", "date": "2024-01-15", "description": "Penjualan produk", "amount": 5000000, "type": "income", "category": "Penjualan"},
    {"id": "t2", "date": "2024-01-16", "description": "Sewa kantor", "amount": 1500000, "type": "expense", "category": "Operasional"}
  ],
  "summary": {"totalIncome": 1, "totalExpense": 2, "netProfit": 3, "transactionCount": 9},
  "insights": ["Pendapatan melebihi pengeluaran.", "Biaya sewa adalah pengeluaran terbesar.", "Arus kas positif."]
}` + "\n```", nil
		},
	}

	a := newAnalyzer(t, pipeline.Options{Completer: mock})
	out, err := a.Run(context.Background(), csvDoc("2024-01-15,Penjualan produk,5000000\n2024-01-16,Sewa kantor,-1500000"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if out.Source != pipeline.SourceAI {
		t.Errorf("Source = %q, want ai", out.Source)
	}
	if mock.Calls != 1 {
		t.Errorf("completer called %d times, want 1", mock.Calls)
	}

	r := out.Result
	if len(r.Transactions) != 2 {
		t.Fatalf("got %d transactions, want 2", len(r.Transactions))
	}
	if !r.Transactions[1].Amount.Equal(decimal.NewFromInt(-1500000)) {
		t.Errorf("expense amount = %s, want -1500000", r.Transactions[1].Amount)
	}
	s := r.Summary
	if !s.TotalIncome.Equal(decimal.NewFromInt(5000000)) || !s.TotalExpense.Equal(decimal.NewFromInt(1500000)) ||
		!s.NetProfit.Equal(decimal.NewFromInt(3500000)) || s.TransactionCount != 2 {
		t.Errorf("summary was not recomputed: %+v", s)
	}
	if len(r.Insights) != 3 {
		t.Errorf("Insights = %v", r.Insights)
	}
}

func TestAnalyzer_ProviderFailureFallsBack(t *testing.T) {
	mock := &MockCompleter{
		CompleteFunc: func(ctx context.Context, req llm.Request) (string, error) {
			return "", errors.New("503 service unavailable")
		},
	}

	a := newAnalyzer(t, pipeline.Options{Completer: mock})
	out, err := a.Run(context.Background(), csvDoc("Penjualan produk Rp 5,000,000 tanggal 15 Jan"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Source != pipeline.SourceFallback {
		t.Errorf("Source = %q, want fallback", out.Source)
	}
	if len(out.Diagnostics) == 0 || out.Diagnostics[0].Stage != "ai" {
		t.Errorf("expected an ai diagnostic, got %v", out.Diagnostics)
	}
	if len(out.Result.Transactions) != 1 || out.Result.Transactions[0].Category != "Penjualan" {
		t.Errorf("unexpected fallback result: %+v", out.Result.Transactions)
	}
}

func TestAnalyzer_NoProvider(t *testing.T) {
	a := newAnalyzer(t, pipeline.Options{})
	r, err := a.Analyze(context.Background(), csvDoc("Penjualan produk Rp 5,000,000 tanggal 15 Jan"))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if len(r.Transactions) != 1 {
		t.Fatalf("got %d transactions, want 1", len(r.Transactions))
	}
	tx := r.Transactions[0]
	if tx.Type != pipeline.TransactionTypeIncome || tx.Category != "Penjualan" || !tx.Amount.Equal(decimal.NewFromInt(5000000)) {
		t.Errorf("unexpected transaction: %+v", tx)
	}
}

func TestAnalyzer_GuidanceDocuments(t *testing.T) {
	a := newAnalyzer(t, pipeline.Options{})

	docs := []pipeline.RawDocument{
		{Bytes: []byte{0xFF, 0xD8, 0xFF}, MIMEType: "image/jpeg", FileName: "receipt.jpg"},
		{Bytes: []byte("%PDF-1.4\ngarbage without structure"), MIMEType: pipeline.MIMETypePDF, FileName: "broken.pdf"},
		csvDoc(""),
	}

	for _, doc := range docs {
		t.Run(doc.FileName, func(t *testing.T) {
			out, err := a.Run(context.Background(), doc)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			r := out.Result
			if len(r.Transactions) != 2 {
				t.Errorf("got %d transactions, want 2 placeholders", len(r.Transactions))
			}
			if len(r.Insights) == 0 {
				t.Error("insights are empty")
			}
			if !r.Summary.NetProfit.Equal(r.Summary.TotalIncome.Sub(r.Summary.TotalExpense)) {
				t.Errorf("inconsistent summary: %+v", r.Summary)
			}
		})
	}
}

func TestAnalyzer_UnsupportedFormat(t *testing.T) {
	mock := &MockCompleter{}
	a := newAnalyzer(t, pipeline.Options{Completer: mock})

	_, err := a.Analyze(context.Background(), pipeline.RawDocument{Bytes: []byte("PK\x03\x04"), MIMEType: "application/zip"})
	if !errors.Is(err, pipeline.ErrUnsupportedFormat) {
		t.Fatalf("error = %v, want ErrUnsupportedFormat", err)
	}
	if mock.Calls != 0 {
		t.Errorf("completer called %d times for an unsupported document", mock.Calls)
	}
}

func TestAnalyzer_CancelledDuringProviderCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mock := &MockCompleter{
		CompleteFunc: func(ctx context.Context, req llm.Request) (string, error) {
			cancel()
			return "", ctx.Err()
		},
	}

	a := newAnalyzer(t, pipeline.Options{Completer: mock})
	_, err := a.Analyze(ctx, csvDoc("Penjualan produk Rp 5,000,000"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestAnalyzer_PromptTruncation(t *testing.T) {
	var prompt string
	mock := &MockCompleter{
		CompleteFunc: func(ctx context.Context, req llm.Request) (string, error) {
			prompt = req.Messages[len(req.Messages)-1].Content
			return `{"transactions":[]}`, nil
		},
	}

	a := newAnalyzer(t, pipeline.Options{Completer: mock, MaxPromptChars: 100})
	out, err := a.Run(context.Background(), csvDoc(strings.Repeat("row,1\n", 100)))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !out.Truncated {
		t.Error("Truncated = false, want true")
	}
	if !strings.Contains(prompt, "[content truncated]") {
		t.Error("prompt does not carry the truncation marker")
	}
	if len(out.Result.Insights) != 1 {
		t.Errorf("missing insights should be replaced by the default, got %v", out.Result.Insights)
	}
}

func TestAnalyzer_Temperature(t *testing.T) {
	zero := float32(0)
	tests := []struct {
		name        string
		temperature *float32
		want        float32
	}{
		{"unset uses default", nil, pipeline.DefaultTemperature},
		{"zero is kept", &zero, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got llm.Request
			mock := &MockCompleter{
				CompleteFunc: func(ctx context.Context, req llm.Request) (string, error) {
					got = req
					return `{"transactions":[],"insights":["ok"]}`, nil
				},
			}

			a := newAnalyzer(t, pipeline.Options{Completer: mock, Temperature: tt.temperature})
			if _, err := a.Analyze(context.Background(), csvDoc("Penjualan produk Rp 5,000,000")); err != nil {
				t.Fatalf("Analyze() error = %v", err)
			}
			if got.Temperature != tt.want {
				t.Errorf("Temperature = %v, want %v", got.Temperature, tt.want)
			}
		})
	}
}
