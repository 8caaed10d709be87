package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// buildTestPDF writes a minimal PDF with one line of Helvetica text per page
// and a correct cross-reference table.
func buildTestPDF(pages []string) []byte {
	var objects []string
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}

	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	)
	for i, text := range pages {
		escaped := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`).Replace(text)
		content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", escaped)
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	return buf.Bytes()
}

// corruptXref breaks the cross-reference section and the startxref pointer.
func corruptXref(pdf []byte) []byte {
	out := bytes.Replace(pdf, []byte("\nxref\n"), []byte("\nxrfe\n"), 1)
	i := bytes.LastIndex(out, []byte("startxref\n"))
	return append(out[:i+len("startxref\n")], []byte("999999\n%%EOF\n")...)
}

func TestPDFExtractor_ValidTwoPages(t *testing.T) {
	data := buildTestPDF([]string{
		"Invoice INV-001 for consulting services",
		"Total due Rp 5,000,000",
	})

	e := NewPDFExtractor(nil, 0)
	text, diags, err := e.Extract(context.Background(), data)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text.IsGuidanceOnly {
		t.Fatalf("expected document text, got guidance: %q", text.Text)
	}
	if len(diags) != 0 {
		t.Errorf("expected no diagnostics, got %v", diags)
	}
	if text.PageCount != 2 {
		t.Errorf("PageCount = %d, want 2", text.PageCount)
	}

	want := "Invoice INV-001 for consulting services\nTotal due Rp 5,000,000"
	if text.Text != want {
		t.Errorf("Text = %q, want %q", text.Text, want)
	}
}

func TestPDFExtractor_CorruptedXref(t *testing.T) {
	data := corruptXref(buildTestPDF([]string{"Invoice INV-001 total Rp 5,000,000"}))

	e := NewPDFExtractor(nil, 0)
	text, diags, err := e.Extract(context.Background(), data)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !text.IsGuidanceOnly {
		t.Fatalf("expected guidance text, got %q", text.Text)
	}
	if !strings.Contains(text.Text, "cross-reference") {
		t.Errorf("guidance should mention cross-reference, got %q", text.Text)
	}
	if len(diags) != len(DefaultPDFConfigs()) {
		t.Errorf("expected one diagnostic per configuration, got %d", len(diags))
	}
	for _, d := range diags {
		if d.Stage != "pdf" {
			t.Errorf("diagnostic stage = %q, want pdf", d.Stage)
		}
	}
}

func TestPDFExtractor_NotAPDF(t *testing.T) {
	e := NewPDFExtractor(nil, 0)
	text, _, err := e.Extract(context.Background(), []byte("hello, this is not a PDF at all"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !text.IsGuidanceOnly {
		t.Errorf("expected guidance text, got %q", text.Text)
	}
}

type fakePDF struct {
	pages    []string
	pageErrs map[int]error
}

func (f *fakePDF) NumPage() int { return len(f.pages) }

func (f *fakePDF) PageText(i int) (string, error) {
	if err := f.pageErrs[i]; err != nil {
		return "", err
	}
	return f.pages[i-1], nil
}

func newFakeExtractor(configs []PDFConfig, timeout time.Duration, open pdfOpener) *PDFExtractor {
	e := NewPDFExtractor(configs, timeout)
	e.open = open
	return e
}

func TestPDFExtractor_PageLimitMarker(t *testing.T) {
	pages := make([]string, 12)
	for i := range pages {
		pages[i] = fmt.Sprintf("page %d text", i+1)
	}
	doc := &fakePDF{pages: pages}

	e := newFakeExtractor([]PDFConfig{{Name: "first-10", MaxPages: 10}}, time.Second, func([]byte) (pdfDocument, error) {
		return doc, nil
	})

	text, _, err := e.Extract(context.Background(), nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !strings.HasSuffix(text.Text, "\n[only 10/12 pages processed]") {
		t.Errorf("missing page marker: %q", text.Text)
	}
	if strings.Contains(text.Text, "page 11") {
		t.Errorf("page beyond the limit was read: %q", text.Text)
	}
	if text.PageCount != 12 {
		t.Errorf("PageCount = %d, want 12", text.PageCount)
	}
}

func TestPDFExtractor_DegradesToNextConfig(t *testing.T) {
	// The reader fails to open twice, then succeeds on the last configuration.
	calls := 0
	e := newFakeExtractor(DefaultPDFConfigs(), time.Second, func([]byte) (pdfDocument, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("malformed PDF: xref table not found")
		}
		return &fakePDF{pages: []string{"Payment for supplies Rp 2.500.000"}}, nil
	})

	text, diags, err := e.Extract(context.Background(), nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text.IsGuidanceOnly {
		t.Fatalf("expected text from the third configuration")
	}
	if calls != 3 {
		t.Errorf("opener called %d times, want 3", calls)
	}
	if len(diags) != 2 {
		t.Fatalf("expected the 2 failed attempts in the diagnostics, got %v", diags)
	}
	for _, d := range diags {
		if d.Kind != string(PDFFailureXrefCorrupted) {
			t.Errorf("diagnostic kind = %q, want xref_corrupted", d.Kind)
		}
	}
}

func TestPDFExtractor_InsufficientTextAndSkippedPages(t *testing.T) {
	doc := &fakePDF{
		pages:    []string{"short", "this page cannot be read"},
		pageErrs: map[int]error{2: errors.New("bad content stream")},
	}
	e := newFakeExtractor([]PDFConfig{{Name: "only"}}, time.Second, func([]byte) (pdfDocument, error) {
		return doc, nil
	})

	text, diags, err := e.Extract(context.Background(), nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !text.IsGuidanceOnly {
		t.Fatalf("expected guidance, got %q", text.Text)
	}
	if len(diags) != 1 || diags[0].Kind != string(PDFFailureInsufficientText) {
		t.Errorf("diagnostics = %v, want one insufficient_text", diags)
	}
}

func TestPDFExtractor_AttemptTimeout(t *testing.T) {
	e := newFakeExtractor(
		[]PDFConfig{{Name: "slow-1"}, {Name: "slow-2"}},
		20*time.Millisecond,
		func([]byte) (pdfDocument, error) {
			time.Sleep(100 * time.Millisecond)
			return &fakePDF{pages: []string{"too late to matter"}}, nil
		},
	)

	start := time.Now()
	text, diags, err := e.Extract(context.Background(), nil)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !text.IsGuidanceOnly {
		t.Fatalf("expected guidance after timeouts, got %q", text.Text)
	}
	if len(diags) != 2 {
		t.Fatalf("expected 2 diagnostics, got %d", len(diags))
	}
	for _, d := range diags {
		if d.Kind != string(PDFFailureTimeout) {
			t.Errorf("diagnostic kind = %q, want timeout", d.Kind)
		}
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("extraction took %v", elapsed)
	}
}

func TestPDFExtractor_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewPDFExtractor(nil, 0)
	_, _, err := e.Extract(ctx, buildTestPDF([]string{"Invoice total Rp 5,000,000"}))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Extract() error = %v, want context.Canceled", err)
	}
}

func TestClassifyPDFError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want PDFFailureKind
	}{
		{"xref", errors.New("malformed PDF: cannot find xref"), PDFFailureXrefCorrupted},
		{"startxref", errors.New("missing startxref"), PDFFailureXrefCorrupted},
		{"password", errors.New("encrypted PDF: invalid password"), PDFFailurePasswordProtected},
		{"encryption", errors.New("unsupported encryption version"), PDFFailureUnsupported},
		{"deadline", context.DeadlineExceeded, PDFFailureTimeout},
		{"abandoned", fmt.Errorf("%w: %w", ErrAttemptAbandoned, context.DeadlineExceeded), PDFFailureAbandoned},
		{"typed", &PDFAttemptError{Kind: PDFFailureInit, Err: errors.New("boom")}, PDFFailureInit},
		{"other", errors.New("unexpected EOF"), PDFFailureParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyPDFError(tt.err); got != tt.want {
				t.Errorf("classifyPDFError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeTextRuns(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"Total%20Rp%205.000", "Total Rp 5.000"},
		{"100% paid", "100% paid"},
		{"a%20b\n50% off", "a b\n50% off"},
	}

	for _, tt := range tests {
		if got := decodeTextRuns(tt.in); got != tt.want {
			t.Errorf("decodeTextRuns(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
