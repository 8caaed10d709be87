package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/dvloznov/doc-analyzer/internal/logger"
)

const (
	// DefaultPDFAttemptTimeout bounds a single structural parse attempt.
	DefaultPDFAttemptTimeout = 30 * time.Second

	// minExtractedChars is the success threshold: an attempt must yield more
	// than this many characters of trimmed text.
	minExtractedChars = 10
)

// PDFGuidanceText is returned when no configuration could read the document.
const PDFGuidanceText = `The PDF could not be read as text.
Likely causes:
- the pages are scanned images with no text layer
- the cross-reference (xref) table of the file is corrupted
- the file is password-protected
- the file uses encryption or other unsupported features
What to do:
- upload a photo or screenshot of each page as an image so it can be processed with OCR
- or type the transactions in manually (date, description, amount)`

// PDFConfig is one extraction configuration. MaxPages of zero means no page
// limit. Verbose logs every page read.
type PDFConfig struct {
	Name     string
	MaxPages int
	Verbose  bool
}

// DefaultPDFConfigs returns the degrading configuration list, most thorough first.
func DefaultPDFConfigs() []PDFConfig {
	return []PDFConfig{
		{Name: "full"},
		{Name: "first-10-verbose", MaxPages: 10, Verbose: true},
		{Name: "first-5", MaxPages: 5},
	}
}

// pdfDocument is the part of a parsed PDF the extractor needs. Pages are
// numbered from 1.
type pdfDocument interface {
	NumPage() int
	PageText(i int) (string, error)
}

type pdfOpener func(data []byte) (pdfDocument, error)

// PDFExtractor turns PDF bytes into text, trying each configuration in turn.
type PDFExtractor struct {
	configs []PDFConfig
	timeout time.Duration
	open    pdfOpener
}

// NewPDFExtractor creates an extractor. Empty configs or a non-positive
// timeout select the defaults.
func NewPDFExtractor(configs []PDFConfig, timeout time.Duration) *PDFExtractor {
	if len(configs) == 0 {
		configs = DefaultPDFConfigs()
	}
	if timeout <= 0 {
		timeout = DefaultPDFAttemptTimeout
	}
	return &PDFExtractor{
		configs: append([]PDFConfig(nil), configs...),
		timeout: timeout,
		open:    openPDF,
	}
}

// Extract returns the document text, or the guidance text when every
// configuration failed. The only error is the caller's context error.
func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (ExtractedText, []Diagnostic, error) {
	log := logger.FromContext(ctx)

	attempt := func(ctx context.Context, cfg PDFConfig) (ExtractedText, error) {
		return e.extractWith(ctx, data, cfg)
	}

	text, idx, failures, err := RunAttempts(ctx, e.configs, e.timeout, attempt)

	var exhausted *ExhaustedError
	if err != nil && !errors.As(err, &exhausted) {
		return ExtractedText{}, nil, err
	}

	var diags []Diagnostic
	for i, attemptErr := range failures {
		kind := classifyPDFError(attemptErr)
		log.Warn().
			Err(attemptErr).
			Str("config", e.configs[i].Name).
			Str("kind", string(kind)).
			Msg("PDF extraction attempt failed")
		diags = append(diags, Diagnostic{
			Stage:   "pdf",
			Kind:    string(kind),
			Message: attemptErr.Error(),
		})
	}

	if err == nil {
		log.Info().
			Str("config", e.configs[idx].Name).
			Int("pages", text.PageCount).
			Int("chars", len(text.Text)).
			Msg("PDF text extracted")
		return text, diags, nil
	}

	log.Warn().Int("attempts", len(failures)).Msg("All PDF configurations failed, returning guidance")
	return ExtractedText{Text: PDFGuidanceText, IsGuidanceOnly: true}, diags, nil
}

func (e *PDFExtractor) extractWith(ctx context.Context, data []byte, cfg PDFConfig) (ExtractedText, error) {
	log := logger.FromContext(ctx)

	doc, err := e.open(data)
	if err != nil {
		var attemptErr *PDFAttemptError
		if errors.As(err, &attemptErr) {
			attemptErr.Config = cfg.Name
			return ExtractedText{}, attemptErr
		}
		return ExtractedText{}, &PDFAttemptError{Config: cfg.Name, Kind: classifyPDFError(err), Err: err}
	}

	total := doc.NumPage()
	limit := total
	if cfg.MaxPages > 0 && cfg.MaxPages < total {
		limit = cfg.MaxPages
	}

	var b strings.Builder
	for i := 1; i <= limit; i++ {
		if err := ctx.Err(); err != nil {
			return ExtractedText{}, &PDFAttemptError{Config: cfg.Name, Kind: PDFFailureTimeout, Err: err}
		}

		text, err := doc.PageText(i)
		if err != nil {
			log.Debug().Err(err).Str("config", cfg.Name).Int("page", i).Msg("Skipping unreadable page")
			continue
		}
		if cfg.Verbose {
			log.Debug().Str("config", cfg.Name).Int("page", i).Int("chars", len(text)).Msg("Read page")
		}

		b.WriteString(decodeTextRuns(text))
		b.WriteByte('\n')
	}

	text := NormalizeText(b.String())
	if n := len([]rune(text)); n <= minExtractedChars {
		return ExtractedText{}, &PDFAttemptError{
			Config: cfg.Name,
			Kind:   PDFFailureInsufficientText,
			Err:    fmt.Errorf("only %d characters of text on %d/%d pages", n, limit, total),
		}
	}

	if limit < total {
		text += fmt.Sprintf("\n[only %d/%d pages processed]", limit, total)
	}

	return ExtractedText{Text: text, PageCount: total}, nil
}

// decodeTextRuns percent-decodes each line of page text. Lines that are not
// valid percent-encoding are kept as they are.
func decodeTextRuns(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if decoded, err := url.PathUnescape(line); err == nil {
			lines[i] = decoded
		}
	}
	return strings.Join(lines, "\n")
}

// ledongthucDocument adapts github.com/ledongthuc/pdf, which reports some
// malformed input by panicking.
type ledongthucDocument struct {
	r *pdf.Reader
}

func openPDF(data []byte) (doc pdfDocument, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = &PDFAttemptError{Kind: PDFFailureInit, Err: fmt.Errorf("pdf reader panicked: %v", r)}
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("openPDF: new reader: %w", err)
	}
	return &ledongthucDocument{r: r}, nil
}

func (d *ledongthucDocument) NumPage() (n int) {
	defer func() {
		if r := recover(); r != nil {
			n = 0
		}
	}()
	return d.r.NumPage()
}

func (d *ledongthucDocument) PageText(i int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page %d: reader panicked: %v", i, r)
		}
	}()

	page := d.r.Page(i)
	if page.V.IsNull() {
		return "", fmt.Errorf("page %d: missing page object", i)
	}
	return page.GetPlainText(nil)
}
