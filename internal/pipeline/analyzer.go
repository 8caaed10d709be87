package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/doc-analyzer/internal/llm"
	"github.com/dvloznov/doc-analyzer/internal/logger"
)

// Options configures an Analyzer. Zero values select the defaults.
type Options struct {
	// Completer is the language-model provider. Nil disables the AI step.
	Completer llm.Completer

	Model          string
	MaxTokens      int
	MaxPromptChars int
	Language       string
	DefaultYear    int

	// Temperature is passed to the model as is, so 0 is honored. Nil
	// selects DefaultTemperature.
	Temperature *float32

	// Vocabulary drives the fallback extractor and validator defaults.
	Vocabulary *Vocabulary

	PDFConfigs        []PDFConfig
	PDFAttemptTimeout time.Duration
}

// Analyzer runs the analysis pipeline on single documents. It holds no
// per-document state and is safe for concurrent use.
type Analyzer struct {
	pipeline *Pipeline
}

// NewAnalyzer builds an Analyzer from opts.
func NewAnalyzer(opts Options) (*Analyzer, error) {
	vocab := opts.Vocabulary
	if vocab == nil {
		var err error
		vocab, err = BuiltinVocabulary(DefaultLocale)
		if err != nil {
			return nil, fmt.Errorf("NewAnalyzer: %w", err)
		}
	}

	temperature := float32(DefaultTemperature)
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}

	extraction := &StructuredExtractionStep{Fallback: NewFallbackExtractor(vocab)}
	if opts.Completer != nil {
		extraction.AI = NewAIExtractor(opts.Completer, AIExtractorConfig{
			Model:          withDefault(opts.Model, DefaultModelName),
			Temperature:    temperature,
			MaxTokens:      withDefault(opts.MaxTokens, DefaultMaxTokens),
			MaxPromptChars: withDefault(opts.MaxPromptChars, DefaultMaxPromptChars),
			Language:       withDefault(opts.Language, DefaultLanguage),
			DefaultYear:    withDefault(opts.DefaultYear, time.Now().Year()),
			Categories:     vocab.CategoryNames(),
		})
	}

	dispatcher := NewDispatcher(NewPDFExtractor(opts.PDFConfigs, opts.PDFAttemptTimeout))

	return &Analyzer{
		pipeline: NewPipeline(
			&ExtractTextStep{Extractor: dispatcher},
			&NormalizeTextStep{},
			extraction,
			&ValidateResultStep{Validator: NewValidator(vocab)},
		),
	}, nil
}

// Analyze returns the validated result for doc. The error is an
// *UnsupportedFormatError or the context's error.
func (a *Analyzer) Analyze(ctx context.Context, doc RawDocument) (*AnalysisResult, error) {
	out, err := a.Run(ctx, doc)
	if err != nil {
		return nil, err
	}
	return out.Result, nil
}

// Run is Analyze with the extracted text, the producing source and the
// diagnostic trail.
func (a *Analyzer) Run(ctx context.Context, doc RawDocument) (*Outcome, error) {
	log := logger.FromContext(ctx).With().
		Str("file_name", doc.FileName).
		Str("mime_type", doc.MIMEType).
		Int("bytes", len(doc.Bytes)).
		Logger()
	ctx = logger.WithContext(ctx, log)

	state := &PipelineState{Document: doc}
	if err := a.pipeline.Execute(ctx, state); err != nil {
		var unsupported *UnsupportedFormatError
		if errors.As(err, &unsupported) {
			log.Warn().Str("reason", unsupported.Reason).Msg("Unsupported document format")
			return nil, unsupported
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("Analyzer.Run: %w", err)
	}

	log.Info().
		Str("source", string(state.Source)).
		Bool("guidance_only", state.Extracted.IsGuidanceOnly).
		Int("transactions", state.Result.Summary.TransactionCount).
		Int("diagnostics", len(state.Diagnostics)).
		Msg("Document analyzed")

	return &Outcome{
		Result:      state.Result,
		Extracted:   state.Extracted,
		Source:      state.Source,
		Truncated:   state.Truncated,
		Diagnostics: state.Diagnostics,
	}, nil
}

func withDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
