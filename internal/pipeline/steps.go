package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/doc-analyzer/internal/logger"
)

// PipelineStep is one stage of an analysis run.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState is shared by the steps of one run.
type PipelineState struct {
	Document    RawDocument
	Extracted   ExtractedText
	Candidate   Candidate
	Source      Source
	Truncated   bool
	Result      *AnalysisResult
	Diagnostics []Diagnostic
}

// Pipeline runs its steps in order and stops at the first error.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a pipeline from steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs every step against state.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)

	for i, step := range p.steps {
		start := time.Now()
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
		log.Debug().
			Int("step", i+1).
			Str("name", fmt.Sprintf("%T", step)).
			Dur("elapsed", time.Since(start)).
			Msg("Pipeline step completed")
	}
	return nil
}

// Step 1: ExtractTextStep turns the raw document into text.
type ExtractTextStep struct {
	Extractor TextExtractor
}

func (s *ExtractTextStep) Execute(ctx context.Context, state *PipelineState) error {
	text, diags, err := s.Extractor.ExtractText(ctx, state.Document)
	state.Diagnostics = append(state.Diagnostics, diags...)
	if err != nil {
		return err
	}
	state.Extracted = text
	return nil
}

// Step 2: NormalizeTextStep collapses whitespace in the extracted text.
type NormalizeTextStep struct{}

func (s *NormalizeTextStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Extracted.Text = NormalizeText(state.Extracted.Text)
	return nil
}

// Step 3: StructuredExtractionStep asks the model for a candidate and falls
// back to pattern matching on any failure. With no AI extractor it goes
// straight to the fallback.
type StructuredExtractionStep struct {
	AI       *AIExtractor
	Fallback *FallbackExtractor
}

func (s *StructuredExtractionStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)

	if s.AI != nil {
		candidate, truncated, err := s.AI.Extract(ctx, state.Extracted.Text)
		state.Truncated = truncated
		if err == nil {
			state.Candidate = candidate
			state.Source = SourceAI
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		log.Warn().Err(err).Msg("AI extraction failed, using fallback extractor")
		state.Diagnostics = append(state.Diagnostics, Diagnostic{
			Stage:   "ai",
			Kind:    "extraction_failed",
			Message: err.Error(),
		})
	}

	state.Candidate = s.Fallback.Extract(ctx, state.Extracted.Text)
	state.Source = SourceFallback
	return nil
}

// Step 4: ValidateResultStep repairs the candidate into the final result.
type ValidateResultStep struct {
	Validator *Validator
}

func (s *ValidateResultStep) Execute(ctx context.Context, state *PipelineState) error {
	result, diags := s.Validator.Repair(ctx, state.Candidate)
	state.Diagnostics = append(state.Diagnostics, diags...)
	state.Result = result
	return nil
}
