package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dvloznov/doc-analyzer/internal/llm"
	"github.com/dvloznov/doc-analyzer/internal/logger"
)

// candidateSchema is the minimum a model response must satisfy before the
// validator repairs the rest.
const candidateSchema = `{
  "type": "object",
  "required": ["transactions"],
  "properties": {
    "transactions": {
      "type": "array",
      "items": {"type": "object"}
    }
  }
}`

var (
	compiledCandidateSchema = jsonschema.MustCompileString("candidate.json", candidateSchema)

	codeFencePattern = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\r?\n?(.*?)\r?\n?```")
)

// ErrNoJSON is returned when a completion holds no JSON value.
var ErrNoJSON = errors.New("no JSON value in model response")

// AIExtractorConfig holds the generation parameters for AIExtractor.
type AIExtractorConfig struct {
	Model          string
	Temperature    float32
	MaxTokens      int
	MaxPromptChars int
	Language       string
	DefaultYear    int
	Categories     []string
}

// AIExtractor asks a language model for a candidate result.
type AIExtractor struct {
	completer llm.Completer
	cfg       AIExtractorConfig
}

// NewAIExtractor creates an extractor that calls completer.
func NewAIExtractor(completer llm.Completer, cfg AIExtractorConfig) *AIExtractor {
	cfg.Categories = append([]string(nil), cfg.Categories...)
	return &AIExtractor{completer: completer, cfg: cfg}
}

// Extract sends text to the model and parses the completion. The bool
// reports whether text was truncated for the prompt. Any error means the
// caller should fall back to local extraction.
func (e *AIExtractor) Extract(ctx context.Context, text string) (Candidate, bool, error) {
	log := logger.FromContext(ctx)

	promptText, truncated := truncatePromptText(text, e.cfg.MaxPromptChars)
	req := llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: buildSystemPrompt(e.cfg.Language)},
			{Role: llm.RoleUser, Content: buildUserPrompt(promptText, truncated, e.cfg.DefaultYear, e.cfg.Categories, e.cfg.Language)},
		},
		Model:       e.cfg.Model,
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
		JSON:        true,
	}

	log.Debug().
		Str("model", e.cfg.Model).
		Int("prompt_chars", len(promptText)).
		Bool("truncated", truncated).
		Msg("Requesting structured extraction")

	raw, err := e.completer.Complete(ctx, req)
	if err != nil {
		return nil, truncated, fmt.Errorf("AIExtractor.Extract: complete: %w", err)
	}

	candidate, err := parseCandidate(raw)
	if err != nil {
		return nil, truncated, fmt.Errorf("AIExtractor.Extract: %w", err)
	}
	return candidate, truncated, nil
}

// parseCandidate strips code fences from a completion, decodes the JSON and
// checks it against candidateSchema. A top-level array is taken as the
// transaction list.
func parseCandidate(raw string) (Candidate, error) {
	clean := cleanModelJSON(raw)
	if clean == "" {
		return nil, ErrNoJSON
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(clean)))
	dec.UseNumber()

	var parsed interface{}
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parseCandidate: unmarshal JSON: %w", err)
	}

	var obj map[string]interface{}
	switch val := parsed.(type) {
	case map[string]interface{}:
		obj = val
	case []interface{}:
		obj = map[string]interface{}{"transactions": val}
	default:
		return nil, fmt.Errorf("parseCandidate: top-level value is %T: %w", parsed, ErrNoJSON)
	}

	if err := compiledCandidateSchema.Validate(obj); err != nil {
		return nil, fmt.Errorf("parseCandidate: schema: %w", err)
	}
	return Candidate(obj), nil
}

// cleanModelJSON removes Markdown code fences and any prose around the JSON
// value.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if m := codeFencePattern.FindStringSubmatch(s); m != nil {
		s = m[1]
	} else if i := strings.Index(s, "```"); i != -1 {
		// Opening fence with no closing one: drop the fence line.
		s = s[i+len("```"):]
		if nl := strings.IndexByte(s, '\n'); nl != -1 {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)

	// Keep only the outermost object or array.
	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return ""
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end < start {
		return ""
	}
	return strings.TrimSpace(s[start : end+1])
}
