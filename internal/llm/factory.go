package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Provider names accepted by New.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderNone      = "none"
)

// Config selects and authenticates a provider.
type Config struct {
	Provider string
	APIKey   string
	Timeout  time.Duration
}

// New builds the Completer for cfg.Provider. Provider "none" returns a nil
// Completer and no error: the pipeline then uses its local fallback only.
func New(ctx context.Context, cfg Config) (Completer, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == ProviderNone || provider == "" {
		return nil, nil
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm.New: no API key for provider %q", provider)
	}

	switch provider {
	case ProviderGemini:
		c, err := NewGeminiCompleter(ctx, cfg.APIKey, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderOpenAI:
		return NewOpenAICompleter(cfg.APIKey, cfg.Timeout), nil
	case ProviderAnthropic:
		return NewAnthropicCompleter(cfg.APIKey, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("llm.New: unknown provider %q", cfg.Provider)
	}
}

// DefaultModel returns the model used for a provider when none is configured.
func DefaultModel(provider string) string {
	switch strings.ToLower(provider) {
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderAnthropic:
		return "claude-3-5-haiku-latest"
	default:
		return "gemini-2.5-flash"
	}
}
