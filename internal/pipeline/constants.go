package pipeline

import "cloud.google.com/go/civil"

// Defaults for analysis. Callers override them through Options.
const (
	// DefaultModelName is the model used when Options.Model is empty.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultLanguage is the language the model writes insights in.
	DefaultLanguage = "Indonesian"

	// DefaultTemperature keeps model output close to deterministic.
	DefaultTemperature = 0.2

	// DefaultMaxTokens bounds the completion length.
	DefaultMaxTokens = 2000

	// DefaultMaxPromptChars is how much document text goes into the prompt.
	DefaultMaxPromptChars = 4000

	// DefaultCategory labels transactions that match no category.
	DefaultCategory = "General"
)

// PlaceholderDate stands in for dates that are absent or unreadable.
var PlaceholderDate = civil.Date{Year: 2024, Month: 1, Day: 1}
