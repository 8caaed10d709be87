package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dvloznov/doc-analyzer/internal/pipeline"
)

// LoadVocabulary returns the vocabulary for the analysis settings. A YAML
// file, when configured, overrides the fields it sets on top of the
// built-in vocabulary for the locale.
func LoadVocabulary(cfg AnalysisConfig) (*pipeline.Vocabulary, error) {
	locale := cfg.Locale
	if locale == "" {
		locale = pipeline.DefaultLocale
	}

	spec, err := pipeline.BuiltinVocabularySpec(locale)
	if err != nil {
		if cfg.VocabularyFile == "" {
			return nil, fmt.Errorf("LoadVocabulary: %w", err)
		}
		spec = pipeline.VocabularySpec{Locale: locale}
	}

	if cfg.VocabularyFile != "" {
		data, err := os.ReadFile(cfg.VocabularyFile)
		if err != nil {
			return nil, fmt.Errorf("LoadVocabulary: read %s: %w", cfg.VocabularyFile, err)
		}
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("LoadVocabulary: parse %s: %w", cfg.VocabularyFile, err)
		}
	}

	vocab, err := pipeline.NewVocabulary(spec)
	if err != nil {
		return nil, fmt.Errorf("LoadVocabulary: %w", err)
	}
	return vocab, nil
}
