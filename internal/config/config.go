// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dvloznov/doc-analyzer/internal/llm"
)

// Config holds all application configuration
type Config struct {
	LLM      LLMConfig
	Analysis AnalysisConfig
	GCP      GCPConfig
	Server   ServerConfig
	Jobs     JobsConfig
	Notion   NotionConfig
	Log      LogConfig
}

// LLMConfig selects the language-model provider.
type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// AnalysisConfig tunes the analysis pipeline.
type AnalysisConfig struct {
	Language          string
	Locale            string
	VocabularyFile    string
	MaxPromptChars    int
	DefaultYear       int
	PDFAttemptTimeout time.Duration
}

// GCPConfig names the Google Cloud resources.
type GCPConfig struct {
	ProjectID string
	Dataset   string
	Bucket    string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string
	Store          string
	EmbeddedWorker bool
}

// JobsConfig sizes the in-memory job queue.
type JobsConfig struct {
	Workers    int
	Buffer     int
	MaxRetries int
}

// NotionConfig holds the export target.
type NotionConfig struct {
	Token      string
	DatabaseID string
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level  string
	Format string
}

// Store backends.
const (
	StoreBigQuery = "bigquery"
	StoreMemory   = "memory"
)

// Load reads a .env file when one exists, then the environment.
func Load() *Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from environment variables only.
func FromEnv() *Config {
	provider := strings.ToLower(getEnv("LLM_PROVIDER", llm.ProviderGemini))
	projectID := getEnv("GCP_PROJECT_ID", "")

	defaultStore := StoreMemory
	if projectID != "" {
		defaultStore = StoreBigQuery
	}

	return &Config{
		LLM: LLMConfig{
			Provider:    provider,
			Model:       getEnv("LLM_MODEL", llm.DefaultModel(provider)),
			APIKey:      getEnv("LLM_API_KEY", providerAPIKey(provider)),
			Temperature: getEnvAsFloat32("LLM_TEMPERATURE", 0.2),
			MaxTokens:   getEnvAsInt("LLM_MAX_TOKENS", 2000),
			Timeout:     getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
		},
		Analysis: AnalysisConfig{
			Language:          getEnv("ANALYSIS_LANGUAGE", "Indonesian"),
			Locale:            getEnv("ANALYSIS_LOCALE", "id"),
			VocabularyFile:    getEnv("ANALYSIS_VOCABULARY_FILE", ""),
			MaxPromptChars:    getEnvAsInt("ANALYSIS_MAX_PROMPT_CHARS", 4000),
			DefaultYear:       getEnvAsInt("ANALYSIS_DEFAULT_YEAR", time.Now().Year()),
			PDFAttemptTimeout: getEnvAsDuration("PDF_ATTEMPT_TIMEOUT", 30*time.Second),
		},
		GCP: GCPConfig{
			ProjectID: projectID,
			Dataset:   getEnv("BQ_DATASET", "finance"),
			Bucket:    getEnv("GCS_BUCKET", ""),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Store:          strings.ToLower(getEnv("STORE", defaultStore)),
			EmbeddedWorker: getEnvAsBool("API_EMBEDDED_WORKER", true),
		},
		Jobs: JobsConfig{
			Workers:    getEnvAsInt("JOB_WORKERS", 5),
			Buffer:     getEnvAsInt("JOB_BUFFER", 100),
			MaxRetries: getEnvAsInt("JOB_MAX_RETRIES", 3),
		},
		Notion: NotionConfig{
			Token:      getEnv("NOTION_TOKEN", ""),
			DatabaseID: getEnv("NOTION_DATABASE_ID", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
	}
}

// Validate checks the settings the services cannot run without.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case llm.ProviderGemini, llm.ProviderOpenAI, llm.ProviderAnthropic:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("config: LLM_API_KEY is required for provider %q (or set LLM_PROVIDER=none)", c.LLM.Provider)
		}
	case llm.ProviderNone:
	default:
		return fmt.Errorf("config: unknown LLM_PROVIDER %q", c.LLM.Provider)
	}

	switch c.Server.Store {
	case StoreMemory:
	case StoreBigQuery:
		if c.GCP.ProjectID == "" {
			return fmt.Errorf("config: GCP_PROJECT_ID is required for STORE=bigquery")
		}
	default:
		return fmt.Errorf("config: unknown STORE %q", c.Server.Store)
	}

	if c.Analysis.MaxPromptChars <= 0 {
		return fmt.Errorf("config: ANALYSIS_MAX_PROMPT_CHARS must be positive")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("config: JOB_WORKERS must be positive")
	}
	return nil
}

// providerAPIKey returns the provider's conventional API key variable.
func providerAPIKey(provider string) string {
	switch provider {
	case llm.ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case llm.ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case llm.ProviderGemini:
		return getEnv("GEMINI_API_KEY", os.Getenv("GOOGLE_API_KEY"))
	default:
		return ""
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
