package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MikeSquared-Agency/surveyor/internal/chunker"
	"github.com/MikeSquared-Agency/surveyor/internal/guard"
	"github.com/MikeSquared-Agency/surveyor/internal/memory"
	"github.com/MikeSquared-Agency/surveyor/internal/prompt"
)

type Config struct {
	Port        int
	DatabaseURL string
	NatsURL     string
	NatsToken   string
	LogLevel    string
	APIToken    string
	AutoMigrate bool

	EmbeddingBackend    string
	OllamaHost          string
	EmbeddingModel      string
	EmbeddingDimensions int
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	EmbedConcurrency    int
	EmbedRateLimit      float64
	EmbedBurst          int

	CompletionBackend string
	LocalModel        string
	AnthropicAPIKey   string
	AnthropicModel    string
	AnthropicBaseURL  string

	VectorMetric   string
	DedupThreshold float64
	ExtractionURL  string
	SystemPrompt   string

	MaxUploadSizeMB int

	LimitsFile string
	Limits     Limits
}

// Limits groups every tunable ceiling. Each block is independent of the others.
type Limits struct {
	Chunking ChunkingLimits `yaml:"chunking"`
	Prompt   prompt.Limits  `yaml:"prompt"`
	Memory   memory.Limits  `yaml:"memory"`
	Guard    guard.Limits   `yaml:"guard"`
}

type ChunkingLimits struct {
	MaxTokens     int `yaml:"max_tokens"`
	OverlapTokens int `yaml:"overlap_tokens"`
}

func DefaultLimits() Limits {
	return Limits{
		Chunking: ChunkingLimits{MaxTokens: chunker.DefaultMaxTokens, OverlapTokens: chunker.DefaultOverlapTokens},
		Prompt:   prompt.DefaultLimits(),
		Memory:   memory.DefaultLimits(),
		Guard:    guard.DefaultLimits(),
	}
}

// Load reads an optional .env file, then the environment, then the optional limits file
// named by SURVEYOR_LIMITS_FILE.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		Port:        envInt("SURVEYOR_PORT", 8760),
		DatabaseURL: envStr("DATABASE_URL", ""),
		NatsURL:     envStr("NATS_URL", ""),
		NatsToken:   envStr("NATS_TOKEN", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		APIToken:    envStr("SURVEYOR_API_TOKEN", ""),
		AutoMigrate: envBool("SURVEYOR_AUTO_MIGRATE", true),

		EmbeddingBackend:    envStr("EMBEDDING_BACKEND", "ollama"),
		OllamaHost:          envStr("OLLAMA_HOST", "http://localhost:11434"),
		EmbeddingModel:      envStr("EMBEDDING_MODEL", ""),
		EmbeddingDimensions: envInt("EMBEDDING_DIMENSIONS", 0),
		OpenAIAPIKey:        envStr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       envStr("OPENAI_BASE_URL", ""),
		EmbedConcurrency:    envInt("EMBED_CONCURRENCY", 4),
		EmbedRateLimit:      envFloat("EMBED_RATE_LIMIT", 0),
		EmbedBurst:          envInt("EMBED_BURST", 4),

		CompletionBackend: envStr("COMPLETION_BACKEND", "ollama"),
		LocalModel:        envStr("LOCAL_MODEL", "llama3.1"),
		AnthropicAPIKey:   envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:    envStr("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		AnthropicBaseURL:  envStr("ANTHROPIC_BASE_URL", ""),

		VectorMetric:   envStr("VECTOR_METRIC", "cosine"),
		DedupThreshold: envFloat("RETRIEVE_DEDUP_THRESHOLD", 0),
		ExtractionURL:  envStr("EXTRACTION_URL", ""),
		SystemPrompt:   envStr("SURVEYOR_SYSTEM_PROMPT", ""),

		MaxUploadSizeMB: envInt("MAX_UPLOAD_SIZE_MB", 50),

		LimitsFile: envStr("SURVEYOR_LIMITS_FILE", ""),
		Limits:     DefaultLimits(),
	}

	if cfg.LimitsFile != "" {
		limits, err := LoadLimits(cfg.LimitsFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Limits = limits
	}
	return cfg, nil
}

// LoadLimits overlays the YAML file at path onto DefaultLimits. Keys missing from the
// file keep their defaults.
func LoadLimits(path string) (Limits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Limits{}, fmt.Errorf("read limits file: %w", err)
	}
	limits := DefaultLimits()
	if err := yaml.Unmarshal(data, &limits); err != nil {
		return Limits{}, fmt.Errorf("parse limits file %s: %w", path, err)
	}
	return limits, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
