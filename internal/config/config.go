package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Sessions
	SessionSecret   string
	SessionStore    string // "redis" | "memory"
	SessionTTLHours int

	// LLM
	LLMProvider       string // "fireworks" | "openai" | "gemini"
	FireworksAPIKey   string
	FireworksBaseURL  string
	FireworksModel    string
	OpenAIAPIKey      string
	OpenAIChatModel   string
	GeminiAPIKey      string
	GeminiModel       string
	LLMTimeoutSeconds int
	LLMConcurrentReqs int

	// Retrieval
	EmbeddingProvider   string // "openai" | "gemini"
	EmbeddingModel      string
	EmbeddingDimensions int
	QdrantURL           string
	QdrantAPIKey        string
	QdrantCollection    string
	RetrievalTopK       int

	// Triage
	MaxRegenerations int

	// Storage
	StorageType         string // "local" | "supabase"
	StoragePath         string
	SupabaseURL         string
	SupabaseKey         string
	SupabaseBucket      string
	AudioRetentionHours int

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:            getEnvOrDefault("PORT", "8080"),
		Env:             getEnvOrDefault("ENV", "development"),
		DatabaseURL:     mustGetEnv("DATABASE_URL"),
		RedisURL:        mustGetEnv("REDIS_URL"),
		SessionSecret:   mustGetEnv("SESSION_SECRET"),
		SessionStore:    strings.ToLower(getEnvOrDefault("SESSION_STORE", "redis")),
		SessionTTLHours: getEnvAsIntOrDefault("SESSION_TTL_HOURS", 24),

		LLMProvider:       strings.ToLower(getEnvOrDefault("LLM_PROVIDER", "fireworks")),
		FireworksAPIKey:   getEnvOrDefault("FIREWORKS_API_KEY", ""),
		FireworksBaseURL:  getEnvOrDefault("FIREWORKS_BASE_URL", "https://api.fireworks.ai/inference/v1"),
		FireworksModel:    getEnvOrDefault("FIREWORKS_MODEL", "accounts/fireworks/models/kimi-k2-instruct-0905"),
		OpenAIAPIKey:      getEnvOrDefault("OPENAI_API_KEY", ""),
		OpenAIChatModel:   getEnvOrDefault("OPENAI_MODEL_CHAT", "gpt-4o-mini"),
		GeminiAPIKey:      getEnvOrDefault("GEMINI_API_KEY", ""),
		GeminiModel:       getEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		LLMTimeoutSeconds: getEnvAsIntOrDefault("LLM_TIMEOUT_SECONDS", 30),
		LLMConcurrentReqs: getEnvAsIntOrDefault("LLM_CONCURRENT_REQUESTS", 5),

		EmbeddingProvider:   strings.ToLower(getEnvOrDefault("EMBEDDING_PROVIDER", "openai")),
		EmbeddingModel:      getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: getEnvAsIntOrDefault("EMBEDDING_DIMENSIONS", 1536),
		QdrantURL:           getEnvOrDefault("QDRANT_URL", "http://localhost:6334"),
		QdrantAPIKey:        getEnvOrDefault("QDRANT_API_KEY", ""),
		QdrantCollection:    getEnvOrDefault("QDRANT_COLLECTION", "MATZ_Health_Bot"),
		RetrievalTopK:       getEnvAsIntOrDefault("RETRIEVAL_TOP_K", 1),

		MaxRegenerations: getEnvAsIntOrDefault("TRIAGE_MAX_REGENERATIONS", 2),

		StorageType:         strings.ToLower(getEnvOrDefault("STORAGE_TYPE", "local")),
		StoragePath:         getEnvOrDefault("STORAGE_PATH", "./audio_files"),
		SupabaseURL:         getEnvOrDefault("SUPABASE_URL", ""),
		SupabaseKey:         getEnvOrDefault("SUPABASE_KEY", ""),
		SupabaseBucket:      getEnvOrDefault("SUPABASE_BUCKET", "audio"),
		AudioRetentionHours: getEnvAsIntOrDefault("AUDIO_RETENTION_HOURS", 24),

		FrontendURL: getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

// Validate checks cross-field requirements that single lookups cannot.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case "fireworks":
		if c.FireworksAPIKey == "" {
			return fmt.Errorf("FIREWORKS_API_KEY is required when LLM_PROVIDER=fireworks")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when LLM_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLMProvider)
	}

	switch c.SessionStore {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported SESSION_STORE %q", c.SessionStore)
	}

	switch c.StorageType {
	case "local":
	case "supabase":
		if c.SupabaseURL == "" || c.SupabaseKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_KEY are required when STORAGE_TYPE=supabase")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_TYPE %q", c.StorageType)
	}

	if c.RetrievalTopK < 1 {
		return fmt.Errorf("RETRIEVAL_TOP_K must be at least 1")
	}
	if c.MaxRegenerations < 1 {
		return fmt.Errorf("TRIAGE_MAX_REGENERATIONS must be at least 1")
	}
	return nil
}

// SpeechEnabled reports whether an OpenAI key is present for tts-1/whisper-1.
func (c *Config) SpeechEnabled() bool {
	return c.OpenAIAPIKey != ""
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
