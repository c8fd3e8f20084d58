package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	ServerPort  string

	AdminAPISecret string

	OpenAIAPIKey  string
	OpenAIBaseURL string

	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	EmbeddingModel     string
	EmbeddingDimension int
	DefaultModel       string
	DefaultTemperature float64
	DefaultTopK        int

	// Distance above this ceiling is too dissimilar to use.
	SimilarityDistanceCeiling float64

	MaxChunkSize int
	ChunkOverlap int

	RateLimitRPM   int
	DailyBudgetJPY float64

	PricingFile            string
	USDJPYRate             float64
	DefaultMaxOutputTokens int
	DefaultContextWindow   int
	PromptOverheadTokens   int

	// All day keys (ledger, counters) are computed in this zone.
	BillingTimezone *time.Location
}

func Load() (*Config, error) {
	godotenv.Load()

	tzName := getEnv("BILLING_TIMEZONE", "Asia/Tokyo")
	tz, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, err
	}

	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:   getEnv("JWT_SECRET", "secret"),
		ServerPort:  getEnv("SERVER_PORT", "8080"),

		AdminAPISecret: getEnv("ADMIN_API_SECRET", ""),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),

		QdrantURL:        getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantAPIKey:     getEnv("QDRANT_API_KEY", ""),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "tuukaa-docs"),

		EmbeddingModel:     getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimension: getEnvInt("EMBEDDING_DIMENSION", 1536),
		DefaultModel:       getEnv("DEFAULT_MODEL", "gpt-4o-mini"),
		DefaultTemperature: getEnvFloat("DEFAULT_TEMPERATURE", 0.2),
		DefaultTopK:        getEnvInt("DEFAULT_TOP_K", 10),

		SimilarityDistanceCeiling: getEnvFloat("SIMILARITY_DISTANCE_CEILING", 0.35),

		MaxChunkSize: getEnvInt("MAX_CHUNK_SIZE", 500),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 70),

		RateLimitRPM:   getEnvInt("RATE_LIMIT_RPM", 60),
		DailyBudgetJPY: getEnvFloat("DAILY_BUDGET_JPY", 100.0),

		PricingFile:            getEnv("PRICING_FILE", ""),
		USDJPYRate:             getEnvFloat("USD_JPY_RATE", 148.117),
		DefaultMaxOutputTokens: getEnvInt("DEFAULT_MAX_OUTPUT_TOKENS", 768),
		DefaultContextWindow:   getEnvInt("DEFAULT_CONTEXT_WINDOW_TOKENS", 8192),
		PromptOverheadTokens:   getEnvInt("PROMPT_OVERHEAD_TOKENS", 512),

		BillingTimezone: tz,
	}, nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
