package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	GeminiAPIKey string
	HTTPPort     string
	LogLevel     string

	StoreBackend  string // "sqlite" or "mongo"
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string

	DataPath           string
	SensitiveWordsPath string
	PromptTemplatePath string

	ChatModel        string
	EmbeddingModel   string
	TranslationModel string

	EmbedMaxBytes     int
	ChunkSize         int
	ChunkOverlap      int
	RetrievalTopK     int
	EmbedRatePerSec   int
	GenerationTimeout time.Duration
	TrackingTimeout   time.Duration
	KeywordCacheTTL   time.Duration

	AdminJWTSecret string
}

var AppConfig Config

// LoadConfig populates AppConfig. Required settings are checked separately
// by Validate so that offline commands can run without them.
func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		HTTPPort:     getEnv("HTTP_PORT", "8080"),
		LogLevel:     getEnv("LOG_LEVEL", "INFO"),

		StoreBackend:  getEnv("STORE_BACKEND", "sqlite"),
		DatabaseURL:   getEnv("DATABASE_URL", "wellbeing.db"),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "wellbeing"),

		DataPath:           getEnv("DATA_PATH", "newData.txt"),
		SensitiveWordsPath: getEnv("SENSITIVE_WORDS_PATH", "sensitive.json"),
		PromptTemplatePath: getEnv("PROMPT_TEMPLATE_PATH", ""),

		ChatModel:        getEnv("CHAT_MODEL", "gemini-1.5-pro"),
		EmbeddingModel:   getEnv("EMBEDDING_MODEL", "embedding-001"),
		TranslationModel: getEnv("TRANSLATION_MODEL", "gemini-1.5-flash-latest"),

		EmbedMaxBytes:     getEnvAsInt("EMBED_MAX_BYTES", 32000),
		ChunkSize:         getEnvAsInt("CHUNK_SIZE", 1000),
		ChunkOverlap:      getEnvAsInt("CHUNK_OVERLAP", 50),
		RetrievalTopK:     getEnvAsInt("RETRIEVAL_TOP_K", 3),
		EmbedRatePerSec:   getEnvAsInt("EMBED_RATE_PER_SEC", 25),
		GenerationTimeout: getEnvAsDuration("GENERATION_TIMEOUT", 30*time.Second),
		TrackingTimeout:   getEnvAsDuration("TRACKING_TIMEOUT", 10*time.Second),
		KeywordCacheTTL:   getEnvAsDuration("KEYWORD_CACHE_TTL", 10*time.Minute),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
	}
}

// Validate reports settings the HTTP server cannot start without.
func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return errors.New("GEMINI_API_KEY environment variable is required")
	}
	return nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("45s") or a bare number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
