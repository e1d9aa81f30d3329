package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Ai       AIConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	WsLogFilePath      string
	CorsAllowedOrigins string
	NatsURL            string // empty disables domain events
	RedisURL           string // empty disables cross-instance fan-out
}

type DatabaseConfig struct {
	Connection       string
	DocstoreDriver   string // "postgres", "sqlite" or "memory"
	SQLitePath       string
	ChangefeedDriver string // "gochannel" or "redis"
}

type AuthConfig struct {
	JwtSecret string
}

type AIConfig struct {
	Provider       string // "ollama", "openai", "huggingface" or "reflection"
	Model          string
	OllamaBaseURL  string
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	ReflectionURL  string
	Temperature    float64
	MaxTokens      int // 0 leaves the provider default
	MaxAttempts    int
	AttemptTimeout time.Duration
	RetryInterval  time.Duration
	SubmissionTTL  time.Duration
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// LLMBaseURL is the endpoint for the configured provider.
func (c AIConfig) LLMBaseURL() string {
	if c.Provider == "ollama" {
		return c.OllamaBaseURL
	}
	return c.OpenAIBaseURL
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			WsLogFilePath:      getEnv("WS_LOG_FILE_PATH", "logs/ws.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", ""),
			RedisURL:           getEnv("REDIS_URL", ""),
		},
		Database: DatabaseConfig{
			Connection:       getEnv("DB_CONNECTION_STRING", ""),
			DocstoreDriver:   getEnv("DOCSTORE_DRIVER", "postgres"),
			SQLitePath:       getEnv("SQLITE_PATH", "reflection-chat.db"),
			ChangefeedDriver: getEnv("CHANGEFEED_DRIVER", "gochannel"),
		},
		Auth: AuthConfig{
			JwtSecret: getEnv("JWT_SECRET", ""),
		},
		Ai: AIConfig{
			Provider:       getEnv("LLM_PROVIDER", "ollama"),
			Model:          getEnv("LLM_MODEL", "llama3"),
			OllamaBaseURL:  getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
			ReflectionURL:  getEnv("REFLECTION_BACKEND_URL", ""),
			Temperature:    getEnvAsFloat("AI_TEMPERATURE", 0.7),
			MaxTokens:      getEnvAsInt("AI_MAX_TOKENS", 0),
			MaxAttempts:    getEnvAsInt("AI_MAX_ATTEMPTS", 3),
			AttemptTimeout: time.Duration(getEnvAsInt("AI_TIMEOUT_SECONDS", 60)) * time.Second,
			RetryInterval:  500 * time.Millisecond,
			SubmissionTTL:  10 * time.Minute,
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}
