package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	LogLevel    string
	RedisURL    string
	DatabaseURL string

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	GoogleAPIKey     string
	GoogleBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	BedrockRegion    string

	ModelRegistryPath string

	JWTSecret    string
	JWTIssuer    string
	StaticTokens string

	ChatRateLimit      int
	RateLimitWindow    time.Duration
	DefaultDailyBudget float64
	DefaultCreditLimit float64

	AssistantName      string
	AssistantDeveloper string
	CORSAllowOrigin    string

	OTLPEndpoint        string
	AWSRegion           string
	ProviderSecretName  string
	BudgetAlertTopicARN string
	UsageQueueURL       string

	ShutdownTimeout  time.Duration
	RequestBodyLimit int64
}

// Load reads the environment, after merging an optional .env file from the
// working directory. Variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Addr:        getEnv("ADDR", ":8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		RedisURL:    getEnv("REDIS_URL", ""),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
		GoogleAPIKey:     getEnv("GOOGLE_API_KEY", ""),
		GoogleBaseURL:    getEnv("GOOGLE_BASE_URL", ""),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", ""),
		BedrockRegion:    getEnv("BEDROCK_REGION", ""),

		ModelRegistryPath: getEnv("MODEL_REGISTRY_PATH", ""),

		JWTSecret:    getEnv("AUTH_JWT_SECRET", ""),
		JWTIssuer:    getEnv("AUTH_JWT_ISSUER", ""),
		StaticTokens: getEnv("AUTH_STATIC_TOKENS", ""),

		ChatRateLimit:      getIntEnv("CHAT_RATE_LIMIT_RPM", 60),
		RateLimitWindow:    getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		DefaultDailyBudget: getFloatEnv("DEFAULT_DAILY_BUDGET", 5.00),
		DefaultCreditLimit: getFloatEnv("DEFAULT_CREDIT_LIMIT", 100.00),

		AssistantName:      getEnv("ASSISTANT_NAME", "Nour"),
		AssistantDeveloper: getEnv("ASSISTANT_DEVELOPER", ""),
		CORSAllowOrigin:    getEnv("CORS_ALLOW_ORIGIN", "*"),

		OTLPEndpoint:        getEnv("OTLP_ENDPOINT", ""),
		AWSRegion:           getEnv("AWS_REGION", ""),
		ProviderSecretName:  getEnv("PROVIDER_SECRET_NAME", ""),
		BudgetAlertTopicARN: getEnv("BUDGET_ALERT_TOPIC_ARN", ""),
		UsageQueueURL:       getEnv("USAGE_QUEUE_URL", ""),

		ShutdownTimeout:  getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		RequestBodyLimit: int64(getIntEnv("REQUEST_BODY_LIMIT", 1<<20)),
	}

	if cfg.ChatRateLimit <= 0 {
		return nil, fmt.Errorf("CHAT_RATE_LIMIT_RPM must be positive, got %d", cfg.ChatRateLimit)
	}
	if cfg.JWTSecret == "" && cfg.StaticTokens == "" {
		return nil, errors.New("no authentication configured: set AUTH_JWT_SECRET or AUTH_STATIC_TOKENS")
	}

	return cfg, nil
}

// NeedsAWS reports whether any AWS-backed component is enabled.
func (c *Config) NeedsAWS() bool {
	return c.BedrockRegion != "" || c.ProviderSecretName != "" || c.BudgetAlertTopicARN != "" || c.UsageQueueURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getDurationEnv accepts whole seconds ("30") or a Go duration ("1m30s").
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}
