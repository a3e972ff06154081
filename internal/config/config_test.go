package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var allVars = []string{
	"ADDR", "LOG_LEVEL", "REDIS_URL", "DATABASE_URL",
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "GOOGLE_API_KEY", "GOOGLE_BASE_URL",
	"ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL", "BEDROCK_REGION", "MODEL_REGISTRY_PATH",
	"AUTH_JWT_SECRET", "AUTH_JWT_ISSUER", "AUTH_STATIC_TOKENS",
	"CHAT_RATE_LIMIT_RPM", "RATE_LIMIT_WINDOW", "DEFAULT_DAILY_BUDGET", "DEFAULT_CREDIT_LIMIT",
	"ASSISTANT_NAME", "ASSISTANT_DEVELOPER", "CORS_ALLOW_ORIGIN",
	"OTLP_ENDPOINT", "AWS_REGION", "PROVIDER_SECRET_NAME", "BUDGET_ALERT_TOPIC_ARN",
	"USAGE_QUEUE_URL", "SHUTDOWN_TIMEOUT", "REQUEST_BODY_LIMIT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range allVars {
		t.Setenv(v, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_STATIC_TOKENS", "dev:alice")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"Addr", cfg.Addr, ":8080"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"OpenAIBaseURL", cfg.OpenAIBaseURL, ""},
		{"ChatRateLimit", cfg.ChatRateLimit, 60},
		{"RateLimitWindow", cfg.RateLimitWindow, time.Minute},
		{"DefaultDailyBudget", cfg.DefaultDailyBudget, 5.0},
		{"DefaultCreditLimit", cfg.DefaultCreditLimit, 100.0},
		{"CORSAllowOrigin", cfg.CORSAllowOrigin, "*"},
		{"ShutdownTimeout", cfg.ShutdownTimeout, 30 * time.Second},
		{"RequestBodyLimit", cfg.RequestBodyLimit, int64(1 << 20)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.expected)
			}
		})
	}

	if cfg.NeedsAWS() {
		t.Error("NeedsAWS should be false with no AWS-backed component")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ADDR", ":9090")
	t.Setenv("GOOGLE_API_KEY", "g-key")
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("CHAT_RATE_LIMIT_RPM", "120")
	t.Setenv("RATE_LIMIT_WINDOW", "30")
	t.Setenv("DEFAULT_DAILY_BUDGET", "2.5")
	t.Setenv("SHUTDOWN_TIMEOUT", "1m30s")
	t.Setenv("USAGE_QUEUE_URL", "https://sqs.example/usage")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Addr != ":9090" || cfg.GoogleAPIKey != "g-key" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.ChatRateLimit != 120 {
		t.Errorf("ChatRateLimit = %d", cfg.ChatRateLimit)
	}
	if cfg.RateLimitWindow != 30*time.Second {
		t.Errorf("RateLimitWindow = %v", cfg.RateLimitWindow)
	}
	if cfg.DefaultDailyBudget != 2.5 {
		t.Errorf("DefaultDailyBudget = %v", cfg.DefaultDailyBudget)
	}
	if cfg.ShutdownTimeout != 90*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if !cfg.NeedsAWS() {
		t.Error("NeedsAWS should be true with a usage queue")
	}
}

func TestLoad_RequiresAuth(t *testing.T) {
	clearEnv(t)

	if _, err := Load(); err == nil {
		t.Error("expected error without any authentication configured")
	}
}

func TestLoad_RejectsNonPositiveRateLimit(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_STATIC_TOKENS", "dev:alice")
	t.Setenv("CHAT_RATE_LIMIT_RPM", "0")

	if _, err := Load(); err == nil {
		t.Error("expected error for zero rate limit")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ADDR", ":7000")
	// godotenv leaves variables that exist, even empty ones, untouched.
	os.Unsetenv("AUTH_STATIC_TOKENS")
	os.Unsetenv("ASSISTANT_NAME")

	dir := t.TempDir()
	env := "ADDR=:1111\nAUTH_STATIC_TOKENS=dev:alice\nASSISTANT_NAME=Salma\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AssistantName != "Salma" {
		t.Errorf("AssistantName = %q, want value from .env", cfg.AssistantName)
	}
	if cfg.Addr != ":7000" {
		t.Errorf("Addr = %q, environment must win over .env", cfg.Addr)
	}
}

func TestGetDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"45", 45 * time.Second},
		{"2m", 2 * time.Minute},
		{"soon", 5 * time.Second},
		{"", 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.value)
			if got := getDurationEnv("TEST_DURATION", 5*time.Second); got != tt.want {
				t.Errorf("getDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
