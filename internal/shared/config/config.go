package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"studyguide-backend/internal/shared/telemetry"
)

// Config holds application configuration.
type Config struct {
	Port               string
	Env                string
	APIPrefix          string
	CORSAllowedOrigins []string
	DatabaseURL        string

	RedisURL     string
	SessionStore string
	SessionTTL   time.Duration

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string
	S3Endpoint      string
	SQSQueueURL     string

	WorkerConcurrency     int
	WorkerVisibility      time.Duration
	WorkerShutdownTimeout time.Duration

	LLMProvider        string
	ChatProvider       string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIModel        string
	AnthropicAPIKey    string
	AnthropicModel     string
	LLMMaxOutputTokens int
	LLMTimeout         time.Duration

	JWTSecret          string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	UIRedirectURL      string

	UsageLimit     int
	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads configuration from environment variables with sensible defaults.
// A YAML file named by CONFIG_FILE is applied first; env vars win over it.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := applyFile(path); err != nil {
			telemetry.Warn("config.file_ignored", map[string]any{"path": path, "error": err.Error()})
		}
	}

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")
	if env == "production" && dbURL == "" {
		telemetry.Warn("config.database_url_missing", map[string]any{"env": env})
	}

	return Config{
		Port:               getEnv("PORT", "8080"),
		Env:                env,
		APIPrefix:          normalizePrefix(getEnv("API_PREFIX", "/api/v1")),
		CORSAllowedOrigins: splitAndTrim(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),
		DatabaseURL:        dbURL,

		RedisURL:     getEnv("REDIS_URL", ""),
		SessionStore: oneOf(getEnv("SESSION_STORE", "memory"), "memory", "memory", "redis"),
		SessionTTL:   time.Duration(getInt("SESSION_TTL_HOURS", 24)) * time.Hour,

		ObjectStoreType: oneOf(getEnv("OBJECT_STORE", "local"), "local", "local", "s3"),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		SQSQueueURL:     getEnv("SQS_QUEUE_URL", ""),

		WorkerConcurrency:     getInt("WORKER_CONCURRENCY", 4),
		WorkerVisibility:      time.Duration(getInt("WORKER_VISIBILITY_TIMEOUT_SECONDS", 600)) * time.Second,
		WorkerShutdownTimeout: time.Duration(getInt("WORKER_SHUTDOWN_TIMEOUT_SECONDS", 30)) * time.Second,

		LLMProvider:        oneOf(getEnv("LLM_PROVIDER", "fake"), "none", "openai", "anthropic", "fake", "none"),
		ChatProvider:       oneOf(getEnv("CHAT_PROVIDER", "fake"), "fake", "jetify", "openai", "anthropic", "fake"),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		AnthropicAPIKey:    getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:     getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		LLMMaxOutputTokens: getInt("LLM_MAX_OUTPUT_TOKENS", 8192),
		LLMTimeout:         time.Duration(getInt("LLM_TIMEOUT_SECONDS", 120)) * time.Second,

		JWTSecret:          getEnv("JWT_SECRET", ""),
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),
		UIRedirectURL:      getEnv("UI_REDIRECT_URL", ""),

		UsageLimit:     getInt("USAGE_LIMIT", 0),
		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 0),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 0),
	}
}

// IsDevLike reports whether in-memory fallbacks are acceptable.
func (c Config) IsDevLike() bool {
	return c.Env == "dev" || c.Env == "local" || c.Env == "test"
}

// ActiveModel names the model used for analysis streaming.
func (c Config) ActiveModel() string {
	switch c.LLMProvider {
	case "openai":
		return c.OpenAIModel
	case "anthropic":
		return c.AnthropicModel
	default:
		return c.LLMProvider
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		telemetry.Warn("config.invalid_int", map[string]any{"key": key, "value": raw})
		return def
	}
	return v
}

func getFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		telemetry.Warn("config.invalid_float", map[string]any{"key": key, "value": raw})
		return def
	}
	return v
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "test":
		return "test"
	default:
		return "dev"
	}
}

func normalizePrefix(raw string) string {
	p := "/" + strings.Trim(strings.TrimSpace(raw), "/")
	if p == "/" {
		return ""
	}
	return p
}

// oneOf lowercases raw and returns it when allowed, otherwise def.
func oneOf(raw, def string, allowed ...string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return def
}

// Validate reports configuration that cannot start the requested providers.
func (c Config) Validate() error {
	var problems []string
	if c.ObjectStoreType == "s3" && c.S3Bucket == "" {
		problems = append(problems, "OBJECT_STORE=s3 requires S3_BUCKET")
	}
	if c.SessionStore == "redis" && c.RedisURL == "" {
		problems = append(problems, "SESSION_STORE=redis requires REDIS_URL")
	}
	// the worker runs in its own process and must see the API's sessions
	// and analyses
	if strings.TrimSpace(c.SQSQueueURL) != "" {
		if c.SessionStore != "redis" {
			problems = append(problems, "SQS_QUEUE_URL requires SESSION_STORE=redis")
		}
		if strings.TrimSpace(c.DatabaseURL) == "" {
			problems = append(problems, "SQS_QUEUE_URL requires DATABASE_URL")
		}
	}
	if (c.LLMProvider == "openai" || c.ChatProvider == "openai") && c.OpenAIAPIKey == "" {
		problems = append(problems, "openai provider requires OPENAI_API_KEY")
	}
	if (c.LLMProvider == "anthropic" || c.ChatProvider == "anthropic") && c.AnthropicAPIKey == "" {
		problems = append(problems, "anthropic provider requires ANTHROPIC_API_KEY")
	}
	if c.Env == "production" && c.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required in production")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
