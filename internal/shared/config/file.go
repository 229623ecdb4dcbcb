package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the env keys for deployments that prefer a YAML file.
type fileConfig struct {
	Port               string   `yaml:"port"`
	Env                string   `yaml:"env"`
	APIPrefix          string   `yaml:"api_prefix"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	DatabaseURL        string   `yaml:"database_url"`
	Redis              struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Session struct {
		Store    string `yaml:"store"`
		TTLHours int    `yaml:"ttl_hours"`
	} `yaml:"session"`
	ObjectStore struct {
		Type     string `yaml:"type"`
		LocalDir string `yaml:"local_dir"`
		Bucket   string `yaml:"bucket"`
		Prefix   string `yaml:"prefix"`
		Region   string `yaml:"region"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"object_store"`
	SQSQueueURL string `yaml:"sqs_queue_url"`
	LLM         struct {
		Provider        string `yaml:"provider"`
		ChatProvider    string `yaml:"chat_provider"`
		OpenAIBaseURL   string `yaml:"openai_base_url"`
		OpenAIModel     string `yaml:"openai_model"`
		AnthropicModel  string `yaml:"anthropic_model"`
		MaxOutputTokens int    `yaml:"max_output_tokens"`
		TimeoutSeconds  int    `yaml:"timeout_seconds"`
	} `yaml:"llm"`
	UsageLimit int `yaml:"usage_limit"`
	RateLimit  struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// applyFile reads a YAML config and exports its values as env vars that are
// not already set. Secrets are expected in the environment, not the file.
func applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	for key, val := range fc.envValues() {
		if val == "" {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return nil
}

func (fc fileConfig) envValues() map[string]string {
	return map[string]string{
		"PORT":                  fc.Port,
		"ENV":                   fc.Env,
		"API_PREFIX":            fc.APIPrefix,
		"CORS_ALLOWED_ORIGINS":  strings.Join(fc.CORSAllowedOrigins, ","),
		"DATABASE_URL":          fc.DatabaseURL,
		"REDIS_URL":             fc.Redis.URL,
		"SESSION_STORE":         fc.Session.Store,
		"SESSION_TTL_HOURS":     itoa(fc.Session.TTLHours),
		"OBJECT_STORE":          fc.ObjectStore.Type,
		"LOCAL_STORE_DIR":       fc.ObjectStore.LocalDir,
		"S3_BUCKET":             fc.ObjectStore.Bucket,
		"S3_PREFIX":             fc.ObjectStore.Prefix,
		"AWS_REGION":            fc.ObjectStore.Region,
		"S3_ENDPOINT":           fc.ObjectStore.Endpoint,
		"SQS_QUEUE_URL":         fc.SQSQueueURL,
		"LLM_PROVIDER":          fc.LLM.Provider,
		"CHAT_PROVIDER":         fc.LLM.ChatProvider,
		"OPENAI_BASE_URL":       fc.LLM.OpenAIBaseURL,
		"OPENAI_MODEL":          fc.LLM.OpenAIModel,
		"ANTHROPIC_MODEL":       fc.LLM.AnthropicModel,
		"LLM_MAX_OUTPUT_TOKENS": itoa(fc.LLM.MaxOutputTokens),
		"LLM_TIMEOUT_SECONDS":   itoa(fc.LLM.TimeoutSeconds),
		"USAGE_LIMIT":           itoa(fc.UsageLimit),
		"RATE_LIMIT_RPS":        ftoa(fc.RateLimit.RPS),
		"RATE_LIMIT_BURST":      itoa(fc.RateLimit.Burst),
	}
}

func itoa(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

func ftoa(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
