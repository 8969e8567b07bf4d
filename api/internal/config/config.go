package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is shared by the worker, the bot and the test client. Values come from
// an optional YAML file (CONFIG_FILE) and are overridden by the environment.
type Config struct {
	Port     string `yaml:"port"`
	Mode     string `yaml:"mode"` // "serverless" | "api"
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	// Model backend
	Backend       string        `yaml:"backend"` // "openai" | "ollama" | "gemini"
	Model         string        `yaml:"model"`
	OpenAIBaseURL string        `yaml:"openai_base_url"`
	OpenAIAPIKey  string        `yaml:"openai_api_key"`
	OllamaHost    string        `yaml:"ollama_host"`
	OllamaPull    bool          `yaml:"ollama_pull"`
	GeminiAPIKey  string        `yaml:"gemini_api_key"`
	LoadTimeout   time.Duration `yaml:"load_timeout"`

	// Image resolver
	FetchTimeout  time.Duration `yaml:"image_fetch_timeout"`
	MaxImageBytes int64         `yaml:"image_max_bytes"`

	// Serverless worker protocol
	JobGetURL    string        `yaml:"webhook_get_job"`
	JobDoneURL   string        `yaml:"webhook_post_output"`
	PingURL      string        `yaml:"webhook_ping"`
	PingInterval time.Duration `yaml:"ping_interval"`
	WorkerID     string        `yaml:"pod_id"`
	WorkerAPIKey string        `yaml:"ai_api_key"`

	// Endpoint client (test client, bot)
	EndpointBaseURL string        `yaml:"endpoint_base_url"`
	EndpointID      string        `yaml:"endpoint_id"`
	EndpointAPIKey  string        `yaml:"endpoint_api_key"`
	SyncWait        time.Duration `yaml:"sync_wait"`

	// Bot
	TelegramBotToken string        `yaml:"telegram_bot_token"`
	WebhookURL       string        `yaml:"webhook_url"`
	DatabaseURL      string        `yaml:"database_url"`
	CacheMaxAge      time.Duration `yaml:"cache_max_age"`
}

func defaults() *Config {
	return &Config{
		Port:            "8000",
		Mode:            "serverless",
		LogLevel:        "info",
		Backend:         "openai",
		Model:           "zai-org/GLM-OCR",
		OpenAIBaseURL:   "http://127.0.0.1:8080/v1",
		LoadTimeout:     10 * time.Minute,
		FetchTimeout:    30 * time.Second,
		MaxImageBytes:   64 << 20,
		PingInterval:    10 * time.Second,
		EndpointBaseURL: "https://api.runpod.ai/v2",
		SyncWait:        5 * time.Minute,
		CacheMaxAge:     30 * 24 * time.Hour,
	}
}

// MustEnv is for binaries that cannot start without k.
func MustEnv(k string) string {
	v := os.Getenv(k)
	if v == "" {
		log.Fatalf("missing required env %s", k)
	}
	return v
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getEnvBool(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// getEnvDuration accepts Go durations ("30s") or plain milliseconds ("30000").
func getEnvDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

func getEnvInt64(k string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// Load reads .env (if present), then the YAML file at path (or CONFIG_FILE),
// then environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Mode = getEnv("WORKER_MODE", cfg.Mode)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	if f := getEnv("LOG_FORMAT", ""); f != "" {
		cfg.LogJSON = f == "json"
	}

	cfg.Backend = strings.ToLower(getEnv("OCR_BACKEND", cfg.Backend))
	cfg.Model = getEnv("GLMOCR_MODEL", cfg.Model)
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OllamaHost = getEnv("OLLAMA_HOST", cfg.OllamaHost)
	cfg.OllamaPull = getEnvBool("OLLAMA_PULL", cfg.OllamaPull)
	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.LoadTimeout = getEnvDuration("MODEL_LOAD_TIMEOUT", cfg.LoadTimeout)

	cfg.FetchTimeout = getEnvDuration("IMAGE_FETCH_TIMEOUT", cfg.FetchTimeout)
	cfg.MaxImageBytes = getEnvInt64("IMAGE_MAX_BYTES", cfg.MaxImageBytes)

	cfg.JobGetURL = getEnv("RUNPOD_WEBHOOK_GET_JOB", cfg.JobGetURL)
	cfg.JobDoneURL = getEnv("RUNPOD_WEBHOOK_POST_OUTPUT", cfg.JobDoneURL)
	cfg.PingURL = getEnv("RUNPOD_WEBHOOK_PING", cfg.PingURL)
	cfg.PingInterval = getEnvDuration("RUNPOD_PING_INTERVAL", cfg.PingInterval)
	cfg.WorkerID = getEnv("RUNPOD_POD_ID", cfg.WorkerID)
	cfg.WorkerAPIKey = getEnv("RUNPOD_AI_API_KEY", cfg.WorkerAPIKey)

	cfg.EndpointBaseURL = getEnv("RUNPOD_BASE_URL", cfg.EndpointBaseURL)
	cfg.EndpointID = getEnv("RUNPOD_ENDPOINT_ID", cfg.EndpointID)
	cfg.EndpointAPIKey = getEnv("RUNPOD_API_KEY", cfg.EndpointAPIKey)
	cfg.SyncWait = getEnvDuration("RUNPOD_SYNC_WAIT", cfg.SyncWait)

	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", cfg.TelegramBotToken)
	cfg.WebhookURL = getEnv("WEBHOOK_URL", cfg.WebhookURL)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.CacheMaxAge = getEnvDuration("OCR_CACHE_MAX_AGE", cfg.CacheMaxAge)

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.Backend {
	case "openai", "ollama", "gemini":
	default:
		return fmt.Errorf("unknown OCR_BACKEND %q (openai | ollama | gemini)", c.Backend)
	}
	switch c.Mode {
	case "serverless", "api":
	default:
		return fmt.Errorf("unknown WORKER_MODE %q (serverless | api)", c.Mode)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("image fetch timeout must be positive, got %s", c.FetchTimeout)
	}
	return nil
}
