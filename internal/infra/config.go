package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	TelegramToken   string
	TelegramBaseURL string
	WebhookURL      string

	RunPodEndpointID string
	RunPodAPIKey     string
	RunPodBaseURL    string
	WorkflowPath     string
	PromptNodeID     string
	PromptNodeField  string

	PollInterval time.Duration
	MaxPollTime  time.Duration

	QueueCapacity    int
	QueueBlockOnFull bool
	WorkerCount      int

	DailyFreeLimit int

	GeoIPDBPath      string
	RateLimitPerMin  int
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		TelegramToken:   os.Getenv("TELEGRAM_KEY"),
		TelegramBaseURL: getEnv("TELEGRAM_BASE_URL", "https://api.telegram.org"),
		WebhookURL:      os.Getenv("WEBHOOK_URL"),

		RunPodEndpointID: os.Getenv("RUNPOD_ENDPOINT_ID"),
		RunPodAPIKey:     os.Getenv("RUNPOD_API_KEY"),
		RunPodBaseURL:    getEnv("RUNPOD_BASE_URL", "https://api.runpod.ai"),
		WorkflowPath:     os.Getenv("WORKFLOW_PATH"),
		PromptNodeID:     getEnv("PROMPT_NODE_ID", "45"),
		PromptNodeField:  getEnv("PROMPT_NODE_FIELD", "string_a"),

		PollInterval: time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 3)),
		MaxPollTime:  time.Second * time.Duration(getEnvInt("MAX_POLL_SECONDS", 300)),

		QueueCapacity:    getEnvInt("QUEUE_CAPACITY", 10),
		QueueBlockOnFull: getEnvBool("QUEUE_BLOCK_ON_FULL", false),
		WorkerCount:      getEnvInt("WORKER_COUNT", 1),

		DailyFreeLimit: getEnvInt("FREE_GENERATIONS_PER_DAY", 2),

		GeoIPDBPath:      os.Getenv("GEOIP_DB_PATH"),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_KEY is required")
	}

	if cfg.RunPodEndpointID == "" {
		return nil, fmt.Errorf("RUNPOD_ENDPOINT_ID is required")
	}

	if cfg.RunPodAPIKey == "" {
		return nil, fmt.Errorf("RUNPOD_API_KEY is required")
	}

	if cfg.WorkflowPath == "" {
		return nil, fmt.Errorf("WORKFLOW_PATH is required")
	}

	if cfg.QueueCapacity < 1 {
		return nil, fmt.Errorf("QUEUE_CAPACITY must be at least 1")
	}

	if cfg.WorkerCount < 1 {
		return nil, fmt.Errorf("WORKER_COUNT must be at least 1")
	}

	if cfg.PollInterval <= 0 || cfg.MaxPollTime <= 0 {
		return nil, fmt.Errorf("poll interval and max poll time must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
