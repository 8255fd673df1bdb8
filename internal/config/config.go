package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config centralizes runtime settings for the API and workers.
type Config struct {
	Port      string
	AuthToken string
	LogLevel  string
	LogFormat string

	DatabaseURL string

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisStream     string
	RedisDLQ        string
	RedisGroup      string
	RedisConsumer   string
	ProgressChannel string
	ProgressBuffer  int

	AMQPURL       string
	AMQPTaskQueue string

	SearchProvider    string
	BraveAPIKey       string
	BraveBaseURL      string
	DuckDuckGoBaseURL string
	MaxSources        int
	SearchTimeout     time.Duration

	ExtractStrategy   string
	ExtractChunkSize  int
	ExtractTimeout    time.Duration
	ReaderBaseURL     string
	ReaderAPIKey      string
	ReaderMinDelay    time.Duration
	BrowserBin        string
	BrowserHeadless   bool
	MaxContentPerPage int
	MaxAnalysisChars  int

	AnalysisProvider string
	AnalysisModel    string
	PromptsDir       string

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string
	OpenAITimeoutMS  int
	OpenAIMaxRetries int

	OpenRouterAPIKey     string
	OpenRouterBaseURL    string
	OpenRouterModel      string
	OpenRouterTimeoutMS  int
	OpenRouterMaxRetries int
	OpenRouterAppName    string
	OpenRouterSiteURL    string

	GeminiAPIKey     string
	GeminiModel      string
	GeminiMaxRetries int

	QueryCacheTTL time.Duration
	URLCacheTTL   time.Duration

	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string

	WorkerEnabled     bool
	WorkerConcurrency int
	QueueMaxAttempts  int
}

// Load reads settings from the process environment. When CONFIG_FILE names a
// YAML document of KEY: value pairs, its entries act as defaults beneath the
// environment.
func Load() (Config, error) {
	src := source{}
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		values, err := readYAMLFile(path)
		if err != nil {
			return Config{}, err
		}
		src.file = values
	}
	return src.build(), nil
}

func (s source) build() Config {
	return Config{
		Port:      s.getEnv("PORT", "8080"),
		AuthToken: s.getEnv("API_AUTH_TOKEN", ""),
		LogLevel:  s.getEnv("LOG_LEVEL", "info"),
		LogFormat: s.getEnv("LOG_FORMAT", "json"),

		DatabaseURL: s.getEnv("DATABASE_URL", ""),

		RedisAddr:       s.getEnv("REDIS_ADDR", ""),
		RedisPassword:   s.getEnv("REDIS_PASSWORD", ""),
		RedisDB:         s.getEnvInt("REDIS_DB", 0),
		RedisStream:     s.getEnv("REDIS_STREAM", "research_jobs"),
		RedisDLQ:        s.getEnv("REDIS_DLQ_STREAM", "research_jobs_dlq"),
		RedisGroup:      s.getEnv("REDIS_GROUP", "research_workers"),
		RedisConsumer:   s.getEnv("REDIS_CONSUMER", "worker-1"),
		ProgressChannel: s.getEnv("PROGRESS_CHANNEL", "research_progress"),
		ProgressBuffer:  s.getEnvInt("PROGRESS_BUFFER", 1024),

		AMQPURL:       s.getEnv("AMQP_URL", ""),
		AMQPTaskQueue: s.getEnv("AMQP_TASK_QUEUE", "external_tasks"),

		SearchProvider:    s.getEnv("SEARCH_PROVIDER", "duckduckgo"),
		BraveAPIKey:       s.getEnv("BRAVE_API_KEY", ""),
		BraveBaseURL:      s.getEnv("BRAVE_BASE_URL", "https://api.search.brave.com/res/v1"),
		DuckDuckGoBaseURL: s.getEnv("DUCKDUCKGO_BASE_URL", "https://html.duckduckgo.com"),
		MaxSources:        s.getEnvInt("MAX_SOURCES", 10),
		SearchTimeout:     s.getEnvDuration("SEARCH_TIMEOUT", 15*time.Second),

		ExtractStrategy:   s.getEnv("EXTRACT_STRATEGY", "remote"),
		ExtractChunkSize:  s.getEnvInt("EXTRACT_CHUNK_SIZE", 5),
		ExtractTimeout:    time.Duration(s.getEnvInt("EXTRACT_TIMEOUT_MS", 30000)) * time.Millisecond,
		ReaderBaseURL:     s.getEnv("READER_BASE_URL", "https://r.jina.ai"),
		ReaderAPIKey:      s.getEnv("READER_API_KEY", ""),
		ReaderMinDelay:    time.Duration(s.getEnvInt("READER_MIN_DELAY_MS", 1000)) * time.Millisecond,
		BrowserBin:        s.getEnv("BROWSER_BIN", ""),
		BrowserHeadless:   s.getEnvBool("BROWSER_HEADLESS", true),
		MaxContentPerPage: s.getEnvInt("MAX_CONTENT_PER_PAGE", 12000),
		MaxAnalysisChars:  s.getEnvInt("MAX_ANALYSIS_CHARS", 60000),

		AnalysisProvider: s.getEnv("ANALYSIS_PROVIDER", "openrouter"),
		AnalysisModel:    s.getEnv("ANALYSIS_MODEL", ""),
		PromptsDir:       s.getEnv("PROMPTS_DIR", ""),

		OpenAIAPIKey:     s.getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    s.getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:      s.getEnv("OPENAI_MODEL", "gpt-4.1-mini"),
		OpenAITimeoutMS:  s.getEnvInt("OPENAI_TIMEOUT_MS", 60000),
		OpenAIMaxRetries: s.getEnvInt("OPENAI_MAX_RETRIES", 2),

		OpenRouterAPIKey:     s.getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL:    s.getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterModel:      s.getEnv("OPENROUTER_MODEL", "openai/gpt-4.1-mini"),
		OpenRouterTimeoutMS:  s.getEnvInt("OPENROUTER_TIMEOUT_MS", 60000),
		OpenRouterMaxRetries: s.getEnvInt("OPENROUTER_MAX_RETRIES", 2),
		OpenRouterAppName:    s.getEnv("OPENROUTER_APP_NAME", "lead-intel"),
		OpenRouterSiteURL:    s.getEnv("OPENROUTER_SITE_URL", ""),

		GeminiAPIKey:     s.getEnv("GEMINI_API_KEY", ""),
		GeminiModel:      s.getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiMaxRetries: s.getEnvInt("GEMINI_MAX_RETRIES", 2),

		QueryCacheTTL: s.getEnvDuration("QUERY_CACHE_TTL", 24*time.Hour),
		URLCacheTTL:   s.getEnvDuration("URL_CACHE_TTL", 7*24*time.Hour),

		RateLimitRPS:       s.getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     s.getEnvInt("RATE_LIMIT_BURST", 40),
		CORSAllowedOrigins: s.getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		WorkerEnabled:     s.getEnvBool("WORKER_ENABLED", true),
		WorkerConcurrency: s.getEnvInt("WORKER_CONCURRENCY", 2),
		QueueMaxAttempts:  s.getEnvInt("QUEUE_MAX_ATTEMPTS", 1),
	}
}

// source resolves a key from the environment first, then the optional file.
type source struct {
	file map[string]string
}

func readYAMLFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var values map[string]any
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		switch typed := value.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(typed))
			for _, item := range typed {
				parts = append(parts, fmt.Sprint(item))
			}
			out[strings.ToUpper(key)] = strings.Join(parts, ",")
		default:
			out[strings.ToUpper(key)] = fmt.Sprint(typed)
		}
	}
	return out, nil
}

func (s source) lookup(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return s.file[key]
}

func (s source) getEnv(key, fallback string) string {
	value := s.lookup(key)
	if value == "" {
		return fallback
	}
	return value
}

func (s source) getEnvInt(key string, fallback int) int {
	value := s.lookup(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (s source) getEnvFloat(key string, fallback float64) float64 {
	value := s.lookup(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func (s source) getEnvBool(key string, fallback bool) bool {
	value := s.lookup(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (s source) getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := s.lookup(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func (s source) getEnvList(key string, fallback []string) []string {
	value := s.lookup(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
