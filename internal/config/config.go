// Package config provides environment configuration for the engine daemon.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool

	// LLM settings (summarization)
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string

	// Context window settings
	ContextModel           string
	ContextWindow          int
	CompressionThreshold   float64
	PreserveRecentMessages int

	// Live channel settings
	ChannelMaxAttempts    int
	ChannelInitialBackoff time.Duration
	ChannelMaxBackoff     time.Duration

	// Tool effect mapping
	AgentTool      string
	DiscussionTool string
}

// Load reads configuration from the environment, with a best-effort .env.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "anthropic"),

		// Context window
		ContextModel:           getEnv("CONTEXT_MODEL", "gpt-4o"),
		ContextWindow:          getIntEnv("CONTEXT_WINDOW", 128000),
		CompressionThreshold:   getFloatEnv("COMPRESSION_THRESHOLD", 0.8),
		PreserveRecentMessages: getIntEnv("PRESERVE_RECENT_MESSAGES", 5),

		// Live channel
		ChannelMaxAttempts:    getIntEnv("CHANNEL_MAX_ATTEMPTS", 5),
		ChannelInitialBackoff: getDurationEnv("CHANNEL_INITIAL_BACKOFF", time.Second),
		ChannelMaxBackoff:     getDurationEnv("CHANNEL_MAX_BACKOFF", 30*time.Second),

		// Tool effects
		AgentTool:      getEnv("AGENT_TOOL", "create_agent"),
		DiscussionTool: getEnv("DISCUSSION_TOOL", "run_discussion"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
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

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
