package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	UseMemoryQueue bool
	WorkerCount    int
	DatabaseURL    string

	// Ticket queue (SQS or in-memory for development)
	TicketQueueURL string

	// Orchestrator tuning
	CommitMaxRetries int
	InferenceTimeout time.Duration

	// Circuit breaker defaults, shared by all named breakers
	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration
	BreakerSuccessThreshold int
	BreakerFailureWindow    time.Duration

	// Inference provider: "bedrock" or "gemini"
	LLMProvider    string
	BedrockModelID string
	GeminiAPIKey   string
	GeminiModelID  string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool
	TenantCacheTTL time.Duration

	// SendGrid escalation notifications
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 4),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		TicketQueueURL: getEnv("TICKET_QUEUE_URL", ""),

		CommitMaxRetries: getEnvAsInt("COMMIT_MAX_RETRIES", 3),
		InferenceTimeout: getEnvAsDuration("INFERENCE_TIMEOUT", 20*time.Second),

		BreakerFailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerRecoveryTimeout:  getEnvAsDuration("BREAKER_RECOVERY_TIMEOUT", 30*time.Second),
		BreakerSuccessThreshold: getEnvAsInt("BREAKER_SUCCESS_THRESHOLD", 2),
		BreakerFailureWindow:    getEnvAsDuration("BREAKER_FAILURE_WINDOW", 2*time.Minute),

		LLMProvider:    strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "bedrock"))),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),
		TenantCacheTTL: getEnvAsDuration("TENANT_CACHE_TTL", 5*time.Minute),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Resolvd Support"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
