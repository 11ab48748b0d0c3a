package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Storage
	StorageBackend string // memory, postgres, sqlite
	DatabaseURL    string
	SQLitePath     string

	// Redis (inbound email dedup)
	RedisAddr       string
	RedisPassword   string
	RedisTLS        bool
	InboundDedupTTL time.Duration

	// Realtime
	NatsURL   string
	NatsToken string

	// Email
	EmailProvider    string // resend, sendgrid, ses, stub
	ResendAPIKey     string
	SendGridAPIKey   string
	EmailFromAddress string
	EmailFromName    string
	SupportEmail     string
	ForwardToSupport bool

	// Email forward queue worker
	EmailQueueInterval  time.Duration
	EmailQueueBatchSize int
	EmailQueueLease     time.Duration

	// AWS (SES transport, S3 download links)
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	DownloadBucket      string
	DownloadLinkTTL     time.Duration

	// Classification
	GeminiAPIKey string
	GeminiModel  string

	// Chat
	ChatCannedReplies bool

	// HTTP
	PublicRatePerSecond  float64
	PublicRateBurst      int
	AdminJWTSecret       string
	InboundWebhookToken  string
	CORSAllowedOrigins   []string
	ActivityFeedCapacity int
}

// Load reads configuration from environment variables. A local .env file is
// loaded first when present; real environment variables win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StorageBackend: strings.ToLower(strings.TrimSpace(getEnv("STORAGE_BACKEND", "auto"))),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		SQLitePath:     getEnv("SQLITE_PATH", "assistant_ledger.db"),

		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisTLS:        getEnvAsBool("REDIS_TLS", false),
		InboundDedupTTL: getEnvAsDuration("INBOUND_DEDUP_TTL", 72*time.Hour),

		NatsURL:   getEnv("NATS_URL", ""),
		NatsToken: getEnv("NATS_TOKEN", ""),

		EmailProvider:    strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "auto"))),
		ResendAPIKey:     getEnv("RESEND_API_KEY", ""),
		SendGridAPIKey:   getEnv("SENDGRID_API_KEY", ""),
		EmailFromAddress: getEnv("EMAIL_FROM_ADDRESS", "customersupport@softaidev.com"),
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "SoftAIDev Customer Support"),
		SupportEmail:     getEnv("SUPPORT_EMAIL", "customersupport@softaidev.com"),
		ForwardToSupport: getEnvAsBool("FORWARD_TO_SUPPORT", false),

		EmailQueueInterval:  getEnvAsDuration("EMAIL_QUEUE_INTERVAL", 30*time.Second),
		EmailQueueBatchSize: getEnvAsInt("EMAIL_QUEUE_BATCH_SIZE", 25),
		EmailQueueLease:     getEnvAsDuration("EMAIL_QUEUE_LEASE", 10*time.Minute),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		DownloadBucket:      getEnv("DOWNLOAD_BUCKET", ""),
		DownloadLinkTTL:     getEnvAsDuration("DOWNLOAD_LINK_TTL", 7*24*time.Hour),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-1.5-flash-latest"),

		ChatCannedReplies: getEnvAsBool("CHAT_AUTO_REPLY", false),

		PublicRatePerSecond:  getEnvAsFloat("PUBLIC_RATE_PER_SECOND", 5),
		PublicRateBurst:      getEnvAsInt("PUBLIC_RATE_BURST", 20),
		AdminJWTSecret:       getEnv("ADMIN_JWT_SECRET", ""),
		InboundWebhookToken:  getEnv("INBOUND_WEBHOOK_TOKEN", ""),
		CORSAllowedOrigins:   getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		ActivityFeedCapacity: getEnvAsInt("ACTIVITY_FEED_CAPACITY", 50),
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
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

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
