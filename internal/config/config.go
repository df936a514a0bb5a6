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
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	LogFile       string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisLockTTL  time.Duration

	ClinicName     string
	ClinicTimezone string
	SlotDuration   time.Duration

	PIIEncryptionKey string
	PIIMigrateLegacy bool

	LLMProvider         string
	LLMFallbackProvider string
	GeminiAPIKey        string
	GeminiModelID       string
	BedrockModelID      string
	NLPTimeout          time.Duration
	IntentWindow        int
	ResponseWindow      int

	CalendarProvider      string
	GoogleCalendarID      string
	GoogleCredentialsFile string
	CalendarTimeout       time.Duration

	TwilioAccountSID    string
	TwilioAuthToken     string
	TwilioFromNumber    string
	TwilioWebhookSecret string

	UseMemoryQueue       bool
	ConversationQueueURL string
	WorkerCount          int

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	ReminderDayBeforeHour int
	ReminderSameDayLead   time.Duration
	ReminderSweepSpec     string
	ReminderMaxAttempts   int

	AdminJWTSecret string
	RateLimitRPS   float64
	RateLimitBurst int

	// Email confirmations
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is honoured when present; real environment wins.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisLockTTL:  getEnvAsDuration("REDIS_LOCK_TTL", 90*time.Second),

		ClinicName:     getEnv("CLINIC_NAME", "Clínica"),
		ClinicTimezone: getEnv("CLINIC_TIMEZONE", "America/Sao_Paulo"),
		SlotDuration:   getEnvAsDuration("SLOT_DURATION", 30*time.Minute),

		PIIEncryptionKey: getEnv("PII_ENCRYPTION_KEY", ""),
		PIIMigrateLegacy: getEnvAsBool("PII_MIGRATE_LEGACY", false),

		LLMProvider:         strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "gemini"))),
		LLMFallbackProvider: strings.ToLower(strings.TrimSpace(getEnv("LLM_FALLBACK_PROVIDER", ""))),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:       getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		NLPTimeout:          getEnvAsDuration("NLP_TIMEOUT", 15*time.Second),
		IntentWindow:        getEnvAsInt("INTENT_HISTORY_WINDOW", 5),
		ResponseWindow:      getEnvAsInt("RESPONSE_HISTORY_WINDOW", 15),

		CalendarProvider:      strings.ToLower(strings.TrimSpace(getEnv("CALENDAR_PROVIDER", "memory"))),
		GoogleCalendarID:      getEnv("GOOGLE_CALENDAR_ID", "primary"),
		GoogleCredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", ""),
		CalendarTimeout:       getEnvAsDuration("CALENDAR_TIMEOUT", 10*time.Second),

		TwilioAccountSID:    getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:    getEnv("TWILIO_FROM_NUMBER", ""),
		TwilioWebhookSecret: getEnv("TWILIO_WEBHOOK_SECRET", ""),

		UseMemoryQueue:       getEnvAsBool("USE_MEMORY_QUEUE", true),
		ConversationQueueURL: getEnv("CONVERSATION_QUEUE_URL", ""),
		WorkerCount:          getEnvAsInt("WORKER_COUNT", 4),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		ReminderDayBeforeHour: getEnvAsInt("REMINDER_DAY_BEFORE_HOUR", 10),
		ReminderSameDayLead:   getEnvAsDuration("REMINDER_SAME_DAY_LEAD", 3*time.Hour),
		ReminderSweepSpec:     getEnv("REMINDER_SWEEP_SPEC", "@every 1m"),
		ReminderMaxAttempts:   getEnvAsInt("REMINDER_MAX_ATTEMPTS", 5),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 20),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", ""))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", ""),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
	}
}

// Location resolves the clinic timezone, falling back to UTC when the zone
// database does not know the name.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
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
