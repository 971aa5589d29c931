package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Reminder scanner
	ReminderScanSchedule string
	ReminderScanTimeout  time.Duration
	ReminderDayWindow    time.Duration
	ReminderSoonWindow   time.Duration

	// Notification dispatch (outbox to delivery collaborator)
	NotificationQueueURL string
	DispatchInterval     time.Duration
	DispatchBatchSize    int

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	CORSAllowedOrigins string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		ReminderScanSchedule: getEnv("REMINDER_SCAN_SCHEDULE", "*/5 * * * *"),
		ReminderScanTimeout:  getEnvAsDuration("REMINDER_SCAN_TIMEOUT", 2*time.Minute),
		ReminderDayWindow:    getEnvAsDuration("REMINDER_DAY_WINDOW", 24*time.Hour),
		ReminderSoonWindow:   getEnvAsDuration("REMINDER_SOON_WINDOW", 5*time.Hour),

		NotificationQueueURL: getEnv("NOTIFICATION_QUEUE_URL", ""),
		DispatchInterval:     getEnvAsDuration("DISPATCH_INTERVAL", 2*time.Second),
		DispatchBatchSize:    getEnvAsInt("DISPATCH_BATCH_SIZE", 25),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
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
