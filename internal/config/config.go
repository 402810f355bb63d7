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
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Messaging provider REST API.
	ProviderBaseURL string
	ProviderAPIKey  string
	ProviderTimeout time.Duration

	// Engagement dispatcher tuning.
	EngagementWindow    time.Duration
	FollowUpDelay       time.Duration
	FollowUpRetryDelay  time.Duration
	FollowUpMaxRetries  int
	SchedulerInterval   time.Duration
	CachePruneAfter     time.Duration
	CachePruneSchedule  string
	DefaultLanguageCode string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", ""),
		ProviderAPIKey:  getEnv("PROVIDER_API_KEY", ""),
		ProviderTimeout: getEnvAsDuration("PROVIDER_TIMEOUT", 10*time.Second),

		EngagementWindow:    getEnvAsDuration("ENGAGEMENT_WINDOW", 24*time.Hour),
		FollowUpDelay:       getEnvAsDuration("FOLLOWUP_DELAY", 24*time.Hour),
		FollowUpRetryDelay:  getEnvAsDuration("FOLLOWUP_RETRY_DELAY", 5*time.Minute),
		FollowUpMaxRetries:  getEnvAsInt("FOLLOWUP_MAX_RETRIES", 3),
		SchedulerInterval:   getEnvAsDuration("SCHEDULER_INTERVAL", 5*time.Minute),
		CachePruneAfter:     getEnvAsDuration("CACHE_PRUNE_AFTER", 30*24*time.Hour),
		CachePruneSchedule:  getEnv("CACHE_PRUNE_SCHEDULE", "@daily"),
		DefaultLanguageCode: getEnv("TEMPLATE_LANGUAGE_CODE", "en"),
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
