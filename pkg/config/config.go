package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	RedisURL   string
	Port       string
	LogLevel   string
	InstanceID string

	// SLA thresholds, all in milliseconds.
	QueueWaitTimeoutMS     int64
	FirstResponseTimeoutMS int64
	InactivityTimeoutMS    int64

	// How often the supervisor scans for due timers.
	CheckIntervalMS int64

	// Write-behind persistence.
	FlushIntervalMS  int64
	FlushDeadlineMS  int64
	StorageRetries   int
	StorageBackoffMS int64

	// In-memory session janitor.
	CleanupIntervalMS int64
	SessionIdleTTLMS  int64

	ResumeTokenTTLMS int64

	// Reply templates and vocabulary file. Empty means compiled-in defaults.
	TemplatesPath string

	KafkaBrokers    []string
	KafkaTopicEvent string

	MaxSessionsPerOperator int
}

func Load() *Config {
	return &Config{
		RedisURL:   getEnv("REDIS_URL", ""),
		Port:       getEnv("PORT", "8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		InstanceID: getEnv("INSTANCE_ID", generateInstanceID()),

		QueueWaitTimeoutMS:     getEnvInt64("QUEUE_WAIT_TIMEOUT_MS", 120000),
		FirstResponseTimeoutMS: getEnvInt64("FIRST_RESPONSE_TIMEOUT_MS", 90000),
		InactivityTimeoutMS:    getEnvInt64("INACTIVITY_TIMEOUT_MS", 300000),
		CheckIntervalMS:        getEnvInt64("CHECK_INTERVAL_MS", 1000),

		FlushIntervalMS:  getEnvInt64("FLUSH_INTERVAL_MS", 2000),
		FlushDeadlineMS:  getEnvInt64("FLUSH_DEADLINE_MS", 30000),
		StorageRetries:   getEnvInt("STORAGE_RETRIES", 3),
		StorageBackoffMS: getEnvInt64("STORAGE_BACKOFF_MS", 100),

		CleanupIntervalMS: getEnvInt64("CLEANUP_INTERVAL_MS", 60000),
		SessionIdleTTLMS:  getEnvInt64("SESSION_IDLE_TTL_MS", 86400000),

		ResumeTokenTTLMS: getEnvInt64("RESUME_TOKEN_TTL_MS", 604800000),

		TemplatesPath: getEnv("TEMPLATES_PATH", ""),

		KafkaBrokers:    splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopicEvent: getEnv("KAFKA_TOPIC_EVENTS", "support.events"),

		MaxSessionsPerOperator: getEnvInt("MAX_SESSIONS_PER_OPERATOR", 3),
	}
}

func (c *Config) QueueWaitTimeout() time.Duration {
	return time.Duration(c.QueueWaitTimeoutMS) * time.Millisecond
}

func (c *Config) FirstResponseTimeout() time.Duration {
	return time.Duration(c.FirstResponseTimeoutMS) * time.Millisecond
}

func (c *Config) InactivityTimeout() time.Duration {
	return time.Duration(c.InactivityTimeoutMS) * time.Millisecond
}

func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalMS) * time.Millisecond
}

func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

func (c *Config) FlushDeadline() time.Duration {
	return time.Duration(c.FlushDeadlineMS) * time.Millisecond
}

func (c *Config) StorageBackoff() time.Duration {
	return time.Duration(c.StorageBackoffMS) * time.Millisecond
}

func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMS) * time.Millisecond
}

func (c *Config) SessionIdleTTL() time.Duration {
	return time.Duration(c.SessionIdleTTLMS) * time.Millisecond
}

func (c *Config) ResumeTokenTTL() time.Duration {
	return time.Duration(c.ResumeTokenTTLMS) * time.Millisecond
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func generateInstanceID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return uuid.New().String()
	}
	return hostname + "-" + uuid.New().String()[:8]
}
