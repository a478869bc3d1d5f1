package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"finsync/internal/log"
	"finsync/internal/scheduler"
)

type Config struct {
	// Local store
	SQLiteDBPath string

	// Remote backend
	RemoteBackend    string
	APIBaseURL       string
	APIToken         string
	APITimeout       time.Duration
	CategoryCacheTTL time.Duration

	// AMQP (optional)
	AMQPURL           string
	AMQPExchange      string
	AMQPRequestQueue  string
	AMQPEventsRouting string

	// Sync worker
	SyncInterval       time.Duration
	MaxRejections      int
	RequeueFailedAfter time.Duration

	// Maintenance schedules (cron syntax, empty disables)
	CategoryRefreshSchedule    string
	TransactionRefreshSchedule string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/finsync.db"),

		RemoteBackend:    getEnv("REMOTE_BACKEND", "api"),
		APIBaseURL:       getEnv("API_BASE_URL", ""),
		APIToken:         getEnv("API_TOKEN", ""),
		APITimeout:       getEnvDuration("API_TIMEOUT", 30*time.Second),
		CategoryCacheTTL: getEnvDuration("CATEGORY_CACHE_TTL", 10*time.Minute),

		AMQPURL:           getEnv("AMQP_URL", ""),
		AMQPExchange:      getEnv("AMQP_EXCHANGE", "finsync"),
		AMQPRequestQueue:  getEnv("AMQP_REQUEST_QUEUE", "sync_requests"),
		AMQPEventsRouting: getEnv("AMQP_EVENTS_ROUTING_KEY", "sync.events"),

		SyncInterval:       getEnvDuration("SYNC_INTERVAL", 30*time.Second),
		MaxRejections:      getEnvInt("MAX_REJECTIONS", 3),
		RequeueFailedAfter: getEnvDuration("REQUEUE_FAILED_AFTER", 0),

		CategoryRefreshSchedule:    getEnv("CATEGORY_REFRESH_SCHEDULE", "@daily"),
		TransactionRefreshSchedule: os.Getenv("TRANSACTION_REFRESH_SCHEDULE"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// AMQPEnabled reports whether a broker is configured.
func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	switch c.RemoteBackend {
	case "api":
		if c.APIBaseURL == "" {
			errors = append(errors, "API_BASE_URL is required when using the api remote backend")
		} else if u, err := url.Parse(c.APIBaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid API base URL '%s': %v", c.APIBaseURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("invalid API base URL scheme '%s': must be 'http' or 'https'", u.Scheme))
		}
		if c.APIToken == "" {
			errors = append(errors, "API_TOKEN is required when using the api remote backend")
		}
	case "memory":
	default:
		errors = append(errors, fmt.Sprintf("invalid remote backend '%s': must be one of [api memory]", c.RemoteBackend))
	}

	if c.APITimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid API timeout %v: must be at least 1 second", c.APITimeout))
	}
	if c.CategoryCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid category cache TTL %v: must not be negative", c.CategoryCacheTTL))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPRequestQueue == "" {
			errors = append(errors, "AMQP request queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPEventsRouting == "" {
			errors = append(errors, "AMQP events routing key cannot be empty when AMQP URL is provided")
		}
	}

	if c.SyncInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.SyncInterval))
	} else if c.SyncInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.SyncInterval))
	}

	if c.MaxRejections < 1 {
		errors = append(errors, fmt.Sprintf("invalid max rejections %d: must be at least 1", c.MaxRejections))
	}
	if c.RequeueFailedAfter < 0 {
		errors = append(errors, fmt.Sprintf("invalid requeue interval %v: must not be negative", c.RequeueFailedAfter))
	}

	for _, s := range []struct{ name, value string }{
		{"CATEGORY_REFRESH_SCHEDULE", c.CategoryRefreshSchedule},
		{"TRANSACTION_REFRESH_SCHEDULE", c.TransactionRefreshSchedule},
	} {
		if s.value == "" {
			continue
		}
		if err := scheduler.ValidateSchedule(s.value); err != nil {
			errors = append(errors, fmt.Sprintf("%s: %v", s.name, err))
		}
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, err.Error())
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
