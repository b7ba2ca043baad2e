package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Remote API
	APIBaseURL  string
	HTTPTimeout time.Duration

	// Local database
	SQLiteDBPath string
	Profile      string

	// Ledger and catalog
	LedgerBackend   string
	CatalogSource   string
	CatalogFile     string
	CatalogCacheTTL time.Duration

	// Session
	AuthGraceDelay time.Duration
	SessionSecret  string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets export
	GoogleSpreadsheetID string
	GoogleSheetName     string

	// Worker
	SyncBatchSize int
	SyncInterval  time.Duration

	LogLevel string
}

var (
	validLedgerBackends = []string{"local", "remote", "memory"}
	validCatalogSources = []string{"server", "static"}
)

func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8081"),

		APIBaseURL:  getEnv("API_BASE_URL", "http://localhost:8080"),
		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 15*time.Second),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/savebuddy.db"),
		Profile:      getEnv("PROFILE", "default"),

		LedgerBackend:   getEnv("LEDGER_BACKEND", "local"),
		CatalogSource:   getEnv("CATALOG_SOURCE", "server"),
		CatalogFile:     getEnv("CATALOG_FILE", ""),
		CatalogCacheTTL: getEnvDuration("CATALOG_CACHE_TTL", 10*time.Minute),

		AuthGraceDelay: getEnvDuration("AUTH_GRACE_DELAY", time.Second),
		SessionSecret:  getEnv("SESSION_SECRET", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "savebuddy"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "sync_completions"),

		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:     getEnv("GOOGLE_SHEET_NAME", "절약기록"),

		SyncBatchSize: getEnvInt("SYNC_BATCH_SIZE", 10),
		SyncInterval:  getEnvDuration("SYNC_INTERVAL", 30*time.Second),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if parsed, err := url.Parse(c.APIBaseURL); err != nil || c.APIBaseURL == "" {
		errors = append(errors, fmt.Sprintf("invalid API base URL '%s'", c.APIBaseURL))
	} else if parsed.Scheme != "http" && parsed.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid API base URL scheme '%s': must be 'http' or 'https'", parsed.Scheme))
	}

	if c.HTTPTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid HTTP timeout %v: must be at least 1 second", c.HTTPTimeout))
	}

	if !oneOf(c.LedgerBackend, validLedgerBackends) {
		errors = append(errors, fmt.Sprintf("invalid ledger backend '%s': must be one of %v", c.LedgerBackend, validLedgerBackends))
	}
	if !oneOf(c.CatalogSource, validCatalogSources) {
		errors = append(errors, fmt.Sprintf("invalid catalog source '%s': must be one of %v", c.CatalogSource, validCatalogSources))
	}

	if c.CatalogFile != "" {
		if _, err := os.Stat(c.CatalogFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("catalog file does not exist: %s", c.CatalogFile))
		}
	}

	if c.LedgerBackend == "local" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using local ledger backend")
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
	}

	if strings.TrimSpace(c.Profile) == "" {
		errors = append(errors, "profile name cannot be empty")
	}

	if c.SessionSecret != "" && len(c.SessionSecret) < 32 {
		errors = append(errors, "session secret must be at least 32 bytes")
	}

	if c.AuthGraceDelay < 0 || c.AuthGraceDelay > time.Minute {
		errors = append(errors, fmt.Sprintf("invalid auth grace delay %v: must be between 0 and 1 minute", c.AuthGraceDelay))
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
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.GoogleSpreadsheetID != "" && c.GoogleSheetName == "" {
		errors = append(errors, "Google Sheet name is required when a spreadsheet ID is set")
	}

	if c.SyncBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at least 1", c.SyncBatchSize))
	} else if c.SyncBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at most 1000", c.SyncBatchSize))
	}

	if c.SyncInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.SyncInterval))
	} else if c.SyncInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.SyncInterval))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func oneOf(v string, options []string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
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
