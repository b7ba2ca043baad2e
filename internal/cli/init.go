// Package cli provides common CLI initialization utilities.
// This package consolidates repeated initialization patterns across
// cmd/savebuddy, cmd/savebuddy-worker, and cmd/savebuddy-login.
package cli

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"savebuddy/internal/config"
	"savebuddy/internal/keystore"
	"savebuddy/internal/log"
	"savebuddy/internal/storage"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger creates the process logger at the configured level and sets it
// as the default logger.
func SetupLogger(cfg *config.Config, component string) *log.Logger {
	logCfg := log.DefaultConfig()
	logCfg.Level = log.ParseLevel(cfg.LogLevel)
	logCfg.Component = component
	logger := log.New(logCfg)
	log.SetDefault(logger)
	return logger
}

// Init loads the .env file and the configuration, sets up logging and
// validates. Returns the config and logger or exits the process on
// validation failure.
func Init(component string) (*config.Config, *log.Logger) {
	LoadEnvFile()
	cfg := config.Load()
	logger := SetupLogger(cfg, component)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg, logger
}

// InitSQLite initializes a SQLite repository with the given path.
// Returns the repository or exits the process on failure.
func InitSQLite(logger *log.Logger, dbPath string) *storage.SQLiteRepository {
	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", dbPath)
		os.Exit(1)
	}
	return repo
}

// ProfileDir holds the profile's session-scoped files next to its database.
func ProfileDir(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.SQLiteDBPath), cfg.Profile)
}

// Tokens builds the credential store: the profile database first, then the
// sealed session file, then memory. With shared set, only tiers another
// process can read are used, so the session tier needs a configured secret
// and memory is left out.
func Tokens(cfg *config.Config, kv keystore.KV, shared bool) keystore.Token {
	tiers := []keystore.Tier{keystore.NewPersistent(kv)}
	if !shared || cfg.SessionSecret != "" {
		tiers = append(tiers, keystore.NewSession(ProfileDir(cfg), []byte(cfg.SessionSecret)))
	}
	if !shared {
		tiers = append(tiers, keystore.NewMemory())
	}
	return keystore.Token{Store: keystore.New(tiers...)}
}
