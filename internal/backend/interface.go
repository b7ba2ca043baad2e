// Package backend assembles the completion ledger for the configured
// storage backend.
package backend

import (
	"context"

	"savebuddy/internal/ledger"
	"savebuddy/internal/storage"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the ledger and an optional cleanup function
type BackendResult struct {
	Ledger *ledger.Ledger

	// Local is true when completions are kept in the profile database.
	Local bool

	Cleanup CleanupFunc
}

// Factory creates ledgers based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// Repository is the profile's local database; required by the local backend.
	Repository *storage.SQLiteRepository

	// Optional completion sync messaging
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// BackendType represents the type of ledger backend
type BackendType string

const (
	LocalBackend  BackendType = "local"
	RemoteBackend BackendType = "remote"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case LocalBackend, RemoteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
