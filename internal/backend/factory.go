package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"savebuddy/internal/amqp"
	"savebuddy/internal/ledger"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
	api    ledger.CompletionAPI
}

// NewFactory creates a new backend factory. api is the remote completion
// endpoint set; it backs the remote ledger and the sync of local ones.
func NewFactory(logger *slog.Logger, api ledger.CompletionAPI) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
		api:    api,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if f.api == nil {
		return nil, errors.New("completion API is required")
	}

	switch config.Type {
	case LocalBackend:
		return f.createLocalBackend(config)
	case RemoteBackend:
		return f.createRemoteBackend()
	case MemoryBackend:
		return f.createMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createLocalBackend(config Config) (*BackendResult, error) {
	opts := []ledger.Option{ledger.WithSyncer(ledger.NewRemoteSyncer(f.api))}

	// AMQP is optional; without it completions are pushed inline.
	var amqpClient *amqp.Client
	if config.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing with inline sync", "error", err)
		} else {
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
			opts = append(opts, ledger.WithPublisher(amqpClient))
		}
	}

	f.logger.Info("Initialized local ledger backend", "amqp_enabled", amqpClient != nil)

	result := &BackendResult{
		Ledger: ledger.New(config.Repository, opts...),
		Local:  true,
	}
	if amqpClient != nil {
		result.Cleanup = amqpClient.Close
	}
	return result, nil
}

func (f *DefaultFactory) createRemoteBackend() (*BackendResult, error) {
	f.logger.Info("Initialized remote ledger backend")
	return &BackendResult{
		Ledger: ledger.New(ledger.NewRemoteStore(f.api)),
	}, nil
}

func (f *DefaultFactory) createMemoryBackend() *BackendResult {
	f.logger.Info("Initialized memory ledger backend")
	return &BackendResult{
		Ledger: ledger.New(ledger.NewMemoryStore(), ledger.WithSyncer(ledger.NewRemoteSyncer(f.api))),
	}
}
