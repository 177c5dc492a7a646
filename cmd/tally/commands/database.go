package commands

import (
	"database/sql"
	"time"

	"github.com/teranos/tally/ai/embedding"
	"github.com/teranos/tally/am"
	"github.com/teranos/tally/db"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/ledger/ingest"
	"github.com/teranos/tally/ledger/pipeline"
	"github.com/teranos/tally/ledger/storage"
	"github.com/teranos/tally/logger"
)

// ConfigPath is the file named by --config, empty when the default search
// path is used.
var ConfigPath string

// loadConfig loads and validates the configuration
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithHint(errors.Wrap(err, "invalid config"), "run 'tally am validate' for details")
	}
	return cfg, nil
}

// openStore opens and migrates the database at dbPath, or at the
// configured path when dbPath is empty.
func openStore(cfg *am.Config, dbPath string) (*storage.TransactionStore, *sql.DB, error) {
	if dbPath == "" {
		dbPath = cfg.Database.Path
	}
	database, err := db.OpenWithMigrations(dbPath, logger.ComponentLogger("db"))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return storage.NewTransactionStore(database, logger.ComponentLogger("storage")), database, nil
}

// newPipeline creates a pipeline over store with the configured defaults
func newPipeline(cfg *am.Config, store pipeline.Store) *pipeline.Pipeline {
	return pipeline.New(store, pipeline.ConfigFromAm(cfg), logger.Logger)
}

// newEmbedder returns the configured embedding client, or nil when no
// endpoint is configured.
func newEmbedder(cfg *am.Config) ingest.Embedder {
	client := embedding.NewClient(embedding.Config{
		BaseURL:           cfg.Embedding.BaseURL,
		Model:             cfg.Embedding.Model,
		APIKey:            cfg.Embedding.APIKey,
		MaxAttempts:       cfg.Embedding.MaxAttempts,
		InitialDelay:      time.Duration(cfg.Embedding.InitialDelayMS) * time.Millisecond,
		RequestsPerMinute: cfg.Embedding.RequestsPerMinute,
		BatchSize:         cfg.Embedding.BatchSize,
		Timeout:           time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
		Logger:            logger.Logger,
	})
	if !client.IsConfigured() {
		return nil
	}
	return client
}
