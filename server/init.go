package server

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/tally/am"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/internal/respcache"
	"github.com/teranos/tally/ledger/ingest"
	"github.com/teranos/tally/ledger/pipeline"
	"github.com/teranos/tally/pulse/async"
	"github.com/teranos/tally/pulse/schedule"
)

// Store is the persistence the server needs. *storage.TransactionStore
// implements it.
type Store interface {
	pipeline.Store
	ingest.Store
}

// Options holds the dependencies of a TallyServer
type Options struct {
	Store  Store
	Config *am.Config
	// Embedder enables the embedding fill endpoint; nil disables it.
	Embedder ingest.Embedder
	// ConfigPath enables reload on config file changes when non-empty.
	ConfigPath string
	Logger     *zap.SugaredLogger
}

// NewTallyServer creates a server with its pipeline, job runner and
// optional recluster ticker. Nothing runs until Start.
func NewTallyServer(opts Options) (*TallyServer, error) {
	if opts.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if opts.Config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	serverLogger := opts.Logger
	if serverLogger == nil {
		serverLogger = zap.NewNop().Sugar()
	}
	serverLogger = serverLogger.Named("server")
	cfg := opts.Config

	ctx, cancel := context.WithCancel(context.Background())

	p := pipeline.New(opts.Store, pipeline.ConfigFromAm(cfg), serverLogger)
	registry := async.NewHandlerRegistry()
	pipeline.RegisterHandlers(registry, p)
	ingest.RegisterHandlers(registry, opts.Store, opts.Embedder, serverLogger)

	runner := async.NewRunner(ctx, registry, async.RunnerConfig{
		Workers:   cfg.Jobs.Workers,
		QueueSize: cfg.Jobs.QueueSize,
	}, serverLogger)

	s := &TallyServer{
		pipeline:       p,
		store:          opts.Store,
		embedder:       opts.Embedder,
		runner:         runner,
		responses:      respcache.New[[]byte](cfg.Cache.Size, time.Duration(cfg.Cache.TTLSeconds)*time.Second),
		logger:         serverLogger,
		allowedOrigins: cfg.Server.AllowedOrigins,
		readTimeout:    cfg.Server.ReadTimeoutSeconds,
		clients:        make(map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		ctx:            ctx,
		cancel:         cancel,
	}

	if cfg.Clustering.ReclusterInterval > 0 {
		ticker, err := schedule.NewTicker(ctx, runner, schedule.TickerConfig{
			Interval:    time.Duration(cfg.Clustering.ReclusterInterval) * time.Second,
			HandlerName: pipeline.ClusterHandlerName,
			Payload: func() (json.RawMessage, error) {
				return json.Marshal(s.pipeline.Config().Defaults)
			},
			OnComplete: s.onJobComplete,
		}, serverLogger)
		if err != nil {
			cancel()
			return nil, errors.Wrap(err, "failed to create recluster ticker")
		}
		s.ticker = ticker
	}

	if opts.ConfigPath != "" {
		s.setupConfigWatcher(opts.ConfigPath)
	}

	s.setState(ServerStateRunning)
	return s, nil
}

// setupConfigWatcher reloads clustering defaults, cache bounds and allowed
// origins when the config file changes. Failure to watch is not fatal.
func (s *TallyServer) setupConfigWatcher(configPath string) {
	configWatcher, err := am.NewConfigWatcher(configPath, s.logger)
	if err != nil {
		s.logger.Warnw("Failed to create config watcher, manual restart required for config changes", "error", err)
		return
	}
	s.configWatcher = configWatcher
	configWatcher.OnReload(s.applyConfig)
}

// applyConfig swaps in reloadable settings from cfg
func (s *TallyServer) applyConfig(cfg *am.Config) error {
	s.pipeline.UpdateConfig(pipeline.ConfigFromAm(cfg))
	s.responses.Resize(cfg.Cache.Size, time.Duration(cfg.Cache.TTLSeconds)*time.Second)

	s.mu.Lock()
	s.allowedOrigins = cfg.Server.AllowedOrigins
	s.mu.Unlock()

	s.logger.Infow("Config reloaded",
		"min_cluster_size", cfg.Clustering.MinClusterSize,
		"min_samples", cfg.Clustering.MinSamples,
		"cache_size", cfg.Cache.Size,
		"cache_ttl_seconds", cfg.Cache.TTLSeconds,
	)
	return nil
}
