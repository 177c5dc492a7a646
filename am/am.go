package am

// Config represents the tally configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database" toml:"database" json:"database"`
	Server     ServerConfig     `mapstructure:"server" toml:"server" json:"server"`
	Clustering ClusteringConfig `mapstructure:"clustering" toml:"clustering" json:"clustering"`
	Projection ProjectionConfig `mapstructure:"projection" toml:"projection" json:"projection"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding" toml:"embedding" json:"embedding"`
	Cache      CacheConfig      `mapstructure:"cache" toml:"cache" json:"cache"`
	Jobs       JobsConfig       `mapstructure:"jobs" toml:"jobs" json:"jobs"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path" json:"path"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port               int      `mapstructure:"port" toml:"port" json:"port"`
	AllowedOrigins     []string `mapstructure:"allowed_origins" toml:"allowed_origins" json:"allowed_origins"`
	ReadTimeoutSeconds int      `mapstructure:"read_timeout_seconds" toml:"read_timeout_seconds" json:"read_timeout_seconds"`
}

// DefaultServerPort is used when server.port is not configured.
const DefaultServerPort = 8742

// ClusteringConfig holds the density clustering parameters.
//
// MinSamples drives core distances for clustering runs while
// KDistanceMinSamples drives the k-distance curve (k = KDistanceMinSamples-1).
// They are separate because the two paths are tuned independently.
type ClusteringConfig struct {
	MinClusterSize      int     `mapstructure:"min_cluster_size" toml:"min_cluster_size" json:"min_cluster_size"`
	MinSamples          int     `mapstructure:"min_samples" toml:"min_samples" json:"min_samples"`
	KDistanceMinSamples int     `mapstructure:"kdistance_min_samples" toml:"kdistance_min_samples" json:"kdistance_min_samples"`
	Alpha               float64 `mapstructure:"alpha" toml:"alpha" json:"alpha"`
	Normalize           bool    `mapstructure:"normalize" toml:"normalize" json:"normalize"`
	// Above this dimensionality neighbor search is brute force
	KDTreeMaxDims int `mapstructure:"kdtree_max_dims" toml:"kdtree_max_dims" json:"kdtree_max_dims"`
	// 0 = manual only
	ReclusterInterval int `mapstructure:"recluster_interval_seconds" toml:"recluster_interval_seconds" json:"recluster_interval_seconds"`
}

// ProjectionConfig configures the 2D visualization projection.
// Seed 0 seeds the optimizer from the clock.
type ProjectionConfig struct {
	Perplexity   float64 `mapstructure:"perplexity" toml:"perplexity" json:"perplexity"`
	Iterations   int     `mapstructure:"iterations" toml:"iterations" json:"iterations"`
	LearningRate float64 `mapstructure:"learning_rate" toml:"learning_rate" json:"learning_rate"`
	Seed         int64   `mapstructure:"seed" toml:"seed" json:"seed"`
}

// EmbeddingConfig configures the external text-embedding service
type EmbeddingConfig struct {
	BaseURL           string `mapstructure:"base_url" toml:"base_url" json:"base_url"`
	Model             string `mapstructure:"model" toml:"model" json:"model"`
	APIKey            string `mapstructure:"api_key" toml:"api_key" json:"-"`
	MaxAttempts       int    `mapstructure:"max_attempts" toml:"max_attempts" json:"max_attempts"`
	InitialDelayMS    int    `mapstructure:"initial_delay_ms" toml:"initial_delay_ms" json:"initial_delay_ms"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" toml:"requests_per_minute" json:"requests_per_minute"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds"`
	BatchSize         int    `mapstructure:"batch_size" toml:"batch_size" json:"batch_size"`
}

// CacheConfig configures the response cache used by the HTTP API
type CacheConfig struct {
	Size       int `mapstructure:"size" toml:"size" json:"size"`
	TTLSeconds int `mapstructure:"ttl_seconds" toml:"ttl_seconds" json:"ttl_seconds"`
}

// JobsConfig configures the background clustering runner
type JobsConfig struct {
	Workers   int `mapstructure:"workers" toml:"workers" json:"workers"`
	QueueSize int `mapstructure:"queue_size" toml:"queue_size" json:"queue_size"`
}
