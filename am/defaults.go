package am

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "tally.db")

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"http://127.0.0.1",
	})
	v.SetDefault("server.read_timeout_seconds", 30)

	// Clustering defaults
	v.SetDefault("clustering.min_cluster_size", 5)
	v.SetDefault("clustering.min_samples", 3)
	v.SetDefault("clustering.kdistance_min_samples", 3) // k = 2
	v.SetDefault("clustering.alpha", 1.0)
	v.SetDefault("clustering.normalize", true)
	v.SetDefault("clustering.kdtree_max_dims", 16)
	v.SetDefault("clustering.recluster_interval_seconds", 0)

	// Projection defaults
	v.SetDefault("projection.perplexity", 30.0) // capped at n-1 per run
	v.SetDefault("projection.iterations", 500)
	v.SetDefault("projection.learning_rate", 200.0)
	v.SetDefault("projection.seed", 0)

	// Embedding service defaults
	v.SetDefault("embedding.base_url", "http://localhost:11434/v1")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.max_attempts", 5)
	v.SetDefault("embedding.initial_delay_ms", 1000)
	v.SetDefault("embedding.requests_per_minute", 60)
	v.SetDefault("embedding.timeout_seconds", 30)
	v.SetDefault("embedding.batch_size", 32)

	// Response cache defaults
	v.SetDefault("cache.size", 128)
	v.SetDefault("cache.ttl_seconds", 300)

	// Background runner defaults
	v.SetDefault("jobs.workers", 1)
	v.SetDefault("jobs.queue_size", 16)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("embedding.api_key", "TALLY_EMBEDDING_API_KEY")
}
