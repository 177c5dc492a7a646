package am

import "github.com/teranos/tally/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be in 1..65535, got %d", c.Server.Port)
	}

	if c.Clustering.MinClusterSize < 1 {
		return errors.Newf("clustering.min_cluster_size must be >= 1, got %d", c.Clustering.MinClusterSize)
	}
	if c.Clustering.MinSamples < 1 {
		return errors.Newf("clustering.min_samples must be >= 1, got %d", c.Clustering.MinSamples)
	}
	if c.Clustering.KDistanceMinSamples < 2 {
		return errors.Newf("clustering.kdistance_min_samples must be >= 2, got %d", c.Clustering.KDistanceMinSamples)
	}
	if c.Clustering.Alpha <= 0 {
		return errors.Newf("clustering.alpha must be > 0, got %f", c.Clustering.Alpha)
	}
	if c.Clustering.KDTreeMaxDims < 0 {
		return errors.Newf("clustering.kdtree_max_dims must be >= 0, got %d", c.Clustering.KDTreeMaxDims)
	}
	if c.Clustering.ReclusterInterval < 0 {
		return errors.Newf("clustering.recluster_interval_seconds must be >= 0, got %d", c.Clustering.ReclusterInterval)
	}

	if c.Projection.Perplexity <= 0 {
		return errors.Newf("projection.perplexity must be > 0, got %f", c.Projection.Perplexity)
	}
	if c.Projection.Iterations <= 0 {
		return errors.Newf("projection.iterations must be > 0, got %d", c.Projection.Iterations)
	}
	if c.Projection.LearningRate <= 0 {
		return errors.Newf("projection.learning_rate must be > 0, got %f", c.Projection.LearningRate)
	}

	// Embedding service is optional; validate only what is set
	if c.Embedding.MaxAttempts < 1 {
		return errors.Newf("embedding.max_attempts must be >= 1, got %d", c.Embedding.MaxAttempts)
	}
	if c.Embedding.InitialDelayMS < 0 {
		return errors.Newf("embedding.initial_delay_ms must be >= 0, got %d", c.Embedding.InitialDelayMS)
	}
	if c.Embedding.RequestsPerMinute < 0 {
		return errors.Newf("embedding.requests_per_minute must be >= 0, got %d", c.Embedding.RequestsPerMinute)
	}

	// Cache size 0 disables caching
	if c.Cache.Size < 0 {
		return errors.Newf("cache.size must be >= 0, got %d", c.Cache.Size)
	}
	if c.Cache.TTLSeconds < 0 {
		return errors.Newf("cache.ttl_seconds must be >= 0, got %d", c.Cache.TTLSeconds)
	}

	if c.Jobs.Workers < 1 {
		return errors.Newf("jobs.workers must be >= 1, got %d", c.Jobs.Workers)
	}
	if c.Jobs.QueueSize < 1 {
		return errors.Newf("jobs.queue_size must be >= 1, got %d", c.Jobs.QueueSize)
	}

	return nil
}
