package server

// HTTP handlers for the clustering API:
// - WebSocket notifications (HandleWebSocket)
// - Clustering trigger, k-distance curve and run history
// - Clustered transactions, similarity queries and the projection

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/internal/respcache"
	"github.com/teranos/tally/ledger/ingest"
	"github.com/teranos/tally/ledger/pipeline"
	"github.com/teranos/tally/pulse/async"
	"github.com/teranos/tally/version"
)

const (
	defaultRunLimit     = 20
	maxRunLimit         = 200
	defaultSimilarLimit = 10
	maxSimilarLimit     = 100
)

// HandleWebSocket upgrades the connection and registers a client that
// receives job completion messages.
func (s *TallyServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		server:  s,
		conn:    conn,
		sendMsg: make(chan interface{}, MaxClientMessageQueueSize),
		id:      uuid.NewString(),
	}

	select {
	case s.register <- client:
	case <-s.ctx.Done():
		conn.Close()
		return
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		client.writePump()
	}()
	go func() {
		defer s.wg.Done()
		client.readPump()
	}()
}

// HandleHealth reports server status
func (s *TallyServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	versionInfo := version.Get()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"state":       stateString(s.getState()),
		"version":     versionInfo.Version,
		"commit":      versionInfo.CommitHash,
		"clients":     s.clientCount(),
		"jobs":        len(s.runner.List()),
		"cache_items": s.responses.Len(),
		"embedding":   s.embedder != nil,
	})
}

// clusterTrigger is the body of POST /api/cluster
type clusterTrigger struct {
	pipeline.ClusterRequest
	Wait bool `json:"wait,omitempty"`
}

// HandleCluster triggers a clustering run over the current snapshot.
// Body fields left out take the configured defaults.
//
// By default the run is queued and 202 {job_id, status} is returned;
// completion is pushed to WebSocket clients. With ?wait=true the request
// (or "wait": true in the body) blocks and returns the run summary.
func (s *TallyServer) HandleCluster(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req clusterTrigger
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	params := s.pipeline.Resolve(req.ClusterRequest)
	if err := s.pipeline.Validate(params); err != nil {
		writeWrappedError(w, s.logger, err, "invalid cluster parameters")
		return
	}

	job, err := pipeline.NewClusterJob(params, "api")
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to create cluster job")
		return
	}

	if req.Wait || parseBoolQueryParam(r, "wait") {
		finished, err := s.runner.Run(r.Context(), job, s.onJobComplete)
		if err != nil {
			writeWrappedError(w, s.logger, err, "clustering run failed")
			return
		}
		var summary pipeline.RunSummary
		if err := finished.DecodeResult(&summary); err != nil {
			writeWrappedError(w, s.logger, err, "failed to decode run summary")
			return
		}
		writeJSON(w, http.StatusOK, summary)
		return
	}

	if err := s.runner.Enqueue(job, s.onJobComplete); err != nil {
		writeWrappedError(w, s.logger, err, "failed to enqueue cluster job")
		return
	}
	s.logger.Infow("Cluster job queued",
		"job_id", shortID(job.ID),
		"min_cluster_size", params.MinClusterSize,
		"min_samples", params.MinSamples,
	)
	writeJSON(w, http.StatusAccepted, ClusterAccepted{JobID: job.ID, Status: async.JobStatusQueued})
}

// HandleKDistance serves the sorted k-distance curve.
// Query parameters:
//   - ?min_samples=N - k = N-1; defaults to clustering.kdistance_min_samples
func (s *TallyServer) HandleKDistance(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	minSamples, err := parseStrictIntParam(r, "min_samples", 1, 10000)
	if err != nil {
		writeWrappedError(w, s.logger, err, "invalid k-distance request")
		return
	}

	key := respcache.Key("kdistance", strconv.Itoa(minSamples))
	s.serveCached(w, key, func() (interface{}, error) {
		return s.pipeline.KDistance(r.Context(), minSamples)
	}, "k-distance computation failed")
}

// HandleRuns lists committed clustering runs, newest first
func (s *TallyServer) HandleRuns(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	limit := parseIntQueryParam(r, "limit", defaultRunLimit, 1, maxRunLimit)
	runs, err := s.pipeline.Runs(r.Context(), limit)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs, "count": len(runs)})
}

// HandleClustered serves the latest run's transactions grouped by cluster.
// Query parameters:
//   - ?month=1-12 and ?year=YYYY filter by transaction date
//   - ?include_noise=true adds the noise group (default false)
//   - ?limit=N caps the number of transactions read
func (s *TallyServer) HandleClustered(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	month, err := parseStrictIntParam(r, "month", 1, 12)
	if err != nil {
		writeWrappedError(w, s.logger, err, "invalid clustered query")
		return
	}
	year, err := parseStrictIntParam(r, "year", 1, 9999)
	if err != nil {
		writeWrappedError(w, s.logger, err, "invalid clustered query")
		return
	}
	includeNoise := parseBoolQueryParam(r, "include_noise")
	limit := parseIntQueryParam(r, "limit", pipeline.DefaultClusteredLimit, 1, 100000)

	q := pipeline.ClusteredQuery{Month: month, Year: year, IncludeNoise: includeNoise, Limit: limit}
	key := respcache.Key("clustered", strconv.Itoa(month), strconv.Itoa(year), strconv.FormatBool(includeNoise), strconv.Itoa(limit))
	s.serveCached(w, key, func() (interface{}, error) {
		return s.pipeline.Clustered(r.Context(), q)
	}, "failed to load clustered transactions")
}

// HandleSimilar serves the nearest neighbors of one transaction.
// Query parameters:
//   - ?limit=N or ?k=N - number of neighbors (default 10)
func (s *TallyServer) HandleSimilar(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing transaction ID")
		return
	}
	k := parseIntQueryParam(r, "limit", defaultSimilarLimit, 1, maxSimilarLimit)
	k = parseIntQueryParam(r, "k", k, 1, maxSimilarLimit)

	result, err := s.pipeline.Similar(r.Context(), id, k)
	if err != nil {
		writeWrappedError(w, s.logger, err, fmt.Sprintf("similarity query failed (id=%s)", id))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleProjection serves the stored 2D projection (GET) or recomputes it
// (POST, queued; ?wait=true blocks and returns the projection summary).
func (s *TallyServer) HandleProjection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.serveCached(w, respcache.Key("projection"), func() (interface{}, error) {
			points, err := s.pipeline.Projections(r.Context())
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"points": points, "count": len(points)}, nil
		}, "failed to load projection")
	case http.MethodPost:
		job, err := pipeline.NewProjectionJob("api")
		if err != nil {
			writeWrappedError(w, s.logger, err, "failed to create projection job")
			return
		}
		s.submit(w, r, job, func(finished *async.Job) (interface{}, error) {
			var summary pipeline.ProjectionSummary
			err := finished.DecodeResult(&summary)
			return summary, err
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleEmbeddingFill queues a job that embeds every transaction without
// an embedding.
// Query parameters:
//   - ?batch_size=N - transactions per embedding request round
//   - ?wait=true - block and return the fill summary
func (s *TallyServer) HandleEmbeddingFill(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if s.embedder == nil {
		writeError(w, http.StatusServiceUnavailable, "Embedding service not configured")
		return
	}

	batchSize := parseIntQueryParam(r, "batch_size", ingest.DefaultEmbedBatchSize, 1, 1024)
	job, err := ingest.NewEmbedJob(batchSize, "api")
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to create embedding job")
		return
	}
	s.submit(w, r, job, func(finished *async.Job) (interface{}, error) {
		var result ingest.EmbedResult
		err := finished.DecodeResult(&result)
		return result, err
	})
}

// HandleCSVImport queues an import of a CSV export readable by the server.
// Body: {"path": "...", "since": "2024-01-01", "dry_run": false}
// Query parameters:
//   - ?wait=true - block and return the import summary
func (s *TallyServer) HandleCSVImport(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var payload ingest.CSVPayload
	if err := readJSON(w, r, &payload); err != nil {
		return
	}
	if payload.Path == "" {
		writeWrappedError(w, s.logger, errors.NewInvalidRequestError("path is required"), "invalid import request")
		return
	}

	job, err := ingest.NewCSVJob(payload, "api")
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to create import job")
		return
	}
	s.submit(w, r, job, func(finished *async.Job) (interface{}, error) {
		var result ingest.Result
		err := finished.DecodeResult(&result)
		return result, err
	})
}

// submit runs job synchronously with ?wait=true, otherwise queues it and
// answers 202.
func (s *TallyServer) submit(w http.ResponseWriter, r *http.Request, job *async.Job, decode func(*async.Job) (interface{}, error)) {
	if parseBoolQueryParam(r, "wait") {
		finished, err := s.runner.Run(r.Context(), job, s.onJobComplete)
		if err != nil {
			writeWrappedError(w, s.logger, err, job.HandlerName+" job failed")
			return
		}
		result, err := decode(finished)
		if err != nil {
			writeWrappedError(w, s.logger, err, "failed to decode job result")
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if err := s.runner.Enqueue(job, s.onJobComplete); err != nil {
		writeWrappedError(w, s.logger, err, "failed to enqueue "+job.HandlerName+" job")
		return
	}
	writeJSON(w, http.StatusAccepted, ClusterAccepted{JobID: job.ID, Status: async.JobStatusQueued})
}

// serveCached answers from the response cache, computing and storing the
// body on a miss. Errors are never cached.
func (s *TallyServer) serveCached(w http.ResponseWriter, key string, compute func() (interface{}, error), errContext string) {
	if body, ok := s.responses.Get(key); ok {
		w.Header().Set("X-Cache", "hit")
		writeRawJSON(w, http.StatusOK, body)
		return
	}

	data, err := compute()
	if err != nil {
		writeWrappedError(w, s.logger, err, errContext)
		return
	}
	body, err := json.Marshal(data)
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to encode response")
		return
	}
	s.responses.Set(key, body)
	w.Header().Set("X-Cache", "miss")
	writeRawJSON(w, http.StatusOK, body)
}
