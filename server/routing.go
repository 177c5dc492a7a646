package server

import (
	"net/http"
)

// Handler returns the HTTP routes of the API
func (s *TallyServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.corsMiddleware(s.HandleWebSocket)) // Job completion notifications
	mux.HandleFunc("/health", s.corsMiddleware(s.HandleHealth))
	mux.HandleFunc("/api/cluster", s.corsMiddleware(s.HandleCluster))                   // Trigger a clustering run (POST)
	mux.HandleFunc("/api/cluster/kdistance", s.corsMiddleware(s.HandleKDistance))       // k-distance curve (GET)
	mux.HandleFunc("/api/runs", s.corsMiddleware(s.HandleRuns))                         // Run history (GET)
	mux.HandleFunc("/api/jobs", s.corsMiddleware(s.HandleJobs))                         // List jobs (GET)
	mux.HandleFunc("/api/jobs/{id}", s.corsMiddleware(s.HandleJob))                     // Job status (GET)
	mux.HandleFunc("/api/transactions/clustered", s.corsMiddleware(s.HandleClustered))  // Latest run grouped by cluster (GET)
	mux.HandleFunc("/api/transactions/{id}/similar", s.corsMiddleware(s.HandleSimilar)) // Nearest neighbors of one transaction (GET)
	mux.HandleFunc("/api/projection", s.corsMiddleware(s.HandleProjection))             // Stored projection (GET) or recompute (POST)
	mux.HandleFunc("/api/ingest/csv", s.corsMiddleware(s.HandleCSVImport))              // Import a CSV export (POST)
	mux.HandleFunc("/api/ingest/embeddings", s.corsMiddleware(s.HandleEmbeddingFill))   // Fill missing embeddings (POST)

	return mux
}

// corsMiddleware adds CORS headers to HTTP responses using configured allowed origins
// Uses the same origin validation as WebSocket connections (server.allowed_origins config)
func (s *TallyServer) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		if s.getState() != ServerStateRunning {
			w.Header().Set("Retry-After", "5")
			writeError(w, http.StatusServiceUnavailable, "Server is shutting down")
			return
		}

		next(w, r)
	}
}
