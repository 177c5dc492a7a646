package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/teranos/tally/am"
	"github.com/teranos/tally/internal/respcache"
	"github.com/teranos/tally/ledger/ingest"
	"github.com/teranos/tally/ledger/pipeline"
	"github.com/teranos/tally/pulse/async"
	"github.com/teranos/tally/pulse/schedule"
)

// TallyServer serves the clustering API and pushes job completions to
// WebSocket clients.
type TallyServer struct {
	pipeline  *pipeline.Pipeline
	store     ingest.Store
	embedder  ingest.Embedder    // nil when no embedding service is configured
	runner    *async.Runner      // Background job processor
	ticker    *schedule.Ticker   // Periodic recluster, nil when disabled
	responses *respcache.Cache[[]byte]
	logger    *zap.SugaredLogger

	configWatcher  *am.ConfigWatcher // Config watcher for reload on config changes
	allowedOrigins []string
	readTimeout    int

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	// HTTP server with timeouts
	httpServer *http.Server

	// Lifecycle management
	ctx            context.Context    // Cancellation context for graceful shutdown
	cancel         context.CancelFunc // Cancels all goroutines
	wg             sync.WaitGroup     // Tracks active goroutines for clean shutdown
	broadcastDrops atomic.Int64       // Tracks dropped broadcasts for monitoring
	state          atomic.Int32
}

// handleClientRegister handles a new client connection
func (s *TallyServer) handleClientRegister(client *Client) {
	s.mu.Lock()
	if len(s.clients) >= MaxClients {
		s.mu.Unlock()
		s.logger.Warnw("Max clients reached, rejecting connection",
			"client_id", client.id,
			"max_clients", MaxClients,
		)
		client.close()
		return
	}
	s.clients[client] = true
	totalClients := len(s.clients)
	s.mu.Unlock()

	s.logger.Infow("Client connected",
		"client_id", client.id,
		"total_clients", totalClients,
	)
}

// handleClientUnregister handles a client disconnection
func (s *TallyServer) handleClientUnregister(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, client)
	totalClients := len(s.clients)
	s.mu.Unlock()

	client.close()
	s.logger.Infow("Client disconnected",
		"client_id", client.id,
		"total_clients", totalClients,
	)
}

// clientCount returns the number of connected WebSocket clients
func (s *TallyServer) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Run starts the server hub event loop
func (s *TallyServer) Run() {
	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debugw("Server hub stopping due to context cancellation")
			return
		case client := <-s.register:
			s.handleClientRegister(client)
		case client := <-s.unregister:
			s.handleClientUnregister(client)
		}
	}
}

// Pipeline returns the clustering pipeline the server drives
func (s *TallyServer) Pipeline() *pipeline.Pipeline {
	return s.pipeline
}

// Runner returns the background job runner
func (s *TallyServer) Runner() *async.Runner {
	return s.runner
}
