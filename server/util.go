package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/teranos/tally/errors"
)

// upgrader creates a WebSocket upgrader with origin checking from config
func (s *TallyServer) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  2048,
		WriteBufferSize: 2048,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin validates the request origin against server.allowed_origins.
// Prefix matching allows any port number.
func (s *TallyServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// Allow requests with no origin header (e.g., direct WebSocket clients, testing)
	if origin == "" {
		return true
	}

	s.mu.RLock()
	allowed := s.allowedOrigins
	s.mu.RUnlock()

	for _, allowedOrigin := range allowed {
		if strings.HasPrefix(origin, allowedOrigin) {
			return true
		}
	}
	return false
}

// isPortAvailable checks if a port is available for binding
func isPortAvailable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = listener.Close() // best-effort check, the real bind reports failures
	return true
}

// findAvailablePort tries the requested port, then up to 10 ports above it
func findAvailablePort(requestedPort int) (int, error) {
	for port := requestedPort; port <= requestedPort+10; port++ {
		if isPortAvailable(port) {
			return port, nil
		}
	}
	return 0, errors.Newf("no available port in range %d-%d", requestedPort, requestedPort+10)
}
