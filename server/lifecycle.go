package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/teranos/tally/errors"
)

// getState returns the current server state
func (s *TallyServer) getState() ServerState {
	return ServerState(s.state.Load())
}

// setState atomically updates the server state
func (s *TallyServer) setState(newState ServerState) {
	s.state.Store(int32(newState))
	s.logger.Debugw("Server state changed", "new_state", stateString(newState))
}

// stateString returns human-readable state name
func stateString(state ServerState) string {
	switch state {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// startBackgroundServices starts the hub, the job runner, the recluster
// ticker and the config watcher
func (s *TallyServer) startBackgroundServices() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run()
	}()

	s.runner.Start()
	if s.ticker != nil {
		s.ticker.Start()
		s.logger.Infow("Recluster ticker started")
	}
	if s.configWatcher != nil {
		s.configWatcher.Start()
		s.logger.Infow("Config watcher started")
	}
}

// Start serves the API on the given port, or the next free port above it.
// It blocks until the server is stopped.
func (s *TallyServer) Start(port int) error {
	actualPort, err := findAvailablePort(port)
	if err != nil {
		return errors.Wrap(err, "failed to find available port")
	}
	if actualPort != port {
		s.logger.Infow("Port in use, using alternative",
			"requested_port", port,
			"actual_port", actualPort,
		)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", actualPort))
	if err != nil {
		return errors.Wrapf(err, "failed to listen on port %d", actualPort)
	}
	return s.Serve(listener)
}

// Serve starts background services and serves the API on listener until
// Stop is called.
func (s *TallyServer) Serve(listener net.Listener) error {
	s.startBackgroundServices()

	readTimeout := time.Duration(s.readTimeout) * time.Second
	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	s.logger.Infow("Server ready", "url", fmt.Sprintf("http://%s", listener.Addr()))
	if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Stop gracefully shuts down the server and cleans up resources
func (s *TallyServer) Stop() error {
	if s.getState() == ServerStateStopped {
		return nil
	}
	s.logger.Infow("Initiating server shutdown")
	s.setState(ServerStateDraining)

	// Stop producing jobs before stopping the runner
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.runner.Stop()

	s.mu.Lock()
	httpServer := s.httpServer
	clientsToClose := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clientsToClose = append(clientsToClose, client)
		delete(s.clients, client)
	}
	s.mu.Unlock()

	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		if err := httpServer.Shutdown(ctx); err != nil {
			s.logger.Warnw("HTTP server shutdown incomplete", "error", err)
		}
		cancel()
	}

	// Close connections to unblock readPump before cancelling the context
	for _, client := range clientsToClose {
		client.close()
		if client.conn != nil {
			client.conn.Close()
		}
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Debugw("All goroutines stopped cleanly")
	case <-time.After(ShutdownTimeout):
		s.logger.Warnw("Goroutine shutdown timed out, forcing exit", "timeout", ShutdownTimeout)
	}

	if s.configWatcher != nil {
		if err := s.configWatcher.Stop(); err != nil {
			s.logger.Warnw("Failed to stop config watcher", "error", err)
		}
	}

	s.setState(ServerStateStopped)
	s.logger.Infow("Server shutdown complete",
		"broadcast_drops", s.broadcastDrops.Load(),
	)
	return nil
}
