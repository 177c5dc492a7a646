package server

// Job completion fan-out: every job the server enqueues reports back
// through onJobComplete, which invalidates cached responses and notifies
// WebSocket clients.

import (
	"time"

	"github.com/teranos/tally/ledger/pipeline"
	"github.com/teranos/tally/pulse/async"
)

// broadcastMessage sends a message to all connected clients.
// Returns the number of clients that accepted the message (queue not full).
func (s *TallyServer) broadcastMessage(msg interface{}) int {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		if client.sendJSON(msg) {
			sent++
		}
	}
	return sent
}

// onJobComplete is the completion callback for every job the server
// enqueues. Results computed before the job finished may be stale, so the
// response cache is purged before clients are told.
func (s *TallyServer) onJobComplete(job *async.Job) {
	if job.Status == async.JobStatusCompleted {
		s.responses.Purge()
	}

	msgType := MessageJobUpdate
	if job.HandlerName == pipeline.ClusterHandlerName {
		msgType = MessageClusterComplete
	}
	sent := s.broadcastMessage(JobUpdateMessage{
		Type:      msgType,
		Job:       job,
		Timestamp: time.Now().Unix(),
	})

	s.logger.Infow("Job finished",
		"job_id", shortID(job.ID),
		"handler", job.HandlerName,
		"status", job.Status,
		"error_code", job.ErrorCode,
		"notified_clients", sent,
	)
}
