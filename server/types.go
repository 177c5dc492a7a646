package server

import (
	"time"

	"github.com/teranos/tally/pulse/async"
)

const (
	// MaxClients is the maximum number of concurrent WebSocket clients
	MaxClients = 100
	// MaxClientMessageQueueSize is the size of per-client message queues
	MaxClientMessageQueueSize = 256
	// ShutdownTimeout is how long to wait for graceful shutdown. Covers a
	// clustering job that is mid-run when the runner is stopped.
	ShutdownTimeout = 30 * time.Second
)

// ServerState represents the server lifecycle state
type ServerState int

const (
	ServerStateRunning  ServerState = iota // Normal operation
	ServerStateDraining                    // Graceful shutdown in progress
	ServerStateStopped                     // Shutdown complete
)

// Message types pushed to WebSocket clients
const (
	MessageJobUpdate       = "job_update"
	MessageClusterComplete = "cluster_complete"
	MessagePong            = "pong"
	MessageError           = "error"
)

// ClientMessage is a message received from a WebSocket client
type ClientMessage struct {
	Type  string `json:"type"`             // "ping" or "job_status"
	JobID string `json:"job_id,omitempty"` // For job_status messages
}

// JobUpdateMessage reports a job's state. Type is cluster_complete when a
// clustering job reached a terminal status, job_update otherwise.
type JobUpdateMessage struct {
	Type      string     `json:"type"`
	Job       *async.Job `json:"job"`
	Timestamp int64      `json:"timestamp"`
}

// PongMessage answers a client ping
type PongMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorMessage reports a problem with a client message
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClusterAccepted is the response to an asynchronous cluster trigger
type ClusterAccepted struct {
	JobID  string          `json:"job_id"`
	Status async.JobStatus `json:"status"`
}

// InfoResponse carries an informational outcome, such as too few points
// to cluster.
type InfoResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every error status
type ErrorResponse struct {
	Error string   `json:"error"`
	Code  string   `json:"code,omitempty"`
	Hints []string `json:"hints,omitempty"`
}
