package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket timeouts
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Clients only send small control messages
	maxMessageSize = 64 * 1024
)

// Client represents a WebSocket client connection
type Client struct {
	server  *TallyServer
	conn    *websocket.Conn
	sendMsg chan interface{}
	id      string

	mu     sync.Mutex // guards sendMsg against send-after-close
	closed bool
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			c.server.logger.Warnw("JSON unmarshal error",
				"error", err.Error(),
				"client_id", c.id,
			)
			c.sendJSON(ErrorMessage{Type: MessageError, Message: "invalid message"})
			continue
		}
		c.routeMessage(&msg)
	}
}

// handleReadError logs unexpected WebSocket read errors.
// Expected closure codes (going away, abnormal, no status) are silently ignored.
func (c *Client) handleReadError(err error) {
	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseNoStatusReceived,
	) {
		c.server.logger.Warnw("WebSocket read error",
			"error", err,
			"client_id", c.id,
		)
	}
}

// routeMessage dispatches incoming WebSocket messages
func (c *Client) routeMessage(msg *ClientMessage) {
	switch msg.Type {
	case "ping":
		c.sendJSON(PongMessage{Type: MessagePong, Timestamp: time.Now().Unix()})
	case "job_status":
		job, ok := c.server.runner.Get(msg.JobID)
		if !ok {
			c.sendJSON(ErrorMessage{Type: MessageError, Message: "job " + msg.JobID + " not found"})
			return
		}
		c.sendJSON(JobUpdateMessage{Type: MessageJobUpdate, Job: job, Timestamp: time.Now().Unix()})
	default:
		c.sendJSON(ErrorMessage{Type: MessageError, Message: "unknown message type: " + msg.Type})
	}
}

// writePump writes queued messages and keepalive pings to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.server.ctx.Done():
			return
		case msg, ok := <-c.sendMsg:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.logger.Debugw("Message write error",
					"error", err.Error(),
					"client_id", c.id,
				)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendJSON queues a message for this client. It reports false when the
// client is closed or its queue is full; the message is dropped.
func (c *Client) sendJSON(data interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.sendMsg <- data:
		return true
	default:
		c.server.broadcastDrops.Add(1)
		return false
	}
}

// close closes the client's send channel exactly once
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.sendMsg)
	}
}
