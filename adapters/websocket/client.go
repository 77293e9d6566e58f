package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/cocoa-fruit/primeworks/utils/log"
)

// Inbound is a message sent by a client.
type Inbound struct {
	Type      string      `json:"type"`
	JobID     string      `json:"job_id,omitempty"`
	Bound     json.Number `json:"bound,omitempty"`
	ChunkSize json.Number `json:"chunk_size,omitempty"`
}

type ErrorResponse struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4 * 1024
	sendBuffer     = 256
)

type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	onMessage func(*Client, Inbound)

	mu     sync.RWMutex
	closed bool
	// watch holds the job ids the client follows; empty means every job.
	watch map[string]struct{}
}

// NewClient creates a new WebSocket client
func NewClient(conn *websocket.Conn, clientID string, onMessage func(*Client, Inbound)) *Client {
	ctx := log.WithValue(context.Background(), log.ClientIDKey, clientID)
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		ctx:       ctx,
		cancel:    cancel,
		onMessage: onMessage,
		watch:     make(map[string]struct{}),
	}
}

func (c *Client) Run() {
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	c.conn.SetCloseHandler(func(code int, text string) error {
		log.WithCtx(c.ctx).Debug("WebSocket connection closed", zap.Int("code", code), zap.String("text", text))
		c.Close()
		return nil
	})

	go c.readPump()
	go c.writePump()
}

// Close gracefully closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	c.conn.Close()
}

// IsClosed returns true if the client connection is closed
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Context returns the client's context
func (c *Client) Context() context.Context {
	return c.ctx
}

func (c *Client) Watch(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watch[jobID] = struct{}{}
}

// Watches reports whether events of jobID should reach this client.
func (c *Client) Watches(jobID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.watch) == 0 {
		return true
	}
	_, ok := c.watch[jobID]
	return ok
}

// SendMessage queues a message. A client that cannot keep up is closed.
func (c *Client) SendMessage(message []byte) error {
	if c.IsClosed() {
		return websocket.ErrCloseSent
	}

	select {
	case c.send <- message:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		log.WithCtx(c.ctx).Warn("Send buffer full, closing client")
		c.Close()
		return websocket.ErrCloseSent
	}
}

func (c *Client) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.SendMessage(data)
}

func (c *Client) SendError(code, message string) error {
	return c.SendJSON(ErrorResponse{Type: "error", Code: code, Message: message})
}

// readPump handles incoming WebSocket messages
func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !c.IsClosed() {
				log.WithCtx(c.ctx).Error("WebSocket error", zap.Error(err))
			}
			return
		}

		var in Inbound
		if err := json.Unmarshal(message, &in); err != nil {
			c.SendError("invalid_argument", "message must be a JSON object with a type")
			continue
		}
		log.WithCtx(c.ctx).Debug("Received message", zap.String("type", in.Type), zap.String("job_id", in.JobID))
		if c.onMessage != nil {
			c.onMessage(c, in)
		}
	}
}

// writePump is the only writer of data frames on the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.WithCtx(c.ctx).Debug("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.WithCtx(c.ctx).Debug("Failed to send ping", zap.Error(err))
				return
			}

		case <-c.ctx.Done():
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
