// ABOUTME: In-memory connection registry mapping a user to their live connections
// ABOUTME: Fans serialized frames out to every connection, best-effort per connection

package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	// sendBufferSize is the per-connection outbound queue depth.
	sendBufferSize = 64

	writeTimeout      = 10 * time.Second
	keepaliveInterval = 25 * time.Second
	pingTimeout       = 5 * time.Second
)

// Socket is the transport side of a registered connection. *websocket.Conn
// satisfies it; tests substitute fakes.
type Socket interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

// Client is one live connection bound to a single user for its lifetime.
// Frames are enqueued on a buffered channel and drained by a single write
// pump, so a slow connection never blocks delivery to its siblings.
type Client struct {
	UserID string

	sock   Socket
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	start  sync.Once
	logger *slog.Logger
}

// NewClient wraps an accepted socket for registration.
func NewClient(userID string, sock Socket, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		UserID: userID,
		sock:   sock,
		send:   make(chan []byte, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("component", "hub", "user_id", userID),
	}
}

// Send enqueues a frame for this connection. Returns false when the
// connection is closing or its queue is full; the frame is dropped and the
// connection is expected to clean itself up through its own lifecycle.
func (c *Client) Send(payload []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// writePump drains the send queue onto the socket. A write failure closes
// the socket, which unblocks the connection's reader and routes it to
// unregistration.
func (c *Client) writePump() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case payload := <-c.send:
			writeCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.sock.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				c.logger.Debug("write failed, closing connection", "error", err)
				c.cancel()
				_ = c.sock.Close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

// keepalive pings the peer so intermediaries keep the connection open.
func (c *Client) keepalive() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
			err := c.sock.Ping(pingCtx)
			cancel()
			if err != nil {
				c.logger.Debug("ping failed, closing connection", "error", err)
				c.cancel()
				_ = c.sock.Close(websocket.StatusAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

// Hub tracks which live connections belong to which user. All methods are
// safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	logger  *slog.Logger
}

// New creates a hub. Pass nil logger for default.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logger.With("component", "hub"),
	}
}

// Register adds the client to its user's connection set and starts its
// write and keepalive pumps. Registering the same client twice is a no-op.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.UserID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	c.start.Do(func() {
		go c.writePump()
		go c.keepalive()
	})

	h.logger.Debug("connection registered", "user_id", c.UserID)
}

// Unregister removes the client and stops its pumps. When the user's set
// becomes empty the entry is removed entirely. Unregistering a client
// that is not registered is a no-op.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.UserID]
	if ok {
		if _, present := set[c]; present {
			delete(set, c)
			if len(set) == 0 {
				delete(h.clients, c.UserID)
			}
		} else {
			ok = false
		}
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	c.cancel()
	_ = c.sock.Close(websocket.StatusNormalClosure, "bye")
	h.logger.Debug("connection unregistered", "user_id", c.UserID)
}

// SendToUser delivers the serialized payload to every currently registered
// connection of the user. A connection that cannot accept the payload is
// skipped; failure is logged, never propagated to the caller.
func (h *Hub) SendToUser(userID string, payload []byte) {
	h.mu.RLock()
	set := h.clients[userID]
	targets := make([]*Client, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.Send(payload) {
			h.logger.Warn("dropped frame for slow or closing connection",
				"user_id", userID)
		}
	}
}

// Connections reports how many live connections a user has registered.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// HasUser reports whether the registry holds any entry for the user.
// After the last connection unregisters this returns false.
func (h *Hub) HasUser(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// Shutdown closes every live connection with a normal-closure signal and
// clears the table. Used only at process shutdown.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	var all []*Client
	for userID, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
		delete(h.clients, userID)
	}
	h.mu.Unlock()

	for _, c := range all {
		c.cancel()
		_ = c.sock.Close(websocket.StatusNormalClosure, "server shutting down")
	}

	h.logger.Info("hub shut down", "connections_closed", len(all))
}
