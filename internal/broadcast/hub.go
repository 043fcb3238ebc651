package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/dbsmedya/prefixcrawl/internal/logger"
)

// Client is one connected viewer's outbound queue.
type Client struct {
	id   uint64
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// ID identifies the client within its hub.
func (c *Client) ID() uint64 {
	return c.id
}

// Send yields queued messages. It is closed when the client is dropped.
func (c *Client) Send() <-chan []byte {
	return c.send
}

// offer queues msg without blocking. It reports false when the queue is full.
func (c *Client) offer(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub is the registry of connected viewers. A viewer that cannot keep up
// is dropped instead of stalling the broadcast.
type Hub struct {
	clients *xsync.MapOf[uint64, *Client]
	nextID  atomic.Uint64
	logger  *logger.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		clients: xsync.NewMapOf[uint64, *Client](),
		logger:  log,
	}
}

// Add registers a client with a queue of the given size.
func (h *Hub) Add(queue int) *Client {
	if queue <= 0 {
		queue = 1
	}
	c := &Client{id: h.nextID.Add(1), send: make(chan []byte, queue)}
	h.clients.Store(c.id, c)
	h.logger.Debugw("Viewer connected", "client", c.id, "viewers", h.clients.Size())
	return c
}

// Remove unregisters c and closes its queue.
func (h *Hub) Remove(c *Client) {
	if _, ok := h.clients.LoadAndDelete(c.id); ok {
		h.logger.Debugw("Viewer disconnected", "client", c.id, "viewers", h.clients.Size())
	}
	c.close()
}

// Broadcast queues msg for every client and returns how many accepted it.
func (h *Hub) Broadcast(msg []byte) int {
	sent := 0
	h.clients.Range(func(id uint64, c *Client) bool {
		if c.offer(msg) {
			sent++
			return true
		}
		h.logger.Warnw("Viewer too slow, dropping", "client", id)
		h.Remove(c)
		return true
	})
	return sent
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	return h.clients.Size()
}

// Close drops every client.
func (h *Hub) Close() {
	h.clients.Range(func(_ uint64, c *Client) bool {
		h.Remove(c)
		return true
	})
}
