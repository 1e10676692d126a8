package server

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/park285/matey-server/internal/notify"
	"github.com/park285/matey-server/internal/obslog"
	"go.uber.org/zap"
)

const defaultSendBuffer = 64

// topicFrame is the wire form of a broadcast.
type topicFrame struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

// client is one live connection-session. send is never closed; done stops the writer.
type client struct {
	sessionID string
	userID    string
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) stop() { c.closeOnce.Do(func() { close(c.done) }) }

// offer enqueues without blocking; false when the buffer is full or the client stopped.
func (c *client) offer(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Hub is the in-process notify.Notifier over live websocket connections.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	byUser  map[string]map[string]*client
	buffer  int
	dropped atomic.Int64
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &Hub{
		clients: make(map[string]*client),
		byUser:  make(map[string]map[string]*client),
		buffer:  buffer,
	}
}

func (h *Hub) register(sessionID, userID string) *client {
	c := &client{sessionID: sessionID, userID: userID, send: make(chan []byte, h.buffer), done: make(chan struct{})}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[sessionID] = c
	set := h.byUser[userID]
	if set == nil {
		set = make(map[string]*client)
		h.byUser[userID] = set
	}
	set[sessionID] = c
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.sessionID]; ok && cur == c {
		delete(h.clients, c.sessionID)
	}
	if set := h.byUser[c.userID]; set != nil {
		if cur, ok := set[c.sessionID]; ok && cur == c {
			delete(set, c.sessionID)
		}
		if len(set) == 0 {
			delete(h.byUser, c.userID)
		}
	}
	c.stop()
}

// stopUser stops every connection of userID; their handlers unwind on their own.
func (h *Hub) stopUser(userID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.byUser[userID] {
		c.stop()
	}
}

func (h *Hub) SendToUser(_ context.Context, userID string, ev notify.Event) error {
	frame, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.byUser[userID] {
		h.deliver(c, frame)
	}
	return nil
}

func (h *Hub) Broadcast(_ context.Context, topic string, payload any) error {
	frame, err := json.Marshal(topicFrame{Topic: topic, Payload: payload})
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.deliver(c, frame)
	}
	return nil
}

func (h *Hub) deliver(c *client, frame []byte) {
	if c.offer(frame) {
		return
	}
	h.dropped.Add(1)
	obslog.L().Debug("ws_frame_dropped", zap.String("session_id", c.sessionID), zap.String("user_id", c.userID))
}

// Dropped counts frames lost to full buffers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Conns is the number of registered connections.
func (h *Hub) Conns() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops every connection so their handlers return during shutdown.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.stop()
	}
}
