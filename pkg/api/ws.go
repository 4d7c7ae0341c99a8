package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub fans per-tick summaries out to WebSocket subscribers. Subscribers are
// write-only; anything they send is drained and dropped.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger
	mu       sync.RWMutex
	subs     map[*websocket.Conn]struct{}
}

// NewHub builds an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
		subs:   map[*websocket.Conn]struct{}{},
	}
}

// HandleUpdates upgrades the request and subscribes the connection to tick
// summaries until it closes.
func (h *Hub) HandleUpdates(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	h.mu.Lock()
	h.subs[c] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.Info("update subscriber connected", zap.Int("subscribers", n))
	go h.readLoop(c)
}

// Broadcast sends one JSON message to every subscriber, dropping any
// connection whose write fails.
func (h *Hub) Broadcast(v interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.subs {
		if err := c.WriteJSON(v); err != nil {
			_ = c.Close()
			delete(h.subs, c)
		}
	}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close drops every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.subs {
		_ = c.Close()
		delete(h.subs, c)
	}
}

func (h *Hub) readLoop(c *websocket.Conn) {
	defer func() {
		_ = c.Close()
		h.mu.Lock()
		delete(h.subs, c)
		h.mu.Unlock()
		h.logger.Info("update subscriber disconnected")
	}()
	for {
		if _, _, err := c.NextReader(); err != nil {
			return
		}
	}
}
