// Package realtime delivers events to live websocket sessions grouped by user.
package realtime

import (
	"errors"
	"strings"
	"sync"

	"github.com/aris-ansari/x-clone/internal/metrics"
	"go.uber.org/zap"
)

// HubConfig bundles hub dependencies.
type HubConfig struct {
	Logger  *zap.Logger
	Metrics *metrics.Collectors
}

// Hub groups joined connections into rooms keyed by user identity.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]*Connection
	logger  *zap.Logger
	metrics *metrics.Collectors
}

// NewHub returns an empty hub.
func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	collectors := cfg.Metrics
	if collectors == nil {
		collectors = metrics.NewNop()
	}
	return &Hub{
		rooms:   make(map[string]map[string]*Connection),
		logger:  logger,
		metrics: collectors,
	}
}

// Join places an authenticated connection in its user's room. The state check and
// the insert happen under the hub lock, so a connection closed while its
// authentication was pending is never admitted.
func (h *Hub) Join(conn *Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := conn.markJoined(); err != nil {
		return err
	}
	userID := conn.UserID()
	room, ok := h.rooms[userID]
	if !ok {
		room = make(map[string]*Connection)
		h.rooms[userID] = room
	}
	room[conn.ID()] = conn
	return nil
}

// Leave removes conn from its room and reports whether it was present.
func (h *Hub) Leave(conn *Connection) bool {
	userID := conn.UserID()
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[userID]
	if room == nil {
		return false
	}
	if _, ok := room[conn.ID()]; !ok {
		return false
	}
	delete(room, conn.ID())
	if len(room) == 0 {
		delete(h.rooms, userID)
	}
	return true
}

// Send queues event on every connection joined for userID and returns how many
// accepted it. A missing room is a silent no-op. A connection whose buffer is full
// is closed without affecting its siblings.
func (h *Hub) Send(userID string, event Event) int {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0
	}
	h.mu.RLock()
	room := h.rooms[userID]
	if len(room) == 0 {
		h.mu.RUnlock()
		h.metrics.Deliveries.WithLabelValues(event.Name, metrics.DeliveryNoRoom).Inc()
		return 0
	}
	targets := make([]*Connection, 0, len(room))
	for _, conn := range room {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	payload, err := encodeEvent(event)
	if err != nil {
		h.logger.Error("realtime event encode failed",
			zap.String("event", event.Name),
			zap.String("user_id", userID),
			zap.Error(err))
		return 0
	}

	delivered := 0
	for _, conn := range targets {
		if err := conn.enqueue(payload); err != nil {
			h.metrics.Deliveries.WithLabelValues(event.Name, metrics.DeliveryDropped).Inc()
			h.logger.Debug("realtime delivery dropped",
				zap.String("event", event.Name),
				zap.String("user_id", userID),
				zap.String("session_id", conn.ID()),
				zap.Error(err))
			if errors.Is(err, ErrSendBufferFull) {
				conn.Close()
			}
			continue
		}
		delivered++
		h.metrics.Deliveries.WithLabelValues(event.Name, metrics.DeliveryQueued).Inc()
	}
	return delivered
}

// RoomSize returns the number of connections joined for userID.
func (h *Hub) RoomSize(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[strings.TrimSpace(userID)])
}

// Close disconnects every joined connection. Each connection's own teardown
// removes it from its room.
func (h *Hub) Close() {
	h.mu.RLock()
	targets := make([]*Connection, 0)
	for _, room := range h.rooms {
		for _, conn := range room {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()
	for _, conn := range targets {
		conn.Close()
	}
}
