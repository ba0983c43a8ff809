// Package realtime fans migration update events out to live subscribers over
// WebSocket. The worker is the only producer; the console UI and project
// clients subscribe by project and channel.
package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message is one fan-out event.
type Message struct {
	ProjectID string   `json:"project_id"`
	Events    []string `json:"events"`
	Channels  []string `json:"channels"`
	Roles     []string `json:"roles"`
	Payload   any      `json:"payload"`
}

// Notifier is the narrow interface the worker depends on.
type Notifier interface {
	Send(projectID string, payload any, events, channels, roles []string)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type subscriber struct {
	projectID string
	channels  map[string]bool
	send      chan []byte
}

// Hub tracks WebSocket subscribers and routes messages to the ones whose
// project and channel subscriptions match.
type Hub struct {
	log  *zap.Logger
	mu   sync.RWMutex
	subs map[*subscriber]bool
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{log: log, subs: make(map[*subscriber]bool)}
}

// Send delivers a message to every subscriber of the project that listens on
// at least one of the channels. Slow subscribers are dropped rather than
// blocking the worker.
func (h *Hub) Send(projectID string, payload any, events, channels, roles []string) {
	msg := Message{
		ProjectID: projectID,
		Events:    events,
		Channels:  channels,
		Roles:     roles,
		Payload:   payload,
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn("encoding realtime message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.projectID != projectID {
			continue
		}
		if !matchesChannel(sub.channels, channels) {
			continue
		}
		select {
		case sub.send <- raw:
		default:
			h.log.Warn("dropping realtime message for slow subscriber",
				zap.String("project_id", projectID))
		}
	}
}

func matchesChannel(subscribed map[string]bool, channels []string) bool {
	if len(subscribed) == 0 {
		return true
	}
	for _, ch := range channels {
		if subscribed[ch] {
			return true
		}
	}
	return false
}

// ServeWS upgrades the request and registers the client. Query parameters:
// project (required) and channels (comma-separated, empty means all).
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project")
	if projectID == "" {
		http.Error(w, "missing project parameter", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sub := &subscriber{
		projectID: projectID,
		channels:  make(map[string]bool),
		send:      make(chan []byte, 64),
	}
	if raw := r.URL.Query().Get("channels"); raw != "" {
		for _, ch := range strings.Split(raw, ",") {
			sub.channels[strings.TrimSpace(ch)] = true
		}
	}

	h.mu.Lock()
	h.subs[sub] = true
	h.mu.Unlock()

	go h.writePump(conn, sub)
	h.readPump(conn, sub)
}

func (h *Hub) writePump(conn *websocket.Conn, sub *subscriber) {
	for raw := range sub.send {
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			return
		}
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump discards client frames and unregisters on disconnect.
func (h *Hub) readPump(conn *websocket.Conn, sub *subscriber) {
	defer func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
		close(sub.send)
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// SubscriberCount reports the current number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
