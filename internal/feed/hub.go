package feed

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/trailog/recorder/internal/api"
)

// subscriber is one WebSocket connection with a single write goroutine.
type subscriber struct {
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// Hub fans saved trails out to the connections of their owner.
type Hub struct {
	upgrader ws.Upgrader
	logger   *slog.Logger

	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:   logger.With("component", "feed"),
		subs:     make(map[string]map[*subscriber]struct{}),
	}
}

// Publish sends t to every connection of its owner. Slow connections drop
// messages instead of blocking the caller.
func (h *Hub) Publish(_ context.Context, t api.Trail) {
	data, err := marshalEnvelope(TypeTrailSaved, t)
	if err != nil {
		h.logger.Error("Failed to encode feed message", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[t.UserID] {
		select {
		case sub.sendCh <- data:
		default:
			h.logger.Warn("Feed send channel full, dropping message", "userId", t.UserID)
		}
	}
}

// Subscribers returns the number of open connections for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}

// Serve upgrades the request and streams userID's trails until the client
// goes away or the hub is closed.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{sendCh: make(chan []byte, sendChSize), done: make(chan struct{})}
	if !h.add(userID, sub) {
		_ = conn.Close()
		return
	}
	h.logger.Debug("Feed subscriber connected", "userId", userID)

	go h.readLoop(conn, sub)
	h.writeLoop(conn, sub)

	h.remove(userID, sub)
	_ = conn.Close()
	h.logger.Debug("Feed subscriber disconnected", "userId", userID)
}

func (h *Hub) add(userID string, sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*subscriber]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	return true
}

func (h *Hub) remove(userID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[userID], sub)
	if len(h.subs[userID]) == 0 {
		delete(h.subs, userID)
	}
}

// readLoop only watches for the client going away; clients never send data.
func (h *Hub) readLoop(conn *ws.Conn, sub *subscriber) {
	defer sub.close()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(conn *ws.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-sub.done:
			_ = conn.WriteControl(ws.CloseMessage,
				ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case data := <-sub.sendCh:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				h.logger.Warn("Feed write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(ws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, set := range h.subs {
		for sub := range set {
			sub.close()
		}
	}
}
