package status

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	clientQueueDepth = 16
	writeWait        = 10 * time.Second
	pingInterval     = 30 * time.Second
)

// hub fans loop events out to websocket subscribers. Slow subscribers lose
// events instead of stalling the publisher.
type hub struct {
	mu       sync.Mutex
	clients  map[*subscriber]struct{}
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

type subscriber struct {
	conn *websocket.Conn
	send chan Event
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		clients: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

func (h *hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.clients {
		select {
		case sub.send <- ev:
		default:
			h.logger.Debug("event dropped for slow subscriber", "remote", sub.conn.RemoteAddr().String())
		}
	}
}

func (h *hub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) remove(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.clients[sub]; ok {
		delete(h.clients, sub)
		close(sub.send)
	}
	h.mu.Unlock()
}

func (h *hub) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	sub := &subscriber{conn: conn, send: make(chan Event, clientQueueDepth)}
	h.mu.Lock()
	h.clients[sub] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(sub)

	// Subscribers never send anything meaningful; reading only detects close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(sub)
}

func (h *hub) writeLoop(sub *subscriber) {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		sub.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-sub.send:
			if !ok {
				_ = sub.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			if err := sub.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := sub.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
