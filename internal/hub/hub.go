// Package hub implements the real-time push channel: a websocket endpoint
// that fans daemon events out to every connected user interface.
package hub

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/auriora/wirefly/pkg/logging"
)

// sendBuffer bounds how far a subscriber may fall behind before it is
// dropped.
const sendBuffer = 64

// Message is one event on the wire.
type Message struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan Message
}

// Hub broadcasts events to websocket subscribers. Slow subscribers are
// disconnected rather than allowed to stall the broadcast path.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	upgrader    websocket.Upgrader
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// the API's token middleware has already vetted the request
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Broadcast queues the event for every subscriber.
func (h *Hub) Broadcast(event string, payload interface{}) {
	msg := Message{Event: event, Payload: payload}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		select {
		case sub.send <- msg:
		default:
			logging.Warn().Str("event", event).Msg("Dropping slow hub subscriber")
			delete(h.subscribers, sub)
			close(sub.send)
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// ServeHTTP upgrades the request and streams events until the client goes
// away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("Hub upgrade failed")
		return
	}

	sub := &subscriber{conn: conn, send: make(chan Message, sendBuffer)}
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	count := len(h.subscribers)
	h.mu.Unlock()
	logging.Debug().Int("subscribers", count).Msg("Hub subscriber connected")

	go h.writePump(sub)
	h.readPump(sub)
}

// readPump discards inbound frames and tears the subscriber down when the
// connection drops.
func (h *Hub) readPump(sub *subscriber) {
	defer h.remove(sub)
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(sub *subscriber) {
	defer sub.conn.Close()
	for msg := range sub.send {
		data, err := json.Marshal(msg)
		if err != nil {
			logging.Error().Err(err).Str("event", msg.Event).Msg("Could not encode hub event")
			continue
		}
		if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	// channel closed: the hub dropped this subscriber
	_ = sub.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscriber too slow"))
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.send)
	}
	h.mu.Unlock()
	_ = sub.conn.Close()
}
