package gateway

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Envelope is the wire frame for every push event.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// session wraps one live WebSocket connection. The write mutex keeps
// deliveries ordered and serialized per connection.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) send(env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(env)
}

// Hub holds active sessions keyed by party ID (rider or driver) and
// implements Notifier over them.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[string]*session)}
}

// Add registers a connection for the party, replacing any previous one.
// The replaced connection is closed so its reader unblocks.
func (h *Hub) Add(partyID string, conn *websocket.Conn) {
	h.mu.Lock()
	old := h.sessions[partyID]
	h.sessions[partyID] = &session{conn: conn}
	h.mu.Unlock()

	if old != nil {
		_ = old.conn.Close()
	}
}

// Remove unregisters the party's connection if conn is still the live one.
func (h *Hub) Remove(partyID string, conn *websocket.Conn) {
	h.mu.Lock()
	if s, ok := h.sessions[partyID]; ok && s.conn == conn {
		delete(h.sessions, partyID)
	}
	h.mu.Unlock()
}

// Connected reports whether the party has a live connection.
func (h *Hub) Connected(partyID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[partyID]
	return ok
}

// Send implements Notifier. A missing or failed connection is dropped
// silently; it must never fail the caller's state transition.
func (h *Hub) Send(partyID, event string, payload any) {
	h.mu.RLock()
	s, ok := h.sessions[partyID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if err := s.send(Envelope{Event: event, Data: payload}); err != nil {
		log.Printf("gateway: dropping %s to %s: %v", event, partyID, err)
		h.Remove(partyID, s.conn)
		_ = s.conn.Close()
	}
}

var _ Notifier = (*Hub)(nil)
