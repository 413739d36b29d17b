// ABOUTME: Conversation-scoped rooms for event fan-out to joined connections
// ABOUTME: Joining is idempotent; emission reaches only currently joined live connections

package realtime

import (
	"log/slog"
	"sync"
)

// Rooms groups live connections by conversation. Membership in a
// conversation and being joined to its room are distinct: a member who
// never joins receives no realtime events and catches up over REST.
// Authorization is the caller's job, checked against the store per join.
type Rooms struct {
	mu     sync.RWMutex
	rooms  map[uint64]map[*Conn]struct{}
	logger *slog.Logger
}

// NewRooms creates an empty room set. Pass nil logger for default.
func NewRooms(logger *slog.Logger) *Rooms {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rooms{
		rooms:  make(map[uint64]map[*Conn]struct{}),
		logger: logger.With("component", "rooms"),
	}
}

// Join adds the connection to a conversation's room. Idempotent.
func (r *Rooms) Join(conversationID uint64, conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[conversationID]
	if !ok {
		room = make(map[*Conn]struct{})
		r.rooms[conversationID] = room
	}
	if _, joined := room[conn]; joined {
		return
	}
	room[conn] = struct{}{}
	r.logger.Debug("joined room", "conversation_id", conversationID, "conn_id", conn.ID())
}

// Leave removes the connection from one conversation's room.
func (r *Rooms) Leave(conversationID uint64, conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(conversationID, conn)
}

// Remove removes the connection from every room. Called on disconnect.
func (r *Rooms) Remove(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for conversationID := range r.rooms {
		r.removeLocked(conversationID, conn)
	}
}

func (r *Rooms) removeLocked(conversationID uint64, conn *Conn) {
	room, ok := r.rooms[conversationID]
	if !ok {
		return
	}
	if _, joined := room[conn]; !joined {
		return
	}
	delete(room, conn)
	if len(room) == 0 {
		delete(r.rooms, conversationID)
	}
}

// EmitToGroup delivers an event to every connection currently joined to the
// conversation's room. No queuing or replay for anyone else.
func (r *Rooms) EmitToGroup(conversationID uint64, event Event) {
	r.mu.RLock()
	room := r.rooms[conversationID]
	targets := make([]*Conn, 0, len(room))
	for conn := range room {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		conn.Emit(event)
	}
}

// Joined reports whether the connection is in the conversation's room.
func (r *Rooms) Joined(conversationID uint64, conn *Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[conversationID][conn]
	return ok
}
