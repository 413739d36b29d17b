// ABOUTME: Registry of live participant connections, one per participant
// ABOUTME: Last write wins on reconnect; stale teardowns cannot evict a newer connection

package realtime

import (
	"log/slog"
	"sync"
)

// Registry tracks the single live connection per participant. A second
// connection for the same participant silently supersedes the first; there
// is no multi-device fan-out. The registry is an explicit instance owned by
// the server and injected into handlers, never package-level state.
type Registry struct {
	mu     sync.RWMutex
	conns  map[uint64]*Conn
	logger *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[uint64]*Conn),
		logger: logger.With("component", "registry"),
	}
}

// Register records conn as the participant's live connection, superseding
// any previous one. The superseded connection is closed.
func (r *Registry) Register(conn *Conn) {
	r.mu.Lock()
	prev := r.conns[conn.UserID()]
	r.conns[conn.UserID()] = conn
	r.mu.Unlock()

	if prev != nil && prev != conn {
		prev.Close()
		r.logger.Debug("superseded connection",
			"user_id", conn.UserID(),
			"old_conn", prev.ID(),
			"new_conn", conn.ID())
	}

	r.logger.Debug("connection registered", "user_id", conn.UserID(), "conn_id", conn.ID())
}

// Unregister removes the participant's entry only if it still references
// the given connection. A teardown callback for a superseded connection
// arriving after a reconnect must not evict the newer entry.
func (r *Registry) Unregister(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[conn.UserID()]
	if !ok || current != conn {
		return
	}
	delete(r.conns, conn.UserID())
	r.logger.Debug("connection unregistered", "user_id", conn.UserID(), "conn_id", conn.ID())
}

// Get returns the participant's live connection, or nil if offline.
func (r *Registry) Get(userID uint64) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[userID]
}

// EmitToUsers delivers an event directly to each listed participant that is
// currently connected, regardless of room joins. Used for notices to
// participants not yet joined to the relevant group.
func (r *Registry) EmitToUsers(userIDs []uint64, event Event) {
	r.mu.RLock()
	targets := make([]*Conn, 0, len(userIDs))
	for _, id := range userIDs {
		if conn, ok := r.conns[id]; ok {
			targets = append(targets, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		conn.Emit(event)
	}
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
