package signaling

import (
	"github.com/google/uuid"
)

// Registry maps a user identity to the set of connections that user
// currently has open (multi-device). It is pure routing bookkeeping: used
// for personalized notifications (call:incoming, direct call:ended), never
// for room broadcasts.
//
// All methods are called from the coordinator's event loop only, so no
// locking is needed here.
type Registry struct {
	conns map[uuid.UUID]map[string]Conn
}

// NewRegistry creates an empty connection registry
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[uuid.UUID]map[string]Conn),
	}
}

// Add registers a connection for its user
func (r *Registry) Add(conn Conn) {
	userID := conn.UserID()
	if r.conns[userID] == nil {
		r.conns[userID] = make(map[string]Conn)
	}
	r.conns[userID][conn.ID()] = conn
}

// Remove deregisters a connection. The user's entry is deleted when its
// last connection goes away.
func (r *Registry) Remove(conn Conn) {
	userID := conn.UserID()
	set, ok := r.conns[userID]
	if !ok {
		return
	}
	delete(set, conn.ID())
	if len(set) == 0 {
		delete(r.conns, userID)
	}
}

// Connections returns every open connection for a user. The returned slice
// is a copy; callers may not mutate registry state through it.
func (r *Registry) Connections(userID uuid.UUID) []Conn {
	set, ok := r.conns[userID]
	if !ok {
		return nil
	}
	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// HasConnections reports whether the user has at least one open connection
func (r *Registry) HasConnections(userID uuid.UUID) bool {
	return len(r.conns[userID]) > 0
}

// ConnectionCount returns the total number of registered connections
func (r *Registry) ConnectionCount() int {
	n := 0
	for _, set := range r.conns {
		n += len(set)
	}
	return n
}

// SendToUser delivers an event to every connection of userID, skipping
// exclude (typically the sender's own connection) when non-nil.
func (r *Registry) SendToUser(userID uuid.UUID, exclude Conn, ev Event) int {
	sent := 0
	for _, c := range r.conns[userID] {
		if exclude != nil && c.ID() == exclude.ID() {
			continue
		}
		c.Send(ev)
		sent++
	}
	return sent
}
