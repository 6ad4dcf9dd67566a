// Package runtime owns the coordinator's live state: connections, room
// memberships, presence and the relay. It orchestrates the system without
// containing transport or storage logic.
package runtime

import (
	"sync"
	"time"

	"tarot-live/contract"
	"tarot-live/domain"
)

type registryEntry struct {
	conn *domain.Connection
	sink contract.EventSink
}

// Registry owns the set of live connections. Registering a connection also
// places it on its user's personal channel: all of a user's sinks can be
// addressed together for direct, non-room notifications (multi-device).
type Registry struct {
	mu     sync.RWMutex
	conns  map[domain.ConnID]registryEntry
	byUser map[string]map[domain.ConnID]struct{}
}

var _ contract.IRegistry = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[domain.ConnID]registryEntry),
		byUser: make(map[string]map[domain.ConnID]struct{}),
	}
}

func (r *Registry) Register(conn *domain.Connection, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[conn.ID] = registryEntry{conn: conn, sink: sink}

	userID := conn.User.UserID
	if _, ok := r.byUser[userID]; !ok {
		r.byUser[userID] = make(map[domain.ConnID]struct{})
	}
	r.byUser[userID][conn.ID] = struct{}{}
}

// Deregister removes a connection and cleans up its user's channel entry.
// Empty per-user sets are removed to avoid leaking map entries over time.
func (r *Registry) Deregister(id domain.ConnID) (*domain.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	delete(r.conns, id)

	userID := entry.conn.User.UserID
	if set, ok := r.byUser[userID]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(r.byUser, userID)
		}
	}
	return entry.conn, true
}

func (r *Registry) Get(id domain.ConnID) (*domain.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return entry.conn, true
}

func (r *Registry) SinkFor(id domain.ConnID) (contract.EventSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return entry.sink, true
}

// ConnsForUser returns every live connection of a user, one per device.
func (r *Registry) ConnsForUser(userID string) []*domain.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*domain.Connection
	for id := range r.byUser[userID] {
		if entry, ok := r.conns[id]; ok {
			conns = append(conns, entry.conn)
		}
	}
	return conns
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// StaleSince returns connections whose last heartbeat is older than cutoff.
// The reaper runs the regular disconnect teardown on each of them.
func (r *Registry) StaleSince(cutoff time.Time) []*domain.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []*domain.Connection
	for _, entry := range r.conns {
		if entry.conn.LastHeartbeat().Before(cutoff) {
			stale = append(stale, entry.conn)
		}
	}
	return stale
}
