package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"tarot-live/contract"
	"tarot-live/domain"
	"tarot-live/domain/event"
	"tarot-live/errors"
)

// room is the set of connections currently admitted to one chat session.
// All membership mutations happen under the room's own lock so that a join
// and a disconnect racing on the same room cannot lose an update.
type room struct {
	mu      sync.Mutex
	members map[domain.ConnID]struct{}
}

// RoomManager enforces the participant invariant: a connection is only ever
// a member of a room whose session lists its owning user, and a closed
// session accepts no new joins. Authorization is re-derived from live room
// state on every relay call, never cached on the connection.
type RoomManager struct {
	mu        sync.RWMutex
	rooms     map[domain.SessionID]*room
	byConn    map[domain.ConnID]map[domain.SessionID]struct{}
	directory contract.SessionDirectory
	registry  contract.IRegistry
	publish   func(event.DomainEvent)

	upstreamTimeout time.Duration
	log             *slog.Logger
}

var _ contract.IRoomManager = (*RoomManager)(nil)

func NewRoomManager(
	log *slog.Logger,
	directory contract.SessionDirectory,
	registry contract.IRegistry,
	publish func(event.DomainEvent),
	upstreamTimeout time.Duration,
) *RoomManager {
	return &RoomManager{
		rooms:           make(map[domain.SessionID]*room),
		byConn:          make(map[domain.ConnID]map[domain.SessionID]struct{}),
		directory:       directory,
		registry:        registry,
		publish:         publish,
		upstreamTimeout: upstreamTimeout,
		log:             log,
	}
}

// Join admits a connection into a session's room after consulting the
// directory. Joining a room the connection already belongs to is a success
// no-op, which lets clients retry blindly after a reconnect.
func (m *RoomManager) Join(ctx context.Context, connID domain.ConnID, sessionID domain.SessionID) error {
	conn, ok := m.registry.Get(connID)
	if !ok || conn.Closed() {
		return errors.ErrConnectionClosed
	}

	if m.IsMember(connID, sessionID) {
		conn.SetLastJoined(sessionID)
		return nil
	}

	session, err := m.lookup(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != domain.SessionActive {
		return errors.ErrSessionClosed
	}
	if !session.HasParticipant(conn.User.UserID) {
		return errors.ErrAccessDenied
	}

	rm := m.roomFor(sessionID)
	rm.mu.Lock()
	if _, already := rm.members[connID]; already {
		rm.mu.Unlock()
		conn.SetLastJoined(sessionID)
		return nil
	}
	rm.members[connID] = struct{}{}
	rm.mu.Unlock()

	m.trackConn(connID, sessionID)

	// The directory lookup suspended; a disconnect may have completed in the
	// meantime. The terminal state supersedes the in-flight join.
	if conn.Closed() {
		m.remove(connID, sessionID)
		return errors.ErrConnectionClosed
	}

	conn.SetLastJoined(sessionID)
	m.publish(event.PeerJoined{
		Session: sessionID,
		Conn:    connID,
		User:    conn.User,
		At:      time.Now().UTC(),
	})
	return nil
}

// Leave removes the connection from the room; no-op if it is not a member.
func (m *RoomManager) Leave(connID domain.ConnID, sessionID domain.SessionID) {
	if !m.remove(connID, sessionID) {
		return
	}

	conn, ok := m.registry.Get(connID)
	if !ok {
		return
	}
	conn.ClearLastJoined(sessionID)
	m.publish(event.PeerLeft{
		Session: sessionID,
		User:    conn.User,
		At:      time.Now().UTC(),
	})
}

// DropAll removes the connection from every room it holds and broadcasts a
// left event to each of them. Called during disconnect teardown.
func (m *RoomManager) DropAll(connID domain.ConnID) []domain.SessionID {
	m.mu.Lock()
	sessions := lo.Keys(m.byConn[connID])
	delete(m.byConn, connID)
	m.mu.Unlock()

	conn, known := m.registry.Get(connID)
	for _, sessionID := range sessions {
		m.removeMember(connID, sessionID)
		if known {
			m.publish(event.PeerLeft{
				Session: sessionID,
				User:    conn.User,
				At:      time.Now().UTC(),
			})
		}
	}
	return sessions
}

func (m *RoomManager) IsMember(connID domain.ConnID, sessionID domain.SessionID) bool {
	m.mu.RLock()
	rm, ok := m.rooms[sessionID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	_, member := rm.members[connID]
	return member
}

// Members returns a snapshot of the room's connection ids.
func (m *RoomManager) Members(sessionID domain.SessionID) []domain.ConnID {
	m.mu.RLock()
	rm, ok := m.rooms[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	return lo.Keys(rm.members)
}

func (m *RoomManager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// lookup consults the directory under a bounded deadline so a slow upstream
// fails the join instead of blocking the connection indefinitely.
func (m *RoomManager) lookup(ctx context.Context, sessionID domain.SessionID) (domain.ChatSession, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, m.upstreamTimeout)
	defer cancel()

	session, err := m.directory.Lookup(lookupCtx, sessionID)
	switch {
	case err == nil:
		return session, nil
	case stderrors.Is(err, errors.ErrSessionNotFound),
		stderrors.Is(err, errors.ErrUpstreamTimeout):
		return domain.ChatSession{}, err
	case stderrors.Is(err, context.DeadlineExceeded):
		return domain.ChatSession{}, errors.ErrUpstreamTimeout
	default:
		m.log.Error("Directory lookup failed", "session_id", sessionID, "error", err)
		return domain.ChatSession{}, fmt.Errorf("%w: %v", errors.ErrInternal, err)
	}
}

func (m *RoomManager) roomFor(sessionID domain.SessionID) *room {
	m.mu.Lock()
	defer m.mu.Unlock()
	rm, ok := m.rooms[sessionID]
	if !ok {
		rm = &room{members: make(map[domain.ConnID]struct{})}
		m.rooms[sessionID] = rm
	}
	return rm
}

func (m *RoomManager) trackConn(connID domain.ConnID, sessionID domain.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byConn[connID]; !ok {
		m.byConn[connID] = make(map[domain.SessionID]struct{})
	}
	m.byConn[connID][sessionID] = struct{}{}
}

// remove untracks the membership both ways and reports whether the
// connection actually was a member.
func (m *RoomManager) remove(connID domain.ConnID, sessionID domain.SessionID) bool {
	m.mu.Lock()
	if set, ok := m.byConn[connID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(m.byConn, connID)
		}
	}
	m.mu.Unlock()

	return m.removeMember(connID, sessionID)
}

// removeMember deletes the connection from the room set and drops empty
// rooms so the map does not grow forever.
func (m *RoomManager) removeMember(connID domain.ConnID, sessionID domain.SessionID) bool {
	m.mu.Lock()
	rm, ok := m.rooms[sessionID]
	m.mu.Unlock()
	if !ok {
		return false
	}

	rm.mu.Lock()
	_, member := rm.members[connID]
	delete(rm.members, connID)
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	if empty {
		m.mu.Lock()
		if current, ok := m.rooms[sessionID]; ok && current == rm {
			current.mu.Lock()
			if len(current.members) == 0 {
				delete(m.rooms, sessionID)
			}
			current.mu.Unlock()
		}
		m.mu.Unlock()
	}
	return member
}
