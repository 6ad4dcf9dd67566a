package runtime

import (
	"log/slog"
	"sync"
	"time"

	"tarot-live/contract"
	"tarot-live/domain"
	"tarot-live/domain/event"
	"tarot-live/errors"
)

type typingEntry struct {
	connID    domain.ConnID
	user      domain.UserIdentity
	updatedAt time.Time
}

// PresenceTracker holds who is typing in which session and when users were
// last seen. Typing flags are expired server-side by the sweep worker, so a
// silent disconnect never leaves a stale indicator visible to peers.
type PresenceTracker struct {
	mu       sync.Mutex
	typing   map[domain.SessionID]map[string]typingEntry
	lastSeen map[string]time.Time

	rooms     contract.IRoomManager
	registry  contract.IRegistry
	publish   func(event.DomainEvent)
	persister contract.Persister
	log       *slog.Logger
}

var _ contract.IPresenceTracker = (*PresenceTracker)(nil)

func NewPresenceTracker(
	log *slog.Logger,
	rooms contract.IRoomManager,
	registry contract.IRegistry,
	publish func(event.DomainEvent),
	persister contract.Persister,
) *PresenceTracker {
	return &PresenceTracker{
		typing:    make(map[domain.SessionID]map[string]typingEntry),
		lastSeen:  make(map[string]time.Time),
		rooms:     rooms,
		registry:  registry,
		publish:   publish,
		persister: persister,
		log:       log,
	}
}

// SetTyping updates the typing flag of the connection's user and relays it
// to the other room members. Requires current room membership.
func (p *PresenceTracker) SetTyping(connID domain.ConnID, sessionID domain.SessionID, isTyping bool) error {
	conn, ok := p.registry.Get(connID)
	if !ok || conn.Closed() {
		return errors.ErrConnectionClosed
	}
	if !p.rooms.IsMember(connID, sessionID) {
		return errors.ErrAccessDenied
	}

	now := time.Now().UTC()
	p.mu.Lock()
	if isTyping {
		if _, ok := p.typing[sessionID]; !ok {
			p.typing[sessionID] = make(map[string]typingEntry)
		}
		p.typing[sessionID][conn.User.UserID] = typingEntry{
			connID:    connID,
			user:      conn.User,
			updatedAt: now,
		}
	} else {
		p.clearLocked(sessionID, conn.User.UserID)
	}
	p.mu.Unlock()

	p.publish(event.PeerTyping{
		Session:  sessionID,
		Conn:     connID,
		User:     conn.User,
		IsTyping: isTyping,
		At:       now,
	})
	return nil
}

// Typing reports whether a user currently has an unexpired typing flag.
func (p *PresenceTracker) Typing(sessionID domain.SessionID, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.typing[sessionID][userID]
	return ok
}

// Touch records last-seen and hands it to the persistence queue.
// Called by the lifecycle controller on disconnect; the write to the
// external store is fire-and-forget.
func (p *PresenceTracker) Touch(userID string, at time.Time) {
	p.mu.Lock()
	p.lastSeen[userID] = at
	p.mu.Unlock()

	p.persister.QueueLastSeen(userID, at)
}

func (p *PresenceTracker) LastSeen(userID string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	at, ok := p.lastSeen[userID]
	return at, ok
}

// ExpireStale clears typing flags not refreshed since cutoff and emits the
// synthetic stop the client never sent.
func (p *PresenceTracker) ExpireStale(cutoff time.Time) {
	type expired struct {
		session domain.SessionID
		user    domain.UserIdentity
	}

	p.mu.Lock()
	var stale []expired
	for sessionID, users := range p.typing {
		for userID, entry := range users {
			if entry.updatedAt.Before(cutoff) {
				stale = append(stale, expired{session: sessionID, user: entry.user})
				p.clearLocked(sessionID, userID)
			}
		}
	}
	p.mu.Unlock()

	for _, e := range stale {
		p.log.Debug("Typing flag expired", "session_id", e.session, "user_id", e.user.UserID)
		p.publish(event.PeerTyping{
			Session:  e.session,
			User:     e.user,
			IsTyping: false,
			At:       time.Now().UTC(),
		})
	}
}

func (p *PresenceTracker) clearLocked(sessionID domain.SessionID, userID string) {
	if users, ok := p.typing[sessionID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(p.typing, sessionID)
		}
	}
}
