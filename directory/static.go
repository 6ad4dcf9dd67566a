package directory

import (
	"context"
	"sync"

	"tarot-live/contract"
	"tarot-live/domain"
	"tarot-live/errors"
)

// StaticDirectory is an in-memory session directory for development and
// tests. It can also stand in for the real service in single-node demos.
type StaticDirectory struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]domain.ChatSession
}

var _ contract.SessionDirectory = (*StaticDirectory)(nil)

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{sessions: make(map[domain.SessionID]domain.ChatSession)}
}

func (d *StaticDirectory) Put(session domain.ChatSession) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[session.ID] = session
}

// CloseSession flips a session to closed, mimicking an external moderation
// action while connections are still live.
func (d *StaticDirectory) CloseSession(id domain.SessionID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sessions[id]; ok {
		s.Status = domain.SessionClosed
		d.sessions[id] = s
	}
}

func (d *StaticDirectory) Lookup(_ context.Context, id domain.SessionID) (domain.ChatSession, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	session, ok := d.sessions[id]
	if !ok {
		return domain.ChatSession{}, errors.ErrSessionNotFound
	}
	return session, nil
}
