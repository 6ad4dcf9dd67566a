package domain

import (
	"sync"
	"time"
)

type ConnID string

// ConnState models the lifecycle of a single transport link:
// Connecting -> Authenticated -> Disconnected. Disconnected is terminal.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateDisconnected
)

// Connection is one live transport link between a client and the coordinator.
// It is created on successful authentication, destroyed on disconnect or
// heartbeat timeout, and never persisted.
type Connection struct {
	ID              ConnID
	User            UserIdentity
	AuthenticatedAt time.Time

	mu            sync.Mutex
	state         ConnState
	lastHeartbeat time.Time
	lastJoined    SessionID // implicit session for typing_start/typing_stop
}

func NewConnection(id ConnID, user UserIdentity, now time.Time) *Connection {
	return &Connection{
		ID:              id,
		User:            user,
		AuthenticatedAt: now,
		state:           StateAuthenticated,
		lastHeartbeat:   now,
	}
}

// Heartbeat refreshes the liveness timestamp. It reports false once the
// connection has reached its terminal state.
func (c *Connection) Heartbeat(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return false
	}
	c.lastHeartbeat = now
	return true
}

func (c *Connection) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// Close transitions the connection to Disconnected.
// It returns false if the connection was already closed, which makes
// disconnect teardown idempotent even when an explicit disconnect and the
// heartbeat reaper race on the same connection.
func (c *Connection) Close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return false
	}
	c.state = StateDisconnected
	return true
}

func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateDisconnected
}

// SetLastJoined records the most recently joined room, used as the implicit
// session for typing frames that do not carry one.
func (c *Connection) SetLastJoined(id SessionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastJoined = id
}

// ClearLastJoined resets the implicit session, but only if it still points
// at the room being left.
func (c *Connection) ClearLastJoined(id SessionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastJoined == id {
		c.lastJoined = ""
	}
}

func (c *Connection) LastJoined() SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastJoined
}
