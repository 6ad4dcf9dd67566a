// Package event defines the domain events fanned out to room members.
// Events carry their own addressing: a target session and an optional
// excluded connection (e.g. the sender, who gets an ack instead).
package event

import (
	"time"

	"tarot-live/domain"
)

type DomainEvent interface {
	SessionID() domain.SessionID
	// ExcludedConn returns the connection that must not receive this event,
	// or the empty id when the event is visible to every member.
	ExcludedConn() domain.ConnID
}

// NewMessage is delivered to every room connection except the sender's own,
// including other devices of the same user.
type NewMessage struct {
	Envelope domain.MessageEnvelope
}

func (e NewMessage) SessionID() domain.SessionID { return e.Envelope.SessionID }
func (e NewMessage) ExcludedConn() domain.ConnID { return e.Envelope.SenderConn }

// ReactionUpdated is self-visible: the actor's own devices receive it too.
type ReactionUpdated struct {
	Reaction domain.ReactionEvent
}

func (e ReactionUpdated) SessionID() domain.SessionID { return e.Reaction.SessionID }
func (e ReactionUpdated) ExcludedConn() domain.ConnID { return "" }

type PeerJoined struct {
	Session domain.SessionID
	Conn    domain.ConnID
	User    domain.UserIdentity
	At      time.Time
}

func (e PeerJoined) SessionID() domain.SessionID { return e.Session }
func (e PeerJoined) ExcludedConn() domain.ConnID { return e.Conn }

type PeerLeft struct {
	Session domain.SessionID
	User    domain.UserIdentity
	At      time.Time
}

func (e PeerLeft) SessionID() domain.SessionID { return e.Session }
func (e PeerLeft) ExcludedConn() domain.ConnID { return "" }

// PeerTyping carries both explicit client signals and synthetic expirations
// emitted by the sweep; the latter have no connection to exclude.
type PeerTyping struct {
	Session  domain.SessionID
	Conn     domain.ConnID
	User     domain.UserIdentity
	IsTyping bool
	At       time.Time
}

func (e PeerTyping) SessionID() domain.SessionID { return e.Session }
func (e PeerTyping) ExcludedConn() domain.ConnID { return e.Conn }

// DirectNotice targets a user's personal channel instead of a room: it is
// delivered to every live connection of the user except the excluded one.
type DirectNotice struct {
	UserID      string
	Excluded    domain.ConnID
	Kind        string
	DisplayName string
	At          time.Time
}

func (e DirectNotice) SessionID() domain.SessionID { return "" }
func (e DirectNotice) ExcludedConn() domain.ConnID { return e.Excluded }
