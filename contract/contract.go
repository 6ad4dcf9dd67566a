//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
	"time"

	"tarot-live/domain"
	"tarot-live/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself.
// Supervision, restarts and panic recovery live in the Supervisor.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// Used for logging and supervision, avoiding manual naming in the interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is one consumer of fanned-out events, typically the buffered
// outbound channel of a live connection. Close releases the underlying
// transport; coordinator-initiated teardown relies on it to drop the socket
// of a reaped connection. It must be idempotent.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
	Close()
}

// IdentityVerifier validates a bearer credential against the external
// identity service and resolves the caller profile.
type IdentityVerifier interface {
	Verify(ctx context.Context, rawCredential string) (domain.UserIdentity, error)
}

// SessionDirectory is the external read-only source of truth for which
// users belong to which conversation.
type SessionDirectory interface {
	Lookup(ctx context.Context, id domain.SessionID) (domain.ChatSession, error)
}

// IRegistry owns the set of live connections. A user may hold several
// connections at once (multi-device).
type IRegistry interface {
	Register(conn *domain.Connection, sink EventSink)
	Deregister(id domain.ConnID) (*domain.Connection, bool)
	Get(id domain.ConnID) (*domain.Connection, bool)
	SinkFor(id domain.ConnID) (EventSink, bool)
	ConnsForUser(userID string) []*domain.Connection
	Count() int
	StaleSince(cutoff time.Time) []*domain.Connection
}

type IRoomManager interface {
	Join(ctx context.Context, connID domain.ConnID, sessionID domain.SessionID) error
	Leave(connID domain.ConnID, sessionID domain.SessionID)
	DropAll(connID domain.ConnID) []domain.SessionID
	IsMember(connID domain.ConnID, sessionID domain.SessionID) bool
	Members(sessionID domain.SessionID) []domain.ConnID
	RoomCount() int
}

type IPresenceTracker interface {
	SetTyping(connID domain.ConnID, sessionID domain.SessionID, isTyping bool) error
	Touch(userID string, at time.Time)
	ExpireStale(cutoff time.Time)
}

type IRelay interface {
	Send(connID domain.ConnID, sessionID domain.SessionID, payload []byte, correlationID string) (domain.Delivery, error)
	React(connID domain.ConnID, sessionID domain.SessionID, messageID, value string) error
}

type ILifecycle interface {
	Authenticate(ctx context.Context, rawCredential string, sink EventSink) (*domain.Connection, error)
	Heartbeat(connID domain.ConnID) error
	Disconnect(connID domain.ConnID, reason string)
}

// Persister accepts persistence jobs from the hot relay path without
// blocking it. Implementations queue the job and report nothing back;
// failures are retried and eventually dead-lettered by the worker.
type Persister interface {
	QueueMessage(envelope domain.MessageEnvelope)
	QueueReaction(reaction domain.ReactionEvent)
	QueueLastSeen(userID string, at time.Time)
}

// MessageStore is the best-effort persistence seam towards the external
// relational store. Failures are logged and retried, never surfaced to the
// live relay path.
type MessageStore interface {
	StoreMessage(envelope domain.MessageEnvelope) error
	StoreReaction(reaction domain.ReactionEvent) error
	StoreLastSeen(userID string, at time.Time) error
}
