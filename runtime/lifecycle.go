package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tarot-live/contract"
	"tarot-live/domain"
	"tarot-live/domain/event"
	"tarot-live/errors"
)

// Lifecycle orchestrates authenticate, register, join/leave and deregister
// for every connection. Authentication failures terminate the link before
// any room state is created; disconnect teardown is idempotent.
type Lifecycle struct {
	verifier contract.IdentityVerifier
	registry contract.IRegistry
	rooms    contract.IRoomManager
	presence contract.IPresenceTracker
	publish  func(event.DomainEvent)

	upstreamTimeout time.Duration
	log             *slog.Logger
}

var _ contract.ILifecycle = (*Lifecycle)(nil)

func NewLifecycle(
	log *slog.Logger,
	verifier contract.IdentityVerifier,
	registry contract.IRegistry,
	rooms contract.IRoomManager,
	presence contract.IPresenceTracker,
	publish func(event.DomainEvent),
	upstreamTimeout time.Duration,
) *Lifecycle {
	return &Lifecycle{
		verifier:        verifier,
		registry:        registry,
		rooms:           rooms,
		presence:        presence,
		publish:         publish,
		upstreamTimeout: upstreamTimeout,
		log:             log,
	}
}

// Authenticate validates the bearer credential under a bounded deadline,
// establishes the connection and joins the user's personal channel. Other
// devices of the same user are notified of the new connection.
func (l *Lifecycle) Authenticate(ctx context.Context, rawCredential string, sink contract.EventSink) (*domain.Connection, error) {
	verifyCtx, cancel := context.WithTimeout(ctx, l.upstreamTimeout)
	defer cancel()

	identity, err := l.verifier.Verify(verifyCtx, rawCredential)
	switch {
	case err == nil:
	case stderrors.Is(err, errors.ErrUnauthenticated),
		stderrors.Is(err, errors.ErrAccountInactive):
		return nil, err
	case stderrors.Is(err, context.DeadlineExceeded):
		return nil, errors.ErrUpstreamTimeout
	default:
		l.log.Error("Identity verification failed", "error", err)
		return nil, fmt.Errorf("%w: %v", errors.ErrInternal, err)
	}

	now := time.Now().UTC()
	conn := domain.NewConnection(domain.ConnID(uuid.NewString()), identity, now)

	siblings := l.registry.ConnsForUser(identity.UserID)
	l.registry.Register(conn, sink)

	// Direct notification on the personal channel, not tied to any room.
	if len(siblings) > 0 {
		l.publish(event.DirectNotice{
			UserID:      identity.UserID,
			Excluded:    conn.ID,
			Kind:        "device_connected",
			DisplayName: identity.DisplayName,
			At:          now,
		})
	}

	l.log.Info("Connection authenticated",
		"conn_id", conn.ID,
		"user_id", identity.UserID,
		"devices", len(siblings)+1)
	return conn, nil
}

// Heartbeat refreshes the connection's liveness timestamp.
func (l *Lifecycle) Heartbeat(connID domain.ConnID) error {
	conn, ok := l.registry.Get(connID)
	if !ok {
		return errors.ErrConnectionClosed
	}
	if !conn.Heartbeat(time.Now().UTC()) {
		return errors.ErrConnectionClosed
	}
	return nil
}

// Disconnect runs the full teardown: drop every room membership (each room
// gets a left event), record last-seen fire-and-forget, deregister and close
// the transport. Closing the sink matters when the teardown is coordinator
// initiated, as with a heartbeat timeout: without it the dead peer's socket
// and its pump goroutines would outlive all coordinator state.
// Calling it twice on the same connection is a no-op.
func (l *Lifecycle) Disconnect(connID domain.ConnID, reason string) {
	conn, ok := l.registry.Get(connID)
	if !ok {
		return
	}
	if !conn.Close() {
		return
	}

	sink, hasSink := l.registry.SinkFor(connID)
	sessions := l.rooms.DropAll(connID)
	l.presence.Touch(conn.User.UserID, time.Now().UTC())
	l.registry.Deregister(connID)
	if hasSink {
		sink.Close()
	}

	l.log.Info("Connection closed",
		"conn_id", connID,
		"user_id", conn.User.UserID,
		"rooms", len(sessions),
		"reason", reason)
}
