package runtime

import (
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"tarot-live/domain"
	"tarot-live/domain/event"
	"tarot-live/errors"
	"tarot-live/mocks"
)

func TestPresenceTracker_SetTyping(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	registry := NewRegistry()
	rooms := mocks.NewMockIRoomManager(ctrl)
	persister := mocks.NewMockPersister(ctrl)

	var published []event.DomainEvent
	presence := NewPresenceTracker(log, rooms, registry, func(evt event.DomainEvent) {
		published = append(published, evt)
	}, persister)

	sessionID := domain.SessionID("session-1")
	conn := newConn("reader-1")
	registry.Register(conn, mocks.NewMockEventSink(ctrl))

	// Given the connection is a room member
	rooms.EXPECT().IsMember(conn.ID, sessionID).Return(true).Times(2)

	// When the user starts typing
	req.NoError(presence.SetTyping(conn.ID, sessionID, true))

	// Then the flag is set and peers were told, excluding the typist
	req.True(presence.Typing(sessionID, "reader-1"))
	req.Len(published, 1)
	typing := published[0].(event.PeerTyping)
	req.True(typing.IsTyping)
	req.Equal(conn.ID, typing.ExcludedConn())

	// When the user stops typing
	req.NoError(presence.SetTyping(conn.ID, sessionID, false))

	// Then the flag is cleared
	req.False(presence.Typing(sessionID, "reader-1"))
	req.Len(published, 2)
	req.False(published[1].(event.PeerTyping).IsTyping)
}

func TestPresenceTracker_SetTypingRequiresMembership(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	registry := NewRegistry()
	rooms := mocks.NewMockIRoomManager(ctrl)
	persister := mocks.NewMockPersister(ctrl)
	presence := NewPresenceTracker(log, rooms, registry, func(event.DomainEvent) {
		req.Fail("no event expected")
	}, persister)

	sessionID := domain.SessionID("session-1")

	// Given an unknown connection
	err := presence.SetTyping(domain.ConnID("ghost"), sessionID, true)
	req.ErrorIs(err, errors.ErrConnectionClosed)

	// Given a live connection that never joined the room
	conn := newConn("seeker-1")
	registry.Register(conn, mocks.NewMockEventSink(ctrl))
	rooms.EXPECT().IsMember(conn.ID, sessionID).Return(false).Times(1)

	err = presence.SetTyping(conn.ID, sessionID, true)
	req.ErrorIs(err, errors.ErrAccessDenied)
}

func TestPresenceTracker_ExpireStale(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	registry := NewRegistry()
	rooms := mocks.NewMockIRoomManager(ctrl)
	persister := mocks.NewMockPersister(ctrl)

	var published []event.DomainEvent
	presence := NewPresenceTracker(log, rooms, registry, func(evt event.DomainEvent) {
		published = append(published, evt)
	}, persister)

	sessionID := domain.SessionID("session-1")
	conn := newConn("reader-1")
	registry.Register(conn, mocks.NewMockEventSink(ctrl))
	rooms.EXPECT().IsMember(conn.ID, sessionID).Return(true).Times(1)

	// Given a typing flag that is never explicitly stopped
	req.NoError(presence.SetTyping(conn.ID, sessionID, true))
	req.True(presence.Typing(sessionID, "reader-1"))

	// When the sweep runs with a cutoff in the future
	presence.ExpireStale(time.Now().UTC().Add(time.Second))

	// Then the flag expired and a synthetic stop reached the room
	req.False(presence.Typing(sessionID, "reader-1"))
	req.Len(published, 2)
	stop := published[1].(event.PeerTyping)
	req.False(stop.IsTyping)
	req.Equal(sessionID, stop.Session)
	req.Equal("reader-1", stop.User.UserID)

	// And a second sweep finds nothing left to expire
	presence.ExpireStale(time.Now().UTC().Add(time.Second))
	req.Len(published, 2)
}

func TestPresenceTracker_Touch(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	registry := NewRegistry()
	rooms := mocks.NewMockIRoomManager(ctrl)
	persister := mocks.NewMockPersister(ctrl)
	presence := NewPresenceTracker(log, rooms, registry, func(event.DomainEvent) {}, persister)

	at := time.Now().UTC()

	// Given the write is handed to the persistence queue
	persister.EXPECT().QueueLastSeen("seeker-1", at).Times(1)

	// When presence is touched
	presence.Touch("seeker-1", at)

	// Then the in-memory record is readable
	seen, ok := presence.LastSeen("seeker-1")
	req.True(ok)
	req.Equal(at, seen)
}
