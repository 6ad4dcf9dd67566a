package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"tarot-live/auth"
	"tarot-live/directory"
	"tarot-live/domain"
	"tarot-live/mocks"
	"tarot-live/runtime"
	"tarot-live/runtime/workers"
)

const testSecret = "test-secret"

type testFrame struct {
	Type          string          `json:"type"`
	SessionID     string          `json:"session_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	MessageID     string          `json:"message_id,omitempty"`
	Value         string          `json:"value,omitempty"`
	Code          string          `json:"code,omitempty"`
	Message       string          `json:"message,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

type testHarness struct {
	url         string
	directory   *directory.StaticDirectory
	coordinator *runtime.Coordinator
}

func newTestHarness(t *testing.T) *testHarness {
	return newTestHarnessWithHeartbeat(t, 30*time.Second)
}

func newTestHarnessWithHeartbeat(t *testing.T, heartbeatTimeout time.Duration) *testHarness {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	store := mocks.NewMockMessageStore(ctrl)
	store.EXPECT().StoreMessage(gomock.Any()).Return(nil).AnyTimes()
	store.EXPECT().StoreReaction(gomock.Any()).Return(nil).AnyTimes()
	store.EXPECT().StoreLastSeen(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	sessions := directory.NewStaticDirectory()
	verifier := auth.NewJWTVerifier(testSecret)
	supervisor := workers.NewSupervisor(log, 50*time.Millisecond)

	coordinator := runtime.NewCoordinator(log, supervisor, verifier, sessions, store, nil,
		runtime.Options{
			BufferSize:       64,
			SinkTimeout:      time.Second,
			UpstreamTimeout:  time.Second,
			HeartbeatTimeout: heartbeatTimeout,
			SweepInterval:    20 * time.Millisecond,
			TypingTTL:        5 * time.Second,
			PersistQueueSize: 64,
			PersistAttempts:  2,
			PersistBackoff:   time.Millisecond,
		})

	ctx, cancel := context.WithCancel(context.Background())
	coordinator.Start(ctx)
	t.Cleanup(func() {
		coordinator.Stop()
		cancel()
	})

	ts := httptest.NewServer(New(log, coordinator, 16).Router())
	t.Cleanup(ts.Close)

	return &testHarness{
		url:         "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		directory:   sessions,
		coordinator: coordinator,
	}
}

func (h *testHarness) dial(t *testing.T, identity domain.UserIdentity) *websocket.Conn {
	req := require.New(t)

	token, err := auth.GenerateToken(testSecret, identity, time.Hour)
	req.NoError(err)

	conn, _, err := websocket.DefaultDialer.Dial(h.url, http.Header{
		"Authorization": []string{"Bearer " + token},
	})
	req.NoError(err)
	t.Cleanup(func() { _ = conn.Close() })

	expectFrame(t, conn, "connected")
	return conn
}

// expectFrame reads until a frame of the wanted type arrives, skipping
// unrelated traffic such as presence of the other test connection.
func expectFrame(t *testing.T, conn *websocket.Conn, frameType string) testFrame {
	req := require.New(t)
	deadline := time.Now().Add(3 * time.Second)
	for {
		req.NoError(conn.SetReadDeadline(deadline))
		var f testFrame
		req.NoError(conn.ReadJSON(&f), "expected frame %q", frameType)
		if f.Type == frameType {
			return f
		}
	}
}

func writeFrame(t *testing.T, conn *websocket.Conn, f testFrame) {
	require.NoError(t, conn.WriteJSON(f))
}

func seekerIdentity() domain.UserIdentity {
	return domain.UserIdentity{UserID: "seeker-1", DisplayName: "Luna", Active: true, Role: "client"}
}

func readerIdentity() domain.UserIdentity {
	return domain.UserIdentity{UserID: "reader-1", DisplayName: "Vesna", Active: true, Role: "advisor"}
}

func TestServer_MessageRoundTrip(t *testing.T) {
	req := require.New(t)
	h := newTestHarness(t)
	sessionID := domain.SessionID("session-1")
	h.directory.Put(domain.ChatSession{
		ID: sessionID, Participants: []string{"seeker-1", "reader-1"}, Status: domain.SessionActive,
	})

	// Given both participants joined the room
	seeker := h.dial(t, seekerIdentity())
	reader := h.dial(t, readerIdentity())

	writeFrame(t, seeker, testFrame{Type: "join_room", SessionID: "session-1"})
	expectFrame(t, seeker, "room_joined")
	writeFrame(t, reader, testFrame{Type: "join_room", SessionID: "session-1"})
	expectFrame(t, reader, "room_joined")

	// Then the seeker sees the reader arrive
	joined := expectFrame(t, seeker, "peer_joined")
	var presence struct {
		UserID string `json:"user_id"`
	}
	req.NoError(json.Unmarshal(joined.Data, &presence))
	req.Equal("reader-1", presence.UserID)

	// When the seeker sends a message
	writeFrame(t, seeker, testFrame{
		Type:          "send_message",
		SessionID:     "session-1",
		Payload:       json.RawMessage(`{"text":"What do the cards say?"}`),
		CorrelationID: "corr-1",
	})

	// Then the seeker gets the delivery ack with its correlation id
	ack := expectFrame(t, seeker, "message_delivered")
	var delivered struct {
		CorrelationID string `json:"correlation_id"`
		DeliveryID    string `json:"delivery_id"`
	}
	req.NoError(json.Unmarshal(ack.Data, &delivered))
	req.Equal("corr-1", delivered.CorrelationID)
	req.NotEmpty(delivered.DeliveryID)

	// And the reader receives the message, but the sender does not echo it
	incoming := expectFrame(t, reader, "new_message")
	var message struct {
		SessionID  string `json:"session_id"`
		DeliveryID string `json:"delivery_id"`
		Sender     struct {
			UserID string `json:"user_id"`
		} `json:"sender"`
		Payload json.RawMessage `json:"payload"`
	}
	req.NoError(json.Unmarshal(incoming.Data, &message))
	req.Equal("session-1", message.SessionID)
	req.Equal(delivered.DeliveryID, message.DeliveryID)
	req.Equal("seeker-1", message.Sender.UserID)
	req.JSONEq(`{"text":"What do the cards say?"}`, string(message.Payload))
}

func TestServer_TypingAndReaction(t *testing.T) {
	req := require.New(t)
	h := newTestHarness(t)
	sessionID := domain.SessionID("session-1")
	h.directory.Put(domain.ChatSession{
		ID: sessionID, Participants: []string{"seeker-1", "reader-1"}, Status: domain.SessionActive,
	})

	seeker := h.dial(t, seekerIdentity())
	reader := h.dial(t, readerIdentity())

	writeFrame(t, seeker, testFrame{Type: "join_room", SessionID: "session-1"})
	expectFrame(t, seeker, "room_joined")
	writeFrame(t, reader, testFrame{Type: "join_room", SessionID: "session-1"})
	expectFrame(t, reader, "room_joined")

	// When the reader starts typing without naming the session
	writeFrame(t, reader, testFrame{Type: "typing_start"})

	// Then the seeker sees it in the implicitly targeted room
	typing := expectFrame(t, seeker, "peer_typing")
	var typingPayload struct {
		SessionID string `json:"session_id"`
		UserID    string `json:"user_id"`
		IsTyping  bool   `json:"is_typing"`
	}
	req.NoError(json.Unmarshal(typing.Data, &typingPayload))
	req.Equal("session-1", typingPayload.SessionID)
	req.Equal("reader-1", typingPayload.UserID)
	req.True(typingPayload.IsTyping)

	// When the reader reacts to a message
	writeFrame(t, reader, testFrame{
		Type: "react", SessionID: "session-1", MessageID: "msg-1", Value: "🔮",
	})

	// Then the reaction is self-visible and reaches the peer
	expectFrame(t, reader, "reaction_updated")
	reaction := expectFrame(t, seeker, "reaction_updated")
	var reactionPayload struct {
		MessageID string `json:"message_id"`
		UserID    string `json:"user_id"`
		Value     string `json:"value"`
	}
	req.NoError(json.Unmarshal(reaction.Data, &reactionPayload))
	req.Equal("msg-1", reactionPayload.MessageID)
	req.Equal("reader-1", reactionPayload.UserID)
	req.Equal("🔮", reactionPayload.Value)
}

func TestServer_DepartureIsAnnounced(t *testing.T) {
	req := require.New(t)
	h := newTestHarness(t)
	h.directory.Put(domain.ChatSession{
		ID: "session-1", Participants: []string{"seeker-1", "reader-1"}, Status: domain.SessionActive,
	})

	seeker := h.dial(t, seekerIdentity())
	reader := h.dial(t, readerIdentity())

	writeFrame(t, seeker, testFrame{Type: "join_room", SessionID: "session-1"})
	expectFrame(t, seeker, "room_joined")
	writeFrame(t, reader, testFrame{Type: "join_room", SessionID: "session-1"})
	expectFrame(t, reader, "room_joined")
	expectFrame(t, seeker, "peer_joined")

	// When the reader's transport dies without an explicit leave
	req.NoError(reader.Close())

	// Then the seeker is told the peer left
	left := expectFrame(t, seeker, "peer_left")
	var presence struct {
		UserID string `json:"user_id"`
	}
	req.NoError(json.Unmarshal(left.Data, &presence))
	req.Equal("reader-1", presence.UserID)
}

func TestServer_JoinDenied(t *testing.T) {
	req := require.New(t)
	h := newTestHarness(t)
	h.directory.Put(domain.ChatSession{
		ID: "session-1", Participants: []string{"reader-1"}, Status: domain.SessionActive,
	})

	// Given a user not listed as participant
	seeker := h.dial(t, seekerIdentity())

	// When they try to join
	writeFrame(t, seeker, testFrame{Type: "join_room", SessionID: "session-1"})

	// Then they get the taxonomy code, not a silent drop
	errFrame := expectFrame(t, seeker, "error")
	req.Equal("AccessDenied", errFrame.Code)

	// And joining an unknown session reports it as missing
	writeFrame(t, seeker, testFrame{Type: "join_room", SessionID: "nope"})
	errFrame = expectFrame(t, seeker, "error")
	req.Equal("SessionNotFound", errFrame.Code)
}

func TestServer_LeaveRevokesRelay(t *testing.T) {
	req := require.New(t)
	h := newTestHarness(t)
	h.directory.Put(domain.ChatSession{
		ID: "session-1", Participants: []string{"seeker-1"}, Status: domain.SessionActive,
	})

	seeker := h.dial(t, seekerIdentity())
	writeFrame(t, seeker, testFrame{Type: "join_room", SessionID: "session-1"})
	expectFrame(t, seeker, "room_joined")

	// When the connection leaves the room
	writeFrame(t, seeker, testFrame{Type: "leave_room", SessionID: "session-1"})
	expectFrame(t, seeker, "room_left")

	// Then sending into the room is denied
	writeFrame(t, seeker, testFrame{
		Type:          "send_message",
		SessionID:     "session-1",
		Payload:       json.RawMessage(`{"text":"hello?"}`),
		CorrelationID: "corr-1",
	})
	errFrame := expectFrame(t, seeker, "error")
	req.Equal("AccessDenied", errFrame.Code)
}

func TestServer_RejectsBadCredential(t *testing.T) {
	req := require.New(t)
	h := newTestHarness(t)

	// When dialing with a garbage token
	conn, _, err := websocket.DefaultDialer.Dial(h.url, http.Header{
		"Authorization": []string{"Bearer not-a-token"},
	})
	req.NoError(err)
	defer conn.Close()

	// Then the rejection is explicit before the close
	req.NoError(conn.SetReadDeadline(time.Now().Add(3 * time.Second)))
	var f testFrame
	req.NoError(conn.ReadJSON(&f))
	req.Equal("error", f.Type)
	req.Equal("Unauthenticated", f.Code)
}

func TestServer_RejectsInactiveAccount(t *testing.T) {
	req := require.New(t)
	h := newTestHarness(t)

	identity := domain.UserIdentity{UserID: "banned-1", DisplayName: "Banned", Active: false}
	token, err := auth.GenerateToken(testSecret, identity, time.Hour)
	req.NoError(err)

	conn, _, err := websocket.DefaultDialer.Dial(h.url+"?token="+token, nil)
	req.NoError(err)
	defer conn.Close()

	req.NoError(conn.SetReadDeadline(time.Now().Add(3 * time.Second)))
	var f testFrame
	req.NoError(conn.ReadJSON(&f))
	req.Equal("error", f.Type)
	req.Equal("AccountInactive", f.Code)
}

func TestServer_MalformedFrame(t *testing.T) {
	req := require.New(t)
	h := newTestHarness(t)

	seeker := h.dial(t, seekerIdentity())

	// When the client sends an unknown frame type
	writeFrame(t, seeker, testFrame{Type: "subscribe"})
	errFrame := expectFrame(t, seeker, "error")
	req.Equal("BadFrame", errFrame.Code)

	// When a join omits its session id
	writeFrame(t, seeker, testFrame{Type: "join_room"})
	errFrame = expectFrame(t, seeker, "error")
	req.Equal("BadFrame", errFrame.Code)

	// And the connection survives both: a ping still answers
	writeFrame(t, seeker, testFrame{Type: "ping"})
	expectFrame(t, seeker, "pong")
}

func TestServer_DeviceConnectedNotice(t *testing.T) {
	req := require.New(t)
	h := newTestHarness(t)

	// Given a first device of the seeker
	phone := h.dial(t, seekerIdentity())

	// When a second device connects
	h.dial(t, seekerIdentity())

	// Then the first device is notified on the personal channel
	notice := expectFrame(t, phone, "notify")
	var payload struct {
		Kind   string `json:"kind"`
		UserID string `json:"user_id"`
	}
	req.NoError(json.Unmarshal(notice.Data, &payload))
	req.Equal("device_connected", payload.Kind)
	req.Equal("seeker-1", payload.UserID)
}

func TestServer_SendReachesSiblingDevice(t *testing.T) {
	req := require.New(t)
	h := newTestHarness(t)
	sessionID := domain.SessionID("session-1")
	h.directory.Put(domain.ChatSession{
		ID: sessionID, Participants: []string{"seeker-1", "reader-1"}, Status: domain.SessionActive,
	})

	// Given the same seeker is in the room from two devices
	phone := h.dial(t, seekerIdentity())
	tablet := h.dial(t, seekerIdentity())

	writeFrame(t, phone, testFrame{Type: "join_room", SessionID: "session-1"})
	expectFrame(t, phone, "room_joined")
	writeFrame(t, tablet, testFrame{Type: "join_room", SessionID: "session-1"})
	expectFrame(t, tablet, "room_joined")

	// When the phone sends a message
	writeFrame(t, phone, testFrame{
		Type:          "send_message",
		SessionID:     "session-1",
		Payload:       json.RawMessage(`{"text":"Pulling a card now"}`),
		CorrelationID: "corr-dev",
	})

	ack := expectFrame(t, phone, "message_delivered")
	var delivered struct {
		DeliveryID string `json:"delivery_id"`
	}
	req.NoError(json.Unmarshal(ack.Data, &delivered))

	// Then the sibling device receives the message like any other member
	incoming := expectFrame(t, tablet, "new_message")
	var message struct {
		DeliveryID string `json:"delivery_id"`
		Sender     struct {
			UserID string `json:"user_id"`
		} `json:"sender"`
	}
	req.NoError(json.Unmarshal(incoming.Data, &message))
	req.Equal(delivered.DeliveryID, message.DeliveryID)
	req.Equal("seeker-1", message.Sender.UserID)

	// And the sending device got only the ack, never its own message back
	writeFrame(t, phone, testFrame{Type: "ping"})
	deadline := time.Now().Add(3 * time.Second)
	for {
		req.NoError(phone.SetReadDeadline(deadline))
		var f testFrame
		req.NoError(phone.ReadJSON(&f))
		req.NotEqual("new_message", f.Type)
		if f.Type == "pong" {
			break
		}
	}
}

func TestServer_ReapedConnectionIsClosed(t *testing.T) {
	req := require.New(t)
	h := newTestHarnessWithHeartbeat(t, 150*time.Millisecond)

	// Given a client that goes silent after connecting
	seeker := h.dial(t, seekerIdentity())

	// Then the reaper drops its coordinator state
	req.Eventually(func() bool {
		return h.coordinator.Registry.Count() == 0
	}, 3*time.Second, 20*time.Millisecond)

	// And the transport itself is closed, not left dangling
	req.NoError(seeker.SetReadDeadline(time.Now().Add(3 * time.Second)))
	var readErr error
	for readErr == nil {
		var f testFrame
		readErr = seeker.ReadJSON(&f)
	}
	var nerr net.Error
	if stderrors.As(readErr, &nerr) {
		req.False(nerr.Timeout(), "expected a closed socket, got a read timeout")
	}
}

func TestServer_InboundFrameRefreshesLiveness(t *testing.T) {
	req := require.New(t)
	h := newTestHarness(t)
	sessionID := domain.SessionID("session-1")
	h.directory.Put(domain.ChatSession{
		ID: sessionID, Participants: []string{"seeker-1", "reader-1"}, Status: domain.SessionActive,
	})

	seeker := h.dial(t, seekerIdentity())
	conns := h.coordinator.Registry.ConnsForUser("seeker-1")
	req.Len(conns, 1)
	before := conns[0].LastHeartbeat()

	// When any application frame arrives, not just an explicit ping
	time.Sleep(5 * time.Millisecond)
	writeFrame(t, seeker, testFrame{Type: "join_room", SessionID: "session-1"})
	expectFrame(t, seeker, "room_joined")

	// Then liveness advanced
	req.True(conns[0].LastHeartbeat().After(before))
}

func TestServer_Healthz(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockMessageStore(ctrl)
	supervisor := workers.NewSupervisor(log, 50*time.Millisecond)
	coordinator := runtime.NewCoordinator(log, supervisor, auth.NewJWTVerifier(testSecret),
		directory.NewStaticDirectory(), store, nil, runtime.Options{BufferSize: 8})

	ts := httptest.NewServer(New(log, coordinator, 16).Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)

	var payload struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
	}
	req.NoError(json.NewDecoder(resp.Body).Decode(&payload))
	req.Equal("ok", payload.Status)
	req.Equal(0, payload.Connections)
}
