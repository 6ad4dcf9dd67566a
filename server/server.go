// Package server exposes the coordinator over HTTP: the websocket event
// transport and the synchronous health surface.
package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"tarot-live/domain"
	"tarot-live/runtime"
)

type Server struct {
	coordinator *runtime.Coordinator
	log         *slog.Logger
	validate    *validator.Validate
	upgrader    websocket.Upgrader
	bufferSize  int
}

func New(log *slog.Logger, coordinator *runtime.Coordinator, connectionBufferSize int) *Server {
	return &Server{
		coordinator: coordinator,
		log:         log,
		validate:    validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		bufferSize: connectionBufferSize,
	}
}

// Router wires the transport routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleWS)
	return r
}

// bearerCredential extracts the token from the Authorization header or,
// for browser websocket clients that cannot set headers, the query string.
func bearerCredential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// handleWS upgrades the transport and authenticates the connection.
// A rejected credential closes the socket with an error frame and a policy
// close code, never silently; no room state exists at that point.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("Upgrade failed", "error", err)
		return
	}

	client := newWSClient(conn, s.bufferSize, s.log)

	connection, err := s.coordinator.Lifecycle.Authenticate(r.Context(), bearerCredential(r), client)
	if err != nil {
		frame := errorFrame(err)
		_ = conn.WriteJSON(frame)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, frame.Code))
		client.Close()
		return
	}

	go client.writePump()
	client.reply(dataFrame("connected", connectedPayload{
		UserID:      connection.User.UserID,
		DisplayName: connection.User.DisplayName,
	}))

	// Websocket-level pongs count as heartbeats too.
	conn.SetPongHandler(func(string) error {
		_ = s.coordinator.Lifecycle.Heartbeat(connection.ID)
		return nil
	})

	s.readPump(r, connection.ID, client)
}

// readPump is the single dispatch loop of a connection. It exits on the
// first transport error and runs the same teardown as an explicit leave.
func (s *Server) readPump(r *http.Request, connID domain.ConnID, client *wsClient) {
	defer func() {
		s.coordinator.Lifecycle.Disconnect(connID, "transport closed")
		client.Close()
	}()

	for {
		var frame inboundFrame
		if err := client.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("Connection dropped", "conn_id", connID, "error", err)
			}
			return
		}
		// Any inbound frame proves the link is alive.
		_ = s.coordinator.Lifecycle.Heartbeat(connID)
		s.dispatch(r, connID, client, frame)
	}
}

func (s *Server) dispatch(r *http.Request, connID domain.ConnID, client *wsClient, frame inboundFrame) {
	if err := s.validate.Struct(frame); err != nil {
		client.reply(badFrame("invalid frame"))
		return
	}
	if msg, ok := frame.requireFields(); !ok {
		client.reply(badFrame(msg))
		return
	}

	sessionID := domain.SessionID(frame.SessionID)

	switch frame.Type {
	case framePing:
		if err := s.coordinator.Lifecycle.Heartbeat(connID); err != nil {
			client.reply(errorFrame(err))
			return
		}
		client.reply(outboundFrame{Type: "pong"})

	case frameJoinRoom:
		if err := s.coordinator.Rooms.Join(r.Context(), connID, sessionID); err != nil {
			client.reply(errorFrame(err))
			return
		}
		client.reply(dataFrame("room_joined", roomAckPayload{SessionID: frame.SessionID}))

	case frameLeaveRoom:
		s.coordinator.Rooms.Leave(connID, sessionID)
		client.reply(dataFrame("room_left", roomAckPayload{SessionID: frame.SessionID}))

	case frameTypingStart, frameTypingStop:
		target := sessionID
		if target == "" {
			target = s.implicitSession(connID)
		}
		isTyping := frame.Type == frameTypingStart
		if err := s.coordinator.Presence.SetTyping(connID, target, isTyping); err != nil {
			client.reply(errorFrame(err))
		}

	case frameSendMessage:
		delivery, err := s.coordinator.Relay.Send(connID, sessionID, frame.Payload, frame.CorrelationID)
		if err != nil {
			client.reply(errorFrame(err))
			return
		}
		client.reply(dataFrame("message_delivered", deliveredPayload{
			CorrelationID: frame.CorrelationID,
			DeliveryID:    delivery.DeliveryID.String(),
			Timestamp:     delivery.At,
		}))

	case frameReact:
		if err := s.coordinator.Relay.React(connID, sessionID, frame.MessageID, frame.Value); err != nil {
			client.reply(errorFrame(err))
		}
	}
}

// implicitSession resolves the typing target when the client sent none:
// the most recently joined room of that connection.
func (s *Server) implicitSession(connID domain.ConnID) domain.SessionID {
	conn, ok := s.coordinator.Registry.Get(connID)
	if !ok {
		return ""
	}
	return conn.LastJoined()
}

// ListenAndServe runs the HTTP server until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info("Starting transport server", "address", addr)
	return srv.ListenAndServe()
}
