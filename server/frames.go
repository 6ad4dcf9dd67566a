package server

import (
	"encoding/json"
	"time"

	"tarot-live/domain/event"
	"tarot-live/errors"
)

// Client frame types.
const (
	frameJoinRoom    = "join_room"
	frameLeaveRoom   = "leave_room"
	frameTypingStart = "typing_start"
	frameTypingStop  = "typing_stop"
	frameSendMessage = "send_message"
	frameReact       = "react"
	framePing        = "ping"
)

// codeBadFrame rejects malformed client frames. It is a transport-level
// code, outside the operation error taxonomy.
const codeBadFrame = "BadFrame"

// inboundFrame is the envelope of every client->server message. Which
// fields are required depends on the type; dispatch enforces that after the
// envelope itself has been validated.
type inboundFrame struct {
	Type          string          `json:"type" validate:"required,oneof=join_room leave_room typing_start typing_stop send_message react ping"`
	SessionID     string          `json:"session_id,omitempty" validate:"max=128"`
	Payload       json.RawMessage `json:"payload,omitempty" validate:"max=8192"`
	CorrelationID string          `json:"correlation_id,omitempty" validate:"max=64"`
	MessageID     string          `json:"message_id,omitempty" validate:"max=128"`
	Value         string          `json:"value,omitempty" validate:"max=32"`
}

type outboundFrame struct {
	Type    string          `json:"type"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func dataFrame(frameType string, data any) outboundFrame {
	raw, err := json.Marshal(data)
	if err != nil {
		return outboundFrame{Type: "error", Code: errors.CodeInternal, Message: "internal error"}
	}
	return outboundFrame{Type: frameType, Data: raw}
}

func errorFrame(err error) outboundFrame {
	return outboundFrame{Type: "error", Code: errors.Code(err), Message: errors.Message(err)}
}

func badFrame(message string) outboundFrame {
	return outboundFrame{Type: "error", Code: codeBadFrame, Message: message}
}

type peerPresencePayload struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Timestamp   time.Time `json:"timestamp"`
}

type peerTypingPayload struct {
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	IsTyping    bool   `json:"is_typing"`
}

type senderPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
}

type newMessagePayload struct {
	SessionID  string          `json:"session_id"`
	Payload    json.RawMessage `json:"payload"`
	Sender     senderPayload   `json:"sender"`
	DeliveryID string          `json:"delivery_id"`
	Lang       string          `json:"lang,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

type reactionPayload struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Value     string `json:"value"`
}

type noticePayload struct {
	Kind        string    `json:"kind"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type deliveredPayload struct {
	CorrelationID string    `json:"correlation_id"`
	DeliveryID    string    `json:"delivery_id"`
	Timestamp     time.Time `json:"timestamp"`
}

type roomAckPayload struct {
	SessionID string `json:"session_id"`
}

type connectedPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// frameFor translates a fanned-out domain event into its wire frame.
func frameFor(evt event.DomainEvent) (outboundFrame, bool) {
	switch e := evt.(type) {
	case event.NewMessage:
		return dataFrame("new_message", newMessagePayload{
			SessionID: string(e.Envelope.SessionID),
			Payload:   e.Envelope.Payload,
			Sender: senderPayload{
				UserID:      e.Envelope.Sender.UserID,
				DisplayName: e.Envelope.Sender.DisplayName,
				Avatar:      e.Envelope.Sender.Avatar,
			},
			DeliveryID: e.Envelope.DeliveryID.String(),
			Lang:       e.Envelope.Lang,
			Timestamp:  e.Envelope.At,
		}), true
	case event.ReactionUpdated:
		return dataFrame("reaction_updated", reactionPayload{
			SessionID: string(e.Reaction.SessionID),
			MessageID: e.Reaction.MessageID,
			UserID:    e.Reaction.UserID,
			Value:     e.Reaction.Value,
		}), true
	case event.PeerJoined:
		return dataFrame("peer_joined", peerPresencePayload{
			SessionID:   string(e.Session),
			UserID:      e.User.UserID,
			DisplayName: e.User.DisplayName,
			Timestamp:   e.At,
		}), true
	case event.PeerLeft:
		return dataFrame("peer_left", peerPresencePayload{
			SessionID:   string(e.Session),
			UserID:      e.User.UserID,
			DisplayName: e.User.DisplayName,
			Timestamp:   e.At,
		}), true
	case event.PeerTyping:
		return dataFrame("peer_typing", peerTypingPayload{
			SessionID:   string(e.Session),
			UserID:      e.User.UserID,
			DisplayName: e.User.DisplayName,
			IsTyping:    e.IsTyping,
		}), true
	case event.DirectNotice:
		return dataFrame("notify", noticePayload{
			Kind:        e.Kind,
			UserID:      e.UserID,
			DisplayName: e.DisplayName,
			Timestamp:   e.At,
		}), true
	default:
		return outboundFrame{}, false
	}
}

// requireFields enforces the per-type required fields of an inbound frame.
func (f inboundFrame) requireFields() (string, bool) {
	switch f.Type {
	case frameJoinRoom, frameLeaveRoom:
		if f.SessionID == "" {
			return "session_id is required", false
		}
	case frameSendMessage:
		if f.SessionID == "" || len(f.Payload) == 0 || f.CorrelationID == "" {
			return "session_id, payload and correlation_id are required", false
		}
	case frameReact:
		if f.SessionID == "" || f.MessageID == "" || f.Value == "" {
			return "session_id, message_id and value are required", false
		}
	}
	return "", true
}
