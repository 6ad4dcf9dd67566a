package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageEnvelope is the in-flight shape of a relayed message.
// The durable record lives in the external store; the coordinator only
// relays and best-effort persists.
type MessageEnvelope struct {
	DeliveryID    uuid.UUID
	SessionID     SessionID
	SenderConn    ConnID
	Sender        UserIdentity
	Payload       json.RawMessage
	CorrelationID string
	Lang          string
	At            time.Time
}

// ReactionEvent is last-write-wins per (message id, user id).
type ReactionEvent struct {
	SessionID SessionID
	MessageID string
	UserID    string
	Value     string
	At        time.Time
}

// Delivery is the acknowledgement returned to a sender once its message has
// been relayed to currently connected peers. Not a durability guarantee.
type Delivery struct {
	DeliveryID uuid.UUID
	At         time.Time
}
