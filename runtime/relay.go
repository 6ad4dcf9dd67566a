package runtime

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/google/uuid"

	"tarot-live/contract"
	"tarot-live/domain"
	"tarot-live/domain/event"
	"tarot-live/errors"
	"tarot-live/moderation"
)

// Relay validates outbound events against current room membership and fans
// them out. Membership is re-checked on every call: a connection that was
// removed from a session (e.g. closed by moderation) keeps its socket but
// loses the right to emit into the room.
type Relay struct {
	registry  contract.IRegistry
	rooms     contract.IRoomManager
	publish   func(event.DomainEvent)
	persister contract.Persister
	masker    *moderation.Masker // nil disables content masking
	log       *slog.Logger
}

var _ contract.IRelay = (*Relay)(nil)

func NewRelay(
	log *slog.Logger,
	registry contract.IRegistry,
	rooms contract.IRoomManager,
	publish func(event.DomainEvent),
	persister contract.Persister,
	masker *moderation.Masker,
) *Relay {
	return &Relay{
		registry:  registry,
		rooms:     rooms,
		publish:   publish,
		persister: persister,
		masker:    masker,
		log:       log,
	}
}

// Send relays a message to every other connection currently in the room and
// returns the delivery acknowledgement for the sender. Persistence happens
// on the background queue; its failure never fails the relay.
func (r *Relay) Send(connID domain.ConnID, sessionID domain.SessionID, payload []byte, correlationID string) (domain.Delivery, error) {
	conn, ok := r.registry.Get(connID)
	if !ok || conn.Closed() {
		return domain.Delivery{}, errors.ErrConnectionClosed
	}
	if !r.rooms.IsMember(connID, sessionID) {
		return domain.Delivery{}, errors.ErrAccessDenied
	}

	payload, lang := r.prepare(payload)

	envelope := domain.MessageEnvelope{
		DeliveryID:    uuid.New(),
		SessionID:     sessionID,
		SenderConn:    connID,
		Sender:        conn.User,
		Payload:       payload,
		CorrelationID: correlationID,
		Lang:          lang,
		At:            time.Now().UTC(),
	}

	r.publish(event.NewMessage{Envelope: envelope})
	r.persister.QueueMessage(envelope)

	return domain.Delivery{DeliveryID: envelope.DeliveryID, At: envelope.At}, nil
}

// React relays a reaction to all current room members, including the acting
// user's own connections, so every device reflects the reaction.
func (r *Relay) React(connID domain.ConnID, sessionID domain.SessionID, messageID, value string) error {
	conn, ok := r.registry.Get(connID)
	if !ok || conn.Closed() {
		return errors.ErrConnectionClosed
	}
	if !r.rooms.IsMember(connID, sessionID) {
		return errors.ErrAccessDenied
	}

	reaction := domain.ReactionEvent{
		SessionID: sessionID,
		MessageID: messageID,
		UserID:    conn.User.UserID,
		Value:     value,
		At:        time.Now().UTC(),
	}

	r.publish(event.ReactionUpdated{Reaction: reaction})
	r.persister.QueueReaction(reaction)
	return nil
}

// prepare masks blacklisted words in the payload's text field and tags the
// detected language. Payloads without a text field pass through untouched.
func (r *Relay) prepare(payload []byte) (json.RawMessage, string) {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return payload, ""
	}
	text, ok := body["text"].(string)
	if !ok || text == "" {
		return payload, ""
	}

	info := whatlanggo.Detect(text)
	lang := info.Lang.Iso6391()

	if r.masker != nil {
		masked, matched := r.masker.Mask(text)
		if len(matched) > 0 {
			r.log.Warn("Masked blacklisted words", "count", len(matched), "lang", lang)
			body["text"] = masked
			if remarshaled, err := json.Marshal(body); err == nil {
				return remarshaled, lang
			}
		}
	}
	return payload, lang
}
