// Package repositories persists relayed facts to the local BadgerDB.
// This is the coordinator's best-effort copy; the durable record lives in the
// platform's relational store and is written by its own CRUD surfaces.
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"tarot-live/contract"
	"tarot-live/domain"
)

type BadgerStore struct {
	db  *badger.DB
	log *slog.Logger
}

var _ contract.MessageStore = (*BadgerStore)(nil)

func NewBadgerStore(db *badger.DB, log *slog.Logger) *BadgerStore {
	return &BadgerStore{db: db, log: log}
}

type diskMessage struct {
	DeliveryID    string          `json:"delivery_id"`
	SessionID     string          `json:"session_id"`
	SenderID      string          `json:"sender_id"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id"`
	Lang          string          `json:"lang,omitempty"`
	At            int64           `json:"at"`
}

type diskReaction struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Value     string `json:"value"`
	At        int64  `json:"at"`
}

// StoreMessage persists one relayed message.
// The key is "msg:{session}:{timestamp_padded}:{delivery_id}" so that:
//  1. a prefix scan per session returns messages in chronological order
//     (19-digit zero padding keeps lexicographic order equal to time order);
//  2. the delivery id disambiguates two messages relayed in the same
//     nanosecond.
func (s *BadgerStore) StoreMessage(envelope domain.MessageEnvelope) error {
	key := fmt.Sprintf("msg:%s:%019d:%s",
		envelope.SessionID,
		envelope.At.UnixNano(),
		envelope.DeliveryID,
	)
	value, err := json.Marshal(diskMessage{
		DeliveryID:    envelope.DeliveryID.String(),
		SessionID:     string(envelope.SessionID),
		SenderID:      envelope.Sender.UserID,
		Payload:       envelope.Payload,
		CorrelationID: envelope.CorrelationID,
		Lang:          envelope.Lang,
		At:            envelope.At.UnixNano(),
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// StoreReaction is last-write-wins per (message id, user id): the key omits
// the timestamp, so a newer reaction by the same user simply overwrites.
func (s *BadgerStore) StoreReaction(reaction domain.ReactionEvent) error {
	key := fmt.Sprintf("react:%s:%s:%s", reaction.SessionID, reaction.MessageID, reaction.UserID)
	value, err := json.Marshal(diskReaction{
		SessionID: string(reaction.SessionID),
		MessageID: reaction.MessageID,
		UserID:    reaction.UserID,
		Value:     reaction.Value,
		At:        reaction.At.UnixNano(),
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (s *BadgerStore) StoreLastSeen(userID string, at time.Time) error {
	key := fmt.Sprintf("seen:%s", userID)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(fmt.Sprintf("%d", at.UnixNano())))
	})
}

// Messages returns up to limit messages of a session, oldest first.
// Used by operational tooling and tests to inspect what was persisted.
func (s *BadgerStore) Messages(sessionID domain.SessionID, limit int) ([]domain.MessageEnvelope, error) {
	var out []domain.MessageEnvelope
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("msg:%s:", sessionID))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) == limit {
				break
			}
			err := it.Item().Value(func(value []byte) error {
				var m diskMessage
				if err := json.Unmarshal(value, &m); err != nil {
					return err
				}
				envelope, err := fromDiskMessage(m)
				if err != nil {
					return err
				}
				out = append(out, envelope)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// Reaction returns the current reaction of a user on a message, if any.
func (s *BadgerStore) Reaction(sessionID domain.SessionID, messageID, userID string) (domain.ReactionEvent, bool, error) {
	key := fmt.Sprintf("react:%s:%s:%s", sessionID, messageID, userID)
	var reaction domain.ReactionEvent
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			var r diskReaction
			if err := json.Unmarshal(value, &r); err != nil {
				return err
			}
			reaction = domain.ReactionEvent{
				SessionID: domain.SessionID(r.SessionID),
				MessageID: r.MessageID,
				UserID:    r.UserID,
				Value:     r.Value,
				At:        time.Unix(0, r.At).UTC(),
			}
			found = true
			return nil
		})
	})
	return reaction, found, err
}

// LastSeen returns the most recently recorded presence timestamp of a user.
func (s *BadgerStore) LastSeen(userID string) (time.Time, bool, error) {
	key := fmt.Sprintf("seen:%s", userID)
	var at time.Time
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			var nanos int64
			if _, err := fmt.Sscanf(string(value), "%d", &nanos); err != nil {
				return err
			}
			at = time.Unix(0, nanos).UTC()
			found = true
			return nil
		})
	})
	return at, found, err
}

func fromDiskMessage(m diskMessage) (domain.MessageEnvelope, error) {
	deliveryID, err := uuid.Parse(m.DeliveryID)
	if err != nil {
		return domain.MessageEnvelope{}, err
	}
	return domain.MessageEnvelope{
		DeliveryID:    deliveryID,
		SessionID:     domain.SessionID(m.SessionID),
		Sender:        domain.UserIdentity{UserID: m.SenderID},
		Payload:       m.Payload,
		CorrelationID: m.CorrelationID,
		Lang:          m.Lang,
		At:            time.Unix(0, m.At).UTC(),
	}, nil
}
