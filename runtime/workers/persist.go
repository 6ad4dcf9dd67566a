package workers

import (
	"context"
	"log/slog"
	"time"

	"tarot-live/contract"
	"tarot-live/domain"
)

type persistKind int

const (
	persistMessage persistKind = iota
	persistReaction
	persistLastSeen
)

type persistJob struct {
	kind     persistKind
	envelope domain.MessageEnvelope
	reaction domain.ReactionEvent
	userID   string
	at       time.Time
}

// PersistQueue applies persistence jobs off the hot relay path. Each job is
// retried a bounded number of times with a fixed backoff; exhausted jobs are
// written to the log as dead letters so a failure is observable instead of
// silently dropped. A full queue also dead-letters immediately: the relay
// must never block on storage.
type PersistQueue struct {
	log         *slog.Logger
	store       contract.MessageStore
	jobs        chan persistJob
	maxAttempts int
	backoff     time.Duration
}

var (
	_ contract.Worker    = (*PersistQueue)(nil)
	_ contract.Persister = (*PersistQueue)(nil)
)

func NewPersistQueue(log *slog.Logger, store contract.MessageStore, queueSize, maxAttempts int, backoff time.Duration) *PersistQueue {
	return &PersistQueue{
		log:         log,
		store:       store,
		jobs:        make(chan persistJob, queueSize),
		maxAttempts: maxAttempts,
		backoff:     backoff,
	}
}

func (w *PersistQueue) QueueMessage(envelope domain.MessageEnvelope) {
	w.enqueue(persistJob{kind: persistMessage, envelope: envelope})
}

func (w *PersistQueue) QueueReaction(reaction domain.ReactionEvent) {
	w.enqueue(persistJob{kind: persistReaction, reaction: reaction})
}

func (w *PersistQueue) QueueLastSeen(userID string, at time.Time) {
	w.enqueue(persistJob{kind: persistLastSeen, userID: userID, at: at})
}

func (w *PersistQueue) enqueue(job persistJob) {
	select {
	case w.jobs <- job:
	default:
		w.deadLetter(job, "persistence queue full")
	}
}

func (w *PersistQueue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping persistence queue", "pending", len(w.jobs))
			return ctx.Err()
		case job := <-w.jobs:
			w.apply(ctx, job)
		}
	}
}

func (w *PersistQueue) apply(ctx context.Context, job persistJob) {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if lastErr = w.applyOnce(job); lastErr == nil {
			return
		}
		select {
		case <-ctx.Done():
			w.deadLetter(job, "shutdown during retry")
			return
		case <-time.After(w.backoff):
		}
	}
	w.deadLetter(job, lastErr.Error())
}

func (w *PersistQueue) applyOnce(job persistJob) error {
	switch job.kind {
	case persistMessage:
		return w.store.StoreMessage(job.envelope)
	case persistReaction:
		return w.store.StoreReaction(job.reaction)
	default:
		return w.store.StoreLastSeen(job.userID, job.at)
	}
}

// deadLetter records everything needed to replay the fact by hand.
func (w *PersistQueue) deadLetter(job persistJob, reason string) {
	switch job.kind {
	case persistMessage:
		w.log.Error("Dead letter: message not persisted",
			"reason", reason,
			"session_id", job.envelope.SessionID,
			"delivery_id", job.envelope.DeliveryID,
			"sender_id", job.envelope.Sender.UserID)
	case persistReaction:
		w.log.Error("Dead letter: reaction not persisted",
			"reason", reason,
			"session_id", job.reaction.SessionID,
			"message_id", job.reaction.MessageID,
			"user_id", job.reaction.UserID)
	default:
		w.log.Error("Dead letter: last-seen not persisted",
			"reason", reason,
			"user_id", job.userID,
			"at", job.at)
	}
}
