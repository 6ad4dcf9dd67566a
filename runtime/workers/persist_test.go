package workers

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"tarot-live/domain"
	"tarot-live/mocks"
)

func TestPersistQueue_AppliesJobs(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockMessageStore(ctrl)
	queue := NewPersistQueue(log, store, 16, 3, time.Millisecond)

	envelope := domain.MessageEnvelope{
		DeliveryID: uuid.New(),
		SessionID:  "session-1",
		At:         time.Now().UTC(),
	}

	done := make(chan struct{})
	store.EXPECT().StoreMessage(envelope).Return(nil).Times(1)
	store.EXPECT().StoreReaction(gomock.Any()).Return(nil).Times(1)
	store.EXPECT().StoreLastSeen("seeker-1", gomock.Any()).
		DoAndReturn(func(userID string, at time.Time) error {
			close(done)
			return nil
		}).Times(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go queue.Run(ctx)

	// When three kinds of job are queued
	queue.QueueMessage(envelope)
	queue.QueueReaction(domain.ReactionEvent{SessionID: "session-1", MessageID: "msg-1"})
	queue.QueueLastSeen("seeker-1", time.Now().UTC())

	// Then every one of them reached the store
	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("Jobs were not applied in time")
	}
}

func TestPersistQueue_RetriesBeforeGivingUp(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockMessageStore(ctrl)
	queue := NewPersistQueue(log, store, 16, 3, time.Millisecond)

	done := make(chan struct{})
	attempts := 0

	// Given a store that fails twice then recovers
	store.EXPECT().StoreMessage(gomock.Any()).
		DoAndReturn(func(envelope domain.MessageEnvelope) error {
			attempts++
			if attempts < 3 {
				return fmt.Errorf("store unavailable")
			}
			close(done)
			return nil
		}).Times(3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go queue.Run(ctx)

	// When the message is queued once
	queue.QueueMessage(domain.MessageEnvelope{DeliveryID: uuid.New()})

	// Then the third attempt succeeds
	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("Job was not retried in time")
	}
}

func TestPersistQueue_DeadLettersAfterExhaustion(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockMessageStore(ctrl)
	queue := NewPersistQueue(log, store, 16, 2, time.Millisecond)

	done := make(chan struct{})
	attempts := 0

	// Given a store that never recovers
	store.EXPECT().StoreReaction(gomock.Any()).
		DoAndReturn(func(reaction domain.ReactionEvent) error {
			attempts++
			if attempts == 2 {
				defer close(done)
			}
			return fmt.Errorf("store unavailable")
		}).Times(2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go queue.Run(ctx)

	queue.QueueReaction(domain.ReactionEvent{SessionID: "session-1", MessageID: "msg-1", UserID: "reader-1"})

	// Then the job stops after maxAttempts and is dead-lettered
	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("Job was not exhausted in time")
	}
}

func TestPersistQueue_FullQueueNeverBlocks(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockMessageStore(ctrl)

	// Given a queue of size one with no consumer running
	queue := NewPersistQueue(log, store, 1, 3, time.Millisecond)

	// When more jobs arrive than the queue can hold
	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			queue.QueueLastSeen("seeker-1", time.Now().UTC())
		}
		close(finished)
	}()

	// Then the producer is never blocked: overflow dead-letters immediately
	select {
	case <-finished:
	case <-time.After(time.Second):
		req.Fail("Enqueue blocked on a full queue")
	}
}
