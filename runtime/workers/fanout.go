package workers

import (
	"context"
	"log/slog"
	"time"

	"tarot-live/contract"
	"tarot-live/domain"
	"tarot-live/domain/event"
)

// EventFanout delivers domain events to the sinks of current room members.
// A single fanout goroutine consumes the event channel, which is what makes
// in-room delivery ordered: every member's buffered sink is filled in the
// order the server processed the events.
//
// Delivery is best effort with no retries; durable delivery is the external
// store's concern, not this worker's.
type EventFanout struct {
	log         *slog.Logger
	events      chan event.DomainEvent
	rooms       contract.IRoomManager
	registry    contract.IRegistry
	sinkTimeout time.Duration
}

var _ contract.Worker = (*EventFanout)(nil)

func NewEventFanout(
	log *slog.Logger,
	events chan event.DomainEvent,
	rooms contract.IRoomManager,
	registry contract.IRegistry,
	sinkTimeout time.Duration,
) *EventFanout {
	return &EventFanout{
		log:         log,
		events:      events,
		rooms:       rooms,
		registry:    registry,
		sinkTimeout: sinkTimeout,
	}
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping fanout")
			return ctx.Err()
		case evt, ok := <-w.events:
			if !ok {
				return nil
			}
			w.Fanout(ctx, evt)
		}
	}
}

// Fanout resolves the event's audience and feeds each sink once.
// Room events go to current members; direct notices go to every connection
// of the targeted user. The excluded connection (usually the producer) is
// skipped either way.
func (w *EventFanout) Fanout(ctx context.Context, evt event.DomainEvent) {
	if notice, ok := evt.(event.DirectNotice); ok {
		for _, conn := range w.registry.ConnsForUser(notice.UserID) {
			if conn.ID == notice.Excluded {
				continue
			}
			w.deliver(ctx, conn.ID, evt)
		}
		return
	}

	excluded := evt.ExcludedConn()
	for _, connID := range w.rooms.Members(evt.SessionID()) {
		if connID == excluded {
			continue
		}
		w.deliver(ctx, connID, evt)
	}
}

func (w *EventFanout) deliver(ctx context.Context, connID domain.ConnID, evt event.DomainEvent) {
	sink, ok := w.registry.SinkFor(connID)
	if !ok {
		// The connection left between the membership snapshot and delivery;
		// the event is simply dropped for that peer.
		return
	}

	deliverCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
	defer cancel()
	if err := sink.Consume(deliverCtx, evt); err != nil {
		w.log.Debug("Sink refused event", "conn_id", connID, "error", err)
	}
}
