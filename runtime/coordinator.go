package runtime

import (
	"context"
	"log/slog"
	"time"

	"tarot-live/contract"
	"tarot-live/domain/event"
	"tarot-live/moderation"
	"tarot-live/runtime/workers"
)

// Options groups the tunables of a coordinator instance.
type Options struct {
	BufferSize       int
	SinkTimeout      time.Duration
	UpstreamTimeout  time.Duration
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration
	TypingTTL        time.Duration
	PersistQueueSize int
	PersistAttempts  int
	PersistBackoff   time.Duration
}

// Coordinator is the explicit context object owning every shared structure
// of the messaging core: registry, rooms, presence, relay and lifecycle.
// It is constructed once per process and injected into the transport, which
// keeps state out of package globals and lets tests run several isolated
// coordinators side by side.
type Coordinator struct {
	Registry  *Registry
	Rooms     *RoomManager
	Presence  *PresenceTracker
	Relay     *Relay
	Lifecycle *Lifecycle

	supervisor contract.ISupervisor
	persist    *workers.PersistQueue
	events     chan event.DomainEvent
	opts       Options
	log        *slog.Logger
	startedAt  time.Time
}

func NewCoordinator(
	log *slog.Logger,
	supervisor contract.ISupervisor,
	verifier contract.IdentityVerifier,
	directory contract.SessionDirectory,
	store contract.MessageStore,
	masker *moderation.Masker,
	opts Options,
) *Coordinator {
	c := &Coordinator{
		supervisor: supervisor,
		events:     make(chan event.DomainEvent, opts.BufferSize),
		opts:       opts,
		log:        log,
		startedAt:  time.Now().UTC(),
	}

	c.persist = workers.NewPersistQueue(log, store, opts.PersistQueueSize, opts.PersistAttempts, opts.PersistBackoff)
	c.Registry = NewRegistry()
	c.Rooms = NewRoomManager(log, directory, c.Registry, c.publish, opts.UpstreamTimeout)
	c.Presence = NewPresenceTracker(log, c.Rooms, c.Registry, c.publish, c.persist)
	c.Relay = NewRelay(log, c.Registry, c.Rooms, c.publish, c.persist, masker)
	c.Lifecycle = NewLifecycle(log, verifier, c.Registry, c.Rooms, c.Presence, c.publish, opts.UpstreamTimeout)

	return c
}

// publish hands an event to the fanout worker. The channel is the single
// point of serialization: events of one room reach members in the order the
// server processed them. A full buffer drops the event rather than blocking
// a hot path; this transport is not durable by contract.
func (c *Coordinator) publish(evt event.DomainEvent) {
	select {
	case c.events <- evt:
	default:
		c.log.Warn("Event buffer full, dropping event", "session_id", evt.SessionID())
	}
}

// Start registers all background workers with the supervisor and launches
// them. It returns immediately; Stop cancels the supervision context.
func (c *Coordinator) Start(ctx context.Context) {
	fanout := workers.NewEventFanout(c.log, c.events, c.Rooms, c.Registry, c.opts.SinkTimeout)
	reaper := workers.NewReaper(c.log, c.Registry, c.Lifecycle, c.opts.SweepInterval, c.opts.HeartbeatTimeout)
	typingSweep := workers.NewTypingSweep(c.log, c.Presence, c.opts.SweepInterval, c.opts.TypingTTL)

	c.supervisor.Add(fanout, reaper, typingSweep, c.persist)
	go c.supervisor.Run(ctx)

	c.log.Info("Coordinator started",
		"buffer_size", c.opts.BufferSize,
		"heartbeat_timeout", c.opts.HeartbeatTimeout,
		"typing_ttl", c.opts.TypingTTL)
}

// Stop cancels the supervision context and waits for workers to settle.
func (c *Coordinator) Stop() {
	c.log.Info("Requesting coordinator shutdown")
	c.supervisor.Stop()
}

// Stats is the snapshot surfaced by the health endpoint.
type Stats struct {
	Connections int
	Rooms       int
	Uptime      time.Duration
}

func (c *Coordinator) Stats() Stats {
	return Stats{
		Connections: c.Registry.Count(),
		Rooms:       c.Rooms.RoomCount(),
		Uptime:      time.Since(c.startedAt),
	}
}
