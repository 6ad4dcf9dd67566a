package workers

import (
	"context"
	"log/slog"
	"time"

	"tarot-live/contract"
)

// Reaper disconnects connections whose heartbeat went silent. The timeout
// is the cancellation signal for all of a connection's room memberships:
// teardown is exactly the one an explicit disconnect runs.
type Reaper struct {
	log              *slog.Logger
	registry         contract.IRegistry
	lifecycle        contract.ILifecycle
	interval         time.Duration
	heartbeatTimeout time.Duration
}

var _ contract.Worker = (*Reaper)(nil)

func NewReaper(
	log *slog.Logger,
	registry contract.IRegistry,
	lifecycle contract.ILifecycle,
	interval, heartbeatTimeout time.Duration,
) *Reaper {
	return &Reaper{
		log:              log,
		registry:         registry,
		lifecycle:        lifecycle,
		interval:         interval,
		heartbeatTimeout: heartbeatTimeout,
	}
}

func (w *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping reaper")
			return ctx.Err()
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Sweep disconnects every connection that missed the heartbeat window.
func (w *Reaper) Sweep() {
	cutoff := time.Now().UTC().Add(-w.heartbeatTimeout)
	for _, conn := range w.registry.StaleSince(cutoff) {
		w.log.Warn("Heartbeat timeout",
			"conn_id", conn.ID,
			"user_id", conn.User.UserID,
			"last_heartbeat", conn.LastHeartbeat())
		w.lifecycle.Disconnect(conn.ID, "heartbeat timeout")
	}
}
