package workers

import (
	"context"
	"log/slog"
	"time"

	"tarot-live/contract"
)

// TypingSweep expires typing flags that were not refreshed within the TTL.
// The server evaluates the expiry, not the client, so a silent disconnect
// never leaves a stale "typing" indicator visible to peers.
type TypingSweep struct {
	log      *slog.Logger
	presence contract.IPresenceTracker
	interval time.Duration
	ttl      time.Duration
}

var _ contract.Worker = (*TypingSweep)(nil)

func NewTypingSweep(log *slog.Logger, presence contract.IPresenceTracker, interval, ttl time.Duration) *TypingSweep {
	return &TypingSweep{log: log, presence: presence, interval: interval, ttl: ttl}
}

func (w *TypingSweep) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping typing sweep")
			return ctx.Err()
		case <-ticker.C:
			w.presence.ExpireStale(time.Now().UTC().Add(-w.ttl))
		}
	}
}
