package signal

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/swifthub/beacon/internal/signal/registry"
)

// sweeper periodically reconciles viewer subscriptions against the set of
// currently-open connections. Transport-level disconnect notifications can be
// lost or delayed; the sweep bounds viewer-count staleness to one interval.
type sweeper struct {
	reg      *registry.Registry
	interval time.Duration
	logger   zerolog.Logger

	// alive reports whether a connection id is still open at the transport.
	alive func(connID string) bool
	// notify delivers a coalesced viewer_count to a broadcaster.
	notify func(broadcasterID string, count int)
}

func (s *sweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep removes every subscribed viewer whose handle is dead and sends one
// updated count per affected session, not one per removed viewer.
func (s *sweeper) sweep() {
	for _, bid := range s.reg.Broadcasters() {
		pruned := 0
		remaining := -1
		for _, vid := range s.reg.ViewersOf(bid) {
			if s.alive(vid) {
				continue
			}
			if _, n, ok := s.reg.PruneDeadViewer(vid); ok {
				s.logger.Info().
					Str("viewer_id", vid).
					Str("broadcaster_id", bid).
					Msg("pruned stale viewer")
				pruned++
				remaining = n
			}
		}
		if pruned > 0 {
			s.notify(bid, remaining)
		}
	}
}
