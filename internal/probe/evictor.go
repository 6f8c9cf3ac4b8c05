package probe

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"clusterlb/internal/config"
	"clusterlb/internal/registry"
)

// Evictor runs a fixed 5-second sweep removing any server whose lastSeenAt
// is older than the current evictionTimeoutMs. Eviction is idempotent: a
// concurrent !join simply re-creates the entry.
type Evictor struct {
	reg    *registry.Registry
	cfg    *config.GlobalConfig
	clock  clockwork.Clock
	logger zerolog.Logger
}

// NewEvictor constructs an Evictor.
func NewEvictor(reg *registry.Registry, cfg *config.GlobalConfig, clock clockwork.Clock, logger zerolog.Logger) *Evictor {
	return &Evictor{
		reg:    reg,
		cfg:    cfg,
		clock:  clock,
		logger: logger.With().Str("component", "evictor").Logger(),
	}
}

// Run blocks, sweeping every 5 seconds until ctx is canceled.
func (e *Evictor) Run(ctx context.Context) {
	interval := time.Duration(config.EvictorIntervalSeconds()) * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.clock.After(interval):
		}
		e.sweep()
	}
}

func (e *Evictor) sweep() {
	timeoutMs := e.cfg.Snapshot().EvictionTimeoutMs
	cutoff := e.clock.Now().Add(-time.Duration(timeoutMs) * time.Millisecond)

	for _, ep := range e.reg.Endpoints() {
		if e.reg.LastSeenAt(ep).Before(cutoff) {
			e.reg.Remove(ep)
			e.logger.Info().Stringer("endpoint", ep).Msg("evicted: no message since eviction timeout")
		}
	}
}
