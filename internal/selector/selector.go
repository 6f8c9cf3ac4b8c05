// Package selector implements the three server-selection strategies
// (static weighted round robin, dynamic lowest-RTT, sticky-with-fallback)
// over a schedulable subset of the registry.
package selector

import (
	"sort"

	"github.com/rs/zerolog"

	"clusterlb/internal/config"
	"clusterlb/internal/registry"
)

// rttTieBreakMs is the window within which two dynamic candidates are
// considered tied on RTT, broken by live-client count.
const rttTieBreakMs = 10

// Selector chooses a server for an incoming client HELLO.
type Selector struct {
	reg    *registry.Registry
	logger zerolog.Logger
}

// New constructs a Selector over reg.
func New(reg *registry.Registry, logger zerolog.Logger) *Selector {
	return &Selector{reg: reg, logger: logger.With().Str("component", "selector").Logger()}
}

// Select picks an endpoint for clientName under mode, given the current
// config snapshot (for maxPerServer). On success it applies the selection's
// side effects (requestCount, sticky memory, assignment rings) via the
// registry and returns the chosen endpoint. The second return is false when
// no schedulable endpoint exists.
func (s *Selector) Select(clientName string, mode registry.Mode, cfg config.Snapshot, remote string) (registry.Endpoint, bool) {
	var (
		target registry.Endpoint
		ok     bool
	)

	switch mode {
	case registry.ModeStatic:
		target, ok = s.selectStatic(cfg)
	case registry.ModeDynamic:
		target, ok = s.selectDynamic(cfg)
	case registry.ModeSticky:
		target, ok = s.selectSticky(clientName, cfg)
	default:
		target, ok = s.selectStatic(cfg)
	}

	if !ok {
		return registry.Endpoint{}, false
	}

	s.reg.RecordSelection(target, clientName, mode, remote)
	return target, true
}

func (s *Selector) isSchedulable(ep registry.Endpoint, cfg config.Snapshot) bool {
	if s.reg.IsDrained(ep) {
		return false
	}
	if cfg.MaxPerServer <= 0 {
		return true
	}
	return s.reg.LiveCount(ep) < cfg.MaxPerServer
}

func (s *Selector) schedulableEndpoints(cfg config.Snapshot) []registry.Endpoint {
	all := s.reg.Endpoints()
	sort.Slice(all, func(i, j int) bool { return all[i].String() < all[j].String() })
	out := make([]registry.Endpoint, 0, len(all))
	for _, ep := range all {
		if s.isSchedulable(ep, cfg) {
			out = append(out, ep)
		}
	}
	return out
}

// selectStatic walks the weighted ring (or, if empty, the schedulable list)
// up to 2*len+1 slots looking for a schedulable candidate, then falls back
// to a linear scan of the schedulable set.
func (s *Selector) selectStatic(cfg config.Snapshot) (registry.Endpoint, bool) {
	pool := s.reg.RingSnapshot()
	if len(pool) == 0 {
		pool = s.schedulableEndpoints(cfg)
	}
	if len(pool) == 0 {
		return registry.Endpoint{}, false
	}

	walk := 2*len(pool) + 1
	for i := 0; i < walk; i++ {
		idx := s.reg.AdvanceCursor(len(pool))
		cand := pool[idx]
		if s.isSchedulable(cand, cfg) {
			return cand, true
		}
	}

	for _, cand := range s.schedulableEndpoints(cfg) {
		return cand, true
	}
	return registry.Endpoint{}, false
}

// selectDynamic picks the minimum-RTT schedulable endpoint, breaking near
// ties (within rttTieBreakMs) in favor of fewer live clients. If no
// schedulable endpoint has a known RTT yet it falls back to static.
func (s *Selector) selectDynamic(cfg config.Snapshot) (registry.Endpoint, bool) {
	var (
		best     registry.Endpoint
		bestRTT  int64
		bestLive int
		haveBest bool
	)

	for _, ep := range s.schedulableEndpoints(cfg) {
		rtt := s.reg.RTTMillis(ep)
		if rtt < 0 {
			continue
		}
		live := s.reg.LiveCount(ep)

		switch {
		case !haveBest:
			best, bestRTT, bestLive, haveBest = ep, rtt, live, true
		case rtt < bestRTT-rttTieBreakMs:
			best, bestRTT, bestLive = ep, rtt, live
		case abs64(rtt-bestRTT) <= rttTieBreakMs:
			if live < bestLive {
				best, bestRTT, bestLive = ep, rtt, live
			}
		}
	}

	if !haveBest {
		s.logger.Debug().Msg("dynamic: no schedulable endpoint has a known RTT yet, falling back to static")
		return s.selectStatic(cfg)
	}
	return best, true
}

// selectSticky returns the client's remembered endpoint if it is still
// schedulable, otherwise delegates to dynamic.
func (s *Selector) selectSticky(clientName string, cfg config.Snapshot) (registry.Endpoint, bool) {
	if ep, ok := s.reg.StickyTarget(clientName); ok && s.isSchedulable(ep, cfg) {
		return ep, true
	}
	return s.selectDynamic(cfg)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
