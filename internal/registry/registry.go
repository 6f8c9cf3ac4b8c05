package registry

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
)

// Registry is the authoritative set of registered servers and their derived
// state. Mutating operations are safe under concurrent readers: a coarse
// RWMutex guards the server set itself (add/remove/iterate), while each
// entry's mutable attributes live behind their own per-entry lock so a
// probe result or a report doesn't have to take the whole-registry lock.
type Registry struct {
	clock  clockwork.Clock
	logger zerolog.Logger

	mu      sync.RWMutex
	entries map[Endpoint]*entry

	ring   *weightedRing
	sticky *stickyMemory
	global *globalAssignments
}

// New constructs an empty Registry.
func New(clock clockwork.Clock, logger zerolog.Logger) *Registry {
	return &Registry{
		clock:   clock,
		logger:  logger.With().Str("component", "registry").Logger(),
		entries: make(map[Endpoint]*entry),
		ring:    newWeightedRing(),
		sticky:  newStickyMemory(),
		global:  &globalAssignments{},
	}
}

// Register inserts ep with default weight 1 if not already present, or
// simply refreshes its lastSeenAt if it is. It reports whether the
// endpoint was newly created.
func (r *Registry) Register(ep Endpoint) bool {
	r.mu.Lock()
	e, exists := r.entries[ep]
	if !exists {
		e = newEntry(ep, r.clock)
		r.entries[ep] = e
	}
	r.mu.Unlock()

	if exists {
		e.touch(r.clock)
		return false
	}

	r.rebuildRing()
	r.logger.Info().Stringer("endpoint", ep).Msg("server registered")
	return true
}

// Remove purges ep and all derived state, and purges any sticky entry
// pointing at it. Leave and Remove are the same operation; idempotent.
func (r *Registry) Remove(ep Endpoint) {
	r.mu.Lock()
	_, existed := r.entries[ep]
	delete(r.entries, ep)
	r.mu.Unlock()

	r.sticky.purge(ep)

	if existed {
		r.rebuildRing()
		r.logger.Info().Stringer("endpoint", ep).Msg("server removed")
	}
}

// Leave is an alias for Remove, matching the wire protocol's !leave verb.
func (r *Registry) Leave(ep Endpoint) { r.Remove(ep) }

// RecordReport refreshes lastSeenAt and replaces the endpoint's liveClients
// wholesale. Reports are fire-and-forget: an unknown endpoint is silently
// ignored rather than treated as an error, since the caller expects no
// reply either way.
func (r *Registry) RecordReport(ep Endpoint, clients []LiveClient) {
	e := r.lookup(ep)
	if e == nil {
		return
	}
	e.touch(r.clock)
	e.setLiveClients(clients)
}

// SetWeight clamps w to at least 1 and rebuilds the ring. It returns
// lberrors.ErrUnknownEndpoint (via the sentinel check in lberrors) if ep is
// not registered.
func (r *Registry) SetWeight(ep Endpoint, w int) error {
	e := r.lookup(ep)
	if e == nil {
		return errUnknownEndpoint(ep)
	}
	e.setWeight(w)
	r.rebuildRing()
	return nil
}

// Drain marks ep as never-selected while leaving it registered, pinged and
// reporting. Undrain reverses it. Both return lberrors.ErrUnknownEndpoint
// for an endpoint that is not registered; DrainAll covers the admin "all"
// target.
func (r *Registry) Drain(ep Endpoint) error   { return r.setDrained(ep, true) }
func (r *Registry) Undrain(ep Endpoint) error { return r.setDrained(ep, false) }

func (r *Registry) setDrained(ep Endpoint, drained bool) error {
	e := r.lookup(ep)
	if e == nil {
		return errUnknownEndpoint(ep)
	}
	e.setDrained(drained)
	return nil
}

// DrainAll sets the drain flag of every registered endpoint to drained,
// backing both the admin "drain all" and "undrain all" forms.
func (r *Registry) DrainAll(drained bool) {
	for _, e := range r.allEntries() {
		e.setDrained(drained)
	}
}

// PushPingOutcome appends a probe result to ep's ping history and, on
// success, updates its RTT. An endpoint that has since been evicted or left
// is silently ignored.
func (r *Registry) PushPingOutcome(ep Endpoint, ok bool, rttMs int64) {
	e := r.lookup(ep)
	if e == nil {
		return
	}
	e.history.push(ok)
	if ok {
		e.setRTT(rttMs)
	}
}

// RecordSelection applies the side effects of a successful selection:
// increment the target's requestCount, unconditionally update sticky
// memory for clientName, and append an Assignment to both the global and
// per-server bounded rings. It returns the record it created.
func (r *Registry) RecordSelection(target Endpoint, clientName string, mode Mode, remote string) Assignment {
	a := Assignment{
		ID:                   ksuid.New().String(),
		ClientName:           clientName,
		Mode:                 mode,
		AssignedAt:           r.clock.Now(),
		Server:               target,
		ObservedClientRemote: remote,
	}

	if e := r.lookup(target); e != nil {
		e.incrementRequestCount()
		e.pushAssignment(a)
	}
	r.sticky.set(clientName, target)
	r.global.push(a)

	return a
}

// StickyTarget returns the endpoint sticky memory has on file for
// clientName, if any.
func (r *Registry) StickyTarget(clientName string) (Endpoint, bool) {
	return r.sticky.get(clientName)
}

// ClearAssignments empties both the global and every per-server assignment
// ring, backing the admin "clear" verb.
func (r *Registry) ClearAssignments() {
	r.global.clear()
	for _, e := range r.allEntries() {
		e.mu.Lock()
		e.assignments = nil
		e.mu.Unlock()
	}
}

// RingSnapshot returns a copy of the current materialized weighted ring.
// Pair it with AdvanceCursor, passing the snapshot's length as size.
func (r *Registry) RingSnapshot() []Endpoint {
	return r.ring.snapshot()
}

// AdvanceCursor atomically consumes the next round-robin slot modulo size.
func (r *Registry) AdvanceCursor(size int) int {
	return r.ring.advance(size)
}

// IsRegistered reports whether ep currently has an entry.
func (r *Registry) IsRegistered(ep Endpoint) bool {
	return r.lookup(ep) != nil
}

// IsDrained reports ep's drain flag; an unregistered endpoint reads as
// drained (unschedulable) since it no longer exists.
func (r *Registry) IsDrained(ep Endpoint) bool {
	e := r.lookup(ep)
	if e == nil {
		return true
	}
	return e.isDrained()
}

// LiveCount returns the number of live clients most recently reported for
// ep, or 0 if ep is unknown.
func (r *Registry) LiveCount(ep Endpoint) int {
	e := r.lookup(ep)
	if e == nil {
		return 0
	}
	return e.liveCount()
}

// LastSeenAt returns ep's last-seen timestamp, or the zero time if ep is
// unregistered (which reads as "infinitely stale" to a cutoff comparison).
func (r *Registry) LastSeenAt(ep Endpoint) time.Time {
	e := r.lookup(ep)
	if e == nil {
		return time.Time{}
	}
	return e.lastSeen()
}

// RTTMillis returns ep's last known RTT in milliseconds, or -1 if unknown
// or unregistered.
func (r *Registry) RTTMillis(ep Endpoint) int64 {
	e := r.lookup(ep)
	if e == nil {
		return -1
	}
	return e.getRTT()
}

// Endpoints returns every currently-registered endpoint, snapshotted under
// the registry's read lock.
func (r *Registry) Endpoints() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Endpoint, 0, len(r.entries))
	for ep := range r.entries {
		out = append(out, ep)
	}
	return out
}

// ServerSnapshot is a point-in-time copy of one entry's derived state,
// sufficient for the StatusEndpoint and Selector.
type ServerSnapshot struct {
	Endpoint     Endpoint
	Weight       int
	Drained      bool
	LastSeenAt   time.Time
	RequestCount int64
	RTTMs        int64
	HealthScore  int
	LiveClients  []LiveClient
}

// Snapshot is a consistent, point-in-time copy of the whole registry.
type Snapshot struct {
	Servers           []ServerSnapshot
	RecentAssignments []Assignment
}

// Snapshot copies every entry's derived state plus the recent-assignments
// ring. The copy itself happens quickly under lock; JSON/text rendering of
// the result happens outside any lock.
func (r *Registry) Snapshot() Snapshot {
	entries := r.allEntriesWithEndpoint()

	servers := make([]ServerSnapshot, 0, len(entries))
	for ep, e := range entries {
		e.mu.Lock()
		servers = append(servers, ServerSnapshot{
			Endpoint:     ep,
			Weight:       e.weight,
			Drained:      e.drained,
			LastSeenAt:   e.lastSeenAt,
			RequestCount: e.requestCount,
			RTTMs:        e.rttMs,
			HealthScore:  e.history.healthScore(),
			LiveClients:  append([]LiveClient(nil), e.liveClients...),
		})
		e.mu.Unlock()
	}

	return Snapshot{
		Servers:           servers,
		RecentAssignments: r.global.snapshot(),
	}
}

func (r *Registry) lookup(ep Endpoint) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[ep]
}

func (r *Registry) allEntries() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

func (r *Registry) allEntriesWithEndpoint() map[Endpoint]*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Endpoint]*entry, len(r.entries))
	for ep, e := range r.entries {
		out[ep] = e
	}
	return out
}

// rebuildRing recomputes the weighted ring from the current weight of
// every registered endpoint. Invariant: sum(weight) == len(ring).
func (r *Registry) rebuildRing() {
	weights := make(map[Endpoint]int)
	for ep, e := range r.allEntriesWithEndpoint() {
		weights[ep] = e.getWeight()
	}
	r.ring.rebuild(weights)
}
