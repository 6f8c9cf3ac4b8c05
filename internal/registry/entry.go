package registry

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const perServerAssignmentCap = 200

// entry holds the derived state for one registered endpoint. Every field
// below is compound-read-modify-write from more than one goroutine
// (Selector, RTTProber, ServerChannelListener, StatusEndpoint, AdminEndpoint)
// so it carries its own mutex rather than relying solely on the registry's
// coarse map lock.
type entry struct {
	endpoint Endpoint

	mu           sync.Mutex
	weight       int
	drained      bool
	lastSeenAt   time.Time
	requestCount int64
	rttMs        int64 // -1 means unknown
	liveClients  []LiveClient

	history     pingHistory
	assignments []Assignment
}

func newEntry(ep Endpoint, clock clockwork.Clock) *entry {
	return &entry{
		endpoint:   ep,
		weight:     1,
		lastSeenAt: clock.Now(),
		rttMs:      -1,
	}
}

func (e *entry) touch(clock clockwork.Clock) {
	e.mu.Lock()
	e.lastSeenAt = clock.Now()
	e.mu.Unlock()
}

func (e *entry) lastSeen() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSeenAt
}

func (e *entry) setWeight(w int) {
	if w < 1 {
		w = 1
	}
	e.mu.Lock()
	e.weight = w
	e.mu.Unlock()
}

func (e *entry) getWeight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.weight
}

func (e *entry) setDrained(d bool) {
	e.mu.Lock()
	e.drained = d
	e.mu.Unlock()
}

func (e *entry) isDrained() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drained
}

func (e *entry) setLiveClients(clients []LiveClient) {
	e.mu.Lock()
	e.liveClients = clients
	e.mu.Unlock()
}

func (e *entry) getLiveClients() []LiveClient {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]LiveClient, len(e.liveClients))
	copy(out, e.liveClients)
	return out
}

func (e *entry) liveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.liveClients)
}

func (e *entry) setRTT(ms int64) {
	e.mu.Lock()
	e.rttMs = ms
	e.mu.Unlock()
}

func (e *entry) getRTT() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rttMs
}

func (e *entry) incrementRequestCount() {
	e.mu.Lock()
	e.requestCount++
	e.mu.Unlock()
}

func (e *entry) getRequestCount() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requestCount
}

func (e *entry) pushAssignment(a Assignment) {
	e.mu.Lock()
	e.assignments = append(e.assignments, a)
	if len(e.assignments) > perServerAssignmentCap {
		e.assignments = e.assignments[len(e.assignments)-perServerAssignmentCap:]
	}
	e.mu.Unlock()
}
