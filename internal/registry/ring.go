package registry

import (
	"sort"
	"sync/atomic"
)

// weightedRing is a materialized sequence where each registered endpoint
// appears `weight` times. It is published by atomic pointer replacement so
// readers never observe a partially-built ring, and it is rebuilt (with the
// cursor reset) on every server add, remove or weight change.
type weightedRing struct {
	ring   atomic.Pointer[[]Endpoint]
	cursor int64 // atomic, reset to 0 on every rebuild
}

func newWeightedRing() *weightedRing {
	w := &weightedRing{}
	empty := []Endpoint{}
	w.ring.Store(&empty)
	return w
}

// rebuild replaces the materialized ring and resets the cursor. weights
// must contain every currently-registered endpoint. Endpoints are visited in
// address order so the resulting sequence is deterministic (a contiguous run
// per endpoint) rather than dependent on Go's randomized map iteration.
func (w *weightedRing) rebuild(weights map[Endpoint]int) {
	endpoints := make([]Endpoint, 0, len(weights))
	for ep := range weights {
		endpoints = append(endpoints, ep)
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].String() < endpoints[j].String() })

	next := make([]Endpoint, 0, len(weights))
	for _, ep := range endpoints {
		for i := 0; i < weights[ep]; i++ {
			next = append(next, ep)
		}
	}
	w.ring.Store(&next)
	atomic.StoreInt64(&w.cursor, 0)
}

func (w *weightedRing) snapshot() []Endpoint {
	p := w.ring.Load()
	if p == nil {
		return nil
	}
	out := make([]Endpoint, len(*p))
	copy(out, *p)
	return out
}

// advance atomically consumes the next cursor value and returns it modulo
// size, using non-negative modulo arithmetic so cursor overflow never
// yields a negative index. It returns the cursor value from before the
// increment, so a freshly-reset cursor yields index 0 first, matching Math.floorMod(rrIndex.getAndIncrement(), size)
// in the original. size must be > 0.
func (w *weightedRing) advance(size int) int {
	cur := atomic.AddInt64(&w.cursor, 1) - 1
	idx := cur % int64(size)
	if idx < 0 {
		idx += int64(size)
	}
	return int(idx)
}
