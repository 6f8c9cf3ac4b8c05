package registry

import "sync"

const pingHistoryCap = 10

// pingHistory is a bounded ring of the last pingHistoryCap probe outcomes.
// It needs its own lock because health-score computation is a compound
// read of the whole slice.
type pingHistory struct {
	mu       sync.Mutex
	outcomes []bool
}

func (h *pingHistory) push(ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.outcomes = append(h.outcomes, ok)
	if len(h.outcomes) > pingHistoryCap {
		h.outcomes = h.outcomes[len(h.outcomes)-pingHistoryCap:]
	}
}

// healthScore is 100*successes/size, or 100 when the history is empty.
func (h *pingHistory) healthScore() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.outcomes) == 0 {
		return 100
	}
	successes := 0
	for _, ok := range h.outcomes {
		if ok {
			successes++
		}
	}
	return 100 * successes / len(h.outcomes)
}

func (h *pingHistory) snapshot() []bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]bool, len(h.outcomes))
	copy(out, h.outcomes)
	return out
}
