package transcribe

import "sync"

// PercentTracker turns raw model progress into a monotonic, deduplicated
// percentage stream.
type PercentTracker struct {
	mu   sync.Mutex
	last int
}

// NewPercentTracker returns a tracker that has reported nothing yet.
func NewPercentTracker() *PercentTracker {
	return &PercentTracker{last: -1}
}

// Observe records pct and reports whether it advances the stream.
// Values are clamped to [0, 100]; repeats and regressions are dropped.
func (t *PercentTracker) Observe(pct int) bool {
	pct = min(max(pct, 0), 100)

	t.mu.Lock()
	defer t.mu.Unlock()
	if pct <= t.last {
		return false
	}
	t.last = pct
	return true
}
