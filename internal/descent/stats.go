package descent

import "sync"

// Stat is the running mean of one level's estimator loss.
type Stat struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
}

// LossTracker keeps a running mean per level: mean += (loss - mean) / count.
type LossTracker struct {
	mu    sync.Mutex
	stats []Stat
}

// NewLossTracker creates a tracker for the given number of levels.
func NewLossTracker(levels int) *LossTracker {
	return &LossTracker{stats: make([]Stat, levels)}
}

// Update folds loss into the running mean of level and returns the new state.
func (t *LossTracker) Update(level int, loss float64) (int, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &t.stats[level]
	s.Count++
	s.Mean += (loss - s.Mean) / float64(s.Count)
	return s.Count, s.Mean
}

// Snapshot returns a copy of all level statistics.
func (t *LossTracker) Snapshot() []Stat {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Stat, len(t.stats))
	copy(out, t.stats)
	return out
}

// Restore replaces the statistics with s. Extra entries are ignored.
func (t *LossTracker) Restore(s []Stat) {
	t.mu.Lock()
	defer t.mu.Unlock()

	clear(t.stats)
	copy(t.stats, s)
}

// Reset zeroes every level.
func (t *LossTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	clear(t.stats)
}
