package telemetry

import "sync"

// Once suppresses repeated warnings per key while counting every occurrence.
type Once struct {
	mu     sync.Mutex
	seen   map[string]bool
	counts map[string]int
}

// NewOnce creates an empty suppressor.
func NewOnce() *Once {
	return &Once{seen: make(map[string]bool), counts: make(map[string]int)}
}

// First counts an occurrence of key and reports whether it is the first.
func (o *Once) First(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counts[key]++
	if o.seen[key] {
		return false
	}
	o.seen[key] = true
	return true
}

// Count returns how many times key occurred.
func (o *Once) Count(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[key]
}

// Counts returns a copy of all counters.
func (o *Once) Counts() map[string]int {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]int, len(o.counts))
	for k, v := range o.counts {
		out[k] = v
	}
	return out
}
