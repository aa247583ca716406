package session

import (
	"sync"
	"time"
)

// Fence suspends connection-liveness termination while the editor is busy,
// e.g. across a domain reload. Suspend extends the deadline monotonically;
// it never shortens a suspension already in effect.
type Fence struct {
	mu    sync.Mutex
	until time.Time
}

// Suspend keeps liveness checks off for at least d from now.
func (f *Fence) Suspend(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	candidate := time.Now().Add(d)
	if candidate.After(f.until) {
		f.until = candidate
	}
}

// Suspended reports whether liveness termination is currently fenced off.
func (f *Fence) Suspended() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Now().Before(f.until)
}
