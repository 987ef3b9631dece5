package realtime

import "time"

// frameBudget caps how many frames one command connection may send within a
// window. It keeps the arrival times of the last n accepted frames in a ring;
// a new frame is accepted once the oldest of them has left the window.
//
// A budget belongs to a single read loop and is not safe for concurrent use.
type frameBudget struct {
	window time.Duration
	seen   []time.Time
	next   int
	full   bool
}

func newFrameBudget(n int, window time.Duration) *frameBudget {
	if n <= 0 {
		n = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &frameBudget{window: window, seen: make([]time.Time, n)}
}

// take accepts a frame at now if the budget allows it.
func (b *frameBudget) take(now time.Time) bool {
	if b.full && now.Sub(b.seen[b.next]) < b.window {
		return false
	}
	b.seen[b.next] = now
	b.next = (b.next + 1) % len(b.seen)
	if b.next == 0 {
		b.full = true
	}
	return true
}
