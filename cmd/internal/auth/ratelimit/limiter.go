// Package ratelimit implements the fixed-window limiter guarding credential checks.
package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultLimit         = 5
	DefaultWindow        = 300 * time.Second
	DefaultMaxIdentities = 10_000

	// GlobalIdentity keys every attempt into one shared budget.
	GlobalIdentity = "global"
)

// Limiter tracks attempt timestamps per identity. Attempts older than the
// window are pruned on every check; a denied attempt is not recorded.
type Limiter struct {
	mu            sync.Mutex
	ledger        map[string][]time.Time
	limit         int
	window        time.Duration
	maxIdentities int
}

// New constructs a Limiter with safe defaults when inputs are invalid.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		ledger:        make(map[string][]time.Time),
		limit:         limit,
		window:        window,
		maxIdentities: DefaultMaxIdentities,
	}
}

// Allow reports whether an attempt by identity at now is permitted, recording it if so.
func (l *Limiter) Allow(identity string, now time.Time) bool {
	ok, _ := l.Check(identity, now)
	return ok
}

// Check is Allow with a retry hint: when denied, retryAfter is the time until
// the oldest live attempt leaves the window.
func (l *Limiter) Check(identity string, now time.Time) (allowed bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	live := l.prune(l.ledger[identity], now)
	if len(live) >= l.limit {
		l.ledger[identity] = live
		retry := live[0].Add(l.window).Sub(now)
		if retry < time.Second {
			retry = time.Second
		}
		return false, retry
	}

	if _, known := l.ledger[identity]; !known && len(l.ledger) >= l.maxIdentities {
		l.sweepLocked(now)
	}
	l.ledger[identity] = append(live, now)
	return true, 0
}

// Reset forgets identity, e.g. after a successful login when the caller wants that.
func (l *Limiter) Reset(identity string) {
	l.mu.Lock()
	delete(l.ledger, identity)
	l.mu.Unlock()
}

// Sweep drops identities with no live attempts and returns how many were removed.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(now)
}

// Len returns the number of tracked identities.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ledger)
}

func (l *Limiter) sweepLocked(now time.Time) int {
	removed := 0
	for id, ts := range l.ledger {
		live := l.prune(ts, now)
		if len(live) == 0 {
			delete(l.ledger, id)
			removed++
			continue
		}
		l.ledger[id] = live
	}
	return removed
}

// prune keeps attempts with now-t < window; timestamps are in insertion order.
func (l *Limiter) prune(ts []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(ts) && now.Sub(ts[i]) >= l.window {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}
