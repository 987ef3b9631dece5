package realtime

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Subscription is one registered log listener.
type Subscription struct {
	ID    string
	Lines <-chan string

	ch      chan string
	dropped atomic.Int64
}

// Dropped returns how many lines this subscriber missed because its queue
// was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Broadcaster fans scan log lines out to live subscribers.
//
// There is no replay: a subscriber sees only lines published after it
// subscribed. Publish never blocks; a full subscriber queue drops the line
// for that subscriber only.
type Broadcaster struct {
	log    *slog.Logger
	onDrop func(int)

	mu   sync.RWMutex
	subs map[string]*Subscription

	dropped atomic.Int64
}

// NewBroadcaster constructs a Broadcaster. onDrop, when non-nil, is called
// with the number of subscribers that missed a line.
func NewBroadcaster(log *slog.Logger, onDrop func(int)) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{log: log, onDrop: onDrop, subs: make(map[string]*Subscription)}
}

// Subscribe registers a listener with a queue of size lines.
func (b *Broadcaster) Subscribe(size int) *Subscription {
	if size <= 0 {
		size = defaultLogQueueSize
	}
	ch := make(chan string, size)
	s := &Subscription{ID: uuid.NewString(), Lines: ch, ch: ch}

	b.mu.Lock()
	b.subs[s.ID] = s
	n := len(b.subs)
	b.mu.Unlock()

	b.log.Info("logs.subscriber.join", "subscriber_id", s.ID, "subscribers", n)
	return s
}

// Unsubscribe removes the listener. The Lines channel is left open.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	_, ok := b.subs[id]
	delete(b.subs, id)
	n := len(b.subs)
	b.mu.Unlock()

	if ok {
		b.log.Info("logs.subscriber.leave", "subscriber_id", id, "subscribers", n)
	}
}

// Publish delivers line to every current subscriber without blocking.
func (b *Broadcaster) Publish(line string) {
	if b == nil {
		return
	}
	drops := 0

	b.mu.RLock()
	for _, s := range b.subs {
		select {
		case s.ch <- line:
		default:
			s.dropped.Add(1)
			drops++
		}
	}
	b.mu.RUnlock()

	if drops > 0 {
		b.dropped.Add(int64(drops))
		if b.onDrop != nil {
			b.onDrop(drops)
		}
	}
}

// Len returns the number of live subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns the total number of undelivered lines across subscribers.
func (b *Broadcaster) Dropped() int64 { return b.dropped.Load() }
