package realtime

import (
	"sync"
	"testing"
)

func TestBroadcaster_FanoutAndNoReplay(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(discardLogger(), nil)
	b.Publish("before")

	a := b.Subscribe(4)
	c := b.Subscribe(4)
	b.Publish("one")
	b.Publish("two")

	for _, s := range []*Subscription{a, c} {
		if got := <-s.Lines; got != "one" {
			t.Fatalf("got %q", got)
		}
		if got := <-s.Lines; got != "two" {
			t.Fatalf("got %q", got)
		}
		select {
		case l := <-s.Lines:
			t.Fatalf("unexpected extra line %q", l)
		default:
		}
	}
}

func TestBroadcaster_FullQueueDropsWithoutBlocking(t *testing.T) {
	t.Parallel()

	var dropped int
	b := NewBroadcaster(discardLogger(), func(n int) { dropped += n })
	slow := b.Subscribe(1)
	fast := b.Subscribe(8)

	for _, l := range []string{"a", "b", "c"} {
		b.Publish(l)
	}

	if slow.Dropped() != 2 || b.Dropped() != 2 || dropped != 2 {
		t.Fatalf("expected 2 drops, got sub=%d total=%d hook=%d", slow.Dropped(), b.Dropped(), dropped)
	}
	if got := <-slow.Lines; got != "a" {
		t.Fatalf("slow subscriber should keep the first line, got %q", got)
	}
	if len(fast.Lines) != 3 || fast.Dropped() != 0 {
		t.Fatalf("fast subscriber must not be affected")
	}
}

func TestBroadcaster_UnsubscribeAndConcurrency(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(discardLogger(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s := b.Subscribe(2)
			b.Unsubscribe(s.ID)
		}()
		go func() {
			defer wg.Done()
			b.Publish("x")
		}()
	}
	wg.Wait()

	if b.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", b.Len())
	}
	b.Unsubscribe("unknown")

	var nilB *Broadcaster
	nilB.Publish("ignored")
}
