package store

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// asyncDialer reports the open event from its own goroutine, the way a
// network dialer does.
type asyncDialer struct {
	fakeDialer
}

func (d *asyncDialer) Open(url string, ev Events) Conn {
	c := d.fakeDialer.Open(url, ev)
	go ev.Open()
	return c
}

func TestStore_WatchStatusOrderedWithAsyncOpen(t *testing.T) {
	const runs = 300

	for i := 0; i < runs; i++ {
		s := New(&asyncDialer{})

		var (
			mu      sync.Mutex
			seen    []Status
			running int32
			overlap int32
		)
		s.WatchStatus(func(st Status) {
			if atomic.AddInt32(&running, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			time.Sleep(50 * time.Microsecond)
			mu.Lock()
			seen = append(seen, st)
			mu.Unlock()
			atomic.AddInt32(&running, -1)
		})

		s.SetSession("abc")
		s.Connect()

		deadline := time.Now().Add(2 * time.Second)
		for {
			mu.Lock()
			n := len(seen)
			mu.Unlock()
			if n >= 2 || time.Now().After(deadline) {
				break
			}
			time.Sleep(100 * time.Microsecond)
		}

		mu.Lock()
		got := append([]Status(nil), seen...)
		mu.Unlock()

		if len(got) != 2 || got[0] != StatusConnecting || got[1] != StatusConnected {
			t.Fatalf("Run %d: transitions = %v, want [connecting connected]", i, got)
		}
		if got[len(got)-1] != s.Status() {
			t.Fatalf("Run %d: last notification %s disagrees with Status() %s", i, got[len(got)-1], s.Status())
		}
		if atomic.LoadInt32(&overlap) != 0 {
			t.Fatalf("Run %d: watcher ran concurrently with itself", i)
		}
	}
}

func TestStore_WatcherTransitionsDeliveredInOrder(t *testing.T) {
	s, d, _ := newTestStore(t)

	var seen []Status
	s.WatchStatus(func(st Status) {
		seen = append(seen, st)
		if st == StatusDisconnected && len(seen) == 3 {
			// Reconnect from inside the watcher; its transition must queue
			// behind the one being delivered.
			s.Connect()
		}
	})

	c := connected(t, s, d, "abc")
	c.events.Close(1006, "")

	want := []Status{StatusConnecting, StatusConnected, StatusDisconnected, StatusConnecting}
	if len(seen) != len(want) {
		t.Fatalf("Transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("Transition %d = %s, want %s", i, seen[i], want[i])
		}
	}
	if s.Status() != StatusConnecting {
		t.Errorf("Expected connecting after reconnect, got %s", s.Status())
	}
	if d.opened() != 2 {
		t.Errorf("Expected two connections, got %d", d.opened())
	}
}
