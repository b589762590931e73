package registry

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestRegistry_Subscribe(t *testing.T) {
	r := New()

	var got []string
	r.Subscribe("chat", func(p json.RawMessage) { got = append(got, string(p)) })

	listeners := r.Listeners("chat")
	if len(listeners) != 1 {
		t.Fatalf("Expected 1 listener, got %d", len(listeners))
	}
	listeners[0](json.RawMessage(`"hi"`))

	if len(got) != 1 || got[0] != `"hi"` {
		t.Errorf("Listener received %v", got)
	}
}

func TestRegistry_UnsubscribeRemovesOnlyThatListener(t *testing.T) {
	r := New()

	calls := map[string]int{}
	unsubA := r.Subscribe("chat", func(json.RawMessage) { calls["a"]++ })
	r.Subscribe("chat", func(json.RawMessage) { calls["b"]++ })

	unsubA()

	for _, l := range r.Listeners("chat") {
		l(nil)
	}
	if calls["a"] != 0 || calls["b"] != 1 {
		t.Errorf("Unexpected calls after unsubscribe: %v", calls)
	}
}

func TestRegistry_UnsubscribeIdempotent(t *testing.T) {
	r := New()

	unsub := r.Subscribe("chat", func(json.RawMessage) {})
	r.Subscribe("chat", func(json.RawMessage) {})

	unsub()
	unsub()
	unsub()

	if n := r.Len("chat"); n != 1 {
		t.Errorf("Expected 1 remaining listener, got %d", n)
	}
}

func TestRegistry_EmptyBucketRemoved(t *testing.T) {
	r := New()

	unsub := r.Subscribe("status", func(json.RawMessage) {})
	if types := r.Types(); len(types) != 1 || types[0] != "status" {
		t.Fatalf("Types() = %v, want [status]", types)
	}

	unsub()

	if types := r.Types(); len(types) != 0 {
		t.Errorf("Expected no types after last unsubscribe, got %v", types)
	}
	if _, exists := r.types["status"]; exists {
		t.Error("Empty bucket should have been deleted")
	}
}

func TestRegistry_SameListenerUnderSeveralTypes(t *testing.T) {
	r := New()

	count := 0
	listener := func(json.RawMessage) { count++ }
	unsubA := r.Subscribe("a", listener)
	r.Subscribe("b", listener)

	unsubA()

	if r.Len("a") != 0 {
		t.Error("Listener should be gone from type a")
	}
	if r.Len("b") != 1 {
		t.Error("Listener should remain under type b")
	}
}

func TestRegistry_SnapshotIsolatedFromMutation(t *testing.T) {
	r := New()

	var order []string
	var unsubB func()
	r.Subscribe("x", func(json.RawMessage) {
		order = append(order, "a")
		// Mutate the registry mid fan-out
		unsubB()
		r.Subscribe("x", func(json.RawMessage) { order = append(order, "late") })
	})
	unsubB = r.Subscribe("x", func(json.RawMessage) { order = append(order, "b") })

	for _, l := range r.Listeners("x") {
		l(nil)
	}

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("Snapshot fan-out = %v, want [a b]", order)
	}
	if n := r.Len("x"); n != 2 {
		t.Errorf("Expected 2 listeners after mutation (a + late), got %d", n)
	}
}

func TestRegistry_ListenersUnknownType(t *testing.T) {
	r := New()
	if l := r.Listeners("missing"); l != nil {
		t.Errorf("Expected nil snapshot, got %d listeners", len(l))
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := r.Subscribe("busy", func(json.RawMessage) {})
			_ = r.Listeners("busy")
			unsub()
		}()
	}
	wg.Wait()

	if n := r.Len("busy"); n != 0 {
		t.Errorf("Expected all listeners removed, got %d", n)
	}
}

func TestRegistryBookkeepingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("subscribing n and removing k leaves n-k", prop.ForAll(
		func(n, k int) bool {
			if k > n {
				k = n
			}
			r := New()
			unsubs := make([]func(), n)
			for i := range unsubs {
				unsubs[i] = r.Subscribe("t", func(json.RawMessage) {})
			}
			for i := 0; i < k; i++ {
				unsubs[i]()
				unsubs[i]()
			}
			if r.Len("t") != n-k {
				return false
			}
			_, exists := r.types["t"]
			return exists == (n-k > 0)
		},
		gen.IntRange(0, 20),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}
