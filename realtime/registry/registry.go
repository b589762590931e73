package registry

import (
	"encoding/json"
	"slices"
	"sort"
	"sync"
)

// Listener receives the raw payload of a message.
type Listener func(payload json.RawMessage)

type entry struct {
	id       uint64
	listener Listener
}

// Registry maps message types to their subscribed listeners.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	nextID uint64
	types  map[string]map[uint64]Listener
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		types: make(map[string]map[uint64]Listener),
	}
}

// Subscribe registers listener under msgType and returns a function that
// removes exactly this registration. Calling it more than once is a no-op.
func (r *Registry) Subscribe(msgType string, listener Listener) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	if r.types[msgType] == nil {
		r.types[msgType] = make(map[uint64]Listener)
	}
	r.types[msgType][id] = listener
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(msgType, id) })
	}
}

func (r *Registry) remove(msgType string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	listeners, ok := r.types[msgType]
	if !ok {
		return
	}
	delete(listeners, id)

	// Clean up empty buckets
	if len(listeners) == 0 {
		delete(r.types, msgType)
	}
}

// Listeners returns a snapshot of the listeners for msgType in subscription
// order. Mutating the registry afterwards does not affect the snapshot.
func (r *Registry) Listeners(msgType string) []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()

	listeners := r.types[msgType]
	if len(listeners) == 0 {
		return nil
	}

	entries := make([]entry, 0, len(listeners))
	for id, l := range listeners {
		entries = append(entries, entry{id: id, listener: l})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	out := make([]Listener, len(entries))
	for i, e := range entries {
		out[i] = e.listener
	}
	return out
}

// Len returns the number of listeners registered for msgType.
func (r *Registry) Len(msgType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types[msgType])
}

// Types returns the message types that currently have listeners, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	types := make([]string, 0, len(r.types))
	for t := range r.types {
		types = append(types, t)
	}
	r.mu.RUnlock()

	slices.Sort(types)
	return types
}
