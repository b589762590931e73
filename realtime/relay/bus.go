package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("relay: bus closed")

// Delivery is a frame addressed to every socket of one session.
type Delivery struct {
	TargetUUID string `json:"target_uuid"`
	Message    string `json:"message"`
}

// Handler receives deliveries from a bus.
type Handler func(Delivery)

// Bus publishes deliveries to every subscriber, possibly across processes.
type Bus interface {
	Publish(ctx context.Context, d Delivery) error
	Subscribe(h Handler) (func(), error)
	Close() error
}

func encodeDelivery(d Delivery) ([]byte, error) {
	return json.Marshal(d)
}

func decodeDelivery(data []byte) (Delivery, error) {
	var d Delivery
	if err := json.Unmarshal(data, &d); err != nil {
		return Delivery{}, fmt.Errorf("decode delivery: %w", err)
	}
	if d.TargetUUID == "" {
		return Delivery{}, errors.New("decode delivery: missing target_uuid")
	}
	return d, nil
}

// LocalBus is an in-process Bus. Publish calls every handler before it
// returns.
type LocalBus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]Handler
	closed   bool
}

// NewLocalBus creates an in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[uint64]Handler)}
}

func (b *LocalBus) Publish(ctx context.Context, d Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(d)
	}
	return nil
}

func (b *LocalBus) Subscribe(h Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.nextID++
	id := b.nextID
	b.handlers[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}, nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[uint64]Handler)
	return nil
}
