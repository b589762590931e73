package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSBus is a Bus on a NATS subject.
type NATSBus struct {
	nc      *nats.Conn
	subject string
	owned   bool
	logger  zerolog.Logger

	mu     sync.Mutex
	subs   map[*nats.Subscription]struct{}
	closed bool
}

// DialNATS connects to url and returns a bus on subject that owns the
// connection.
func DialNATS(url, subject string, logger zerolog.Logger) (*NATSBus, error) {
	nc, err := nats.Connect(url,
		nats.Name("sessionsocket-relay"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	b := NewNATSBus(nc, subject, logger)
	b.owned = true
	return b, nil
}

// NewNATSBus wraps an existing connection. Close leaves nc open.
func NewNATSBus(nc *nats.Conn, subject string, logger zerolog.Logger) *NATSBus {
	return &NATSBus{
		nc:      nc,
		subject: subject,
		logger:  logger.With().Str("subject", subject).Logger(),
		subs:    make(map[*nats.Subscription]struct{}),
	}
}

func (b *NATSBus) Publish(ctx context.Context, d Delivery) error {
	if b.isClosed() {
		return ErrClosed
	}
	data, err := encodeDelivery(d)
	if err != nil {
		return err
	}
	if err := b.nc.Publish(b.subject, data); err != nil {
		return fmt.Errorf("publish delivery: %w", err)
	}
	if err := b.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush delivery: %w", err)
	}
	return nil
}

func (b *NATSBus) Subscribe(h Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub, err := b.nc.Subscribe(b.subject, func(msg *nats.Msg) {
		d, err := decodeDelivery(msg.Data)
		if err != nil {
			b.logger.Warn().Err(err).Bytes("data", msg.Data).Msg("dropping malformed delivery")
			return
		}
		h(d)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", b.subject, err)
	}
	b.subs[sub] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			if err := sub.Unsubscribe(); err != nil {
				b.logger.Debug().Err(err).Msg("unsubscribe failed")
			}
		})
	}, nil
}

func (b *NATSBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for sub := range subs {
		sub.Unsubscribe()
	}
	if b.owned {
		return b.nc.Drain()
	}
	return nil
}

func (b *NATSBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
