package telemetry

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/interledgermesh/connector/logger"
)

//go:generate mockgen -destination=broker_mock.go -package=telemetry . Store

// Store persists emitted events. Persistence is best effort from the
// broker's point of view.
type Store interface {
	StoreEvent(ctx context.Context, event Event) (int64, error)
}

// BrokerConfig is the Broker config.
type BrokerConfig struct {
	// SubscriberQueueSize bounds each subscriber's delivery queue. A
	// subscriber whose queue is full is disconnected rather than blocking
	// the publisher.
	SubscriberQueueSize int
}

// DefaultBrokerConfig returns the default broker config.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		SubscriberQueueSize: 256,
	}
}

// Subscriber receives the event stream until it is closed or falls behind.
type Subscriber struct {
	ch        chan Event
	closeOnce sync.Once
	broker    *Broker
}

// Events returns the delivery channel. The channel is closed when the
// subscriber is disconnected.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Close unsubscribes and closes the delivery channel.
func (s *Subscriber) Close() {
	s.broker.unsubscribe(s)
}

// Broker is the in-process telemetry bus. Publishers call Emit; each event
// is persisted to the store (best effort) and fanned out to every live
// subscriber in emission order.
type Broker struct {
	cfg   BrokerConfig
	log   logger.Logger
	store Store

	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

// NewBroker returns a new Broker. The store is optional; a nil store skips
// persistence.
func NewBroker(cfg BrokerConfig, log logger.Logger, store Store) *Broker {
	if cfg.SubscriberQueueSize <= 0 {
		cfg.SubscriberQueueSize = DefaultBrokerConfig().SubscriberQueueSize
	}
	return &Broker{
		cfg:   cfg,
		log:   log,
		store: store,
		subs:  make(map[*Subscriber]struct{}),
	}
}

// Emit publishes the event. A store failure is logged and does not block
// delivery; a slow subscriber is disconnected instead of delaying the rest.
func (b *Broker) Emit(ctx context.Context, event Event) {
	if b.store != nil {
		if _, err := b.store.StoreEvent(ctx, event); err != nil {
			b.log.Warn(ctx, "Failed to persist telemetry event",
				zap.String("eventType", string(event.Type)), zap.Error(err))
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			b.log.Warn(ctx, "Disconnecting slow telemetry subscriber",
				zap.String("eventType", string(event.Type)),
				zap.Int("queueSize", b.cfg.SubscriberQueueSize))
			delete(b.subs, sub)
			sub.closeOnce.Do(func() { close(sub.ch) })
		}
	}
}

// Subscribe registers a new subscriber.
func (b *Broker) Subscribe() *Subscriber {
	sub := &Subscriber{
		ch:     make(chan Event, b.cfg.SubscriberQueueSize),
		broker: b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub] = struct{}{}
	return sub
}

// SubscriberCount reports the number of live subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broker) unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		sub.closeOnce.Do(func() { close(sub.ch) })
	}
}
