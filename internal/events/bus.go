// Package events is the in-process dispatcher for domain events raised by
// the unit of work. Handlers run synchronously on the publishing goroutine.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"shelfwise/internal/domain"
	"shelfwise/internal/store"
)

// Handler reacts to one event. A returned error is logged and does not stop
// other handlers.
type Handler func(ctx context.Context, e domain.Event) error

type Bus struct {
	handlers    map[domain.EventType][]Handler
	allHandlers []Handler
	mu          sync.RWMutex
	closed      bool

	log       *slog.Logger
	published metric.Int64Counter
	failures  metric.Int64Counter
}

type Option func(*Bus)

func WithLogger(log *slog.Logger) Option {
	return func(b *Bus) { b.log = log }
}

// WithMeter overrides the global meter provider.
func WithMeter(m metric.Meter) Option {
	return func(b *Bus) { b.initMetrics(m) }
}

func New(opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[domain.EventType][]Handler),
		log:      slog.Default(),
	}
	b.initMetrics(otel.Meter("shelfwise/events"))
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) initMetrics(m metric.Meter) {
	b.published, _ = m.Int64Counter("events.published",
		metric.WithDescription("Domain events dispatched to handlers"))
	b.failures, _ = m.Int64Counter("events.handler_failures",
		metric.WithDescription("Handlers that returned an error or panicked"))
}

// Publish dispatches an event to the handlers for its type, then to the
// global handlers.
func (b *Bus) Publish(ctx context.Context, e domain.Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	handlers := append(append([]Handler(nil), b.handlers[e.EventType()]...), b.allHandlers...)
	b.mu.RUnlock()

	attrs := metric.WithAttributes(attribute.String("event.type", string(e.EventType())))
	b.published.Add(ctx, 1, attrs)

	for _, h := range handlers {
		if err := b.dispatch(ctx, h, e); err != nil {
			b.failures.Add(ctx, 1, attrs)
			b.log.ErrorContext(ctx, "event handler failed",
				"event", e.EventType(),
				"aggregate_id", e.AggregateID(),
				"error", err)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, h Handler, e domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, e)
}

// PublishAll dispatches events in order.
func (b *Bus) PublishAll(ctx context.Context, events []domain.Event) {
	for _, e := range events {
		b.Publish(ctx, e)
	}
}

func (b *Bus) Subscribe(t domain.EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers a handler that receives every event.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.allHandlers = append(b.allHandlers, h)
}

// Close stops dispatch. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
}

func (b *Bus) HandlerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := len(b.allHandlers)
	for _, hs := range b.handlers {
		count += len(hs)
	}
	return count
}

var _ store.Publisher = (*Bus)(nil)
