package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Handler is a synchronous, in-process subscriber callback. It runs on the
// publishing goroutine, so handlers must return quickly or hand work off
// themselves; the durable Consume path is the place for slow, retryable
// work.
type Handler func(ctx context.Context, evt Event)

// Subscription identifies one Subscribe call, returned so the caller can
// later Unsubscribe it. Needed by short-lived subscribers such as a
// WebSocket connection's event forwarder, which must stop receiving once
// the connection closes.
type Subscription struct {
	t  Type
	id uint64
}

// Bus is the durable event log. Publish writes to a per-type JetStream
// stream and, before returning, fans the event out synchronously to any
// in-process subscribers registered via Subscribe.
type Bus struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger

	mu        sync.RWMutex
	handlers  map[Type][]subscribedHandler
	nextSubID uint64
}

type subscribedHandler struct {
	id uint64
	h  Handler
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger overrides the default slog.Logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// Connect dials NATS and wraps the connection in a Bus. It does not
// provision streams; call EnsureStreams once at startup.
func Connect(url string, opts ...Option) (*Bus, error) {
	nc, err := nats.Connect(url, nats.Name("contractforge"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("init jetstream: %w", err)
	}

	b := &Bus{
		nc:       nc,
		js:       js,
		logger:   slog.Default(),
		handlers: make(map[Type][]subscribedHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Close drains the underlying NATS connection.
func (b *Bus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}

// EnsureStreams creates (or updates) one stream per known event type. Each
// stream is append-only: WorkQueue retention would remove messages on ack,
// which would break consumer groups that join late, so streams use Limits
// retention instead and rely on consumer-level acking for redelivery.
func (b *Bus) EnsureStreams(ctx context.Context, maxAge time.Duration) error {
	for _, t := range AllTypes() {
		streamName := streamNameFor(t)
		_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      streamName,
			Subjects:  []string{t.Subject()},
			Retention: jetstream.LimitsPolicy,
			MaxAge:    maxAge,
			Storage:   jetstream.FileStorage,
		})
		if err != nil {
			return fmt.Errorf("ensure stream %s: %w", streamName, err)
		}
	}
	return nil
}

func streamNameFor(t Type) string {
	return "EVENTS_" + sanitizeStreamToken(string(t))
}

func sanitizeStreamToken(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '.' || r == '-' {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// Publish writes evt to its type's stream and synchronously invokes any
// in-process handlers registered for that type (or for "" as a wildcard).
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := b.js.Publish(ctx, evt.Type.Subject(), data); err != nil {
		return fmt.Errorf("publish event %s: %w", evt.Type, err)
	}

	b.dispatchLocal(ctx, evt)
	return nil
}

// Subscribe registers an in-process handler invoked synchronously whenever
// Publish is called for the given type, in addition to whatever durable
// consumers exist. Use "" to receive every event type. The returned
// Subscription can be passed to Unsubscribe to stop receiving events.
func (b *Bus) Subscribe(t Type, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	id := b.nextSubID
	b.handlers[t] = append(b.handlers[t], subscribedHandler{id: id, h: h})
	return Subscription{t: t, id: id}
}

// Unsubscribe removes a previously registered handler. A no-op if the
// subscription was already removed.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	handlers := b.handlers[sub.t]
	for i, sh := range handlers {
		if sh.id == sub.id {
			b.handlers[sub.t] = append(handlers[:i], handlers[i+1:]...)
			return
		}
	}
}

func (b *Bus) dispatchLocal(ctx context.Context, evt Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[evt.Type])+len(b.handlers[""]))
	for _, sh := range b.handlers[evt.Type] {
		handlers = append(handlers, sh.h)
	}
	for _, sh := range b.handlers[""] {
		handlers = append(handlers, sh.h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, evt)
	}
}
