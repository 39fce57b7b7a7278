package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// ConsumerOptions configures a durable consumer group.
type ConsumerOptions struct {
	// Group names the durable consumer. Two processes that Consume with the
	// same (Type, Group) share delivery: each message goes to exactly one
	// of them, at least once.
	Group string

	// VisibilityTimeout bounds how long a fetched-but-unacked message is
	// held before JetStream redelivers it. Mirrors a standard queue's
	// visibility timeout.
	VisibilityTimeout time.Duration

	// MaxDeliver caps redelivery attempts before JetStream stops retrying.
	MaxDeliver int
}

func (o ConsumerOptions) withDefaults() ConsumerOptions {
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 30 * time.Second
	}
	if o.MaxDeliver <= 0 {
		o.MaxDeliver = 5
	}
	return o
}

// Delivery wraps one received event with its ack handle.
type Delivery struct {
	Event Event
	msg   jetstream.Msg
}

// Ack acknowledges successful processing.
func (d Delivery) Ack() error { return d.msg.Ack() }

// Nak signals processing failed; JetStream redelivers the message without
// waiting for AckWait (which applies to messages never acked or naked), up
// to MaxDeliver attempts.
func (d Delivery) Nak() error { return d.msg.Nak() }

// Consumer is a durable pull consumer bound to one event type and group.
type Consumer struct {
	consumer jetstream.Consumer
}

// NewConsumer creates or attaches to a durable consumer for t under the
// given group name.
func (b *Bus) NewConsumer(ctx context.Context, t Type, opts ConsumerOptions) (*Consumer, error) {
	opts = opts.withDefaults()
	if opts.Group == "" {
		return nil, fmt.Errorf("consumer group name is required")
	}

	stream, err := b.js.Stream(ctx, streamNameFor(t))
	if err != nil {
		return nil, fmt.Errorf("get stream for %s: %w", t, err)
	}

	durableName := string(t) + "-" + opts.Group
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       sanitizeStreamToken(durableName),
		FilterSubject: t.Subject(),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       opts.VisibilityTimeout,
		MaxDeliver:    opts.MaxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", durableName, err)
	}

	return &Consumer{consumer: consumer}, nil
}

// Fetch pulls up to batch messages, waiting up to maxWait for at least one.
// Returns an empty slice (not an error) on timeout with no messages.
func (c *Consumer) Fetch(ctx context.Context, batch int, maxWait time.Duration) ([]Delivery, error) {
	msgs, err := c.consumer.Fetch(batch, jetstream.FetchMaxWait(maxWait))
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	var out []Delivery
	for msg := range msgs.Messages() {
		var evt Event
		if err := json.Unmarshal(msg.Data(), &evt); err != nil {
			_ = msg.Nak()
			continue
		}
		out = append(out, Delivery{Event: evt, msg: msg})
	}
	if err := msgs.Error(); err != nil && err != context.DeadlineExceeded {
		return out, fmt.Errorf("fetch batch: %w", err)
	}
	return out, nil
}

// Run pulls messages in a loop until ctx is cancelled, invoking handle for
// each. handle's returned error Naks the message; nil Acks it.
func (c *Consumer) Run(ctx context.Context, handle func(context.Context, Event) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		deliveries, err := c.Fetch(ctx, 10, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		for _, d := range deliveries {
			if err := handle(ctx, d.Event); err != nil {
				_ = d.Nak()
				continue
			}
			_ = d.Ack()
		}
	}
}
