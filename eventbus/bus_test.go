package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T) string {
	t.Helper()

	opts := &server.Options{
		Port:      -1,
		JetStream: true,
		NoLog:     true,
		NoSigs:    true,
		StoreDir:  t.TempDir(),
	}
	ns, err := server.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second))
	t.Cleanup(ns.Shutdown)

	return ns.ClientURL()
}

func TestBus_PublishFansOutLocally(t *testing.T) {
	url := startTestServer(t)
	bus, err := Connect(url)
	require.NoError(t, err)
	defer bus.Close()

	ctx := context.Background()
	require.NoError(t, bus.EnsureStreams(ctx, time.Hour))

	received := make(chan Event, 1)
	bus.Subscribe(TypeWorkflowCreated, func(_ context.Context, evt Event) {
		received <- evt
	})

	evt, err := NewEvent(TypeWorkflowCreated, "wf-1", "", map[string]string{"network": "hyperion_testnet"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, evt))

	select {
	case got := <-received:
		require.Equal(t, "wf-1", got.WorkflowID)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestBus_DurableConsumerRoundTrips(t *testing.T) {
	url := startTestServer(t)
	bus, err := Connect(url)
	require.NoError(t, err)
	defer bus.Close()

	ctx := context.Background()
	require.NoError(t, bus.EnsureStreams(ctx, time.Hour))

	evt, err := NewEvent(TypeDeploymentCompleted, "wf-2", "deployment", map[string]string{"address": "0xabc"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, evt))

	consumer, err := bus.NewConsumer(ctx, TypeDeploymentCompleted, ConsumerOptions{Group: "test-group"})
	require.NoError(t, err)

	deliveries, err := consumer.Fetch(ctx, 1, 3*time.Second)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.Equal(t, "wf-2", deliveries[0].Event.WorkflowID)
	require.NoError(t, deliveries[0].Ack())
}

func TestBus_ConsumerGroupSharesDelivery(t *testing.T) {
	url := startTestServer(t)
	bus, err := Connect(url)
	require.NoError(t, err)
	defer bus.Close()

	ctx := context.Background()
	require.NoError(t, bus.EnsureStreams(ctx, time.Hour))

	for i := 0; i < 3; i++ {
		evt, err := NewEvent(TypeAuditCompleted, "wf-3", "audit", map[string]int{"i": i})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, evt))
	}

	consumerA, err := bus.NewConsumer(ctx, TypeAuditCompleted, ConsumerOptions{Group: "shared"})
	require.NoError(t, err)
	consumerB, err := bus.NewConsumer(ctx, TypeAuditCompleted, ConsumerOptions{Group: "shared"})
	require.NoError(t, err)

	var total int
	for _, c := range []*Consumer{consumerA, consumerB} {
		deliveries, err := c.Fetch(ctx, 10, 2*time.Second)
		require.NoError(t, err)
		total += len(deliveries)
		for _, d := range deliveries {
			require.NoError(t, d.Ack())
		}
	}
	require.Equal(t, 3, total)
}
