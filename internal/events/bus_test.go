package events

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus(testLogger())
	defer bus.Stop()

	sub := bus.Subscribe(context.Background(), "sub-1")
	bus.Publish(New(TypeSyncStarted, "test", map[string]any{"table": "tips"}))

	select {
	case e := <-sub.Events():
		require.Equal(t, TypeSyncStarted, e.Type)
		require.Equal(t, "tips", e.Data["table"])
		require.Equal(t, uint64(1), e.Sequence)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(testLogger())
	defer bus.Stop()

	sub := bus.Subscribe(context.Background(), "sub-1")
	bus.Unsubscribe("sub-1")
	require.Equal(t, 0, bus.ActiveSubscribers())

	_, ok := <-sub.Events()
	require.False(t, ok, "channel should be closed after unsubscribe")
}

func TestSubscriberCloseRemovesFromBus(t *testing.T) {
	bus := NewBus(testLogger())
	defer bus.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	bus.Subscribe(ctx, "sub-1")
	require.Equal(t, 1, bus.ActiveSubscribers())

	cancel()
	require.Eventually(t, func() bool {
		return bus.ActiveSubscribers() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestPublishFansOutToMultipleSubscribers(t *testing.T) {
	bus := NewBus(testLogger())
	defer bus.Stop()

	sub1 := bus.Subscribe(context.Background(), "sub-1")
	sub2 := bus.Subscribe(context.Background(), "sub-2")

	bus.Publish(New(TypeConnectionStatusChanged, "test", nil))

	for _, sub := range []*Subscriber{sub1, sub2} {
		select {
		case e := <-sub.Events():
			require.Equal(t, TypeConnectionStatusChanged, e.Type)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s never received event", sub.ID())
		}
	}
}
