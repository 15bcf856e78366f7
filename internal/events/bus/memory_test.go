package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestMemoryBus_PublishDeliversToExactNameSubscriber(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	received := make(chan Event, 1)
	b.Subscribe("chat_tool:login", func(ctx context.Context, evt Event) {
		received <- evt
	})

	b.Publish(context.Background(), Event{Name: "chat_tool:login", Payload: "ok"})
	evt := waitFor(t, received)
	assert.Equal(t, "ok", evt.Payload)
}

func TestMemoryBus_WildcardReceivesEverything(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	received := make(chan Event, 4)
	b.Subscribe("*", func(ctx context.Context, evt Event) {
		received <- evt
	})

	b.Publish(context.Background(), Event{Name: "chat_tool:login"})
	b.Publish(context.Background(), Event{Name: "orchestration:started"})

	first := waitFor(t, received)
	second := waitFor(t, received)
	names := map[string]bool{first.Name: true, second.Name: true}
	assert.True(t, names["chat_tool:login"])
	assert.True(t, names["orchestration:started"])
}

func TestMemoryBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	received := make(chan Event, 1)
	sub := b.Subscribe("x", func(ctx context.Context, evt Event) {
		received <- evt
	})
	sub.Unsubscribe()

	b.Publish(context.Background(), Event{Name: "x"})

	select {
	case <-received:
		t.Fatal("expected no delivery after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryBus_PublishAfterCloseIsNoop(t *testing.T) {
	b := NewMemoryBus()
	received := make(chan Event, 1)
	b.Subscribe("x", func(ctx context.Context, evt Event) {
		received <- evt
	})
	b.Close()

	b.Publish(context.Background(), Event{Name: "x"})

	select {
	case <-received:
		t.Fatal("expected no delivery after close")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryBus_DoesNotCrossDeliverBetweenDistinctNames(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	a := make(chan Event, 1)
	c := make(chan Event, 1)
	b.Subscribe("a", func(ctx context.Context, evt Event) { a <- evt })
	b.Subscribe("c", func(ctx context.Context, evt Event) { c <- evt })

	b.Publish(context.Background(), Event{Name: "a"})

	waitFor(t, a)
	select {
	case <-c:
		t.Fatal("subscriber of a different name should not receive")
	case <-time.After(100 * time.Millisecond):
	}
	require.NotNil(t, b)
}
