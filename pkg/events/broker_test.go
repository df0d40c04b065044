package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Emit(EventMemoryCreated, "mem-1", "created")

	select {
	case ev := <-sub:
		require.Equal(t, EventMemoryCreated, ev.Type)
		require.Equal(t, "mem-1", ev.MemoryID)
		require.NotEmpty(t, ev.ID)
		require.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())
	b.Unsubscribe(sub)
	require.Equal(t, 0, b.SubscriberCount())

	_, ok := <-sub
	require.False(t, ok)
}

func TestFullSubscriberBufferDoesNotBlockPublish(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for i := 0; i < 100; i++ {
		b.Emit(EventMemoryUpdated, "mem-x", "update")
	}

	time.Sleep(50 * time.Millisecond)
}
