package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch1, cancel1 := b.Subscribe(4)
	defer cancel1()
	ch2, cancel2 := b.Subscribe(4)
	defer cancel2()

	event, err := NewEvent("EXE-1", "WSP-1", ExecutionStarted{ExecutionID: "EXE-1"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), event))

	for _, ch := range []<-chan *Event{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, "execution.started", got.EventType)
			assert.Equal(t, "EXE-1", got.AggregateID)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBroadcasterDropsWhenSubscriberFull(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch, cancel := b.Subscribe(1)
	defer cancel()

	first, err := NewEvent("EXE-1", "WSP-1", ExecutionCompleted{ExecutionID: "EXE-1"})
	require.NoError(t, err)
	second, err := NewEvent("EXE-2", "WSP-1", ExecutionCompleted{ExecutionID: "EXE-2"})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), first))
	require.NoError(t, b.Publish(context.Background(), second))

	got := <-ch
	assert.Equal(t, "EXE-1", got.AggregateID)

	select {
	case unexpected := <-ch:
		t.Fatalf("expected second event to be dropped, got %s", unexpected.AggregateID)
	default:
	}
}

func TestBroadcasterCancelStopsDelivery(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch, cancel := b.Subscribe(4)
	cancel()

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after cancel")
}

func TestGetEventType(t *testing.T) {
	assert.Equal(t, "execution.started", GetEventType(ExecutionStarted{}))
	assert.Equal(t, "execution.failed", GetEventType(&ExecutionFailed{}))
	assert.Equal(t, "execution.cancelled", GetEventType(ExecutionCancelled{}))
	assert.Equal(t, "execution.node.completed", GetEventType(NodeCompleted{}))
	assert.Equal(t, "unknown", GetEventType(42))
}
