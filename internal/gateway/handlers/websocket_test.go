package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miniflow-io/miniflow/internal/platform/logger"
	"github.com/miniflow-io/miniflow/internal/shared/events"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nil, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func newTestClient(hub *Hub, buffer int) *Client {
	return &Client{
		ID:       uuid.NewString(),
		Channels: make(map[string]bool),
		Send:     make(chan []byte, buffer),
		hub:      hub,
	}
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.Send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func TestHubFansOutPerChannel(t *testing.T) {
	hub := newTestHub(t)

	firehose := newTestClient(hub, 4)
	scoped := newTestClient(hub, 4)
	hub.register <- firehose
	hub.register <- scoped

	hub.Subscribe(firehose, ChannelExecutions)
	hub.Subscribe(scoped, WorkspaceChannel("WSP-1"))

	hub.Broadcast(ChannelExecutions, &Message{Type: MessageTypeEvent, Event: "execution.started"})

	msg := receive(t, firehose)
	assert.Equal(t, MessageTypeEvent, msg.Type)
	assert.Equal(t, "execution.started", msg.Event)
	assert.Equal(t, ChannelExecutions, msg.Channel)

	select {
	case data := <-scoped.Send:
		t.Fatalf("workspace client received firehose message: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDropsSlowConsumers(t *testing.T) {
	hub := newTestHub(t)

	slow := newTestClient(hub, 1)
	hub.register <- slow
	hub.Subscribe(slow, ChannelExecutions)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	// The first message fills the buffer, the second marks the client
	// slow and disconnects it.
	hub.Broadcast(ChannelExecutions, &Message{Type: MessageTypeEvent, Event: "one"})
	hub.Broadcast(ChannelExecutions, &Message{Type: MessageTypeEvent, Event: "two"})

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := newTestHub(t)

	client := newTestClient(hub, 4)
	hub.register <- client
	hub.Subscribe(client, ChannelExecutions)
	hub.Unsubscribe(client, ChannelExecutions)

	hub.Broadcast(ChannelExecutions, &Message{Type: MessageTypeEvent, Event: "missed"})

	select {
	case data := <-client.Send:
		t.Fatalf("unsubscribed client received message: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, client.Channels)
}

func TestFeedBridgesLifecycleEvents(t *testing.T) {
	hub := newTestHub(t)
	broadcaster := events.NewBroadcaster()
	defer broadcaster.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Feed(ctx, broadcaster)
	require.Eventually(t, func() bool { return broadcaster.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	firehose := newTestClient(hub, 4)
	scoped := newTestClient(hub, 4)
	other := newTestClient(hub, 4)
	hub.register <- firehose
	hub.register <- scoped
	hub.register <- other

	hub.Subscribe(firehose, ChannelExecutions)
	hub.Subscribe(scoped, WorkspaceChannel("WSP-1"))
	hub.Subscribe(other, WorkspaceChannel("WSP-2"))

	event, err := events.NewEvent("EXE-1", "WSP-1", events.ExecutionStarted{ExecutionID: "EXE-1", WorkflowID: "WFL-1"})
	require.NoError(t, err)
	require.NoError(t, broadcaster.Publish(context.Background(), event))

	msg := receive(t, firehose)
	assert.Equal(t, "execution.started", msg.Event)
	assert.Equal(t, ChannelExecutions, msg.Channel)

	var envelope events.Event
	require.NoError(t, json.Unmarshal(msg.Data, &envelope))
	assert.Equal(t, "EXE-1", envelope.AggregateID)
	assert.Equal(t, "WSP-1", envelope.WorkspaceID)

	msg = receive(t, scoped)
	assert.Equal(t, WorkspaceChannel("WSP-1"), msg.Channel)

	select {
	case data := <-other.Send:
		t.Fatalf("client of another workspace received message: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClientSubscribeAndPingFrames(t *testing.T) {
	hub := newTestHub(t)
	client := newTestClient(hub, 4)

	client.handleMessage(&Message{Type: MessageTypeSubscribe, Channel: ChannelExecutions})
	reply := receive(t, client)
	assert.Equal(t, "subscribed", reply.Event)
	assert.Equal(t, ChannelExecutions, reply.Channel)
	assert.True(t, client.Channels[ChannelExecutions])

	client.handleMessage(&Message{Type: MessageTypePing})
	reply = receive(t, client)
	assert.Equal(t, MessageTypePong, reply.Type)

	client.handleMessage(&Message{Type: MessageTypeUnsubscribe, Channel: ChannelExecutions})
	reply = receive(t, client)
	assert.Equal(t, "unsubscribed", reply.Event)
	assert.False(t, client.Channels[ChannelExecutions])
}
