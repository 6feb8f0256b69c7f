package events

import (
	"testing"
	"time"
)

func TestBusDeliversToSubscriber(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(ChannelNode, 4)
	defer cancel()

	bus.Publish(ChannelNode, TypeNodeCreated, NodeCreatedPayload{NodeID: "abc123"})

	select {
	case msg := <-ch:
		if msg.Type != TypeNodeCreated {
			t.Fatalf("expected type %q, got %q", TypeNodeCreated, msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestBusChannelsAreIsolated(t *testing.T) {
	bus := NewBus()
	nodeCh, cancel1 := bus.Subscribe(ChannelNode, 4)
	defer cancel1()
	queueCh, cancel2 := bus.Subscribe(ChannelQueue, 4)
	defer cancel2()

	bus.Publish(ChannelNode, TypeNodeCreated, nil)

	select {
	case <-nodeCh:
	case <-time.After(time.Second):
		t.Fatal("expected node subscriber to receive the message")
	}

	select {
	case <-queueCh:
		t.Fatal("queue subscriber should not have received a node-channel message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Subscribe(ChannelDaemon, 1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Fill the buffer, then publish once more than it can hold.
		bus.Publish(ChannelDaemon, TypeDaemonStatus, 1)
		bus.Publish(ChannelDaemon, TypeDaemonStatus, 2)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked past internalSendTimeout for a full subscriber buffer")
	}
}

func TestBusCancelRemovesSubscriber(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(ChannelQueue, 1)
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after cancel")
	}
}
