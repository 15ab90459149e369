package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch1, cancel1 := bus.Subscribe(4)
	defer cancel1()
	ch2, cancel2 := bus.Subscribe(4)
	defer cancel2()

	bus.Publish(ProgressEvent{Step: StepAnalyze, SessionID: "s1"})

	for _, ch := range []<-chan ProgressEvent{ch1, ch2} {
		select {
		case event := <-ch:
			assert.Equal(t, StepAnalyze, event.Step)
			assert.Equal(t, "s1", event.SessionID)
			assert.False(t, event.Timestamp.IsZero(), "timestamp is stamped on publish")
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(ProgressEvent{Step: StepChunkStart})
	bus.Publish(ProgressEvent{Step: StepChunkComplete}) // dropped, buffer full

	event := <-ch
	assert.Equal(t, StepChunkStart, event.Step)
	select {
	case <-ch:
		t.Fatal("second event should have been dropped")
	default:
	}
}

func TestBusCancelRemovesSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(1)
	require.Equal(t, 1, bus.SubscriberCount())

	cancel()
	cancel() // idempotent
	assert.Equal(t, 0, bus.SubscriberCount())

	_, open := <-ch
	assert.False(t, open, "channel is closed on cancel")
}

func TestBusCloseClosesChannels(t *testing.T) {
	bus := NewBus()
	ch, _ := bus.Subscribe(1)

	bus.Close()
	_, open := <-ch
	assert.False(t, open)

	// Publishing after close is a no-op.
	bus.Publish(ProgressEvent{Step: StepStoring})

	// Subscribing after close returns a closed channel.
	late, _ := bus.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
}
