package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusInvokesAllSubscribers(t *testing.T) {
	bus := NewBus(nil)

	var got []string
	bus.Subscribe(func(ev Event) { got = append(got, "a:"+string(ev.Kind)) })
	bus.Subscribe(func(ev Event) { got = append(got, "b:"+string(ev.Kind)) })

	bus.Publish(Event{Kind: EventSyncStart})

	assert.Equal(t, []string{"a:sync-start", "b:sync-start"}, got)
}

func TestBusAllowsDuplicateSubscriptions(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	fn := func(Event) { calls++ }
	bus.Subscribe(fn)
	bus.Subscribe(fn)

	bus.Publish(Event{Kind: EventPeersUpdated})

	assert.Equal(t, 2, calls, "a twice-subscribed listener is invoked twice")
}

func TestBusUnsubscribeRemovesOnlyThatSubscription(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	fn := func(Event) { calls++ }
	unsub := bus.Subscribe(fn)
	bus.Subscribe(fn)

	unsub()
	unsub() // second call is a no-op

	bus.Publish(Event{Kind: EventPeersUpdated})

	assert.Equal(t, 1, calls)
}

func TestBusIsolatesPanickingSubscriber(t *testing.T) {
	bus := NewBus(nil)

	var after bool
	bus.Subscribe(func(Event) { panic("listener blew up") })
	bus.Subscribe(func(Event) { after = true })

	assert.NotPanics(t, func() {
		bus.Publish(Event{Kind: EventSyncError, Err: "boom"})
	})
	assert.True(t, after, "subscribers after the panicking one must still run")
}
