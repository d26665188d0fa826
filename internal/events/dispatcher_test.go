package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherInvokesAllHandlers(t *testing.T) {
	d := NewInMemoryDispatcher()
	var calls []string
	d.Subscribe(EventItemFailed, func(_ context.Context, e Event) error {
		calls = append(calls, "first:"+e.ItemID)
		return errors.New("webhook down")
	})
	d.Subscribe(EventItemFailed, func(_ context.Context, e Event) error {
		calls = append(calls, "second:"+e.ItemID)
		return nil
	})
	d.Subscribe(EventItemMigrated, func(context.Context, Event) error {
		calls = append(calls, "other")
		return nil
	})

	err := d.Publish(context.Background(), Event{Type: EventItemFailed, ItemID: "WP-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item_failed handler 0: webhook down")
	assert.Equal(t, []string{"first:WP-1", "second:WP-1"}, calls)
}

func TestDispatcherRecoversHandlerPanic(t *testing.T) {
	d := NewInMemoryDispatcher()
	delivered := false
	d.Subscribe(EventEventDiscarded, func(context.Context, Event) error {
		panic("nil payload")
	})
	d.Subscribe(EventEventDiscarded, func(context.Context, Event) error {
		delivered = true
		return nil
	})

	err := d.Publish(context.Background(), Event{Type: EventEventDiscarded, ItemID: "WP-2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: nil payload")
	assert.True(t, delivered)
}

func TestDispatcherWithoutListeners(t *testing.T) {
	assert.NoError(t, NewInMemoryDispatcher().Publish(context.Background(), Event{Type: EventEventDiscarded}))
}
