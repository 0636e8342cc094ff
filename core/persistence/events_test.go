package persistence_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_Subscriptions(t *testing.T) {
	bus, err := persistence.NewEventBus()
	require.NoError(t, err)

	var mu sync.Mutex
	var received []persistence.LifecycleEvent
	label := "recorder"
	id := bus.RegisterSubscription(persistence.RegisterSubscriptionOptions{
		Event: persistence.SchemaRefined,
		Label: &label,
		Callback: func(ctx context.Context, event persistence.LifecycleEvent) error {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, event)
			return nil
		},
	})
	require.NotEmpty(t, id)
	require.Len(t, bus.Subscriptions(), 1)
	assert.Equal(t, &label, bus.Subscriptions()[0].Label)

	bus.Emit(persistence.NewLifecycleEvent(persistence.SchemaRefined, "rename", "books", nil, time.Now()))
	bus.Emit(persistence.NewLifecycleEvent(persistence.CollectionDecorated, "rename", "books", nil, time.Time{}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	event := received[0]
	mu.Unlock()
	assert.Equal(t, "books", event.Collection)
	assert.NotNil(t, event.Duration)

	bus.UnregisterSubscription(id)
	bus.UnregisterSubscription("unknown")
	assert.Empty(t, bus.Subscriptions())
}

func TestEventBus_NilIsSafe(t *testing.T) {
	var bus *persistence.EventBus
	assert.NotPanics(t, func() {
		bus.Emit(persistence.NewLifecycleEvent(persistence.SchemaRefined, "", "", nil, time.Time{}))
		assert.Empty(t, bus.RegisterSubscription(persistence.RegisterSubscriptionOptions{}))
		bus.UnregisterSubscription("id")
		assert.Nil(t, bus.Subscriptions())
	})
}

func TestErrors(t *testing.T) {
	assert.Equal(t, "Cycle detected: a -> b -> a.", (&persistence.CycleError{Kind: persistence.WriteCycle, Chain: []string{"a", "b", "a"}}).Error())
	assert.Equal(t, "Operator replacement cycle: c.f[In] -> c.f[In]", (&persistence.CycleError{Kind: persistence.OperatorCycle, Chain: []string{"c.f[In]", "c.f[In]"}}).Error())

	var err error = &persistence.ConflictError{Field: "title"}
	var validation *persistence.ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Equal(t, `Conflict value on the field "title". It received several values.`, validation.Message)

	assert.Equal(t, "books.title: boom 1", persistence.NewConfigurationError("books", "title", "boom %d", 1).Error())
	assert.Equal(t, "books: boom", persistence.NewConfigurationError("books", "", "boom").Error())

	caller := &persistence.Caller{Timezone: "Not/AZone"}
	assert.Equal(t, time.UTC, caller.Location())
	assert.Equal(t, time.UTC, (*persistence.Caller)(nil).Location())
}
