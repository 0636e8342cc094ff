package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/asaidimu/go-events"
	"github.com/google/uuid"
)

// LifecycleEventType names a decorator lifecycle event.
type LifecycleEventType string

const (
	CollectionDecorated LifecycleEventType = "collection.decorated"
	SchemaRefined       LifecycleEventType = "schema.refined"
	OperatorEmulated    LifecycleEventType = "operator.emulated"
)

// LifecycleEvent is emitted by decorators for observability. Delivery is
// best effort and never affects the operation that emitted it.
type LifecycleEvent struct {
	Type       LifecycleEventType `json:"type"`
	Timestamp  int64              `json:"timestamp"`          // Unix milliseconds.
	Decorator  string             `json:"decorator"`          // Kind of decorator emitting the event.
	Collection string             `json:"collection"`         // Name of the decorated collection.
	Duration   *int64             `json:"duration,omitempty"` // Milliseconds, when the event closes a timed step.
	Context    map[string]any     `json:"context,omitempty"`  // Event specific data.
}

// NewLifecycleEvent builds an event. A non-zero startTime fills Duration.
func NewLifecycleEvent(eventType LifecycleEventType, decorator, collection string, context map[string]any, startTime time.Time) LifecycleEvent {
	var duration *int64
	if !startTime.IsZero() {
		d := time.Since(startTime).Milliseconds()
		duration = &d
	}

	return LifecycleEvent{
		Type:       eventType,
		Timestamp:  time.Now().UnixMilli(),
		Decorator:  decorator,
		Collection: collection,
		Duration:   duration,
		Context:    context,
	}
}

// CallbackFunction receives lifecycle events.
type CallbackFunction func(ctx context.Context, event LifecycleEvent) error

// RegisterSubscriptionOptions describes a subscription to register.
type RegisterSubscriptionOptions struct {
	Event       LifecycleEventType
	Label       *string
	Description *string
	Callback    CallbackFunction
}

// SubscriptionInfo describes a registered subscription.
type SubscriptionInfo struct {
	Id          *string            `json:"id"`
	Event       LifecycleEventType `json:"event"`
	Label       *string            `json:"label,omitempty"`
	Description *string            `json:"description,omitempty"`
	Unsubscribe func()             `json:"-"`
}

// EventBus carries lifecycle events and keeps track of subscriptions so they
// can be listed and removed by id.
type EventBus struct {
	bus           *events.TypedEventBus[LifecycleEvent]
	subscriptions map[string]*SubscriptionInfo
	mu            sync.RWMutex
}

// NewEventBus creates an event bus with the default go-events configuration.
func NewEventBus() (*EventBus, error) {
	bus, err := events.NewTypedEventBus[LifecycleEvent](events.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("could not initialize event bus: %w", err)
	}
	return &EventBus{
		bus:           bus,
		subscriptions: make(map[string]*SubscriptionInfo),
	}, nil
}

// Emit publishes an event. A nil bus drops it, so every method is safe on a
// nil *EventBus.
func (b *EventBus) Emit(event LifecycleEvent) {
	if b == nil || b.bus == nil {
		return
	}
	b.bus.Emit(string(event.Type), event)
}

// RegisterSubscription registers a callback for an event type and returns the
// id to unregister it with.
func (b *EventBus) RegisterSubscription(options RegisterSubscriptionOptions) string {
	if b == nil {
		return ""
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	unsubscribe := b.bus.Subscribe(string(options.Event), options.Callback)
	id := uuid.New().String()

	b.subscriptions[id] = &SubscriptionInfo{
		Id:          &id,
		Event:       options.Event,
		Unsubscribe: unsubscribe,
		Label:       options.Label,
		Description: options.Description,
	}
	return id
}

// UnregisterSubscription removes a subscription by its id. Unknown ids are
// ignored.
func (b *EventBus) UnregisterSubscription(id string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if info, ok := b.subscriptions[id]; ok {
		info.Unsubscribe()
		delete(b.subscriptions, id)
	}
}

// Subscriptions lists the active subscriptions.
func (b *EventBus) Subscriptions() []SubscriptionInfo {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := make([]SubscriptionInfo, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, *sub)
	}
	return subs
}
