package base

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"go.uber.org/zap"
)

// Decorator is the contract every decorated collection fulfils.
type Decorator interface {
	persistence.Collection
	MarkSchemaAsDirty()
}

// Factory wraps a child collection into a decorator belonging to dataSource.
type Factory[T Decorator] func(child persistence.Collection, dataSource *DataSourceDecorator[T]) T

// DataSourceDecorator mirrors the collections of a child datasource, one
// decorator per child collection, including collections added after
// construction.
type DataSourceDecorator[T Decorator] struct {
	child   persistence.DataSource
	factory Factory[T]
	opts    Options
	logger  *zap.Logger

	mu         sync.RWMutex
	decorators map[string]T
	order      []string
	listeners  map[int]func(persistence.Collection)
	nextID     int

	unsubscribe func()
}

// NewDataSourceDecorator wraps every collection of child with factory and
// keeps following the collections child adds later. When opts.Events is nil
// a private event bus is created.
func NewDataSourceDecorator[T Decorator](child persistence.DataSource, factory Factory[T], opts Options) *DataSourceDecorator[T] {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Events == nil {
		bus, err := persistence.NewEventBus()
		if err != nil {
			opts.Logger.Warn("Lifecycle events disabled", zap.Error(err))
		}
		opts.Events = bus
	}

	d := &DataSourceDecorator[T]{
		child:      child,
		factory:    factory,
		opts:       opts,
		logger:     opts.Logger.With(zap.String("decorator", opts.Kind)),
		decorators: make(map[string]T),
		listeners:  make(map[int]func(persistence.Collection)),
	}

	for _, collection := range child.Collections() {
		d.wrap(collection)
	}
	d.unsubscribe = child.OnCollectionAdded(func(collection persistence.Collection) {
		decorated := d.wrap(collection)
		d.notify(decorated)
	})
	return d
}

// Options returns the options shared with the collection decorators.
func (d *DataSourceDecorator[T]) Options() Options { return d.opts }

// Child returns the decorated datasource.
func (d *DataSourceDecorator[T]) Child() persistence.DataSource { return d.child }

func (d *DataSourceDecorator[T]) wrap(collection persistence.Collection) T {
	start := time.Now()
	decorated := d.factory(collection, d)

	d.mu.Lock()
	if _, exists := d.decorators[collection.Name()]; !exists {
		d.order = append(d.order, collection.Name())
	}
	d.decorators[collection.Name()] = decorated
	d.mu.Unlock()

	d.logger.Debug("Decorated collection", zap.String("collection", collection.Name()))
	d.opts.Events.Emit(persistence.NewLifecycleEvent(persistence.CollectionDecorated, d.opts.Kind, collection.Name(), nil, start))
	return decorated
}

func (d *DataSourceDecorator[T]) notify(collection persistence.Collection) {
	d.mu.RLock()
	listeners := make([]func(persistence.Collection), 0, len(d.listeners))
	for id := 0; id < d.nextID; id++ {
		if fn, ok := d.listeners[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	d.mu.RUnlock()

	for _, fn := range listeners {
		fn(collection)
	}
}

// OnCollectionAdded registers fn for the decorators of collections added to
// the child from now on.
func (d *DataSourceDecorator[T]) OnCollectionAdded(fn func(persistence.Collection)) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.listeners, id)
	}
}

// Collections returns the decorators in the order collections were added.
func (d *DataSourceDecorator[T]) Collections() []persistence.Collection {
	decorators := d.Decorators()
	out := make([]persistence.Collection, len(decorators))
	for i, decorator := range decorators {
		out[i] = decorator
	}
	return out
}

// GetCollection returns the decorator of a collection.
func (d *DataSourceDecorator[T]) GetCollection(name string) (persistence.Collection, error) {
	decorator, err := d.Decorator(name)
	if err != nil {
		return nil, err
	}
	return decorator, nil
}

// Decorator returns the typed decorator of a collection.
func (d *DataSourceDecorator[T]) Decorator(name string) (T, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	decorator, ok := d.decorators[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: '%s'", persistence.ErrCollectionNotFound, name)
	}
	return decorator, nil
}

// Decorators returns every typed decorator in the order collections were
// added.
func (d *DataSourceDecorator[T]) Decorators() []T {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]T, len(d.order))
	for i, name := range d.order {
		out[i] = d.decorators[name]
	}
	return out
}

// MarkAllSchemasAsDirty invalidates the cached schema of every decorator.
func (d *DataSourceDecorator[T]) MarkAllSchemasAsDirty() {
	for _, decorator := range d.Decorators() {
		decorator.MarkSchemaAsDirty()
	}
}

func (d *DataSourceDecorator[T]) Schema() *persistence.DataSourceSchema { return d.child.Schema() }

func (d *DataSourceDecorator[T]) RenderChart(ctx context.Context, caller *persistence.Caller, name string) (persistence.Chart, error) {
	return d.child.RenderChart(ctx, caller, name)
}

// RegisterSubscription subscribes to the lifecycle events of the decorators.
func (d *DataSourceDecorator[T]) RegisterSubscription(options persistence.RegisterSubscriptionOptions) string {
	return d.opts.Events.RegisterSubscription(options)
}

// UnregisterSubscription removes a lifecycle subscription.
func (d *DataSourceDecorator[T]) UnregisterSubscription(id string) {
	d.opts.Events.UnregisterSubscription(id)
}

// Close stops following the collections added to the child datasource.
func (d *DataSourceDecorator[T]) Close() {
	if d.unsubscribe != nil {
		d.unsubscribe()
	}
}
