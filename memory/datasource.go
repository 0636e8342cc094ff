// Package memory is a storage adapter keeping records in process memory.
// Filters, sorts, pages, projections and aggregations are evaluated with the
// core/query package, ManyToOne and OneToOne relation paths included. It is
// the reference upstream of the decorators and backs their tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
	"go.uber.org/zap"
)

// ChartRenderer renders a datasource chart.
type ChartRenderer func(ctx context.Context, caller *persistence.Caller) (persistence.Chart, error)

// DataSource is an in-memory registry of collections.
type DataSource struct {
	logger *zap.Logger

	mu          sync.RWMutex
	collections map[string]*Collection
	order       []string
	charts      map[string]ChartRenderer
	listeners   map[int]func(persistence.Collection)
	nextID      int
}

// NewDataSource creates an empty datasource. A nil logger disables logging.
func NewDataSource(logger *zap.Logger) *DataSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataSource{
		logger:      logger,
		collections: make(map[string]*Collection),
		charts:      make(map[string]ChartRenderer),
		listeners:   make(map[int]func(persistence.Collection)),
	}
}

// AddCollection registers a new collection and notifies the listeners
// registered with OnCollectionAdded.
func (ds *DataSource) AddCollection(name string, s *schema.CollectionSchema) (*Collection, error) {
	ds.mu.Lock()
	if _, exists := ds.collections[name]; exists {
		ds.mu.Unlock()
		return nil, fmt.Errorf("collection '%s' already exists", name)
	}
	collection := newCollection(name, ds, s, ds.logger)
	ds.collections[name] = collection
	ds.order = append(ds.order, name)

	listeners := make([]func(persistence.Collection), 0, len(ds.listeners))
	for id := 0; id < ds.nextID; id++ {
		if fn, ok := ds.listeners[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	ds.mu.Unlock()

	ds.logger.Debug("Added collection", zap.String("collection", name), zap.Int("fields", len(s.Fields)))
	for _, fn := range listeners {
		fn(collection)
	}
	return collection, nil
}

// AddChart registers a datasource chart.
func (ds *DataSource) AddChart(name string, renderer ChartRenderer) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.charts[name] = renderer
}

func (ds *DataSource) Collections() []persistence.Collection {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	out := make([]persistence.Collection, len(ds.order))
	for i, name := range ds.order {
		out[i] = ds.collections[name]
	}
	return out
}

func (ds *DataSource) GetCollection(name string) (persistence.Collection, error) {
	collection, err := ds.collection(name)
	if err != nil {
		return nil, err
	}
	return collection, nil
}

func (ds *DataSource) collection(name string) (*Collection, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	collection, ok := ds.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", persistence.ErrCollectionNotFound, name)
	}
	return collection, nil
}

func (ds *DataSource) Schema() *persistence.DataSourceSchema {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	charts := make([]string, 0, len(ds.charts))
	for name := range ds.charts {
		charts = append(charts, name)
	}
	return &persistence.DataSourceSchema{Charts: charts}
}

func (ds *DataSource) RenderChart(ctx context.Context, caller *persistence.Caller, name string) (persistence.Chart, error) {
	ds.mu.RLock()
	renderer, ok := ds.charts[name]
	ds.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("chart '%s' is not defined in the datasource: %w", name, persistence.ErrUnsupported)
	}
	return renderer(ctx, caller)
}

func (ds *DataSource) OnCollectionAdded(fn func(persistence.Collection)) func() {
	ds.mu.Lock()
	id := ds.nextID
	ds.nextID++
	ds.listeners[id] = fn
	ds.mu.Unlock()

	return func() {
		ds.mu.Lock()
		defer ds.mu.Unlock()
		delete(ds.listeners, id)
	}
}
