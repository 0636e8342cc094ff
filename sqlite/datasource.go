package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
	"go.uber.org/zap"
)

// DataSource is a registry of collections stored in one SQLite database.
type DataSource struct {
	db     *sql.DB
	logger *zap.Logger

	mu          sync.RWMutex
	collections map[string]*Collection
	order       []string
	listeners   map[int]func(persistence.Collection)
	nextID      int
}

var _ persistence.DataSource = (*DataSource)(nil)

// NewDataSource wraps an open database. A nil logger disables logging.
func NewDataSource(db *sql.DB, logger *zap.Logger) *DataSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataSource{
		db:          db,
		logger:      logger,
		collections: make(map[string]*Collection),
		listeners:   make(map[int]func(persistence.Collection)),
	}
}

// AddCollection creates the table of a collection when needed, registers the
// collection and notifies the listeners registered with OnCollectionAdded.
func (ds *DataSource) AddCollection(ctx context.Context, name string, s *schema.CollectionSchema) (*Collection, error) {
	collection := NewCollection(ds.db, ds, name, s, ds.logger)
	if err := collection.EnsureTable(ctx); err != nil {
		return nil, err
	}

	ds.mu.Lock()
	if _, exists := ds.collections[name]; exists {
		ds.mu.Unlock()
		return nil, fmt.Errorf("collection '%s' already exists", name)
	}
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
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	collection, ok := ds.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", persistence.ErrCollectionNotFound, name)
	}
	return collection, nil
}

func (ds *DataSource) Schema() *persistence.DataSourceSchema {
	return &persistence.DataSourceSchema{}
}

func (ds *DataSource) RenderChart(ctx context.Context, caller *persistence.Caller, name string) (persistence.Chart, error) {
	return nil, fmt.Errorf("chart '%s' is not defined in the datasource: %w", name, persistence.ErrUnsupported)
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
