// Package base provides the pass-through Collection and DataSource
// decorators every other decorator builds on.
//
// An outer decorator embeds *CollectionDecorator, shadows the data operations
// it transforms and optionally implements SchemaRefiner and FilterRefiner.
// The hooks are detected on the value passed as outer to
// NewCollectionDecorator.
package base

import (
	"context"
	"sync"
	"time"

	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/core/query"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
	"go.uber.org/zap"
)

// SchemaRefiner derives the exposed schema from the child schema. The child
// schema must not be mutated.
type SchemaRefiner interface {
	RefineSchema(child *schema.CollectionSchema) *schema.CollectionSchema
}

// FilterRefiner rewrites the filters received by every data operation before
// they reach the child.
type FilterRefiner interface {
	RefineFilter(ctx context.Context, caller *persistence.Caller, filter *query.PaginatedFilter) (*query.PaginatedFilter, error)
}

// Options configures a decorator.
type Options struct {
	// Kind names the decorator in logs and lifecycle events.
	Kind   string
	Logger *zap.Logger
	Events *persistence.EventBus
}

// CollectionDecorator delegates every operation to Child. Filters go through
// the FilterRefiner hook and the schema is memoized from the SchemaRefiner
// hook.
type CollectionDecorator struct {
	Child persistence.Collection

	dataSource    persistence.DataSource
	schemaRefiner SchemaRefiner
	filterRefiner FilterRefiner
	kind          string
	logger        *zap.Logger
	events        *persistence.EventBus

	mu        sync.Mutex
	lastChild *schema.CollectionSchema
	cached    *schema.CollectionSchema
	dirty     bool
}

// NewCollectionDecorator wraps child. dataSource is the decorated datasource
// the collection belongs to, and outer the decorator embedding the result.
func NewCollectionDecorator(child persistence.Collection, dataSource persistence.DataSource, outer any, opts Options) *CollectionDecorator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &CollectionDecorator{
		Child:      child,
		dataSource: dataSource,
		kind:       opts.Kind,
		logger:     logger.With(zap.String("decorator", opts.Kind), zap.String("collection", child.Name())),
		events:     opts.Events,
	}
	if refiner, ok := outer.(SchemaRefiner); ok {
		d.schemaRefiner = refiner
	}
	if refiner, ok := outer.(FilterRefiner); ok {
		d.filterRefiner = refiner
	}
	return d
}

// Logger returns the logger of the decorator, scoped to the collection.
func (d *CollectionDecorator) Logger() *zap.Logger { return d.logger }

// Emit publishes a lifecycle event about this collection.
func (d *CollectionDecorator) Emit(eventType persistence.LifecycleEventType, context map[string]any, startTime time.Time) {
	d.events.Emit(persistence.NewLifecycleEvent(eventType, d.kind, d.Name(), context, startTime))
}

// MarkSchemaAsDirty forces the next Schema call to recompute the schema.
func (d *CollectionDecorator) MarkSchemaAsDirty() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dirty = true
}

func (d *CollectionDecorator) Name() string { return d.Child.Name() }

func (d *CollectionDecorator) DataSource() persistence.DataSource { return d.dataSource }

// Schema returns the refined schema. It is recomputed when the child schema
// changes identity or after MarkSchemaAsDirty.
func (d *CollectionDecorator) Schema() *schema.CollectionSchema {
	child := d.Child.Schema()

	d.mu.Lock()
	if d.cached != nil && !d.dirty && d.lastChild == child {
		cached := d.cached
		d.mu.Unlock()
		return cached
	}
	d.dirty = false
	d.mu.Unlock()

	start := time.Now()
	refined := child
	if d.schemaRefiner != nil {
		refined = d.schemaRefiner.RefineSchema(child)
	}

	d.mu.Lock()
	d.lastChild = child
	d.cached = refined
	d.mu.Unlock()

	d.logger.Debug("Refined collection schema", zap.Int("fields", len(refined.Fields)))
	d.Emit(persistence.SchemaRefined, map[string]any{"fields": len(refined.Fields)}, start)
	return refined
}

// RefinePaginated applies the FilterRefiner hook, if any. A nil filter is
// treated as an empty one.
func (d *CollectionDecorator) RefinePaginated(ctx context.Context, caller *persistence.Caller, filter *query.PaginatedFilter) (*query.PaginatedFilter, error) {
	if filter == nil {
		filter = &query.PaginatedFilter{}
	}
	if d.filterRefiner == nil {
		return filter, nil
	}
	return d.filterRefiner.RefineFilter(ctx, caller, filter)
}

// Refine applies the FilterRefiner hook to an unpaginated filter.
func (d *CollectionDecorator) Refine(ctx context.Context, caller *persistence.Caller, filter *query.Filter) (*query.Filter, error) {
	if d.filterRefiner == nil {
		if filter == nil {
			return &query.Filter{}, nil
		}
		return filter, nil
	}
	refined, err := d.RefinePaginated(ctx, caller, query.Paginated(filter))
	if err != nil {
		return nil, err
	}
	return refined.ToFilter(), nil
}

func (d *CollectionDecorator) List(ctx context.Context, caller *persistence.Caller, filter *query.PaginatedFilter, projection query.Projection) ([]schema.Record, error) {
	refined, err := d.RefinePaginated(ctx, caller, filter)
	if err != nil {
		return nil, err
	}
	return d.Child.List(ctx, caller, refined, projection)
}

func (d *CollectionDecorator) Create(ctx context.Context, caller *persistence.Caller, records []schema.Record) ([]schema.Record, error) {
	return d.Child.Create(ctx, caller, records)
}

func (d *CollectionDecorator) Update(ctx context.Context, caller *persistence.Caller, filter *query.Filter, patch schema.Record) error {
	refined, err := d.Refine(ctx, caller, filter)
	if err != nil {
		return err
	}
	return d.Child.Update(ctx, caller, refined, patch)
}

func (d *CollectionDecorator) Delete(ctx context.Context, caller *persistence.Caller, filter *query.Filter) error {
	refined, err := d.Refine(ctx, caller, filter)
	if err != nil {
		return err
	}
	return d.Child.Delete(ctx, caller, refined)
}

func (d *CollectionDecorator) Aggregate(ctx context.Context, caller *persistence.Caller, filter *query.Filter, aggregation *query.Aggregation, limit int) ([]query.AggregateResult, error) {
	refined, err := d.Refine(ctx, caller, filter)
	if err != nil {
		return nil, err
	}
	return d.Child.Aggregate(ctx, caller, refined, aggregation, limit)
}

func (d *CollectionDecorator) Execute(ctx context.Context, caller *persistence.Caller, name string, data schema.Record, filter *query.Filter) (*persistence.ActionResult, error) {
	refined, err := d.Refine(ctx, caller, filter)
	if err != nil {
		return nil, err
	}
	return d.Child.Execute(ctx, caller, name, data, refined)
}

func (d *CollectionDecorator) GetForm(ctx context.Context, caller *persistence.Caller, name string, data schema.Record, filter *query.Filter) ([]persistence.ActionField, error) {
	refined, err := d.Refine(ctx, caller, filter)
	if err != nil {
		return nil, err
	}
	return d.Child.GetForm(ctx, caller, name, data, refined)
}

func (d *CollectionDecorator) RenderChart(ctx context.Context, caller *persistence.Caller, name string, id []any) (persistence.Chart, error) {
	return d.Child.RenderChart(ctx, caller, name, id)
}
