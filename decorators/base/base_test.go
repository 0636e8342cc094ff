package base_test

import (
	"context"
	"testing"

	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/core/query"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
	"github.com/asaidimu/go-anansi-decorators/decorators/base"
	"github.com/asaidimu/go-anansi-decorators/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counting hides the "secret" column from the schema and only lets through
// records whose "visible" column is true.
type counting struct {
	*base.CollectionDecorator
	refinements int
}

func (c *counting) RefineSchema(child *schema.CollectionSchema) *schema.CollectionSchema {
	c.refinements++
	s := child.Clone()
	delete(s.Fields, "secret")
	return s
}

func (c *counting) RefineFilter(ctx context.Context, caller *persistence.Caller, filter *query.PaginatedFilter) (*query.PaginatedFilter, error) {
	return filter.WithConditionTree(query.Intersect(filter.ConditionTree, query.Leaf("visible", schema.OperatorEqual, true))), nil
}

func newCounting(child persistence.Collection, ds *base.DataSourceDecorator[*counting]) *counting {
	c := &counting{}
	c.CollectionDecorator = base.NewCollectionDecorator(child, ds, c, ds.Options())
	return c
}

func setup(t *testing.T) (*memory.DataSource, *memory.Collection, *base.DataSourceDecorator[*counting]) {
	t.Helper()
	ds := memory.NewDataSource(nil)
	items, err := ds.AddCollection("items", &schema.CollectionSchema{Fields: map[string]schema.FieldSchema{
		"id":      &schema.ColumnSchema{ColumnType: schema.TypeNumber, IsPrimaryKey: true},
		"visible": &schema.ColumnSchema{ColumnType: schema.TypeBoolean, FilterOperators: schema.NewOperatorSet(schema.OperatorEqual)},
		"secret":  &schema.ColumnSchema{ColumnType: schema.TypeString},
	}})
	require.NoError(t, err)

	decorated := base.NewDataSourceDecorator[*counting](ds, newCounting, base.Options{Kind: "counting"})
	t.Cleanup(decorated.Close)
	return ds, items, decorated
}

func TestCollectionDecorator_SchemaMemoization(t *testing.T) {
	_, items, ds := setup(t)
	decorator, err := ds.Decorator("items")
	require.NoError(t, err)

	first := decorator.Schema()
	assert.NotContains(t, first.Fields, "secret")
	assert.Same(t, first, decorator.Schema())
	assert.Equal(t, 1, decorator.refinements)

	decorator.MarkSchemaAsDirty()
	assert.NotSame(t, first, decorator.Schema())
	assert.Equal(t, 2, decorator.refinements)

	// A new child schema identity invalidates the cache too.
	items.SetSchema(items.Schema().Clone())
	decorator.Schema()
	decorator.Schema()
	assert.Equal(t, 3, decorator.refinements)

	ds.MarkAllSchemasAsDirty()
	decorator.Schema()
	assert.Equal(t, 4, decorator.refinements)

	// The child schema is never mutated.
	assert.Contains(t, items.Schema().Fields, "secret")
}

func TestCollectionDecorator_FilterRefinement(t *testing.T) {
	ctx := context.Background()
	_, items, ds := setup(t)

	_, err := items.Create(ctx, nil, []schema.Record{
		{"id": 1, "visible": true},
		{"id": 2, "visible": false},
		{"id": 3, "visible": true},
	})
	require.NoError(t, err)

	decorator, err := ds.GetCollection("items")
	require.NoError(t, err)

	records, err := decorator.List(ctx, nil, nil, query.Projection{"id"})
	require.NoError(t, err)
	assert.Equal(t, []schema.Record{{"id": 1}, {"id": 3}}, records)

	require.NoError(t, decorator.Delete(ctx, nil, nil))
	remaining, err := items.List(ctx, nil, nil, query.Projection{"id"})
	require.NoError(t, err)
	assert.Equal(t, []schema.Record{{"id": 2}}, remaining)

	results, err := decorator.Aggregate(ctx, nil, nil, &query.Aggregation{Operation: query.AggregateCount}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, results[0].Value)
}

func TestDataSourceDecorator_FollowsNewCollections(t *testing.T) {
	child, _, ds := setup(t)

	var notified []string
	unsubscribe := ds.OnCollectionAdded(func(c persistence.Collection) {
		_, isDecorator := c.(*counting)
		assert.True(t, isDecorator)
		notified = append(notified, c.Name())
	})
	defer unsubscribe()

	decorated := make(chan persistence.LifecycleEvent, 4)
	ds.RegisterSubscription(persistence.RegisterSubscriptionOptions{
		Event: persistence.CollectionDecorated,
		Callback: func(ctx context.Context, event persistence.LifecycleEvent) error {
			decorated <- event
			return nil
		},
	})

	_, err := child.AddCollection("late", &schema.CollectionSchema{Fields: map[string]schema.FieldSchema{
		"id": &schema.ColumnSchema{ColumnType: schema.TypeNumber, IsPrimaryKey: true},
	}})
	require.NoError(t, err)

	assert.Equal(t, []string{"late"}, notified)
	names := make([]string, 0)
	for _, c := range ds.Collections() {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"items", "late"}, names)

	event := <-decorated
	assert.Equal(t, "late", event.Collection)
	assert.Equal(t, "counting", event.Decorator)

	_, err = ds.GetCollection("missing")
	assert.ErrorIs(t, err, persistence.ErrCollectionNotFound)
}

func TestDataSourceDecorator_Close(t *testing.T) {
	child, _, ds := setup(t)
	ds.Close()

	_, err := child.AddCollection("ignored", &schema.CollectionSchema{Fields: map[string]schema.FieldSchema{}})
	require.NoError(t, err)
	assert.Len(t, ds.Collections(), 1)
}
