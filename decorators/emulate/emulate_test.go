package emulate_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/core/query"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
	"github.com/asaidimu/go-anansi-decorators/decorators/base"
	"github.com/asaidimu/go-anansi-decorators/decorators/emulate"
	"github.com/asaidimu/go-anansi-decorators/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var idOps = schema.NewOperatorSet(schema.OperatorEqual, schema.OperatorIn)

// recording keeps the condition trees that reach the storage.
type recording struct {
	*base.CollectionDecorator
	trees []query.ConditionTree
}

func (r *recording) RefineFilter(ctx context.Context, caller *persistence.Caller, filter *query.PaginatedFilter) (*query.PaginatedFilter, error) {
	if filter.ConditionTree != nil {
		r.trees = append(r.trees, filter.ConditionTree)
	}
	return filter, nil
}

func newRecording(child persistence.Collection, ds *base.DataSourceDecorator[*recording]) *recording {
	r := &recording{}
	r.CollectionDecorator = base.NewCollectionDecorator(child, ds, r, ds.Options())
	return r
}

// forwarded returns the last condition tree that reached collection.
func forwarded(t *testing.T, storage *base.DataSourceDecorator[*recording], collection string) query.ConditionTree {
	t.Helper()
	r, err := storage.Decorator(collection)
	require.NoError(t, err)
	require.NotEmpty(t, r.trees)
	return r.trees[len(r.trees)-1]
}

func setup(t *testing.T, pkOps schema.OperatorSet) (*base.DataSourceDecorator[*recording], *emulate.DataSource) {
	t.Helper()
	child := memory.NewDataSource(nil)

	_, err := child.AddCollection("authors", &schema.CollectionSchema{Fields: map[string]schema.FieldSchema{
		"id":   &schema.ColumnSchema{ColumnType: schema.TypeNumber, IsPrimaryKey: true, FilterOperators: idOps},
		"name": &schema.ColumnSchema{ColumnType: schema.TypeString, FilterOperators: schema.NewOperatorSet(schema.OperatorEqual)},
	}})
	require.NoError(t, err)

	books, err := child.AddCollection("books", &schema.CollectionSchema{Fields: map[string]schema.FieldSchema{
		"id":       &schema.ColumnSchema{ColumnType: schema.TypeNumber, IsPrimaryKey: true, FilterOperators: pkOps},
		"title":    &schema.ColumnSchema{ColumnType: schema.TypeString, FilterOperators: schema.NewOperatorSet(schema.OperatorEqual, schema.OperatorLike)},
		"authorId": &schema.ColumnSchema{ColumnType: schema.TypeNumber, FilterOperators: idOps},
		"author":   &schema.ManyToOneSchema{ForeignCollection: "authors", ForeignKey: "authorId", ForeignKeyTarget: "id"},
	}})
	require.NoError(t, err)

	ctx := context.Background()
	authors, err := child.GetCollection("authors")
	require.NoError(t, err)
	_, err = authors.Create(ctx, nil, []schema.Record{{"id": 1, "name": "Herbert"}, {"id": 2, "name": "Asimov"}})
	require.NoError(t, err)
	_, err = books.Create(ctx, nil, []schema.Record{
		{"id": 1, "title": "Dune", "authorId": 1},
		{"id": 2, "title": "Dune Messiah", "authorId": 1},
		{"id": 3, "title": "Foundation", "authorId": 2},
	})
	require.NoError(t, err)

	storage := base.NewDataSourceDecorator[*recording](child, newRecording, base.Options{Kind: "recording"})
	t.Cleanup(storage.Close)
	ds := emulate.NewDataSource(storage, base.Options{})
	t.Cleanup(ds.Close)
	return storage, ds
}

func titles(t *testing.T, c persistence.Collection, tree query.ConditionTree) []any {
	t.Helper()
	records, err := c.List(context.Background(), nil, &query.PaginatedFilter{
		Filter: query.Filter{ConditionTree: tree},
		Sort:   query.Sort{{Field: "id", Ascending: true}},
	}, query.Projection{"title"})
	require.NoError(t, err)
	out := make([]any, len(records))
	for i, record := range records {
		out[i] = record["title"]
	}
	return out
}

func TestReplaceFieldOperator_Configuration(t *testing.T) {
	_, ds := setup(t, idOps)

	err := ds.EmulateFieldOperator("books", "author", schema.OperatorPresent)
	var configuration *persistence.ConfigurationError
	require.ErrorAs(t, err, &configuration)

	require.ErrorAs(t, ds.EmulateFieldOperator("books", "isbn", schema.OperatorPresent), &configuration)
	require.ErrorAs(t, ds.EmulateFieldOperator("nope", "title", schema.OperatorPresent), &configuration)

	_, withoutIn := setup(t, schema.NewOperatorSet(schema.OperatorEqual))
	err = withoutIn.EmulateFieldOperator("books", "title", schema.OperatorStartsWith)
	require.ErrorAs(t, err, &configuration)
	assert.Contains(t, err.Error(), "must support 'Equal' and 'In'")
}

func TestEmulateFieldOperator(t *testing.T) {
	storage, ds := setup(t, idOps)
	books, err := ds.Decorator("books")
	require.NoError(t, err)

	before := books.Schema()
	require.NoError(t, books.EmulateFieldOperator("title", schema.OperatorStartsWith))
	require.NoError(t, books.EmulateFieldOperator("title", schema.OperatorEqual))

	ops := books.Schema().Fields["title"].(*schema.ColumnSchema).FilterOperators
	assert.NotSame(t, before, books.Schema())
	assert.True(t, ops.Has(schema.OperatorStartsWith))
	assert.True(t, ops.Has(schema.OperatorLike))
	assert.False(t, before.Fields["title"].(*schema.ColumnSchema).FilterOperators.Has(schema.OperatorStartsWith))

	tests := []struct {
		prefix    string
		want      []any
		forwarded query.ConditionTree
	}{
		{prefix: "Dune", want: []any{"Dune", "Dune Messiah"}, forwarded: query.Leaf("id", schema.OperatorIn, []any{1, 2})},
		{prefix: "Found", want: []any{"Foundation"}, forwarded: query.Leaf("id", schema.OperatorEqual, 3)},
		{prefix: "Zzz", want: []any{}, forwarded: query.Leaf("id", schema.OperatorIn, []any{})},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			assert.Equal(t, tt.want, titles(t, books, query.Leaf("title", schema.OperatorStartsWith, tt.prefix)))
			assert.Equal(t, tt.forwarded, forwarded(t, storage, "books"))
		})
	}

	// Emulating an operator the child already supports gives the same result.
	assert.Equal(t, []any{"Foundation"}, titles(t, books, query.Leaf("title", schema.OperatorEqual, "Foundation")))
}

func TestEmulate_ThroughRelation(t *testing.T) {
	_, ds := setup(t, idOps)
	require.NoError(t, ds.EmulateFieldOperator("authors", "name", schema.OperatorIContains))

	books, err := ds.GetCollection("books")
	require.NoError(t, err)
	assert.Equal(t, []any{"Foundation"}, titles(t, books, query.Leaf("author:name", schema.OperatorIContains, "SIM")))
}

func TestReplaceFieldOperator_Handler(t *testing.T) {
	storage, ds := setup(t, idOps)
	books, err := ds.Decorator("books")
	require.NoError(t, err)

	require.NoError(t, books.ReplaceFieldOperator("title", schema.OperatorStartsWith,
		func(ctx context.Context, value any, c *emulate.Context) (query.ConditionTree, error) {
			assert.Equal(t, "books", c.Collection.Name())
			return query.Leaf("title", schema.OperatorLike, fmt.Sprintf("%v%%", value)), nil
		}))
	require.NoError(t, books.ReplaceFieldOperator("title", schema.OperatorEndsWith, emulate.PlainHandler(
		func(ctx context.Context, value any, c *emulate.Context) (map[string]any, error) {
			return map[string]any{"field": "title", "operator": "Like", "value": fmt.Sprintf("%%%v", value)}, nil
		})))

	assert.Equal(t, []any{"Dune", "Dune Messiah"}, titles(t, books, query.Leaf("title", schema.OperatorStartsWith, "Dune")))
	assert.Equal(t, query.Leaf("title", schema.OperatorLike, "Dune%"), forwarded(t, storage, "books"))
	assert.Equal(t, []any{"Dune Messiah"}, titles(t, books, query.Leaf("title", schema.OperatorEndsWith, "Messiah")))
	assert.Equal(t, query.Leaf("title", schema.OperatorLike, "%Messiah"), forwarded(t, storage, "books"))

	// A handler falling back to emulation.
	require.NoError(t, books.ReplaceFieldOperator("title", schema.OperatorContains,
		func(ctx context.Context, value any, c *emulate.Context) (query.ConditionTree, error) { return nil, nil }))
	assert.Equal(t, []any{"Dune Messiah"}, titles(t, books, query.Leaf("title", schema.OperatorContains, "Mess")))
	assert.Equal(t, query.Leaf("id", schema.OperatorEqual, 2), forwarded(t, storage, "books"))

	// Handler results are validated.
	require.NoError(t, books.ReplaceFieldOperator("title", schema.OperatorLongerThan,
		func(ctx context.Context, value any, c *emulate.Context) (query.ConditionTree, error) {
			return query.Leaf("title", schema.OperatorMatch, "^.{5,}$"), nil
		}))
	_, err = books.List(context.Background(), nil, &query.PaginatedFilter{
		Filter: query.Filter{ConditionTree: query.Leaf("title", schema.OperatorLongerThan, 4)},
	}, query.Projection{"title"})
	var validation *persistence.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestReplaceFieldOperator_Cycle(t *testing.T) {
	_, ds := setup(t, idOps)
	books, err := ds.Decorator("books")
	require.NoError(t, err)

	require.NoError(t, books.ReplaceFieldOperator("title", schema.OperatorStartsWith,
		func(ctx context.Context, value any, c *emulate.Context) (query.ConditionTree, error) {
			return query.Leaf("title", schema.OperatorLike, value), nil
		}))
	require.NoError(t, books.ReplaceFieldOperator("title", schema.OperatorLike,
		func(ctx context.Context, value any, c *emulate.Context) (query.ConditionTree, error) {
			return query.Leaf("title", schema.OperatorStartsWith, value), nil
		}))

	_, err = books.List(context.Background(), nil, &query.PaginatedFilter{
		Filter: query.Filter{ConditionTree: query.Leaf("title", schema.OperatorStartsWith, "Dune")},
	}, query.Projection{"title"})

	var cycle *persistence.CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, "Operator replacement cycle: books.title[StartsWith] -> books.title[Like] -> books.title[StartsWith]", err.Error())
}

func TestEmulate_EmitsEvent(t *testing.T) {
	_, ds := setup(t, idOps)
	require.NoError(t, ds.EmulateFieldOperator("books", "title", schema.OperatorStartsWith))

	events := make(chan persistence.LifecycleEvent, 1)
	ds.RegisterSubscription(persistence.RegisterSubscriptionOptions{
		Event: persistence.OperatorEmulated,
		Callback: func(ctx context.Context, event persistence.LifecycleEvent) error {
			events <- event
			return nil
		},
	})

	books, err := ds.GetCollection("books")
	require.NoError(t, err)
	titles(t, books, query.Leaf("title", schema.OperatorStartsWith, "Dune"))

	event := <-events
	assert.Equal(t, "books", event.Collection)
	assert.Equal(t, 3, event.Context["scanned"])
	assert.Equal(t, 2, event.Context["matched"])
}
