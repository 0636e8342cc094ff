package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/core/query"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allOps = schema.NewOperatorSet(schema.AllOperators...)

func column(t schema.ColumnType) *schema.ColumnSchema {
	return &schema.ColumnSchema{ColumnType: t, FilterOperators: allOps, IsSortable: true}
}

func pk(t schema.ColumnType) *schema.ColumnSchema {
	c := column(t)
	c.IsPrimaryKey = true
	return c
}

func library(t *testing.T) (*DataSource, *Collection, *Collection) {
	t.Helper()
	ds := NewDataSource(nil)

	authors, err := ds.AddCollection("authors", &schema.CollectionSchema{Fields: map[string]schema.FieldSchema{
		"id":   pk(schema.TypeNumber),
		"name": column(schema.TypeString),
	}})
	require.NoError(t, err)

	books, err := ds.AddCollection("books", &schema.CollectionSchema{Fields: map[string]schema.FieldSchema{
		"id":       pk(schema.TypeUUID),
		"title":    column(schema.TypeString),
		"authorId": column(schema.TypeNumber),
		"author":   &schema.ManyToOneSchema{ForeignCollection: "authors", ForeignKey: "authorId", ForeignKeyTarget: "id"},
	}})
	require.NoError(t, err)

	return ds, authors, books
}

func TestCollection_CreateGeneratesKeys(t *testing.T) {
	ctx := context.Background()
	_, authors, books := library(t)

	created, err := authors.Create(ctx, nil, []schema.Record{{"name": "Asimov"}, {"id": 10, "name": "Herbert"}, {"name": "Le Guin"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created[0]["id"])
	assert.Equal(t, 10, created[1]["id"])
	assert.Equal(t, int64(11), created[2]["id"])

	createdBooks, err := books.Create(ctx, nil, []schema.Record{{"title": "Dune", "authorId": 10}})
	require.NoError(t, err)
	assert.Len(t, createdBooks[0]["id"], 36)
	assert.Nil(t, createdBooks[0]["author"])

	_, err = books.Create(ctx, nil, []schema.Record{{"unknown": 1}})
	var validation *persistence.ValidationError
	assert.True(t, errors.As(err, &validation))
}

func TestCollection_ListWithRelations(t *testing.T) {
	ctx := context.Background()
	_, authors, books := library(t)

	_, err := authors.Create(ctx, nil, []schema.Record{{"id": 1, "name": "Asimov"}, {"id": 2, "name": "Herbert"}})
	require.NoError(t, err)
	_, err = books.Create(ctx, nil, []schema.Record{
		{"title": "Foundation", "authorId": 1},
		{"title": "Dune", "authorId": 2},
		{"title": "Anonymous"},
	})
	require.NoError(t, err)

	filter := &query.PaginatedFilter{
		Filter: query.Filter{ConditionTree: query.Leaf("author:name", schema.OperatorEqual, "Herbert")},
	}
	records, err := books.List(ctx, nil, filter, query.Projection{"title", "author:name"})
	require.NoError(t, err)
	assert.Equal(t, []schema.Record{{"title": "Dune", "author": map[string]any{"name": "Herbert"}}}, records)

	sorted, err := books.List(ctx, nil, &query.PaginatedFilter{
		Sort: query.Sort{{Field: "author:name", Ascending: true}},
		Page: &query.Page{Limit: 2},
	}, query.Projection{"title", "author:name"})
	require.NoError(t, err)
	assert.Equal(t, []schema.Record{
		{"title": "Anonymous", "author": nil},
		{"title": "Foundation", "author": map[string]any{"name": "Asimov"}},
	}, sorted)
}

func TestCollection_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	_, authors, _ := library(t)

	_, err := authors.Create(ctx, nil, []schema.Record{{"name": "a"}, {"name": "b"}, {"name": "c"}})
	require.NoError(t, err)

	err = authors.Update(ctx, nil, &query.Filter{ConditionTree: query.Leaf("id", schema.OperatorIn, []any{1, 2})}, schema.Record{"name": "x"})
	require.NoError(t, err)

	records, err := authors.List(ctx, nil, &query.PaginatedFilter{Sort: query.Sort{{Field: "id", Ascending: true}}}, query.Projection{"name"})
	require.NoError(t, err)
	assert.Equal(t, []schema.Record{{"name": "x"}, {"name": "x"}, {"name": "c"}}, records)

	require.NoError(t, authors.Delete(ctx, nil, &query.Filter{ConditionTree: query.Leaf("name", schema.OperatorEqual, "x")}))
	records, err = authors.List(ctx, nil, nil, query.Projection{"name"})
	require.NoError(t, err)
	assert.Equal(t, []schema.Record{{"name": "c"}}, records)

	err = authors.Update(ctx, nil, nil, schema.Record{"name": 3})
	assert.Error(t, err)
}

func TestCollection_Aggregate(t *testing.T) {
	ctx := context.Background()
	_, authors, books := library(t)

	_, err := authors.Create(ctx, nil, []schema.Record{{"id": 1, "name": "Asimov"}, {"id": 2, "name": "Herbert"}})
	require.NoError(t, err)
	_, err = books.Create(ctx, nil, []schema.Record{
		{"title": "Foundation", "authorId": 1},
		{"title": "I, Robot", "authorId": 1},
		{"title": "Dune", "authorId": 2},
	})
	require.NoError(t, err)

	results, err := books.Aggregate(ctx, nil, nil, &query.Aggregation{
		Operation: query.AggregateCount,
		Groups:    []query.AggregationGroup{{Field: "author:name"}},
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, []query.AggregateResult{
		{Value: 2, Group: map[string]any{"author:name": "Asimov"}},
		{Value: 1, Group: map[string]any{"author:name": "Herbert"}},
	}, results)
}

func TestCollection_SegmentsAndSearch(t *testing.T) {
	ctx := context.Background()
	_, authors, _ := library(t)
	authors.AddSegment("short", query.Leaf("name", schema.OperatorShorterThan, 4))

	_, err := authors.Create(ctx, nil, []schema.Record{{"name": "Asimov"}, {"name": "Poe"}})
	require.NoError(t, err)

	records, err := authors.List(ctx, nil, &query.PaginatedFilter{Filter: query.Filter{Segment: "short"}}, query.Projection{"name"})
	require.NoError(t, err)
	assert.Equal(t, []schema.Record{{"name": "Poe"}}, records)

	records, err = authors.List(ctx, nil, &query.PaginatedFilter{Filter: query.Filter{Search: "SIM"}}, query.Projection{"name"})
	require.NoError(t, err)
	assert.Equal(t, []schema.Record{{"name": "Asimov"}}, records)

	assert.Contains(t, authors.Schema().Segments, "short")
}

func TestDataSource_OnCollectionAdded(t *testing.T) {
	ds := NewDataSource(nil)

	var added []string
	unsubscribe := ds.OnCollectionAdded(func(c persistence.Collection) { added = append(added, c.Name()) })

	_, err := ds.AddCollection("a", &schema.CollectionSchema{Fields: map[string]schema.FieldSchema{}})
	require.NoError(t, err)
	unsubscribe()
	_, err = ds.AddCollection("b", &schema.CollectionSchema{Fields: map[string]schema.FieldSchema{}})
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, added)
	assert.Len(t, ds.Collections(), 2)

	_, err = ds.GetCollection("c")
	assert.ErrorIs(t, err, persistence.ErrCollectionNotFound)

	_, err = ds.AddCollection("a", &schema.CollectionSchema{})
	assert.Error(t, err)
}

func TestCollection_Actions(t *testing.T) {
	ctx := context.Background()
	_, authors, _ := library(t)

	authors.AddAction("count", schema.ActionSchema{Scope: "Bulk"}, nil,
		func(ctx context.Context, caller *persistence.Caller, data schema.Record, records []schema.Record) (*persistence.ActionResult, error) {
			return &persistence.ActionResult{Type: persistence.ActionSuccess, Body: len(records)}, nil
		})

	_, err := authors.Create(ctx, nil, []schema.Record{{"name": "a"}, {"name": "b"}})
	require.NoError(t, err)

	result, err := authors.Execute(ctx, nil, "count", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Body)

	_, err = authors.Execute(ctx, nil, "missing", nil, nil)
	assert.ErrorIs(t, err, persistence.ErrUnsupported)
	assert.Contains(t, authors.Schema().Actions, "count")
}
