package decorators_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/core/query"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
	"github.com/asaidimu/go-anansi-decorators/decorators"
	"github.com/asaidimu/go-anansi-decorators/decorators/binary"
	"github.com/asaidimu/go-anansi-decorators/decorators/write"
	"github.com/asaidimu/go-anansi-decorators/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keyOps = schema.NewOperatorSet(schema.OperatorEqual, schema.OperatorIn)

func setup(t *testing.T) (*memory.DataSource, *decorators.Stack) {
	t.Helper()
	child := memory.NewDataSource(nil)

	_, err := child.AddCollection("authors", &schema.CollectionSchema{Fields: map[string]schema.FieldSchema{
		"id":        &schema.ColumnSchema{ColumnType: schema.TypeNumber, IsPrimaryKey: true, FilterOperators: keyOps},
		"firstName": &schema.ColumnSchema{ColumnType: schema.TypeString, FilterOperators: keyOps},
		"lastName":  &schema.ColumnSchema{ColumnType: schema.TypeString, FilterOperators: keyOps},
		"fullName":  &schema.ColumnSchema{ColumnType: schema.TypeString, IsReadOnly: true},
	}})
	require.NoError(t, err)

	_, err = child.AddCollection("books", &schema.CollectionSchema{Fields: map[string]schema.FieldSchema{
		"id":       &schema.ColumnSchema{ColumnType: schema.TypeNumber, IsPrimaryKey: true, FilterOperators: keyOps},
		"title":    &schema.ColumnSchema{ColumnType: schema.TypeString, FilterOperators: schema.NewOperatorSet(schema.OperatorEqual)},
		"cover":    &schema.ColumnSchema{ColumnType: schema.TypeBinary},
		"internal": &schema.ColumnSchema{ColumnType: schema.TypeString},
		"authorId": &schema.ColumnSchema{ColumnType: schema.TypeNumber, FilterOperators: keyOps},
		"author":   &schema.ManyToOneSchema{ForeignCollection: "authors", ForeignKey: "authorId", ForeignKeyTarget: "id"},
	}})
	require.NoError(t, err)

	stack := decorators.NewStack(child, nil)
	t.Cleanup(stack.Close)
	return child, stack
}

func customize(t *testing.T, stack *decorators.Stack) {
	t.Helper()
	books := stack.Collection("books")
	require.NoError(t, books.EmulateFieldOperator("title", schema.OperatorStartsWith))
	require.NoError(t, books.SetBinaryMode("cover", binary.ModeHex))
	require.NoError(t, books.ChangeFieldVisibility("internal", false))
	require.NoError(t, books.RenameField("title", "name"))

	authors := stack.Collection("authors")
	require.NoError(t, authors.ReplaceFieldWriting("fullName", func(ctx context.Context, value any, c *write.Context) (schema.Record, error) {
		first, last, _ := strings.Cut(value.(string), " ")
		return schema.Record{"firstName": first, "lastName": last}, nil
	}))
	require.NoError(t, authors.RenameField("fullName", "displayName"))
}

func TestStack_Schema(t *testing.T) {
	_, stack := setup(t)
	customize(t, stack)

	books, err := stack.DataSource().GetCollection("books")
	require.NoError(t, err)
	s := books.Schema()

	assert.NotContains(t, s.Fields, "title")
	assert.NotContains(t, s.Fields, "internal")
	require.NotNil(t, s.Column("name"))
	assert.True(t, s.Column("name").FilterOperators.Has(schema.OperatorStartsWith))
	assert.Equal(t, schema.TypeString, s.Column("cover").ColumnType)
	assert.True(t, s.Column("id").FilterOperators.Has(schema.OperatorBlank))

	authors, err := stack.DataSource().GetCollection("authors")
	require.NoError(t, err)
	assert.False(t, authors.Schema().Column("displayName").IsReadOnly)
}

func TestStack_DataFlow(t *testing.T) {
	ctx := context.Background()
	child, stack := setup(t)
	customize(t, stack)

	books, err := stack.DataSource().GetCollection("books")
	require.NoError(t, err)

	_, err = books.Create(ctx, nil, []schema.Record{
		{"name": "Dune", "cover": "cafe", "author": map[string]any{"displayName": "Frank Herbert"}},
		{"name": "Foundation", "author": map[string]any{"displayName": "Isaac Asimov"}},
	})
	require.NoError(t, err)

	raw, err := child.GetCollection("books")
	require.NoError(t, err)
	stored, err := raw.List(ctx, nil, &query.PaginatedFilter{Sort: query.Sort{{Field: "id", Ascending: true}}}, query.Projection{"title", "cover", "author:lastName"})
	require.NoError(t, err)
	assert.Equal(t, []schema.Record{
		{"title": "Dune", "cover": []byte{0xca, 0xfe}, "author": map[string]any{"lastName": "Herbert"}},
		{"title": "Foundation", "cover": nil, "author": map[string]any{"lastName": "Asimov"}},
	}, stored)

	listed, err := books.List(ctx, nil, &query.PaginatedFilter{
		Filter: query.Filter{ConditionTree: query.Leaf("name", schema.OperatorStartsWith, "Du")},
	}, query.Projection{"name", "cover", "author:firstName"})
	require.NoError(t, err)
	assert.Equal(t, []schema.Record{{"name": "Dune", "cover": "cafe", "author": map[string]any{"firstName": "Frank"}}}, listed)

	all, err := books.List(ctx, nil, nil, nil)
	require.NoError(t, err)
	for _, record := range all {
		assert.NotContains(t, record, "internal")
	}
}

func TestStack_Errors(t *testing.T) {
	_, stack := setup(t)
	books := stack.Collection("books")

	var configuration *persistence.ConfigurationError
	assert.ErrorAs(t, books.ChangeFieldVisibility("id", false), &configuration)
	assert.ErrorAs(t, books.SetBinaryMode("title", binary.ModeHex), &configuration)
	assert.ErrorAs(t, books.RenameField("unknown", "x"), &configuration)
	assert.ErrorAs(t, stack.Collection("movies").EmulateFieldFiltering("title"), &configuration)
	assert.ErrorAs(t, books.EmulateFieldFiltering("author"), &configuration)
	assert.Equal(t, "movies", stack.Collection("movies").Name())

	require.NoError(t, books.EmulateFieldFiltering("title"))
	decorated, err := stack.DataSource().GetCollection("books")
	require.NoError(t, err)
	assert.True(t, decorated.Schema().Column("title").FilterOperators.Has(schema.OperatorIEndsWith))
}

func TestStack_LifecycleEvents(t *testing.T) {
	child, stack := setup(t)

	var mu sync.Mutex
	kinds := map[string]bool{}
	stack.Events().RegisterSubscription(persistence.RegisterSubscriptionOptions{
		Event: persistence.CollectionDecorated,
		Callback: func(ctx context.Context, event persistence.LifecycleEvent) error {
			if event.Collection == "reviews" {
				mu.Lock()
				kinds[event.Decorator] = true
				mu.Unlock()
			}
			return nil
		},
	})

	_, err := child.AddCollection("reviews", &schema.CollectionSchema{Fields: map[string]schema.FieldSchema{
		"id": &schema.ColumnSchema{ColumnType: schema.TypeNumber, IsPrimaryKey: true},
	}})
	require.NoError(t, err)

	_, err = stack.DataSource().GetCollection("reviews")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) == 8
	}, time.Second, 10*time.Millisecond)
}
