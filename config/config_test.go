package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
	"github.com/asaidimu/go-anansi-decorators/decorators"
	"github.com/asaidimu/go-anansi-decorators/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

const document = `
collections:
  books:
    rename: {title: name}
    hide: [internal_code]
    binary: {cover: hex}
    emulate:
      - {field: title, operator: StartsWith}
`

func stack(t *testing.T) *decorators.Stack {
	t.Helper()
	child := memory.NewDataSource(nil)
	ids := schema.NewOperatorSet(schema.OperatorEqual, schema.OperatorIn)
	_, err := child.AddCollection("books", &schema.CollectionSchema{Fields: map[string]schema.FieldSchema{
		"id":            &schema.ColumnSchema{ColumnType: schema.TypeNumber, IsPrimaryKey: true, FilterOperators: ids},
		"title":         &schema.ColumnSchema{ColumnType: schema.TypeString},
		"cover":         &schema.ColumnSchema{ColumnType: schema.TypeBinary},
		"internal_code": &schema.ColumnSchema{ColumnType: schema.TypeString},
	}})
	require.NoError(t, err)

	s := decorators.NewStack(child, nil)
	t.Cleanup(s.Close)
	return s
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(document))
	require.NoError(t, err)
	assert.Equal(t, &Config{Collections: map[string]Collection{
		"books": {
			Rename:  map[string]string{"title": "name"},
			Hide:    []string{"internal_code"},
			Binary:  map[string]string{"cover": "hex"},
			Emulate: []Operator{{Field: "title", Operator: "StartsWith"}},
		},
	}}, cfg)

	empty, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Collections)

	tests := []struct {
		name     string
		document string
		errors   int
	}{
		{name: "unknown key", document: "collections: {books: {renames: {a: b}}}", errors: 1},
		{name: "invalid yaml", document: "collections: [", errors: 1},
		{name: "unknown operator and mode", document: "collections: {books: {emulate: [{field: title, operator: Sounds}], binary: {cover: base32}}}", errors: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.document))
			require.Error(t, err)
			assert.Len(t, multierr.Errors(err), tt.errors)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decorators.yaml")
	require.NoError(t, os.WriteFile(path, []byte(document), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Contains(t, cfg.Collections, "books")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestApply(t *testing.T) {
	s := stack(t)
	cfg, err := Parse([]byte(document))
	require.NoError(t, err)
	require.NoError(t, cfg.Apply(s, nil))

	books, err := s.DataSource().GetCollection("books")
	require.NoError(t, err)
	fields := books.Schema().Fields
	assert.Contains(t, fields, "name")
	assert.NotContains(t, fields, "title")
	assert.NotContains(t, fields, "internal_code")
	assert.True(t, books.Schema().Column("name").FilterOperators.Has(schema.OperatorStartsWith))
	assert.Equal(t, schema.TypeString, books.Schema().Column("cover").ColumnType)
}

func TestApply_AggregatesErrors(t *testing.T) {
	s := stack(t)
	cfg := &Config{Collections: map[string]Collection{
		"books": {Hide: []string{"id", "unknown"}, Rename: map[string]string{"title": "name"}},
		"films": {Rename: map[string]string{"title": "name"}},
	}}

	err := cfg.Apply(s, nil)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 3)
	var configuration *persistence.ConfigurationError
	assert.ErrorAs(t, err, &configuration)

	books, err := s.DataSource().GetCollection("books")
	require.NoError(t, err)
	assert.Contains(t, books.Schema().Fields, "name")
}
