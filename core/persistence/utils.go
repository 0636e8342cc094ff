package persistence

import (
	"fmt"
	"strings"

	"github.com/asaidimu/go-anansi-decorators/core/query"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
)

// GetFieldSchema resolves a field path against a collection, following
// ManyToOne and OneToOne relations through the collection's datasource.
func GetFieldSchema(c Collection, path string) (schema.FieldSchema, error) {
	prefix, rest, nested := strings.Cut(path, query.Separator)

	field, ok := c.Schema().Fields[prefix]
	if !ok {
		return nil, NewValidationError("Column not found: '%s.%s'", c.Name(), prefix)
	}
	if !nested {
		return field, nil
	}

	if !schema.IsSingleRelation(field) {
		return nil, NewValidationError("Unexpected field type: '%s.%s' (found '%s' expected 'ManyToOne' or 'OneToOne')",
			c.Name(), prefix, field.Kind())
	}

	related, err := GetRelatedCollection(c, prefix)
	if err != nil {
		return nil, err
	}
	return GetFieldSchema(related, rest)
}

// GetColumnSchema is GetFieldSchema for paths that must end on a column.
func GetColumnSchema(c Collection, path string) (*schema.ColumnSchema, error) {
	field, err := GetFieldSchema(c, path)
	if err != nil {
		return nil, err
	}
	column, ok := field.(*schema.ColumnSchema)
	if !ok {
		return nil, NewValidationError("Unexpected field type: '%s.%s' (found '%s' expected 'Column')", c.Name(), path, field.Kind())
	}
	return column, nil
}

// GetRelatedCollection returns the collection targeted by a relation field.
func GetRelatedCollection(c Collection, relation string) (Collection, error) {
	field, ok := c.Schema().Fields[relation]
	if !ok {
		return nil, NewValidationError("Relation not found: '%s.%s'", c.Name(), relation)
	}
	foreign, isRelation := schema.ForeignCollection(field)
	if !isRelation {
		return nil, NewValidationError("Field '%s.%s' is not a relation", c.Name(), relation)
	}
	return c.DataSource().GetCollection(foreign)
}

// PrimaryKeyProjection lists the primary keys of a collection.
func PrimaryKeyProjection(c Collection) query.Projection {
	return query.Projection(c.Schema().PrimaryKeys())
}

// ProjectionWithPks adds to p the primary keys of the collection and of every
// related collection that p reaches.
func ProjectionWithPks(c Collection, p query.Projection) (query.Projection, error) {
	out := p.Union(PrimaryKeyProjection(c))

	names, relations := p.Relations()
	for _, name := range names {
		related, err := GetRelatedCollection(c, name)
		if err != nil {
			return nil, err
		}
		sub, err := ProjectionWithPks(related, relations[name])
		if err != nil {
			return nil, err
		}
		out = out.Union(sub.Nest(name))
	}
	return out, nil
}

// RecordID extracts the primary key values of a record, in the order of
// PrimaryKeys.
func RecordID(s *schema.CollectionSchema, record schema.Record) []any {
	pks := s.PrimaryKeys()
	id := make([]any, len(pks))
	for i, pk := range pks {
		id[i] = record[pk]
	}
	return id
}

// RecordIDs is RecordID over a list of records.
func RecordIDs(s *schema.CollectionSchema, records []schema.Record) [][]any {
	ids := make([][]any, len(records))
	for i, record := range records {
		ids[i] = RecordID(s, record)
	}
	return ids
}

// IDKey turns an id into a comparable map key.
func IDKey(id []any) string {
	parts := make([]string, len(id))
	for i, v := range id {
		parts[i] = fmt.Sprintf("%T:%v", v, v)
	}
	return strings.Join(parts, "|")
}
