// Package binary exposes Binary columns as strings. Primary and foreign keys
// default to hexadecimal, other columns to data URIs; buffers are restored
// before writes and before Equal/In filters reach the child.
package binary

import (
	"context"
	"strings"
	"sync"

	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/core/query"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
	"github.com/asaidimu/go-anansi-decorators/decorators/base"
	"go.uber.org/zap"
)

const Kind = "binary"

type Collection struct {
	*base.CollectionDecorator
	owner *base.DataSourceDecorator[*Collection]

	mu    sync.RWMutex
	modes map[string]Mode
}

func newCollection(child persistence.Collection, owner *base.DataSourceDecorator[*Collection]) *Collection {
	c := &Collection{owner: owner, modes: make(map[string]Mode)}
	c.CollectionDecorator = base.NewCollectionDecorator(child, owner, c, owner.Options())
	return c
}

// SetBinaryMode overrides the representation of a binary column.
func (c *Collection) SetBinaryMode(field string, mode Mode) error {
	if !mode.Valid() {
		return persistence.NewConfigurationError(c.Name(), field, "Invalid binary mode '%s': expected '%s' or '%s'", mode, ModeHex, ModeDataURI)
	}
	column := c.Child.Schema().Column(field)
	if column == nil {
		return persistence.NewConfigurationError(c.Name(), field, "No such column '%s'", field)
	}
	if !containsBinary(column.ColumnType) {
		return persistence.NewConfigurationError(c.Name(), field, "Column '%s' does not hold binary values", field)
	}

	c.mu.Lock()
	c.modes[field] = mode
	c.mu.Unlock()

	c.Logger().Info("Set binary mode", zap.String("field", field), zap.String("mode", string(mode)))
	c.MarkSchemaAsDirty()
	return nil
}

// Mode returns the representation used for a column.
func (c *Collection) Mode(field string) Mode {
	c.mu.RLock()
	mode, ok := c.modes[field]
	c.mu.RUnlock()
	if ok {
		return mode
	}

	s := c.Child.Schema()
	if column := s.Column(field); column != nil && column.IsPrimaryKey || s.IsForeignKey(field) {
		return ModeHex
	}
	return ModeDataURI
}

func (c *Collection) RefineSchema(child *schema.CollectionSchema) *schema.CollectionSchema {
	s := child.Clone()
	for name, field := range child.Fields {
		column, ok := field.(*schema.ColumnSchema)
		if !ok || !containsBinary(column.ColumnType) {
			continue
		}

		mode := c.Mode(name)
		refined := column.Clone()
		refined.ColumnType = replaceBinary(column.ColumnType)
		refined.DefaultValue = ToFrontend(column.DefaultValue, column.ColumnType, mode)
		if column.ColumnType == schema.TypeBinary {
			refined.Validation = refineValidation(column.Validation, mode)
		}
		s.Fields[name] = refined
	}
	return s
}

// refineValidation adapts the rules of a binary column to its string form.
func refineValidation(rules []schema.ValidationRule, mode Mode) []schema.ValidationRule {
	out := make([]schema.ValidationRule, 0, len(rules)+1)
	for _, rule := range rules {
		switch rule.Operator {
		case schema.OperatorLongerThan, schema.OperatorShorterThan:
			if mode != ModeHex {
				continue
			}
			if n, ok := query.ToFloat64Strict(rule.Value); ok {
				rule.Value = n * 2
			}
		}
		out = append(out, rule)
	}

	pattern := "^data:.*;base64,.*"
	if mode == ModeHex {
		pattern = "^[0-9a-f]*$"
	}
	return append(out, schema.ValidationRule{Operator: schema.OperatorMatch, Value: pattern})
}

func (c *Collection) RefineFilter(ctx context.Context, caller *persistence.Caller, filter *query.PaginatedFilter) (*query.PaginatedFilter, error) {
	if filter.ConditionTree == nil {
		return filter, nil
	}
	tree, err := filter.ConditionTree.ReplaceLeafs(func(leaf *query.ConditionTreeLeaf) (query.ConditionTree, error) {
		if leaf.Operator != schema.OperatorEqual && leaf.Operator != schema.OperatorIn {
			return leaf, nil
		}
		owner, field := c.resolve(leaf.Field)
		if owner == nil {
			return leaf, nil
		}
		column := owner.Child.Schema().Column(field)
		if column == nil || !containsBinary(column.ColumnType) {
			return leaf, nil
		}

		columnType := column.ColumnType
		if leaf.Operator == schema.OperatorIn {
			columnType = schema.ArrayType{Element: columnType}
		}
		value, err := ToBackend(leaf.Value, columnType, owner.Mode(field))
		if err != nil {
			return nil, err
		}
		return leaf.Override(leaf.Operator, value), nil
	})
	if err != nil {
		return nil, err
	}
	return filter.WithConditionTree(tree), nil
}

// resolve follows the relations of path and returns the decorator owning its
// last component.
func (c *Collection) resolve(path string) (*Collection, string) {
	prefix, rest, nested := strings.Cut(path, query.Separator)
	if !nested {
		return c, prefix
	}
	related := c.related(prefix)
	if related == nil {
		return nil, ""
	}
	return related.resolve(rest)
}

func (c *Collection) related(relation string) *Collection {
	field, ok := c.Child.Schema().Fields[relation]
	if !ok {
		return nil
	}
	foreign, isRelation := schema.ForeignCollection(field)
	if !isRelation {
		return nil
	}
	related, err := c.owner.Decorator(foreign)
	if err != nil {
		return nil
	}
	return related
}

func (c *Collection) recordToFrontend(record schema.Record) schema.Record {
	if record == nil {
		return nil
	}
	s := c.Child.Schema()
	out := make(schema.Record, len(record))
	for key, value := range record {
		switch f := s.Fields[key].(type) {
		case *schema.ColumnSchema:
			value = ToFrontend(value, f.ColumnType, c.Mode(key))
		case *schema.ManyToOneSchema, *schema.OneToOneSchema:
			if sub, ok := value.(map[string]any); ok && sub != nil {
				if related := c.related(key); related != nil {
					value = related.recordToFrontend(sub)
				}
			}
		}
		out[key] = value
	}
	return out
}

func (c *Collection) recordToBackend(record schema.Record) (schema.Record, error) {
	if record == nil {
		return nil, nil
	}
	s := c.Child.Schema()
	out := make(schema.Record, len(record))
	for key, value := range record {
		switch f := s.Fields[key].(type) {
		case *schema.ColumnSchema:
			converted, err := ToBackend(value, f.ColumnType, c.Mode(key))
			if err != nil {
				return nil, err
			}
			value = converted
		case *schema.ManyToOneSchema, *schema.OneToOneSchema:
			if sub, ok := value.(map[string]any); ok && sub != nil {
				if related := c.related(key); related != nil {
					converted, err := related.recordToBackend(sub)
					if err != nil {
						return nil, err
					}
					value = converted
				}
			}
		}
		out[key] = value
	}
	return out, nil
}

func (c *Collection) recordsToFrontend(records []schema.Record) []schema.Record {
	out := make([]schema.Record, len(records))
	for i, record := range records {
		out[i] = c.recordToFrontend(record)
	}
	return out
}

func (c *Collection) List(ctx context.Context, caller *persistence.Caller, filter *query.PaginatedFilter, projection query.Projection) ([]schema.Record, error) {
	records, err := c.CollectionDecorator.List(ctx, caller, filter, projection)
	if err != nil {
		return nil, err
	}
	return c.recordsToFrontend(records), nil
}

func (c *Collection) Create(ctx context.Context, caller *persistence.Caller, records []schema.Record) ([]schema.Record, error) {
	converted := make([]schema.Record, len(records))
	for i, record := range records {
		backend, err := c.recordToBackend(record)
		if err != nil {
			return nil, err
		}
		converted[i] = backend
	}
	created, err := c.Child.Create(ctx, caller, converted)
	if err != nil {
		return nil, err
	}
	return c.recordsToFrontend(created), nil
}

func (c *Collection) Update(ctx context.Context, caller *persistence.Caller, filter *query.Filter, patch schema.Record) error {
	converted, err := c.recordToBackend(patch)
	if err != nil {
		return err
	}
	return c.CollectionDecorator.Update(ctx, caller, filter, converted)
}

func (c *Collection) Aggregate(ctx context.Context, caller *persistence.Caller, filter *query.Filter, aggregation *query.Aggregation, limit int) ([]query.AggregateResult, error) {
	results, err := c.CollectionDecorator.Aggregate(ctx, caller, filter, aggregation, limit)
	if err != nil {
		return nil, err
	}

	out := make([]query.AggregateResult, len(results))
	for i, result := range results {
		group := make(map[string]any, len(result.Group))
		for path, value := range result.Group {
			if owner, field := c.resolve(path); owner != nil {
				if column := owner.Child.Schema().Column(field); column != nil {
					value = ToFrontend(value, column.ColumnType, owner.Mode(field))
				}
			}
			group[path] = value
		}
		value := result.Value
		if owner, field := c.resolve(aggregation.Field); aggregation.Field != "" && owner != nil {
			if column := owner.Child.Schema().Column(field); column != nil {
				value = ToFrontend(value, column.ColumnType, owner.Mode(field))
			}
		}
		out[i] = query.AggregateResult{Value: value, Group: group}
	}
	return out, nil
}

// DataSource wraps every collection of a child datasource in a binary
// Collection.
type DataSource struct {
	*base.DataSourceDecorator[*Collection]
}

func NewDataSource(child persistence.DataSource, opts base.Options) *DataSource {
	opts.Kind = Kind
	return &DataSource{DataSourceDecorator: base.NewDataSourceDecorator[*Collection](child, newCollection, opts)}
}

// SetBinaryMode overrides the representation of a binary column.
func (ds *DataSource) SetBinaryMode(collection, field string, mode Mode) error {
	c, err := ds.Decorator(collection)
	if err != nil {
		return persistence.NewConfigurationError(collection, field, "%v", err)
	}
	return c.SetBinaryMode(field, mode)
}
