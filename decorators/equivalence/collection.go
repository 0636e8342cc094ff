// Package equivalence advertises every operator a column can support through
// the built-in equivalences of core/query, and rewrites filters into the
// operators the child collection supports natively.
package equivalence

import (
	"context"

	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/core/query"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
	"github.com/asaidimu/go-anansi-decorators/decorators/base"
)

const Kind = "equivalence"

type Collection struct {
	*base.CollectionDecorator
}

func newCollection(child persistence.Collection, owner *base.DataSourceDecorator[*Collection]) *Collection {
	c := &Collection{}
	c.CollectionDecorator = base.NewCollectionDecorator(child, owner, c, owner.Options())
	return c
}

func (c *Collection) RefineSchema(child *schema.CollectionSchema) *schema.CollectionSchema {
	s := child.Clone()
	for name, field := range child.Fields {
		column, ok := field.(*schema.ColumnSchema)
		if !ok || len(column.FilterOperators) == 0 {
			continue
		}
		refined := column.Clone()
		refined.FilterOperators = query.GetEquivalentOperators(column.FilterOperators, column.ColumnType)
		s.Fields[name] = refined
	}
	return s
}

func (c *Collection) RefineFilter(ctx context.Context, caller *persistence.Caller, filter *query.PaginatedFilter) (*query.PaginatedFilter, error) {
	if filter.ConditionTree == nil {
		return filter, nil
	}

	tz := caller.Location()
	tree, err := filter.ConditionTree.ReplaceLeafs(func(leaf *query.ConditionTreeLeaf) (query.ConditionTree, error) {
		column, err := persistence.GetColumnSchema(c.Child, leaf.Field)
		if err != nil {
			return nil, err
		}
		equivalent := query.GetEquivalentTree(leaf, column.FilterOperators, column.ColumnType, tz)
		if equivalent == nil {
			return nil, persistence.NewValidationError("The given operator '%s' is not supported by the column: '%s'", leaf.Operator, leaf.Field)
		}
		return equivalent, nil
	})
	if err != nil {
		return nil, err
	}
	return filter.WithConditionTree(tree), nil
}

// DataSource wraps every collection of a child datasource in an equivalence
// Collection.
type DataSource struct {
	*base.DataSourceDecorator[*Collection]
}

func NewDataSource(child persistence.DataSource, opts base.Options) *DataSource {
	opts.Kind = Kind
	return &DataSource{DataSourceDecorator: base.NewDataSourceDecorator[*Collection](child, newCollection, opts)}
}
