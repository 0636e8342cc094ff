package emulate

import (
	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
	"github.com/asaidimu/go-anansi-decorators/decorators/base"
)

const Kind = "emulate"

// DataSource wraps every collection of a child datasource in an emulate
// Collection.
type DataSource struct {
	*base.DataSourceDecorator[*Collection]
}

func NewDataSource(child persistence.DataSource, opts base.Options) *DataSource {
	opts.Kind = Kind
	return &DataSource{DataSourceDecorator: base.NewDataSourceDecorator[*Collection](child, newCollection, opts)}
}

// ReplaceFieldOperator registers an operator handler on a collection field.
func (ds *DataSource) ReplaceFieldOperator(collection, field string, operator schema.Operator, handler Handler) error {
	c, err := ds.Decorator(collection)
	if err != nil {
		return persistence.NewConfigurationError(collection, field, "%v", err)
	}
	return c.ReplaceFieldOperator(field, operator, handler)
}

// EmulateFieldOperator emulates an operator on a collection field.
func (ds *DataSource) EmulateFieldOperator(collection, field string, operator schema.Operator) error {
	return ds.ReplaceFieldOperator(collection, field, operator, nil)
}
