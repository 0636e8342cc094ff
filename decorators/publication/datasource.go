package publication

import (
	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/decorators/base"
)

// DataSource wraps every collection of a child datasource in a publication
// Collection.
type DataSource struct {
	*base.DataSourceDecorator[*Collection]
}

// NewDataSource decorates child.
func NewDataSource(child persistence.DataSource, opts base.Options) *DataSource {
	opts.Kind = Kind
	return &DataSource{DataSourceDecorator: base.NewDataSourceDecorator[*Collection](child, newCollection, opts)}
}

// ChangeFieldVisibility publishes or hides a field of one collection.
func (ds *DataSource) ChangeFieldVisibility(collection, field string, visible bool) error {
	c, err := ds.Decorator(collection)
	if err != nil {
		return persistence.NewConfigurationError(collection, field, "%v", err)
	}
	return c.ChangeFieldVisibility(field, visible)
}
