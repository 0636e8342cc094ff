package rename

import (
	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/decorators/base"
)

// Kind names the decorator in logs and lifecycle events.
const Kind = "rename"

// DataSource wraps every collection of a child datasource in a rename
// Collection.
type DataSource struct {
	*base.DataSourceDecorator[*Collection]
}

// NewDataSource decorates child.
func NewDataSource(child persistence.DataSource, opts base.Options) *DataSource {
	opts.Kind = Kind
	return &DataSource{DataSourceDecorator: base.NewDataSourceDecorator[*Collection](child, newCollection, opts)}
}

// RenameField renames a field of one collection.
func (ds *DataSource) RenameField(collection, current, name string) error {
	c, err := ds.Decorator(collection)
	if err != nil {
		return persistence.NewConfigurationError(collection, current, "%v", err)
	}
	return c.RenameField(current, name)
}
