// Package write customizes how records are written: fields whose writes are
// rewritten by handlers, and relation sub-records created or updated along
// with their owners.
package write

import (
	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/decorators/base"
)

const (
	KindCreateRelations = "write.create-relations"
	KindUpdateRelations = "write.update-relations"
	KindReplace         = "write.replace"
)

// DataSource stacks the three write decorators over a child datasource. The
// relation cascades sit below the handlers, so handler patches reaching
// relations are cascaded too.
type DataSource struct {
	*base.DataSourceDecorator[*ReplaceCollection]

	create *base.DataSourceDecorator[*CreateCollection]
	update *base.DataSourceDecorator[*UpdateCollection]
}

// NewDataSource decorates child.
func NewDataSource(child persistence.DataSource, opts base.Options) *DataSource {
	if opts.Events == nil {
		bus, err := persistence.NewEventBus()
		if err == nil {
			opts.Events = bus
		}
	}

	createOpts := opts
	createOpts.Kind = KindCreateRelations
	create := base.NewDataSourceDecorator[*CreateCollection](child, newCreateCollection, createOpts)

	updateOpts := opts
	updateOpts.Kind = KindUpdateRelations
	update := base.NewDataSourceDecorator[*UpdateCollection](create, newUpdateCollection, updateOpts)

	opts.Kind = KindReplace
	return &DataSource{
		DataSourceDecorator: base.NewDataSourceDecorator[*ReplaceCollection](update, newReplaceCollection, opts),
		create:              create,
		update:              update,
	}
}

// ReplaceFieldWriting registers a write handler on a column of a collection.
func (ds *DataSource) ReplaceFieldWriting(collection, field string, handler Handler) error {
	c, err := ds.Decorator(collection)
	if err != nil {
		return persistence.NewConfigurationError(collection, field, "%v", err)
	}
	return c.ReplaceFieldWriting(field, handler)
}

// Close stops the three layers from following new collections.
func (ds *DataSource) Close() {
	ds.DataSourceDecorator.Close()
	ds.update.Close()
	ds.create.Close()
}
