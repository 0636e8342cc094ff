// Package publication hides fields from the collections it decorates.
package publication

import (
	"context"
	"sync"

	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/core/query"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
	"github.com/asaidimu/go-anansi-decorators/decorators/base"
	"go.uber.org/zap"
)

// Kind names the decorator in logs and lifecycle events.
const Kind = "publication"

// Collection removes unpublished fields from the schema of its child and from
// the records it returns.
type Collection struct {
	*base.CollectionDecorator
	owner *base.DataSourceDecorator[*Collection]

	mu     sync.RWMutex
	hidden map[string]bool
}

func newCollection(child persistence.Collection, owner *base.DataSourceDecorator[*Collection]) *Collection {
	c := &Collection{owner: owner, hidden: make(map[string]bool)}
	c.CollectionDecorator = base.NewCollectionDecorator(child, owner, c, owner.Options())
	return c
}

// ChangeFieldVisibility publishes or hides a field of the child collection.
// Primary keys cannot be hidden.
func (c *Collection) ChangeFieldVisibility(field string, visible bool) error {
	s := c.Child.Schema()
	f, ok := s.Fields[field]
	if !ok {
		return persistence.NewConfigurationError(c.Name(), field, "No such field '%s'", field)
	}
	if column, isColumn := f.(*schema.ColumnSchema); isColumn && column.IsPrimaryKey && !visible {
		return persistence.NewConfigurationError(c.Name(), field, "Cannot hide primary key")
	}

	c.mu.Lock()
	if visible {
		delete(c.hidden, field)
	} else {
		c.hidden[field] = true
	}
	c.mu.Unlock()

	c.Logger().Info("Changed field visibility", zap.String("field", field), zap.Bool("visible", visible))

	// Relations of other collections may depend on the keys of this one.
	c.owner.MarkAllSchemasAsDirty()
	return nil
}

// IsPublished tells whether a child field is exposed. Relations are exposed
// only when the keys they rely on are.
func (c *Collection) IsPublished(field string) bool {
	c.mu.RLock()
	hidden := c.hidden[field]
	c.mu.RUnlock()
	if hidden {
		return false
	}

	switch f := c.Child.Schema().Fields[field].(type) {
	case *schema.ColumnSchema:
		return true
	case *schema.ManyToOneSchema:
		return c.IsPublished(f.ForeignKey) && c.foreignPublished(f.ForeignCollection, f.ForeignKeyTarget)
	case *schema.OneToOneSchema:
		return c.IsPublished(f.OriginKeyTarget) && c.foreignPublished(f.ForeignCollection, f.OriginKey)
	case *schema.OneToManySchema:
		return c.IsPublished(f.OriginKeyTarget) && c.foreignPublished(f.ForeignCollection, f.OriginKey)
	case *schema.ManyToManySchema:
		return c.IsPublished(f.OriginKeyTarget) &&
			c.foreignPublished(f.ThroughCollection, f.OriginKey) &&
			c.foreignPublished(f.ThroughCollection, f.ForeignKey) &&
			c.foreignPublished(f.ForeignCollection, f.ForeignKeyTarget)
	default:
		return false
	}
}

func (c *Collection) foreignPublished(collection, field string) bool {
	foreign, err := c.owner.Decorator(collection)
	if err != nil {
		return false
	}
	return foreign.IsPublished(field)
}

func (c *Collection) RefineSchema(child *schema.CollectionSchema) *schema.CollectionSchema {
	s := child.Clone()
	for name := range child.Fields {
		if !c.IsPublished(name) {
			delete(s.Fields, name)
		}
	}
	return s
}

func (c *Collection) List(ctx context.Context, caller *persistence.Caller, filter *query.PaginatedFilter, projection query.Projection) ([]schema.Record, error) {
	records, err := c.CollectionDecorator.List(ctx, caller, filter, projection)
	if err != nil {
		return nil, err
	}
	return c.strip(records), nil
}

func (c *Collection) Create(ctx context.Context, caller *persistence.Caller, records []schema.Record) ([]schema.Record, error) {
	for _, record := range records {
		if err := c.checkWritable(record); err != nil {
			return nil, err
		}
	}
	created, err := c.Child.Create(ctx, caller, records)
	if err != nil {
		return nil, err
	}
	return c.strip(created), nil
}

func (c *Collection) Update(ctx context.Context, caller *persistence.Caller, filter *query.Filter, patch schema.Record) error {
	if err := c.checkWritable(patch); err != nil {
		return err
	}
	return c.CollectionDecorator.Update(ctx, caller, filter, patch)
}

func (c *Collection) checkWritable(record schema.Record) error {
	s := c.Schema()
	for key := range record {
		if _, ok := s.Fields[key]; !ok {
			return persistence.NewValidationError("Unknown field %q", key)
		}
	}
	return nil
}

// strip removes unpublished fields, recursing into related records.
func (c *Collection) strip(records []schema.Record) []schema.Record {
	s := c.Schema()
	for _, record := range records {
		for key, value := range record {
			field, ok := s.Fields[key]
			if !ok {
				delete(record, key)
				continue
			}
			sub, isRecord := value.(map[string]any)
			foreign, isRelation := schema.ForeignCollection(field)
			if !isRecord || !isRelation {
				continue
			}
			if related, err := c.owner.Decorator(foreign); err == nil {
				related.strip([]schema.Record{sub})
			}
		}
	}
	return records
}
