// Package rename exposes fields under other names. Child collections keep
// receiving their own field names; the decorator translates schemas, filters,
// projections, records and aggregations in both directions.
package rename

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

// Collection renames the fields of a child collection.
type Collection struct {
	*base.CollectionDecorator
	owner *base.DataSourceDecorator[*Collection]

	mu        sync.RWMutex
	fromChild map[string]string // child name -> exposed name
	toChild   map[string]string // exposed name -> child name
}

func newCollection(child persistence.Collection, owner *base.DataSourceDecorator[*Collection]) *Collection {
	c := &Collection{
		owner:     owner,
		fromChild: make(map[string]string),
		toChild:   make(map[string]string),
	}
	c.CollectionDecorator = base.NewCollectionDecorator(child, owner, c, owner.Options())
	return c
}

// RenameField exposes the field currently named current as name. Renaming a
// field back to its child name removes the mapping.
func (c *Collection) RenameField(current, name string) error {
	if _, ok := c.Schema().Fields[current]; !ok {
		return persistence.NewConfigurationError(c.Name(), current, "No such field '%s'", current)
	}
	if current == name {
		return nil
	}
	if strings.Contains(name, query.Separator) {
		return persistence.NewConfigurationError(c.Name(), current, "Field name '%s' cannot contain '%s'", name, query.Separator)
	}
	if _, taken := c.Schema().Fields[name]; taken {
		return persistence.NewConfigurationError(c.Name(), current, "Cannot rename to '%s': the name is already used", name)
	}

	c.mu.Lock()
	childName := current
	if original, renamed := c.toChild[current]; renamed {
		childName = original
		delete(c.toChild, current)
		delete(c.fromChild, original)
	}
	if childName != name {
		c.fromChild[childName] = name
		c.toChild[name] = childName
	}
	c.mu.Unlock()

	c.Logger().Info("Renamed field", zap.String("field", current), zap.String("name", name))

	// Relations of other collections may point at the renamed keys.
	c.owner.MarkAllSchemasAsDirty()
	return nil
}

// exposed returns the exposed name of a child field.
func (c *Collection) exposed(childName string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if name, ok := c.fromChild[childName]; ok {
		return name
	}
	return childName
}

// original returns the child name of an exposed field.
func (c *Collection) original(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if childName, ok := c.toChild[name]; ok {
		return childName
	}
	return name
}

// sibling returns the decorator of another collection of the datasource, or
// nil when it does not exist.
func (c *Collection) sibling(name string) *Collection {
	if name == "" {
		return nil
	}
	sibling, err := c.owner.Decorator(name)
	if err != nil {
		return nil
	}
	return sibling
}

func exposedIn(c *Collection, childName string) string {
	if c == nil {
		return childName
	}
	return c.exposed(childName)
}

func (c *Collection) RefineSchema(child *schema.CollectionSchema) *schema.CollectionSchema {
	s := child.Clone()
	s.Fields = make(map[string]schema.FieldSchema, len(child.Fields))

	for childName, field := range child.Fields {
		var refined schema.FieldSchema
		switch f := field.(type) {
		case *schema.ColumnSchema:
			refined = f
		case *schema.ManyToOneSchema:
			clone := f.Clone()
			clone.ForeignKey = c.exposed(f.ForeignKey)
			clone.ForeignKeyTarget = exposedIn(c.sibling(f.ForeignCollection), f.ForeignKeyTarget)
			refined = clone
		case *schema.OneToOneSchema:
			clone := f.Clone()
			clone.OriginKey = exposedIn(c.sibling(f.ForeignCollection), f.OriginKey)
			clone.OriginKeyTarget = c.exposed(f.OriginKeyTarget)
			refined = clone
		case *schema.OneToManySchema:
			clone := f.Clone()
			clone.OriginKey = exposedIn(c.sibling(f.ForeignCollection), f.OriginKey)
			clone.OriginKeyTarget = c.exposed(f.OriginKeyTarget)
			refined = clone
		case *schema.ManyToManySchema:
			through := c.sibling(f.ThroughCollection)
			clone := f.Clone()
			clone.ForeignKey = exposedIn(through, f.ForeignKey)
			clone.OriginKey = exposedIn(through, f.OriginKey)
			clone.ForeignKeyTarget = exposedIn(c.sibling(f.ForeignCollection), f.ForeignKeyTarget)
			clone.OriginKeyTarget = c.exposed(f.OriginKeyTarget)
			refined = clone
		default:
			panic(schema.UnknownFieldKind(field))
		}
		s.Fields[c.exposed(childName)] = refined
	}
	return s
}

func (c *Collection) RefineFilter(ctx context.Context, caller *persistence.Caller, filter *query.PaginatedFilter) (*query.PaginatedFilter, error) {
	out := *filter
	if filter.ConditionTree != nil {
		out.ConditionTree = filter.ConditionTree.ReplaceFields(c.pathToChild)
	}
	out.Sort = filter.Sort.ReplaceFields(c.pathToChild)
	return &out, nil
}

// pathToChild translates an exposed field path, relation by relation.
func (c *Collection) pathToChild(path string) string {
	prefix, rest, nested := strings.Cut(path, query.Separator)
	childPrefix := c.original(prefix)
	if !nested {
		return childPrefix
	}

	if related := c.relatedByExposedName(prefix); related != nil {
		rest = related.pathToChild(rest)
	}
	return childPrefix + query.Separator + rest
}

// pathFromChild translates a child field path back to its exposed form.
func (c *Collection) pathFromChild(path string) string {
	prefix, rest, nested := strings.Cut(path, query.Separator)
	exposedPrefix := c.exposed(prefix)
	if !nested {
		return exposedPrefix
	}

	if related := c.relatedByChildName(prefix); related != nil {
		rest = related.pathFromChild(rest)
	}
	return exposedPrefix + query.Separator + rest
}

func (c *Collection) relatedByExposedName(name string) *Collection {
	field, ok := c.Schema().Fields[name]
	if !ok {
		return nil
	}
	foreign, _ := schema.ForeignCollection(field)
	return c.sibling(foreign)
}

func (c *Collection) relatedByChildName(name string) *Collection {
	field, ok := c.Child.Schema().Fields[name]
	if !ok {
		return nil
	}
	foreign, _ := schema.ForeignCollection(field)
	return c.sibling(foreign)
}

// recordToChild translates the keys of a record, recursing into the
// sub-records of relations.
func (c *Collection) recordToChild(record schema.Record) schema.Record {
	if record == nil {
		return nil
	}
	out := make(schema.Record, len(record))
	for key, value := range record {
		if sub, ok := value.(map[string]any); ok && sub != nil {
			if related := c.relatedByExposedName(key); related != nil {
				value = related.recordToChild(sub)
			}
		}
		out[c.original(key)] = value
	}
	return out
}

// recordFromChild translates the keys of a child record. Nil relations stay
// nil.
func (c *Collection) recordFromChild(record schema.Record) schema.Record {
	if record == nil {
		return nil
	}
	out := make(schema.Record, len(record))
	for key, value := range record {
		if sub, ok := value.(map[string]any); ok && sub != nil {
			if related := c.relatedByChildName(key); related != nil {
				value = related.recordFromChild(sub)
			}
		}
		out[c.exposed(key)] = value
	}
	return out
}

func (c *Collection) recordsFromChild(records []schema.Record) []schema.Record {
	out := make([]schema.Record, len(records))
	for i, record := range records {
		out[i] = c.recordFromChild(record)
	}
	return out
}

func (c *Collection) List(ctx context.Context, caller *persistence.Caller, filter *query.PaginatedFilter, projection query.Projection) ([]schema.Record, error) {
	if projection != nil {
		projection = projection.Replace(c.pathToChild)
	}
	records, err := c.CollectionDecorator.List(ctx, caller, filter, projection)
	if err != nil {
		return nil, err
	}
	return c.recordsFromChild(records), nil
}

func (c *Collection) Create(ctx context.Context, caller *persistence.Caller, records []schema.Record) ([]schema.Record, error) {
	translated := make([]schema.Record, len(records))
	for i, record := range records {
		translated[i] = c.recordToChild(record)
	}
	created, err := c.Child.Create(ctx, caller, translated)
	if err != nil {
		return nil, err
	}
	return c.recordsFromChild(created), nil
}

func (c *Collection) Update(ctx context.Context, caller *persistence.Caller, filter *query.Filter, patch schema.Record) error {
	return c.CollectionDecorator.Update(ctx, caller, filter, c.recordToChild(patch))
}

func (c *Collection) Aggregate(ctx context.Context, caller *persistence.Caller, filter *query.Filter, aggregation *query.Aggregation, limit int) ([]query.AggregateResult, error) {
	results, err := c.CollectionDecorator.Aggregate(ctx, caller, filter, aggregation.ReplaceFields(c.pathToChild), limit)
	if err != nil {
		return nil, err
	}

	out := make([]query.AggregateResult, len(results))
	for i, result := range results {
		group := make(map[string]any, len(result.Group))
		for path, value := range result.Group {
			group[c.pathFromChild(path)] = value
		}
		out[i] = query.AggregateResult{Value: result.Value, Group: group}
	}
	return out, nil
}
