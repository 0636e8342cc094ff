package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/core/query"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
	"github.com/google/uuid"
	"github.com/tiendc/go-deepcopy"
	"go.uber.org/zap"
)

// ActionHandler runs a collection action on the records selected by the
// action filter.
type ActionHandler func(ctx context.Context, caller *persistence.Caller, data schema.Record, records []schema.Record) (*persistence.ActionResult, error)

// CollectionChartRenderer renders a chart for one record.
type CollectionChartRenderer func(ctx context.Context, caller *persistence.Caller, id []any) (persistence.Chart, error)

type action struct {
	fields  []persistence.ActionField
	handler ActionHandler
}

// Collection stores records in memory.
type Collection struct {
	name   string
	ds     *DataSource
	logger *zap.Logger

	mu       sync.RWMutex
	schema   *schema.CollectionSchema
	records  []schema.Record
	nextID   int64
	actions  map[string]action
	segments map[string]query.ConditionTree
	charts   map[string]CollectionChartRenderer
}

func newCollection(name string, ds *DataSource, s *schema.CollectionSchema, logger *zap.Logger) *Collection {
	return &Collection{
		name:     name,
		ds:       ds,
		logger:   logger.With(zap.String("collection", name)),
		schema:   s,
		nextID:   1,
		actions:  make(map[string]action),
		segments: make(map[string]query.ConditionTree),
		charts:   make(map[string]CollectionChartRenderer),
	}
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) DataSource() persistence.DataSource { return c.ds }

func (c *Collection) Schema() *schema.CollectionSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.schema
}

// SetSchema replaces the schema of the collection. Stored records are kept.
func (c *Collection) SetSchema(s *schema.CollectionSchema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schema = s
}

// AddAction registers an action, its form and its handler. The action is
// added to a new schema value.
func (c *Collection) AddAction(name string, definition schema.ActionSchema, fields []persistence.ActionField, handler ActionHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.schema.Clone()
	s.Actions[name] = definition
	c.schema = s
	c.actions[name] = action{fields: fields, handler: handler}
}

// AddSegment registers a named segment.
func (c *Collection) AddSegment(name string, tree query.ConditionTree) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.schema.Clone()
	s.Segments = append(s.Segments, name)
	c.schema = s
	c.segments[name] = tree
}

// AddChart registers a record chart.
func (c *Collection) AddChart(name string, renderer CollectionChartRenderer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.schema.Clone()
	s.Charts = append(s.Charts, name)
	c.schema = s
	c.charts[name] = renderer
}

// snapshot returns a copy of the stored records.
func (c *Collection) snapshot() ([]schema.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []schema.Record
	if err := deepcopy.Copy(&out, c.records); err != nil {
		return nil, fmt.Errorf("failed to copy records of '%s': %w", c.name, err)
	}
	return out, nil
}

func (c *Collection) List(ctx context.Context, caller *persistence.Caller, filter *query.PaginatedFilter, projection query.Projection) ([]schema.Record, error) {
	if filter == nil {
		filter = &query.PaginatedFilter{}
	}
	if projection == nil {
		projection = c.columns()
	}

	needed := projection.Union(filter.Sort.Projection())
	records, err := c.filtered(caller, &filter.Filter, needed)
	if err != nil {
		return nil, err
	}

	records = filter.Sort.Apply(records)
	records = filter.Page.Apply(records)

	c.logger.Debug("Listed records", zap.Int("count", len(records)))
	return projection.Apply(records), nil
}

// filtered returns the stored records matching filter, with the relations
// needed by the filter and by projection attached.
func (c *Collection) filtered(caller *persistence.Caller, filter *query.Filter, projection query.Projection) ([]schema.Record, error) {
	tree := filter.ConditionTree

	if filter.Segment != "" {
		c.mu.RLock()
		segment, ok := c.segments[filter.Segment]
		c.mu.RUnlock()
		if !ok {
			return nil, persistence.NewValidationError("Unknown segment '%s'", filter.Segment)
		}
		tree = query.Intersect(tree, segment)
	}

	needed := projection
	if tree != nil {
		needed = needed.Union(tree.Projection())
	}

	records, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	records, err = c.withRelations(records, needed)
	if err != nil {
		return nil, err
	}

	records, err = query.Apply(tree, records, caller.Location())
	if err != nil {
		return nil, err
	}
	if filter.Search != "" {
		records = c.search(records, filter.Search)
	}
	return records, nil
}

func (c *Collection) search(records []schema.Record, term string) []schema.Record {
	term = strings.ToLower(term)
	s := c.Schema()

	out := make([]schema.Record, 0, len(records))
	for _, record := range records {
		for name := range s.Fields {
			column := s.Column(name)
			if column == nil || column.ColumnType != schema.TypeString {
				continue
			}
			if str, ok := record[name].(string); ok && strings.Contains(strings.ToLower(str), term) {
				out = append(out, record)
				break
			}
		}
	}
	return out
}

// withRelations attaches to every record the related records reached by the
// relation paths of projection. Absent relations are set to nil.
func (c *Collection) withRelations(records []schema.Record, projection query.Projection) ([]schema.Record, error) {
	s := c.Schema()
	names, relations := projection.Relations()

	for _, name := range names {
		field, ok := s.Fields[name]
		if !ok {
			return nil, persistence.NewValidationError("Relation not found: '%s.%s'", c.name, name)
		}
		foreign, _ := schema.ForeignCollection(field)
		related, err := c.ds.collection(foreign)
		if err != nil {
			return nil, err
		}
		candidates, err := related.snapshot()
		if err != nil {
			return nil, err
		}
		candidates, err = related.withRelations(candidates, relations[name])
		if err != nil {
			return nil, err
		}

		var ownKey, foreignKey string
		switch f := field.(type) {
		case *schema.ManyToOneSchema:
			ownKey, foreignKey = f.ForeignKey, f.ForeignKeyTarget
		case *schema.OneToOneSchema:
			ownKey, foreignKey = f.OriginKeyTarget, f.OriginKey
		default:
			return nil, persistence.NewValidationError("Unexpected field type: '%s.%s' (found '%s' expected 'ManyToOne' or 'OneToOne')",
				c.name, name, field.Kind())
		}

		for _, record := range records {
			var match any
			if value := record[ownKey]; value != nil {
				for _, candidate := range candidates {
					if query.EqualValues(candidate[foreignKey], value) {
						match = candidate
						break
					}
				}
			}
			record[name] = match
		}
	}
	return records, nil
}

func (c *Collection) columns() query.Projection {
	s := c.Schema()
	var out query.Projection
	for _, name := range s.FieldNames() {
		if s.Column(name) != nil {
			out = append(out, name)
		}
	}
	return out
}

func (c *Collection) Create(ctx context.Context, caller *persistence.Caller, records []schema.Record) ([]schema.Record, error) {
	s := c.Schema()

	c.mu.Lock()
	defer c.mu.Unlock()

	created := make([]schema.Record, 0, len(records))
	for _, data := range records {
		record := make(schema.Record, len(s.Fields))
		for key, value := range data {
			column := s.Column(key)
			if column == nil {
				return nil, persistence.NewValidationError("Unknown column %q in collection '%s'", key, c.name)
			}
			if issues := schema.ValidateValue(key, column, value); len(issues) > 0 {
				return nil, &persistence.ValidationError{Message: "Invalid record", Issues: issues}
			}
			record[key] = value
		}

		for _, name := range s.FieldNames() {
			column := s.Column(name)
			if column == nil {
				continue
			}
			if _, ok := record[name]; ok && record[name] != nil {
				c.trackID(column, record[name])
				continue
			}
			switch {
			case column.IsPrimaryKey && column.ColumnType == schema.TypeUUID:
				record[name] = uuid.NewString()
			case column.IsPrimaryKey && column.ColumnType == schema.TypeNumber:
				record[name] = c.nextID
				c.nextID++
			case column.IsPrimaryKey:
				return nil, persistence.NewValidationError("Primary key %q of '%s' is required", name, c.name)
			default:
				record[name] = column.DefaultValue
			}
		}

		var stored schema.Record
		if err := deepcopy.Copy(&stored, record); err != nil {
			return nil, fmt.Errorf("failed to copy record: %w", err)
		}
		c.records = append(c.records, stored)
		created = append(created, record)
	}

	c.logger.Debug("Created records", zap.Int("count", len(created)))
	return created, nil
}

// trackID keeps generated numeric ids above the ids provided by callers.
func (c *Collection) trackID(column *schema.ColumnSchema, value any) {
	if !column.IsPrimaryKey || column.ColumnType != schema.TypeNumber {
		return
	}
	if f, ok := query.ToFloat64Strict(value); ok && int64(f) >= c.nextID {
		c.nextID = int64(f) + 1
	}
}

// matchingIndexes returns the positions of the stored records matching
// filter.
func (c *Collection) matchingIndexes(caller *persistence.Caller, filter *query.Filter) (map[string]bool, error) {
	if filter == nil {
		filter = &query.Filter{}
	}
	s := c.Schema()
	matches, err := c.filtered(caller, filter, persistence.PrimaryKeyProjection(c))
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(matches))
	for _, record := range matches {
		ids[idKey(s, record)] = true
	}
	return ids, nil
}

func idKey(s *schema.CollectionSchema, record schema.Record) string {
	id := persistence.RecordID(s, record)
	for i, v := range id {
		if f, ok := query.ToFloat64Strict(v); ok {
			id[i] = f
		}
	}
	return persistence.IDKey(id)
}

func (c *Collection) Update(ctx context.Context, caller *persistence.Caller, filter *query.Filter, patch schema.Record) error {
	s := c.Schema()
	for key, value := range patch {
		column := s.Column(key)
		if column == nil {
			return persistence.NewValidationError("Unknown column %q in collection '%s'", key, c.name)
		}
		if issues := schema.ValidateValue(key, column, value); len(issues) > 0 {
			return &persistence.ValidationError{Message: "Invalid patch", Issues: issues}
		}
	}

	ids, err := c.matchingIndexes(caller, filter)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	updated := 0
	for _, record := range c.records {
		if !ids[idKey(s, record)] {
			continue
		}
		var copied schema.Record
		if err := deepcopy.Copy(&copied, patch); err != nil {
			return fmt.Errorf("failed to copy patch: %w", err)
		}
		for key, value := range copied {
			record[key] = value
		}
		updated++
	}

	c.logger.Debug("Updated records", zap.Int("count", updated))
	return nil
}

func (c *Collection) Delete(ctx context.Context, caller *persistence.Caller, filter *query.Filter) error {
	s := c.Schema()
	ids, err := c.matchingIndexes(caller, filter)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.records[:0]
	for _, record := range c.records {
		if !ids[idKey(s, record)] {
			kept = append(kept, record)
		}
	}
	c.logger.Debug("Deleted records", zap.Int("count", len(c.records)-len(kept)))
	c.records = kept
	return nil
}

func (c *Collection) Aggregate(ctx context.Context, caller *persistence.Caller, filter *query.Filter, aggregation *query.Aggregation, limit int) ([]query.AggregateResult, error) {
	if filter == nil {
		filter = &query.Filter{}
	}
	records, err := c.filtered(caller, filter, aggregation.Projection())
	if err != nil {
		return nil, err
	}
	return aggregation.Apply(records, caller.Location(), limit)
}

func (c *Collection) Execute(ctx context.Context, caller *persistence.Caller, name string, data schema.Record, filter *query.Filter) (*persistence.ActionResult, error) {
	c.mu.RLock()
	a, ok := c.actions[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("action '%s' is not defined on '%s': %w", name, c.name, persistence.ErrUnsupported)
	}

	records, err := c.List(ctx, caller, query.Paginated(filter), nil)
	if err != nil {
		return nil, err
	}
	return a.handler(ctx, caller, data, records)
}

func (c *Collection) GetForm(ctx context.Context, caller *persistence.Caller, name string, data schema.Record, filter *query.Filter) ([]persistence.ActionField, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.actions[name]
	if !ok {
		return nil, nil
	}
	return append([]persistence.ActionField(nil), a.fields...), nil
}

func (c *Collection) RenderChart(ctx context.Context, caller *persistence.Caller, name string, id []any) (persistence.Chart, error) {
	c.mu.RLock()
	renderer, ok := c.charts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("chart '%s' is not defined on '%s': %w", name, c.name, persistence.ErrUnsupported)
	}
	return renderer(ctx, caller, id)
}
