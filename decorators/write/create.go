package write

import (
	"context"

	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/core/query"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
	"github.com/asaidimu/go-anansi-decorators/decorators/base"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CreateCollection creates the related records carried by the records given
// to Create: ManyToOne relations before their owners, OneToOne relations
// after.
type CreateCollection struct {
	*base.CollectionDecorator
}

func newCreateCollection(child persistence.Collection, owner *base.DataSourceDecorator[*CreateCollection]) *CreateCollection {
	c := &CreateCollection{}
	c.CollectionDecorator = base.NewCollectionDecorator(child, owner, c, owner.Options())
	return c
}

// pending is a sub-record waiting to be written, along with the position of
// the record it was extracted from.
type pending struct {
	index  int
	record schema.Record
}

func (c *CreateCollection) Create(ctx context.Context, caller *persistence.Caller, records []schema.Record) ([]schema.Record, error) {
	for _, record := range records {
		if err := persistence.ValidateRecord(c, record); err != nil {
			return nil, err
		}
	}

	s := c.Schema()
	owners := make([]schema.Record, len(records))
	buckets := map[string][]pending{}
	var relations []string
	for i, record := range records {
		owners[i] = make(schema.Record, len(record))
		for key, value := range record {
			if _, isColumn := s.Fields[key].(*schema.ColumnSchema); isColumn {
				owners[i][key] = value
				continue
			}
			sub, ok := value.(map[string]any)
			if !ok || sub == nil {
				continue
			}
			if _, seen := buckets[key]; !seen {
				relations = append(relations, key)
			}
			buckets[key] = append(buckets[key], pending{index: i, record: copyRecord(sub)})
		}
	}

	if err := c.createManyToOne(ctx, caller, owners, relations, buckets); err != nil {
		return nil, err
	}

	created, err := c.Child.Create(ctx, caller, owners)
	if err != nil {
		return nil, err
	}

	if err := c.createOneToOne(ctx, caller, created, relations, buckets); err != nil {
		return nil, err
	}
	return created, nil
}

// createManyToOne writes the ManyToOne sub-records and sets the foreign keys
// of owners.
func (c *CreateCollection) createManyToOne(ctx context.Context, caller *persistence.Caller, owners []schema.Record, relations []string, buckets map[string][]pending) error {
	s := c.Schema()
	foreignKeys := make([]map[int]any, len(relations))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range relations {
		field, ok := s.Fields[name].(*schema.ManyToOneSchema)
		if !ok {
			continue
		}
		entries := buckets[name]
		g.Go(func() error {
			values, err := c.writeManyToOne(gctx, caller, owners, name, field, entries)
			foreignKeys[i] = values
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, name := range relations {
		field, ok := s.Fields[name].(*schema.ManyToOneSchema)
		if !ok {
			continue
		}
		for index, value := range foreignKeys[i] {
			owners[index][field.ForeignKey] = value
		}
	}
	return nil
}

func (c *CreateCollection) writeManyToOne(ctx context.Context, caller *persistence.Caller, owners []schema.Record, name string, field *schema.ManyToOneSchema, entries []pending) (map[int]any, error) {
	related, err := persistence.GetRelatedCollection(c, name)
	if err != nil {
		return nil, err
	}

	var creations []pending
	for _, entry := range entries {
		// The owner already points at a record: update it instead.
		if fk := owners[entry.index][field.ForeignKey]; fk != nil {
			filter := &query.Filter{ConditionTree: query.Leaf(field.ForeignKeyTarget, schema.OperatorEqual, fk)}
			if err := related.Update(ctx, caller, filter, entry.record); err != nil {
				return nil, err
			}
			continue
		}
		creations = append(creations, entry)
	}
	if len(creations) == 0 {
		return nil, nil
	}

	subs := make([]schema.Record, len(creations))
	for i, entry := range creations {
		subs[i] = entry.record
	}
	created, err := related.Create(ctx, caller, subs)
	if err != nil {
		return nil, err
	}

	values := make(map[int]any, len(creations))
	for i, entry := range creations {
		values[entry.index] = created[i][field.ForeignKeyTarget]
	}
	c.Logger().Debug("Created ManyToOne relations", zap.String("relation", name), zap.Int("count", len(created)))
	return values, nil
}

// createOneToOne creates the OneToOne sub-records, pointing them at their
// freshly created owners.
func (c *CreateCollection) createOneToOne(ctx context.Context, caller *persistence.Caller, created []schema.Record, relations []string, buckets map[string][]pending) error {
	s := c.Schema()

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range relations {
		field, ok := s.Fields[name].(*schema.OneToOneSchema)
		if !ok {
			continue
		}
		entries := buckets[name]
		g.Go(func() error {
			related, err := persistence.GetRelatedCollection(c, name)
			if err != nil {
				return err
			}
			subs := make([]schema.Record, len(entries))
			for i, entry := range entries {
				subs[i] = entry.record
				subs[i][field.OriginKey] = created[entry.index][field.OriginKeyTarget]
			}
			if _, err := related.Create(gctx, caller, subs); err != nil {
				return err
			}
			c.Logger().Debug("Created OneToOne relations", zap.String("relation", name), zap.Int("count", len(subs)))
			return nil
		})
	}
	return g.Wait()
}

func copyRecord(record schema.Record) schema.Record {
	out := make(schema.Record, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out
}
