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

// UpdateCollection applies the relation sub-patches of an update to the
// related records, creating the ones that do not exist yet.
type UpdateCollection struct {
	*base.CollectionDecorator
}

func newUpdateCollection(child persistence.Collection, owner *base.DataSourceDecorator[*UpdateCollection]) *UpdateCollection {
	c := &UpdateCollection{}
	c.CollectionDecorator = base.NewCollectionDecorator(child, owner, c, owner.Options())
	return c
}

func (c *UpdateCollection) Update(ctx context.Context, caller *persistence.Caller, filter *query.Filter, patch schema.Record) error {
	s := c.Schema()
	columns := schema.Record{}
	relations := map[string]schema.Record{}
	var names []string
	for key, value := range patch {
		if _, isColumn := s.Fields[key].(*schema.ColumnSchema); isColumn || s.Fields[key] == nil {
			columns[key] = value
			continue
		}
		sub, ok := value.(map[string]any)
		if !ok {
			return persistence.NewValidationError("The given value of %q must be a record", key)
		}
		relations[key] = sub
		names = append(names, key)
	}

	if len(relations) == 0 {
		return c.CollectionDecorator.Update(ctx, caller, filter, patch)
	}

	projection := persistence.PrimaryKeyProjection(c)
	for _, name := range names {
		switch field := s.Fields[name].(type) {
		case *schema.ManyToOneSchema:
			projection = projection.Union(query.Projection{field.ForeignKey, name + query.Separator + field.ForeignKeyTarget})
		case *schema.OneToOneSchema:
			projection = projection.Union(query.Projection{field.OriginKeyTarget, name + query.Separator + field.OriginKey})
		default:
			return persistence.NewValidationError("Unexpected schema type '%s' while traversing record", field.Kind())
		}
	}

	records, err := c.CollectionDecorator.List(ctx, caller, query.Paginated(filter), projection)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		sub := relations[name]
		g.Go(func() error {
			switch field := s.Fields[name].(type) {
			case *schema.ManyToOneSchema:
				return c.updateManyToOne(gctx, caller, records, name, field, sub)
			case *schema.OneToOneSchema:
				return c.updateOneToOne(gctx, caller, records, name, field, sub)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if len(columns) == 0 {
		return nil
	}
	return c.CollectionDecorator.Update(ctx, caller, filter, columns)
}

func (c *UpdateCollection) updateManyToOne(ctx context.Context, caller *persistence.Caller, records []schema.Record, name string, field *schema.ManyToOneSchema, patch schema.Record) error {
	related, err := persistence.GetRelatedCollection(c, name)
	if err != nil {
		return err
	}

	var missing []schema.Record
	var targets []any
	seen := map[string]bool{}
	for _, record := range records {
		target := query.GetValue(record, name+query.Separator+field.ForeignKeyTarget)
		if target == nil {
			missing = append(missing, record)
			continue
		}
		if key := persistence.IDKey([]any{target}); !seen[key] {
			seen[key] = true
			targets = append(targets, target)
		}
	}

	if len(targets) > 0 {
		filter := &query.Filter{ConditionTree: query.Leaf(field.ForeignKeyTarget, schema.OperatorIn, targets)}
		if err := related.Update(ctx, caller, filter, patch); err != nil {
			return err
		}
	}
	if len(missing) == 0 {
		return nil
	}

	subs := make([]schema.Record, len(missing))
	for i := range missing {
		subs[i] = copyRecord(patch)
	}
	created, err := related.Create(ctx, caller, subs)
	if err != nil {
		return err
	}

	// Each owner gets its own related record, so the foreign keys differ.
	s := c.Schema()
	for i, record := range missing {
		tree, err := query.MatchRecords(s, []schema.Record{record})
		if err != nil {
			return err
		}
		fk := schema.Record{field.ForeignKey: created[i][field.ForeignKeyTarget]}
		if err := c.Child.Update(ctx, caller, &query.Filter{ConditionTree: tree}, fk); err != nil {
			return err
		}
	}
	c.Logger().Debug("Created missing ManyToOne relations", zap.String("relation", name), zap.Int("count", len(created)))
	return nil
}

func (c *UpdateCollection) updateOneToOne(ctx context.Context, caller *persistence.Caller, records []schema.Record, name string, field *schema.OneToOneSchema, patch schema.Record) error {
	related, err := persistence.GetRelatedCollection(c, name)
	if err != nil {
		return err
	}

	var subs []schema.Record
	var origins []any
	for _, record := range records {
		origin := record[field.OriginKeyTarget]
		if query.GetValue(record, name+query.Separator+field.OriginKey) != nil {
			origins = append(origins, origin)
			continue
		}
		sub := copyRecord(patch)
		sub[field.OriginKey] = origin
		subs = append(subs, sub)
	}

	if len(origins) > 0 {
		filter := &query.Filter{ConditionTree: query.Leaf(field.OriginKey, schema.OperatorIn, origins)}
		if err := related.Update(ctx, caller, filter, patch); err != nil {
			return err
		}
	}
	if len(subs) > 0 {
		if _, err := related.Create(ctx, caller, subs); err != nil {
			return err
		}
		c.Logger().Debug("Created missing OneToOne relations", zap.String("relation", name), zap.Int("count", len(subs)))
	}
	return nil
}
