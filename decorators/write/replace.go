package write

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/core/query"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
	"github.com/asaidimu/go-anansi-decorators/decorators/base"
	"github.com/tiendc/go-deepcopy"
	"go.uber.org/zap"
)

// Action tells a write handler which operation it runs for.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Context is handed to write handlers. Record is a copy of the whole patch
// the handled value belongs to.
type Context struct {
	Collection persistence.Collection
	Caller     *persistence.Caller
	Action     Action
	Record     schema.Record
}

// Handler rewrites the value written to a field into a patch. The patch may
// target other fields, relations included, and may be nil.
type Handler func(ctx context.Context, value any, c *Context) (schema.Record, error)

// ReplaceCollection rewrites create records and update patches with the
// handlers registered on its fields.
type ReplaceCollection struct {
	*base.CollectionDecorator

	mu       sync.RWMutex
	handlers map[string]Handler
}

func newReplaceCollection(child persistence.Collection, owner *base.DataSourceDecorator[*ReplaceCollection]) *ReplaceCollection {
	c := &ReplaceCollection{handlers: make(map[string]Handler)}
	c.CollectionDecorator = base.NewCollectionDecorator(child, owner, c, owner.Options())
	return c
}

// ReplaceFieldWriting registers handler on a column. The column becomes
// writable. A nil handler removes the registration.
func (c *ReplaceCollection) ReplaceFieldWriting(field string, handler Handler) error {
	if c.Child.Schema().Column(field) == nil {
		return persistence.NewConfigurationError(c.Name(), field, "No such column '%s'", field)
	}

	c.mu.Lock()
	if handler == nil {
		delete(c.handlers, field)
	} else {
		c.handlers[field] = handler
	}
	c.mu.Unlock()

	c.Logger().Info("Registered write handler", zap.String("field", field), zap.Bool("removed", handler == nil))
	c.MarkSchemaAsDirty()
	return nil
}

func (c *ReplaceCollection) handler(field string) (Handler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	handler, ok := c.handlers[field]
	return handler, ok
}

func (c *ReplaceCollection) RefineSchema(child *schema.CollectionSchema) *schema.CollectionSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := child.Clone()
	for field := range c.handlers {
		if column := child.Column(field); column != nil {
			writable := column.Clone()
			writable.IsReadOnly = false
			s.Fields[field] = writable
		}
	}
	return s
}

func (c *ReplaceCollection) Create(ctx context.Context, caller *persistence.Caller, records []schema.Record) ([]schema.Record, error) {
	rewritten := make([]schema.Record, len(records))
	for i, record := range records {
		patch, err := c.rewritePatch(ctx, caller, ActionCreate, record, nil)
		if err != nil {
			return nil, err
		}
		rewritten[i] = patch
	}
	return c.Child.Create(ctx, caller, rewritten)
}

func (c *ReplaceCollection) Update(ctx context.Context, caller *persistence.Caller, filter *query.Filter, patch schema.Record) error {
	rewritten, err := c.rewritePatch(ctx, caller, ActionUpdate, patch, nil)
	if err != nil {
		return err
	}
	return c.CollectionDecorator.Update(ctx, caller, filter, rewritten)
}

// rewritePatch runs the handlers of every key of patch and merges their
// contributions. used lists the fields whose handlers produced patch.
func (c *ReplaceCollection) rewritePatch(ctx context.Context, caller *persistence.Caller, action Action, patch schema.Record, used []string) (schema.Record, error) {
	keys := make([]string, 0, len(patch))
	for key := range patch {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	merged := schema.Record{}
	for _, key := range keys {
		part, err := c.rewriteKey(ctx, caller, action, patch, key, used)
		if err != nil {
			return nil, err
		}
		if merged, err = deepMerge(merged, part); err != nil {
			return nil, err
		}
	}

	if len(merged) > 0 {
		if err := persistence.ValidateRecord(c, merged); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

func (c *ReplaceCollection) rewriteKey(ctx context.Context, caller *persistence.Caller, action Action, patch schema.Record, key string, used []string) (schema.Record, error) {
	if slices.Contains(used, key) {
		chain := append(slices.Clone(used), key)
		return nil, &persistence.CycleError{Kind: persistence.WriteCycle, Chain: chain}
	}

	field, ok := c.Schema().Fields[key]
	if !ok {
		return nil, persistence.NewValidationError("Unknown field %q", key)
	}

	switch field.(type) {
	case *schema.ColumnSchema:
		handler, ok := c.handler(key)
		if !ok {
			return schema.Record{key: patch[key]}, nil
		}

		var snapshot schema.Record
		if err := deepcopy.Copy(&snapshot, patch); err != nil {
			return nil, err
		}
		contribution, err := handler(ctx, patch[key], &Context{Collection: c, Caller: caller, Action: action, Record: snapshot})
		if err != nil || contribution == nil {
			return schema.Record{}, err
		}

		out := schema.Record{}
		rest := schema.Record{}
		for k, v := range contribution {
			// A handler echoing its own field is not run again.
			if k == key {
				out[k] = v
			} else {
				rest[k] = v
			}
		}
		if len(rest) == 0 {
			return out, nil
		}
		sub, err := c.rewritePatch(ctx, caller, action, rest, append(slices.Clone(used), key))
		if err != nil {
			return nil, err
		}
		return deepMerge(out, sub)

	case *schema.ManyToOneSchema, *schema.OneToOneSchema:
		sub, ok := patch[key].(map[string]any)
		if !ok {
			return nil, persistence.NewValidationError("The given value of %q must be a record", key)
		}
		related, err := persistence.GetRelatedCollection(c, key)
		if err != nil {
			return nil, err
		}
		replace, ok := related.(*ReplaceCollection)
		if !ok {
			return schema.Record{key: sub}, nil
		}
		rewritten, err := replace.rewritePatch(ctx, caller, action, sub, nil)
		if err != nil {
			return nil, err
		}
		return schema.Record{key: rewritten}, nil

	default:
		return nil, persistence.NewValidationError("Unexpected field type: '%s.%s' (found '%s')", c.Name(), key, field.Kind())
	}
}
