// Package emulate makes filter operators usable on columns that do not
// support them natively. A registered handler rewrites the condition into one
// the child understands; without a handler the condition is evaluated in
// memory and replaced by a match on the primary keys of the matching records.
package emulate

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/core/query"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
	"github.com/asaidimu/go-anansi-decorators/decorators/base"
	"go.uber.org/zap"
)

// Context is handed to operator handlers.
type Context struct {
	Collection persistence.Collection
	Caller     *persistence.Caller
}

// Handler computes the condition equivalent to applying an operator with
// value. A nil tree requests in-memory emulation.
type Handler func(ctx context.Context, value any, c *Context) (query.ConditionTree, error)

// PlainHandler adapts a handler producing plain object trees, as decoded
// from JSON.
func PlainHandler(fn func(ctx context.Context, value any, c *Context) (map[string]any, error)) Handler {
	return func(ctx context.Context, value any, c *Context) (query.ConditionTree, error) {
		obj, err := fn(ctx, value, c)
		if err != nil || obj == nil {
			return nil, err
		}
		return query.FromPlainObject(obj)
	}
}

// Collection replaces or emulates operators of a child collection.
type Collection struct {
	*base.CollectionDecorator
	owner *base.DataSourceDecorator[*Collection]

	mu       sync.RWMutex
	handlers map[string]map[schema.Operator]Handler
}

func newCollection(child persistence.Collection, owner *base.DataSourceDecorator[*Collection]) *Collection {
	c := &Collection{
		owner:    owner,
		handlers: make(map[string]map[schema.Operator]Handler),
	}
	c.CollectionDecorator = base.NewCollectionDecorator(child, owner, c, owner.Options())
	return c
}

// EmulateFieldOperator evaluates operator on field in memory.
func (c *Collection) EmulateFieldOperator(field string, operator schema.Operator) error {
	return c.ReplaceFieldOperator(field, operator, nil)
}

// ReplaceFieldOperator registers handler for operator on field. A nil handler
// always emulates.
func (c *Collection) ReplaceFieldOperator(field string, operator schema.Operator, handler Handler) error {
	child := c.Child.Schema()

	for _, pk := range child.PrimaryKeys() {
		ops := child.Column(pk).FilterOperators
		if !ops.Has(schema.OperatorEqual) || !ops.Has(schema.OperatorIn) {
			return persistence.NewConfigurationError(c.Name(), field,
				"Cannot override operators on collection '%s': the primary key columns must support 'Equal' and 'In' operators", c.Name())
		}
	}

	existing, ok := child.Fields[field]
	if !ok {
		return persistence.NewConfigurationError(c.Name(), field, "No such field '%s'", field)
	}
	if existing.Kind() != schema.KindColumn {
		return persistence.NewConfigurationError(c.Name(), field, "Cannot replace operators of '%s': it is a %s relation", field, existing.Kind())
	}

	c.mu.Lock()
	if c.handlers[field] == nil {
		c.handlers[field] = make(map[schema.Operator]Handler)
	}
	c.handlers[field][operator] = handler
	c.mu.Unlock()

	c.Logger().Info("Registered operator replacement",
		zap.String("field", field), zap.String("operator", string(operator)), zap.Bool("emulated", handler == nil))
	c.MarkSchemaAsDirty()
	return nil
}

func (c *Collection) handler(field string, operator schema.Operator) (Handler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	handler, ok := c.handlers[field][operator]
	return handler, ok
}

func (c *Collection) RefineSchema(child *schema.CollectionSchema) *schema.CollectionSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := child.Clone()
	for field, handlers := range c.handlers {
		column := child.Column(field)
		if column == nil {
			continue
		}
		refined := column.Clone()
		for operator := range handlers {
			refined.FilterOperators[operator] = struct{}{}
		}
		s.Fields[field] = refined
	}
	return s
}

func (c *Collection) RefineFilter(ctx context.Context, caller *persistence.Caller, filter *query.PaginatedFilter) (*query.PaginatedFilter, error) {
	if filter.ConditionTree == nil {
		return filter, nil
	}
	tree, err := filter.ConditionTree.ReplaceLeafs(func(leaf *query.ConditionTreeLeaf) (query.ConditionTree, error) {
		return c.replaceLeaf(ctx, caller, leaf, nil)
	})
	if err != nil {
		return nil, err
	}
	return filter.WithConditionTree(tree), nil
}

func (c *Collection) replaceLeaf(ctx context.Context, caller *persistence.Caller, leaf *query.ConditionTreeLeaf, replacements []string) (query.ConditionTree, error) {
	prefix, rest, nested := strings.Cut(leaf.Field, query.Separator)
	if nested {
		related := c.related(prefix)
		if related == nil {
			return leaf, nil
		}
		replaced, err := related.replaceLeaf(ctx, caller, leaf.WithField(rest), replacements)
		if err != nil {
			return nil, err
		}
		return replaced.Nest(prefix), nil
	}

	handler, ok := c.handler(leaf.Field, leaf.Operator)
	if !ok {
		return leaf, nil
	}
	return c.computeEquivalent(ctx, caller, leaf, handler, replacements)
}

func (c *Collection) related(relation string) *Collection {
	field, ok := c.Child.Schema().Fields[relation]
	if !ok {
		return nil
	}
	foreign, isRelation := schema.ForeignCollection(field)
	if !isRelation {
		return nil
	}
	related, err := c.owner.Decorator(foreign)
	if err != nil {
		return nil
	}
	return related
}

func (c *Collection) computeEquivalent(ctx context.Context, caller *persistence.Caller, leaf *query.ConditionTreeLeaf, handler Handler, replacements []string) (query.ConditionTree, error) {
	id := fmt.Sprintf("%s.%s[%s]", c.Name(), leaf.Field, leaf.Operator)
	chain := append(slices.Clone(replacements), id)
	if slices.Contains(replacements, id) {
		return nil, &persistence.CycleError{Kind: persistence.OperatorCycle, Chain: chain}
	}

	if handler != nil {
		equivalent, err := handler(ctx, leaf.Value, &Context{Collection: c, Caller: caller})
		if err != nil {
			return nil, err
		}
		if equivalent != nil {
			result, err := equivalent.ReplaceLeafs(func(sub *query.ConditionTreeLeaf) (query.ConditionTree, error) {
				return c.replaceLeaf(ctx, caller, sub, chain)
			})
			if err != nil {
				return nil, err
			}
			if err := persistence.ValidateConditionTree(c, result); err != nil {
				return nil, err
			}
			return result, nil
		}
	}

	return c.emulate(ctx, caller, leaf)
}

// emulate lists the whole collection and matches leaf in memory.
func (c *Collection) emulate(ctx context.Context, caller *persistence.Caller, leaf *query.ConditionTreeLeaf) (query.ConditionTree, error) {
	start := time.Now()
	projection := persistence.PrimaryKeyProjection(c.Child).Union(leaf.Projection())

	records, err := c.Child.List(ctx, caller, &query.PaginatedFilter{}, projection)
	if err != nil {
		return nil, err
	}
	matched, err := query.Apply(leaf, records, caller.Location())
	if err != nil {
		return nil, err
	}

	c.Logger().Debug("Emulated operator",
		zap.String("field", leaf.Field),
		zap.String("operator", string(leaf.Operator)),
		zap.Int("scanned", len(records)),
		zap.Int("matched", len(matched)))
	c.Emit(persistence.OperatorEmulated, map[string]any{
		"field":    leaf.Field,
		"operator": string(leaf.Operator),
		"scanned":  len(records),
		"matched":  len(matched),
	}, start)

	return query.MatchRecords(c.Child.Schema(), matched)
}
