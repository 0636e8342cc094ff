// Package query defines the filtering model shared by storage adapters and
// decorators: condition trees, filters, projections, sorts, pages and
// aggregations, along with their in-memory evaluation.
package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/asaidimu/go-anansi-decorators/core/schema"
)

// Separator splits the relation part of a field path from the field of the
// related collection, e.g. "author:name".
const Separator = ":"

// Aggregator combines the conditions of a branch.
type Aggregator string

const (
	AggregatorAnd Aggregator = "And"
	AggregatorOr  Aggregator = "Or"
)

// ConditionTree is a boolean predicate over the fields of a record. It is
// either a *ConditionTreeLeaf or a *ConditionTreeBranch. Trees are treated as
// immutable: every transformation returns a new tree.
type ConditionTree interface {
	// ForEachLeaf calls fn on every leaf, depth first.
	ForEachLeaf(fn func(leaf *ConditionTreeLeaf))
	// EveryLeaf reports whether fn holds for all leaves.
	EveryLeaf(fn func(leaf *ConditionTreeLeaf) bool) bool
	// SomeLeaf reports whether fn holds for at least one leaf.
	SomeLeaf(fn func(leaf *ConditionTreeLeaf) bool) bool
	// ReplaceLeafs rebuilds the tree, substituting every leaf with the tree
	// returned by fn. A nil result removes the leaf.
	ReplaceLeafs(fn func(leaf *ConditionTreeLeaf) (ConditionTree, error)) (ConditionTree, error)
	// ReplaceFields renames every leaf field.
	ReplaceFields(fn func(field string) string) ConditionTree
	// Match evaluates the tree against a record.
	Match(record schema.Record, tz *time.Location) (bool, error)
	// Inverse returns the negation of the tree.
	Inverse() (ConditionTree, error)
	// Projection lists the fields needed to evaluate the tree.
	Projection() Projection
	// Nest prefixes every field with a relation name.
	Nest(prefix string) ConditionTree
	// Unnest strips the common relation prefix of every field.
	Unnest() (ConditionTree, error)
	// ToPlainObject returns the JSON-like form of the tree.
	ToPlainObject() map[string]any

	isConditionTree()
}

// ConditionTreeLeaf compares one field with a value.
type ConditionTreeLeaf struct {
	Field    string
	Operator schema.Operator
	Value    any
}

// ConditionTreeBranch combines conditions with an aggregator.
type ConditionTreeBranch struct {
	Aggregator Aggregator
	Conditions []ConditionTree
}

func (*ConditionTreeLeaf) isConditionTree()   {}
func (*ConditionTreeBranch) isConditionTree() {}

// Leaf builds a leaf.
func Leaf(field string, operator schema.Operator, value any) *ConditionTreeLeaf {
	return &ConditionTreeLeaf{Field: field, Operator: operator, Value: value}
}

// Override returns a copy of the leaf with the given operator and value.
func (l *ConditionTreeLeaf) Override(operator schema.Operator, value any) *ConditionTreeLeaf {
	return &ConditionTreeLeaf{Field: l.Field, Operator: operator, Value: value}
}

// WithField returns a copy of the leaf targeting another field.
func (l *ConditionTreeLeaf) WithField(field string) *ConditionTreeLeaf {
	return &ConditionTreeLeaf{Field: field, Operator: l.Operator, Value: l.Value}
}

func (l *ConditionTreeLeaf) ForEachLeaf(fn func(leaf *ConditionTreeLeaf)) { fn(l) }

func (l *ConditionTreeLeaf) EveryLeaf(fn func(leaf *ConditionTreeLeaf) bool) bool { return fn(l) }

func (l *ConditionTreeLeaf) SomeLeaf(fn func(leaf *ConditionTreeLeaf) bool) bool { return fn(l) }

func (l *ConditionTreeLeaf) ReplaceLeafs(fn func(leaf *ConditionTreeLeaf) (ConditionTree, error)) (ConditionTree, error) {
	return fn(l)
}

func (l *ConditionTreeLeaf) ReplaceFields(fn func(field string) string) ConditionTree {
	return l.WithField(fn(l.Field))
}

func (l *ConditionTreeLeaf) Match(record schema.Record, tz *time.Location) (bool, error) {
	return matchLeaf(l, record, tz)
}

// Inverse negates the leaf by switching to the opposite operator.
func (l *ConditionTreeLeaf) Inverse() (ConditionTree, error) {
	notOp := schema.Operator("Not" + string(l.Operator))
	for _, op := range schema.AllOperators {
		if op == notOp {
			return l.Override(notOp, l.Value), nil
		}
	}
	if strings.HasPrefix(string(l.Operator), "Not") {
		return l.Override(schema.Operator(strings.TrimPrefix(string(l.Operator), "Not")), l.Value), nil
	}

	switch l.Operator {
	case schema.OperatorBlank:
		return l.Override(schema.OperatorPresent, l.Value), nil
	case schema.OperatorPresent:
		return l.Override(schema.OperatorBlank, l.Value), nil
	default:
		return nil, fmt.Errorf("operator '%s' cannot be inverted", l.Operator)
	}
}

func (l *ConditionTreeLeaf) Projection() Projection { return Projection{l.Field} }

func (l *ConditionTreeLeaf) Nest(prefix string) ConditionTree {
	if prefix == "" {
		return l
	}
	return l.WithField(prefix + Separator + l.Field)
}

func (l *ConditionTreeLeaf) Unnest() (ConditionTree, error) {
	_, rest, ok := strings.Cut(l.Field, Separator)
	if !ok {
		return nil, fmt.Errorf("cannot unnest field '%s': it is not a relation path", l.Field)
	}
	return l.WithField(rest), nil
}

func (l *ConditionTreeLeaf) ToPlainObject() map[string]any {
	return map[string]any{"field": l.Field, "operator": string(l.Operator), "value": l.Value}
}

// And builds a conjunction.
func And(conditions ...ConditionTree) *ConditionTreeBranch {
	return &ConditionTreeBranch{Aggregator: AggregatorAnd, Conditions: conditions}
}

// Or builds a disjunction.
func Or(conditions ...ConditionTree) *ConditionTreeBranch {
	return &ConditionTreeBranch{Aggregator: AggregatorOr, Conditions: conditions}
}

func (b *ConditionTreeBranch) ForEachLeaf(fn func(leaf *ConditionTreeLeaf)) {
	for _, c := range b.Conditions {
		c.ForEachLeaf(fn)
	}
}

func (b *ConditionTreeBranch) EveryLeaf(fn func(leaf *ConditionTreeLeaf) bool) bool {
	for _, c := range b.Conditions {
		if !c.EveryLeaf(fn) {
			return false
		}
	}
	return true
}

func (b *ConditionTreeBranch) SomeLeaf(fn func(leaf *ConditionTreeLeaf) bool) bool {
	for _, c := range b.Conditions {
		if c.SomeLeaf(fn) {
			return true
		}
	}
	return false
}

func (b *ConditionTreeBranch) ReplaceLeafs(fn func(leaf *ConditionTreeLeaf) (ConditionTree, error)) (ConditionTree, error) {
	conditions := make([]ConditionTree, 0, len(b.Conditions))
	for _, c := range b.Conditions {
		replaced, err := c.ReplaceLeafs(fn)
		if err != nil {
			return nil, err
		}
		if replaced != nil {
			conditions = append(conditions, replaced)
		}
	}
	return &ConditionTreeBranch{Aggregator: b.Aggregator, Conditions: conditions}, nil
}

func (b *ConditionTreeBranch) ReplaceFields(fn func(field string) string) ConditionTree {
	conditions := make([]ConditionTree, len(b.Conditions))
	for i, c := range b.Conditions {
		conditions[i] = c.ReplaceFields(fn)
	}
	return &ConditionTreeBranch{Aggregator: b.Aggregator, Conditions: conditions}
}

// Match evaluates the branch. An empty And matches everything, an empty Or
// matches nothing.
func (b *ConditionTreeBranch) Match(record schema.Record, tz *time.Location) (bool, error) {
	switch b.Aggregator {
	case AggregatorAnd:
		for _, c := range b.Conditions {
			ok, err := c.Match(record, tz)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case AggregatorOr:
		for _, c := range b.Conditions {
			ok, err := c.Match(record, tz)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unsupported aggregator: %s", b.Aggregator)
	}
}

func (b *ConditionTreeBranch) Inverse() (ConditionTree, error) {
	conditions := make([]ConditionTree, len(b.Conditions))
	for i, c := range b.Conditions {
		inverse, err := c.Inverse()
		if err != nil {
			return nil, err
		}
		conditions[i] = inverse
	}

	aggregator := AggregatorOr
	if b.Aggregator == AggregatorOr {
		aggregator = AggregatorAnd
	}
	return &ConditionTreeBranch{Aggregator: aggregator, Conditions: conditions}, nil
}

func (b *ConditionTreeBranch) Projection() Projection {
	var out Projection
	for _, c := range b.Conditions {
		out = out.Union(c.Projection())
	}
	return out
}

func (b *ConditionTreeBranch) Nest(prefix string) ConditionTree {
	conditions := make([]ConditionTree, len(b.Conditions))
	for i, c := range b.Conditions {
		conditions[i] = c.Nest(prefix)
	}
	return &ConditionTreeBranch{Aggregator: b.Aggregator, Conditions: conditions}
}

func (b *ConditionTreeBranch) Unnest() (ConditionTree, error) {
	conditions := make([]ConditionTree, len(b.Conditions))
	for i, c := range b.Conditions {
		unnested, err := c.Unnest()
		if err != nil {
			return nil, err
		}
		conditions[i] = unnested
	}
	return &ConditionTreeBranch{Aggregator: b.Aggregator, Conditions: conditions}, nil
}

func (b *ConditionTreeBranch) ToPlainObject() map[string]any {
	conditions := make([]any, len(b.Conditions))
	for i, c := range b.Conditions {
		conditions[i] = c.ToPlainObject()
	}
	return map[string]any{"aggregator": string(b.Aggregator), "conditions": conditions}
}

// Apply keeps the records matching the tree. A nil tree keeps everything.
func Apply(tree ConditionTree, records []schema.Record, tz *time.Location) ([]schema.Record, error) {
	if tree == nil {
		return records, nil
	}
	out := make([]schema.Record, 0, len(records))
	for _, record := range records {
		ok, err := tree.Match(record, tz)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, record)
		}
	}
	return out, nil
}
