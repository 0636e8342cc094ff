package query

import (
	"fmt"

	"github.com/asaidimu/go-anansi-decorators/core/schema"
)

// MatchNone is a tree that no record satisfies.
func MatchNone() ConditionTree { return Or() }

// MatchAll is a tree that every record satisfies.
func MatchAll() ConditionTree { return And() }

// MatchIDs builds a tree selecting the records whose primary key is one of
// ids. Each id lists the primary key values in the order of PrimaryKeys().
func MatchIDs(s *schema.CollectionSchema, ids [][]any) (ConditionTree, error) {
	pks := s.PrimaryKeys()
	if len(pks) == 0 {
		return nil, fmt.Errorf("collection must have at least one primary key")
	}

	for _, pk := range pks {
		if !s.Column(pk).FilterOperators.Has(schema.OperatorEqual) {
			return nil, fmt.Errorf("field '%s' must support operators: ['Equal']", pk)
		}
	}

	if len(pks) == 1 {
		values := make([]any, len(ids))
		for i, id := range ids {
			if len(id) != 1 {
				return nil, fmt.Errorf("expected an id with 1 value, got %d", len(id))
			}
			values[i] = id[0]
		}
		if len(values) == 1 {
			return Leaf(pks[0], schema.OperatorEqual, values[0]), nil
		}
		if !s.Column(pks[0]).FilterOperators.Has(schema.OperatorIn) {
			return nil, fmt.Errorf("field '%s' must support operators: ['In']", pks[0])
		}
		return Leaf(pks[0], schema.OperatorIn, values), nil
	}

	conditions := make([]ConditionTree, 0, len(ids))
	for _, id := range ids {
		if len(id) != len(pks) {
			return nil, fmt.Errorf("expected an id with %d values, got %d", len(pks), len(id))
		}
		parts := make([]ConditionTree, len(pks))
		for i, pk := range pks {
			parts[i] = Leaf(pk, schema.OperatorEqual, id[i])
		}
		conditions = append(conditions, And(parts...))
	}
	return Or(conditions...), nil
}

// MatchRecords builds a tree selecting the given records by primary key.
func MatchRecords(s *schema.CollectionSchema, records []schema.Record) (ConditionTree, error) {
	pks := s.PrimaryKeys()
	ids := make([][]any, len(records))
	for i, record := range records {
		id := make([]any, len(pks))
		for j, pk := range pks {
			id[j] = record[pk]
		}
		ids[i] = id
	}
	return MatchIDs(s, ids)
}

// Intersect combines trees with And, dropping nil trees and flattening nested
// conjunctions. It returns nil when no tree is left.
func Intersect(trees ...ConditionTree) ConditionTree {
	return group(AggregatorAnd, trees)
}

// Union combines trees with Or, dropping nil trees and flattening nested
// disjunctions. It returns nil when no tree is left.
func Union(trees ...ConditionTree) ConditionTree {
	return group(AggregatorOr, trees)
}

func group(aggregator Aggregator, trees []ConditionTree) ConditionTree {
	var conditions []ConditionTree
	for _, tree := range trees {
		switch t := tree.(type) {
		case nil:
		case *ConditionTreeBranch:
			if t.Aggregator == aggregator {
				conditions = append(conditions, t.Conditions...)
			} else {
				conditions = append(conditions, t)
			}
		default:
			conditions = append(conditions, t)
		}
	}

	switch len(conditions) {
	case 0:
		return nil
	case 1:
		return conditions[0]
	default:
		return &ConditionTreeBranch{Aggregator: aggregator, Conditions: conditions}
	}
}

// FromPlainObject parses the JSON-like form of a tree, as produced by
// ToPlainObject or decoded from a request body.
func FromPlainObject(obj map[string]any) (ConditionTree, error) {
	if obj == nil {
		return nil, nil
	}

	if aggregator, ok := obj["aggregator"]; ok {
		name, _ := aggregator.(string)
		if name != string(AggregatorAnd) && name != string(AggregatorOr) {
			return nil, fmt.Errorf("invalid aggregator: %v", aggregator)
		}

		raw, ok := obj["conditions"].([]any)
		if !ok {
			if typed, isTyped := obj["conditions"].([]map[string]any); isTyped {
				raw = make([]any, len(typed))
				for i, c := range typed {
					raw[i] = c
				}
			} else {
				return nil, fmt.Errorf("conditions must be an array")
			}
		}

		conditions := make([]ConditionTree, 0, len(raw))
		for _, c := range raw {
			sub, ok := c.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("invalid condition: %v", c)
			}
			tree, err := FromPlainObject(sub)
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, tree)
		}
		if len(conditions) == 1 {
			return conditions[0], nil
		}
		return &ConditionTreeBranch{Aggregator: Aggregator(name), Conditions: conditions}, nil
	}

	field, fieldOk := obj["field"].(string)
	operator, opOk := obj["operator"].(string)
	if !fieldOk || !opOk {
		return nil, fmt.Errorf("failed to instantiate condition tree from %v", obj)
	}
	return Leaf(field, schema.Operator(operator), obj["value"]), nil
}
