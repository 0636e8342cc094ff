package sqlite

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/core/query"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
)

// Operators lists the operators translated to SQL.
var Operators = schema.NewOperatorSet(
	schema.OperatorEqual, schema.OperatorNotEqual, schema.OperatorLessThan, schema.OperatorGreaterThan,
	schema.OperatorIn, schema.OperatorNotIn, schema.OperatorLike, schema.OperatorILike,
	schema.OperatorPresent, schema.OperatorMissing,
)

// queryBuilder translates filters of one collection into squirrel clauses.
type queryBuilder struct {
	table  string
	schema *schema.CollectionSchema
}

// column resolves a field to its quoted name. Relation paths are not
// supported.
func (b *queryBuilder) column(field string) (string, *schema.ColumnSchema, error) {
	if strings.Contains(field, query.Separator) {
		return "", nil, persistence.NewValidationError("Relation path '%s' is not supported by the sqlite adapter", field)
	}
	column := b.schema.Column(field)
	if column == nil {
		return "", nil, persistence.NewValidationError("Column not found: '%s.%s'", b.table, field)
	}
	return quoteIdentifier(field), column, nil
}

// where builds the clause matching a filter. A nil result matches
// everything.
func (b *queryBuilder) where(filter *query.Filter) (sq.Sqlizer, error) {
	if filter == nil {
		return nil, nil
	}
	if filter.Segment != "" {
		return nil, persistence.NewValidationError("Unknown segment '%s'", filter.Segment)
	}

	var clauses sq.And
	if filter.ConditionTree != nil {
		clause, err := b.condition(filter.ConditionTree)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}
	if filter.Search != "" {
		clauses = append(clauses, b.search(filter.Search))
	}
	if len(clauses) == 0 {
		return nil, nil
	}
	return clauses, nil
}

// search matches the term against every string column.
func (b *queryBuilder) search(term string) sq.Sqlizer {
	pattern := "%" + strings.ToLower(term) + "%"
	var or sq.Or
	for _, name := range b.schema.FieldNames() {
		column := b.schema.Column(name)
		if column == nil || column.ColumnType != schema.TypeString {
			continue
		}
		or = append(or, sq.Expr("LOWER("+quoteIdentifier(name)+") LIKE ?", pattern))
	}
	return or
}

func (b *queryBuilder) condition(tree query.ConditionTree) (sq.Sqlizer, error) {
	switch t := tree.(type) {
	case *query.ConditionTreeBranch:
		clauses := make([]sq.Sqlizer, len(t.Conditions))
		for i, condition := range t.Conditions {
			clause, err := b.condition(condition)
			if err != nil {
				return nil, err
			}
			clauses[i] = clause
		}
		if t.Aggregator == query.AggregatorOr {
			return sq.Or(clauses), nil
		}
		return sq.And(clauses), nil
	case *query.ConditionTreeLeaf:
		return b.leaf(t)
	default:
		return nil, fmt.Errorf("unexpected condition tree %T", tree)
	}
}

func (b *queryBuilder) leaf(leaf *query.ConditionTreeLeaf) (sq.Sqlizer, error) {
	name, column, err := b.column(leaf.Field)
	if err != nil {
		return nil, err
	}

	value := leaf.Value
	switch leaf.Operator {
	case schema.OperatorIn, schema.OperatorNotIn:
		values, ok := value.([]any)
		if !ok {
			return nil, persistence.NewValidationError("Operator '%s' of '%s' expects a list", leaf.Operator, leaf.Field)
		}
		converted := make([]any, len(values))
		for i, v := range values {
			if converted[i], err = toStorage(column, v); err != nil {
				return nil, err
			}
		}
		value = converted
	case schema.OperatorPresent, schema.OperatorMissing:
	default:
		if value, err = toStorage(column, value); err != nil {
			return nil, err
		}
	}

	switch leaf.Operator {
	case schema.OperatorEqual, schema.OperatorIn:
		return sq.Eq{name: value}, nil
	case schema.OperatorNotEqual, schema.OperatorNotIn:
		return sq.NotEq{name: value}, nil
	case schema.OperatorLessThan:
		return sq.Lt{name: value}, nil
	case schema.OperatorGreaterThan:
		return sq.Gt{name: value}, nil
	case schema.OperatorLike:
		return sq.Like{name: value}, nil
	case schema.OperatorILike:
		return sq.Expr("LOWER("+name+") LIKE LOWER(?)", value), nil
	case schema.OperatorPresent:
		return sq.NotEq{name: nil}, nil
	case schema.OperatorMissing:
		return sq.Eq{name: nil}, nil
	default:
		return nil, fmt.Errorf("%w: operator '%s' on '%s.%s'", persistence.ErrUnsupported, leaf.Operator, b.table, leaf.Field)
	}
}

// columns resolves a projection. An empty projection selects every column.
func (b *queryBuilder) columns(projection query.Projection) ([]string, error) {
	if len(projection) == 0 {
		var out []string
		for _, name := range b.schema.FieldNames() {
			if b.schema.Column(name) != nil {
				out = append(out, quoteIdentifier(name))
			}
		}
		return out, nil
	}

	out := make([]string, len(projection))
	for i, field := range projection {
		name, _, err := b.column(field)
		if err != nil {
			return nil, err
		}
		out[i] = name
	}
	return out, nil
}

// selectQuery builds the SELECT of a List call.
func (b *queryBuilder) selectQuery(filter *query.PaginatedFilter, projection query.Projection) (sq.SelectBuilder, error) {
	columns, err := b.columns(projection)
	if err != nil {
		return sq.SelectBuilder{}, err
	}
	stmt := sq.Select(columns...).From(quoteIdentifier(b.table))
	if filter == nil {
		return stmt, nil
	}

	where, err := b.where(&filter.Filter)
	if err != nil {
		return sq.SelectBuilder{}, err
	}
	if where != nil {
		stmt = stmt.Where(where)
	}

	for _, clause := range filter.Sort {
		name, _, err := b.column(clause.Field)
		if err != nil {
			return sq.SelectBuilder{}, err
		}
		if clause.Ascending {
			stmt = stmt.OrderBy(name + " ASC")
		} else {
			stmt = stmt.OrderBy(name + " DESC")
		}
	}

	if page := filter.Page; page != nil {
		if page.Limit > 0 {
			stmt = stmt.Limit(uint64(page.Limit))
		} else if page.Skip > 0 {
			stmt = stmt.Limit(uint64(1<<63 - 1))
		}
		if page.Skip > 0 {
			stmt = stmt.Offset(uint64(page.Skip))
		}
	}
	return stmt, nil
}

var aggregateFunctions = map[query.AggregateOperation]string{
	query.AggregateCount: "COUNT",
	query.AggregateSum:   "SUM",
	query.AggregateAvg:   "AVG",
	query.AggregateMax:   "MAX",
	query.AggregateMin:   "MIN",
}

// aggregateQuery builds a GROUP BY query. Date groups are not handled here.
func (b *queryBuilder) aggregateQuery(filter *query.Filter, aggregation *query.Aggregation, limit int) (sq.SelectBuilder, error) {
	function, ok := aggregateFunctions[aggregation.Operation]
	if !ok {
		return sq.SelectBuilder{}, persistence.NewValidationError("Unknown aggregation '%s'", aggregation.Operation)
	}

	target := "*"
	if aggregation.Field != "" {
		name, _, err := b.column(aggregation.Field)
		if err != nil {
			return sq.SelectBuilder{}, err
		}
		target = name
	}

	columns := []string{fmt.Sprintf("%s(%s) AS %s", function, target, quoteIdentifier(valueAlias))}
	var groups []string
	for _, group := range aggregation.Groups {
		name, _, err := b.column(group.Field)
		if err != nil {
			return sq.SelectBuilder{}, err
		}
		columns = append(columns, name)
		groups = append(groups, name)
	}

	stmt := sq.Select(columns...).From(quoteIdentifier(b.table))
	where, err := b.where(filter)
	if err != nil {
		return sq.SelectBuilder{}, err
	}
	if where != nil {
		stmt = stmt.Where(where)
	}
	if len(groups) > 0 {
		stmt = stmt.GroupBy(groups...)
	}
	stmt = stmt.OrderBy(quoteIdentifier(valueAlias) + " DESC")
	if limit > 0 {
		stmt = stmt.Limit(uint64(limit))
	}
	return stmt, nil
}

const valueAlias = "__value"
