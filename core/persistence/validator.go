package persistence

import (
	"github.com/asaidimu/go-anansi-decorators/core/query"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
)

// ValidateRecord checks a create or update patch against a collection: every
// key must be a writable field and values must fit their column type. Nested
// records of ManyToOne and OneToOne relations are checked against the related
// collection.
func ValidateRecord(c Collection, patch schema.Record) error {
	if len(patch) == 0 {
		return NewValidationError("The record data is empty")
	}

	var issues []schema.Issue
	for key, value := range patch {
		field, ok := c.Schema().Fields[key]
		if !ok {
			return NewValidationError("Unknown field %q", key)
		}

		switch f := field.(type) {
		case *schema.ColumnSchema:
			if f.IsReadOnly {
				return NewValidationError("Read only field %q cannot be written", key)
			}
			issues = append(issues, schema.ValidateValue(key, f, value)...)
		case *schema.ManyToOneSchema, *schema.OneToOneSchema:
			sub, ok := value.(map[string]any)
			if !ok {
				return NewValidationError("The given value of %q must be a record", key)
			}
			related, err := GetRelatedCollection(c, key)
			if err != nil {
				return err
			}
			if err := ValidateRecord(related, sub); err != nil {
				return err
			}
		case *schema.OneToManySchema, *schema.ManyToManySchema:
			return NewValidationError("Unexpected schema type '%s' while traversing record", field.Kind())
		default:
			panic(schema.UnknownFieldKind(field))
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Message: "Invalid record of collection '" + c.Name() + "'", Issues: issues}
	}
	return nil
}

var noValueOperators = schema.NewOperatorSet(
	schema.OperatorPresent, schema.OperatorBlank, schema.OperatorMissing,
	schema.OperatorFuture, schema.OperatorPast, schema.OperatorToday, schema.OperatorYesterday,
	schema.OperatorPreviousWeek, schema.OperatorPreviousWeekToDate,
	schema.OperatorPreviousMonth, schema.OperatorPreviousMonthToDate,
	schema.OperatorPreviousQuarter, schema.OperatorPreviousQuarterToDate,
	schema.OperatorPreviousYear, schema.OperatorPreviousYearToDate,
)

var numberValueOperators = schema.NewOperatorSet(
	schema.OperatorLongerThan, schema.OperatorShorterThan,
	schema.OperatorAfterXHoursAgo, schema.OperatorBeforeXHoursAgo,
	schema.OperatorPreviousXDays, schema.OperatorPreviousXDaysToDate,
)

var stringValueOperators = schema.NewOperatorSet(
	schema.OperatorLike, schema.OperatorILike, schema.OperatorMatch,
	schema.OperatorContains, schema.OperatorNotContains, schema.OperatorIContains,
	schema.OperatorStartsWith, schema.OperatorIStartsWith,
	schema.OperatorEndsWith, schema.OperatorIEndsWith,
)

var listValueOperators = schema.NewOperatorSet(schema.OperatorIn, schema.OperatorNotIn, schema.OperatorIncludesAll)

// ValidateConditionTree checks that every leaf targets an existing column,
// uses an operator the column supports and carries a value of the right
// shape.
func ValidateConditionTree(c Collection, tree query.ConditionTree) error {
	if tree == nil {
		return nil
	}

	var err error
	tree.EveryLeaf(func(leaf *query.ConditionTreeLeaf) bool {
		err = validateLeaf(c, leaf)
		return err == nil
	})
	return err
}

func validateLeaf(c Collection, leaf *query.ConditionTreeLeaf) error {
	column, err := GetColumnSchema(c, leaf.Field)
	if err != nil {
		return err
	}
	if !column.FilterOperators.Has(leaf.Operator) {
		return NewValidationError("The given operator '%s' is not supported by the column: '%s'. The allowed operators are: %v",
			leaf.Operator, leaf.Field, column.FilterOperators.Sorted())
	}

	switch {
	case noValueOperators.Has(leaf.Operator):
		return nil
	case numberValueOperators.Has(leaf.Operator):
		if _, ok := query.ToFloat64Strict(leaf.Value); !ok {
			return NewValidationError("The given value of '%s' must be a number for operator '%s'", leaf.Field, leaf.Operator)
		}
		return nil
	case stringValueOperators.Has(leaf.Operator):
		if _, ok := leaf.Value.(string); !ok {
			return NewValidationError("The given value of '%s' must be a string for operator '%s'", leaf.Field, leaf.Operator)
		}
		return nil
	case listValueOperators.Has(leaf.Operator):
		columnType := column.ColumnType
		if leaf.Operator == schema.OperatorIncludesAll {
			if array, ok := columnType.(schema.ArrayType); ok {
				columnType = array.Element
			}
		}
		issues := schema.ValidateTypeValue(leaf.Field, schema.ArrayType{Element: columnType}, leaf.Value)
		if leaf.Value == nil {
			return NewValidationError("The given value of '%s' must be a list for operator '%s'", leaf.Field, leaf.Operator)
		}
		if len(issues) > 0 {
			return &ValidationError{Message: "Invalid condition tree value", Issues: issues}
		}
		return nil
	default:
		if issues := schema.ValidateTypeValue(leaf.Field, column.ColumnType, leaf.Value); len(issues) > 0 {
			return &ValidationError{Message: "Invalid condition tree value", Issues: issues}
		}
		return nil
	}
}

// ValidateProjection checks that every path resolves against the collection.
func ValidateProjection(c Collection, p query.Projection) error {
	for _, path := range p {
		if _, err := GetFieldSchema(c, path); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSort checks that every sorted path is a sortable column.
func ValidateSort(c Collection, s query.Sort) error {
	for _, clause := range s {
		column, err := GetColumnSchema(c, clause.Field)
		if err != nil {
			return err
		}
		if !column.IsSortable {
			return NewValidationError("Column is not sortable: '%s'", clause.Field)
		}
	}
	return nil
}
