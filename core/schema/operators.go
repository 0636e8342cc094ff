package schema

import "sort"

// Operator is a filter operator usable in a condition tree leaf.
type Operator string

// Supported operators.
const (
	OperatorPresent     Operator = "Present"
	OperatorBlank       Operator = "Blank"
	OperatorMissing     Operator = "Missing"
	OperatorEqual       Operator = "Equal"
	OperatorNotEqual    Operator = "NotEqual"
	OperatorLessThan    Operator = "LessThan"
	OperatorGreaterThan Operator = "GreaterThan"
	OperatorIn          Operator = "In"
	OperatorNotIn       Operator = "NotIn"
	OperatorLike        Operator = "Like"
	OperatorILike       Operator = "ILike"
	OperatorContains    Operator = "Contains"
	OperatorNotContains Operator = "NotContains"
	OperatorIContains   Operator = "IContains"
	OperatorStartsWith  Operator = "StartsWith"
	OperatorIStartsWith Operator = "IStartsWith"
	OperatorEndsWith    Operator = "EndsWith"
	OperatorIEndsWith   Operator = "IEndsWith"
	OperatorIncludesAll Operator = "IncludesAll"
	OperatorLongerThan  Operator = "LongerThan"
	OperatorShorterThan Operator = "ShorterThan"
	OperatorMatch       Operator = "Match"

	// Date operators. Relative ones are resolved in the caller's timezone.
	OperatorBefore                Operator = "Before"
	OperatorAfter                 Operator = "After"
	OperatorAfterXHoursAgo        Operator = "AfterXHoursAgo"
	OperatorBeforeXHoursAgo       Operator = "BeforeXHoursAgo"
	OperatorFuture                Operator = "Future"
	OperatorPast                  Operator = "Past"
	OperatorToday                 Operator = "Today"
	OperatorYesterday             Operator = "Yesterday"
	OperatorPreviousXDays         Operator = "PreviousXDays"
	OperatorPreviousXDaysToDate   Operator = "PreviousXDaysToDate"
	OperatorPreviousWeek          Operator = "PreviousWeek"
	OperatorPreviousWeekToDate    Operator = "PreviousWeekToDate"
	OperatorPreviousMonth         Operator = "PreviousMonth"
	OperatorPreviousMonthToDate   Operator = "PreviousMonthToDate"
	OperatorPreviousQuarter       Operator = "PreviousQuarter"
	OperatorPreviousQuarterToDate Operator = "PreviousQuarterToDate"
	OperatorPreviousYear          Operator = "PreviousYear"
	OperatorPreviousYearToDate    Operator = "PreviousYearToDate"
)

// AllOperators lists every filter operator, in declaration order.
var AllOperators = []Operator{
	OperatorPresent, OperatorBlank, OperatorMissing, OperatorEqual, OperatorNotEqual,
	OperatorLessThan, OperatorGreaterThan, OperatorIn, OperatorNotIn, OperatorLike,
	OperatorILike, OperatorContains, OperatorNotContains, OperatorIContains,
	OperatorStartsWith, OperatorIStartsWith, OperatorEndsWith, OperatorIEndsWith,
	OperatorIncludesAll, OperatorLongerThan, OperatorShorterThan, OperatorMatch,
	OperatorBefore, OperatorAfter, OperatorAfterXHoursAgo, OperatorBeforeXHoursAgo,
	OperatorFuture, OperatorPast, OperatorToday, OperatorYesterday,
	OperatorPreviousXDays, OperatorPreviousXDaysToDate, OperatorPreviousWeek,
	OperatorPreviousWeekToDate, OperatorPreviousMonth, OperatorPreviousMonthToDate,
	OperatorPreviousQuarter, OperatorPreviousQuarterToDate, OperatorPreviousYear,
	OperatorPreviousYearToDate,
}

// UniqueOperators are the operators whose value is a single scalar that can be
// matched by identity. Used to pick operators that carry a record key.
var UniqueOperators = NewOperatorSet(OperatorEqual, OperatorNotEqual, OperatorIn, OperatorNotIn)

// OperatorSet is a set of filter operators.
type OperatorSet map[Operator]struct{}

// NewOperatorSet builds a set from the given operators.
func NewOperatorSet(ops ...Operator) OperatorSet {
	set := make(OperatorSet, len(ops))
	for _, op := range ops {
		set[op] = struct{}{}
	}
	return set
}

// Has reports whether op belongs to the set. A nil set is empty.
func (s OperatorSet) Has(op Operator) bool {
	_, ok := s[op]
	return ok
}

// Clone copies the set.
func (s OperatorSet) Clone() OperatorSet {
	out := make(OperatorSet, len(s))
	for op := range s {
		out[op] = struct{}{}
	}
	return out
}

// Union returns a new set holding the operators of both sets.
func (s OperatorSet) Union(other OperatorSet) OperatorSet {
	out := s.Clone()
	for op := range other {
		out[op] = struct{}{}
	}
	return out
}

// Sorted returns the operators of the set in lexical order.
func (s OperatorSet) Sorted() []Operator {
	out := make([]Operator, 0, len(s))
	for op := range s {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var (
	defaultOperators = []Operator{OperatorPresent, OperatorBlank, OperatorMissing, OperatorEqual, OperatorNotEqual, OperatorIn, OperatorNotIn}
	orderOperators   = []Operator{OperatorLessThan, OperatorGreaterThan}
	stringOperators  = []Operator{
		OperatorMatch, OperatorLike, OperatorILike, OperatorContains, OperatorNotContains, OperatorIContains,
		OperatorStartsWith, OperatorIStartsWith, OperatorEndsWith, OperatorIEndsWith,
		OperatorLongerThan, OperatorShorterThan,
	}
	dateOperators = []Operator{
		OperatorBefore, OperatorAfter, OperatorAfterXHoursAgo, OperatorBeforeXHoursAgo,
		OperatorFuture, OperatorPast, OperatorToday, OperatorYesterday,
		OperatorPreviousXDays, OperatorPreviousXDaysToDate, OperatorPreviousWeek,
		OperatorPreviousWeekToDate, OperatorPreviousMonth, OperatorPreviousMonthToDate,
		OperatorPreviousQuarter, OperatorPreviousQuarterToDate, OperatorPreviousYear,
		OperatorPreviousYearToDate,
	}
)

// OperatorsForType lists the operators that make sense on a column type, in
// declaration order.
func OperatorsForType(t ColumnType) []Operator {
	var ops []Operator
	switch t {
	case TypeString:
		ops = concat(defaultOperators, orderOperators, stringOperators)
	case TypeNumber, TypeTimeonly:
		ops = concat(defaultOperators, orderOperators)
	case TypeDate, TypeDateonly:
		ops = concat(defaultOperators, orderOperators, dateOperators)
	case TypeBoolean, TypeBinary, TypeEnum, TypeUUID:
		ops = defaultOperators
	case TypePoint:
		ops = []Operator{OperatorPresent, OperatorMissing, OperatorEqual, OperatorNotEqual}
	case TypeJSON:
		ops = []Operator{OperatorPresent, OperatorMissing}
	default:
		switch t.(type) {
		case ArrayType:
			ops = []Operator{OperatorPresent, OperatorBlank, OperatorMissing, OperatorIncludesAll}
		default:
			ops = []Operator{OperatorPresent, OperatorMissing}
		}
	}

	set := NewOperatorSet(ops...)
	out := make([]Operator, 0, len(set))
	for _, op := range AllOperators {
		if set.Has(op) {
			out = append(out, op)
		}
	}
	return out
}

func concat(lists ...[]Operator) []Operator {
	var out []Operator
	for _, list := range lists {
		out = append(out, list...)
	}
	return out
}
