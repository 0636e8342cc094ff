package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/asaidimu/go-anansi-decorators/core/schema"
)

// now is the clock used by relative date operators.
var now = time.Now

type replacer func(leaf *ConditionTreeLeaf, tz *time.Location) ConditionTree

type alternative struct {
	dependsOn []schema.Operator
	forTypes  []schema.PrimitiveType
	replacer  replacer
}

var alternatives map[schema.Operator][]alternative

func init() {
	alternatives = map[schema.Operator][]alternative{}
	for op, alts := range comparisonAlternatives() {
		alternatives[op] = append(alternatives[op], alts...)
	}
	for op, alts := range patternAlternatives() {
		alternatives[op] = append(alternatives[op], alts...)
	}
	for op, alts := range timeAlternatives() {
		alternatives[op] = append(alternatives[op], alts...)
	}
}

// GetEquivalentTree rewrites a leaf into a tree that only uses operators of
// ops. It returns nil when no such rewrite exists for the column type.
func GetEquivalentTree(leaf *ConditionTreeLeaf, ops schema.OperatorSet, columnType schema.ColumnType, tz *time.Location) ConditionTree {
	if tz == nil {
		tz = time.UTC
	}
	r := getReplacer(leaf.Operator, ops, columnType, map[schema.Operator]bool{})
	if r == nil {
		return nil
	}
	return r(leaf, tz)
}

// GetEquivalentOperators lists every operator that can be expressed with ops
// on a column of the given type. The result includes ops itself.
func GetEquivalentOperators(ops schema.OperatorSet, columnType schema.ColumnType) schema.OperatorSet {
	out := schema.NewOperatorSet()
	for _, op := range schema.AllOperators {
		if getReplacer(op, ops, columnType, map[schema.Operator]bool{}) != nil {
			out[op] = struct{}{}
		}
	}
	return out
}

func getReplacer(op schema.Operator, ops schema.OperatorSet, columnType schema.ColumnType, visited map[schema.Operator]bool) replacer {
	if ops.Has(op) {
		return func(leaf *ConditionTreeLeaf, _ *time.Location) ConditionTree { return leaf }
	}
	if visited[op] {
		return nil
	}

	for _, alt := range alternatives[op] {
		if !acceptsType(alt.forTypes, columnType) {
			continue
		}

		next := make(map[schema.Operator]bool, len(visited)+1)
		for k := range visited {
			next[k] = true
		}
		next[op] = true

		deps := make(map[schema.Operator]replacer, len(alt.dependsOn))
		for _, dep := range alt.dependsOn {
			r := getReplacer(dep, ops, columnType, next)
			if r == nil {
				deps = nil
				break
			}
			deps[dep] = r
		}
		if deps == nil {
			continue
		}

		build := alt.replacer
		return func(leaf *ConditionTreeLeaf, tz *time.Location) ConditionTree {
			tree, _ := build(leaf, tz).ReplaceLeafs(func(sub *ConditionTreeLeaf) (ConditionTree, error) {
				return deps[sub.Operator](sub, tz), nil
			})
			return tree
		}
	}
	return nil
}

func acceptsType(types []schema.PrimitiveType, columnType schema.ColumnType) bool {
	if types == nil {
		return true
	}
	primitive, ok := columnType.(schema.PrimitiveType)
	if !ok {
		return false
	}
	for _, t := range types {
		if t == primitive {
			return true
		}
	}
	return false
}

func comparisonAlternatives() map[schema.Operator][]alternative {
	return map[schema.Operator][]alternative{
		schema.OperatorBlank: {
			{
				dependsOn: []schema.Operator{schema.OperatorIn},
				forTypes:  []schema.PrimitiveType{schema.TypeString},
				replacer: func(l *ConditionTreeLeaf, _ *time.Location) ConditionTree {
					return l.Override(schema.OperatorIn, []any{nil, ""})
				},
			},
			{
				dependsOn: []schema.Operator{schema.OperatorMissing},
				replacer: func(l *ConditionTreeLeaf, _ *time.Location) ConditionTree {
					return l.Override(schema.OperatorMissing, nil)
				},
			},
		},
		schema.OperatorMissing: {{
			dependsOn: []schema.Operator{schema.OperatorEqual},
			replacer: func(l *ConditionTreeLeaf, _ *time.Location) ConditionTree {
				return l.Override(schema.OperatorEqual, nil)
			},
		}},
		schema.OperatorPresent: {
			{
				dependsOn: []schema.Operator{schema.OperatorNotIn},
				forTypes:  []schema.PrimitiveType{schema.TypeString},
				replacer: func(l *ConditionTreeLeaf, _ *time.Location) ConditionTree {
					return l.Override(schema.OperatorNotIn, []any{nil, ""})
				},
			},
			{
				dependsOn: []schema.Operator{schema.OperatorNotEqual},
				replacer: func(l *ConditionTreeLeaf, _ *time.Location) ConditionTree {
					return l.Override(schema.OperatorNotEqual, nil)
				},
			},
		},
		schema.OperatorEqual: {{
			dependsOn: []schema.Operator{schema.OperatorIn},
			replacer: func(l *ConditionTreeLeaf, _ *time.Location) ConditionTree {
				return l.Override(schema.OperatorIn, []any{l.Value})
			},
		}},
		schema.OperatorIn: {{
			dependsOn: []schema.Operator{schema.OperatorEqual},
			replacer: func(l *ConditionTreeLeaf, _ *time.Location) ConditionTree {
				values, _ := toSlice(l.Value)
				conditions := make([]ConditionTree, len(values))
				for i, v := range values {
					conditions[i] = l.Override(schema.OperatorEqual, v)
				}
				return Or(conditions...)
			},
		}},
		schema.OperatorNotEqual: {{
			dependsOn: []schema.Operator{schema.OperatorNotIn},
			replacer: func(l *ConditionTreeLeaf, _ *time.Location) ConditionTree {
				return l.Override(schema.OperatorNotIn, []any{l.Value})
			},
		}},
		schema.OperatorNotIn: {{
			dependsOn: []schema.Operator{schema.OperatorNotEqual},
			replacer: func(l *ConditionTreeLeaf, _ *time.Location) ConditionTree {
				values, _ := toSlice(l.Value)
				conditions := make([]ConditionTree, len(values))
				for i, v := range values {
					conditions[i] = l.Override(schema.OperatorNotEqual, v)
				}
				return And(conditions...)
			},
		}},
	}
}

func likeAlternative(op schema.Operator, pattern func(string) string) alternative {
	return alternative{
		dependsOn: []schema.Operator{op},
		forTypes:  []schema.PrimitiveType{schema.TypeString},
		replacer: func(l *ConditionTreeLeaf, _ *time.Location) ConditionTree {
			return l.Override(op, pattern(escapeLike(fmt.Sprint(l.Value))))
		},
	}
}

func lengthAlternative(longer bool) alternative {
	return alternative{
		dependsOn: []schema.Operator{schema.OperatorMatch},
		forTypes:  []schema.PrimitiveType{schema.TypeString},
		replacer: func(l *ConditionTreeLeaf, _ *time.Location) ConditionTree {
			n, _ := ToFloat64(l.Value)
			if longer {
				return l.Override(schema.OperatorMatch, fmt.Sprintf("^.{%d,}$", int(n)+1))
			}
			return l.Override(schema.OperatorMatch, fmt.Sprintf("^.{0,%d}$", max(int(n)-1, 0)))
		},
	}
}

func patternAlternatives() map[schema.Operator][]alternative {
	contains := func(v string) string { return "%" + v + "%" }
	starts := func(v string) string { return v + "%" }
	ends := func(v string) string { return "%" + v }

	return map[schema.Operator][]alternative{
		schema.OperatorContains:    {likeAlternative(schema.OperatorLike, contains)},
		schema.OperatorStartsWith:  {likeAlternative(schema.OperatorLike, starts)},
		schema.OperatorEndsWith:    {likeAlternative(schema.OperatorLike, ends)},
		schema.OperatorIContains:   {likeAlternative(schema.OperatorILike, contains)},
		schema.OperatorIStartsWith: {likeAlternative(schema.OperatorILike, starts)},
		schema.OperatorIEndsWith:   {likeAlternative(schema.OperatorILike, ends)},
		schema.OperatorLongerThan:  {lengthAlternative(true)},
		schema.OperatorShorterThan: {lengthAlternative(false)},
	}
}

// escapeLike keeps LIKE wildcards of a user value literal.
func escapeLike(v string) string {
	return strings.NewReplacer("%", "\\%", "_", "\\_").Replace(v)
}

func timeAlternatives() map[schema.Operator][]alternative {
	dateTypes := []schema.PrimitiveType{schema.TypeDate, schema.TypeDateonly}

	out := map[schema.Operator][]alternative{
		schema.OperatorBefore: {{
			dependsOn: []schema.Operator{schema.OperatorLessThan},
			forTypes:  dateTypes,
			replacer: func(l *ConditionTreeLeaf, _ *time.Location) ConditionTree {
				return l.Override(schema.OperatorLessThan, l.Value)
			},
		}},
		schema.OperatorAfter: {{
			dependsOn: []schema.Operator{schema.OperatorGreaterThan},
			forTypes:  dateTypes,
			replacer: func(l *ConditionTreeLeaf, _ *time.Location) ConditionTree {
				return l.Override(schema.OperatorGreaterThan, l.Value)
			},
		}},
	}

	for _, primitive := range dateTypes {
		columnType := primitive
		forTypes := []schema.PrimitiveType{primitive}
		for op, kind := range relativeOperators {
			deps := []schema.Operator{schema.OperatorLessThan}
			switch kind {
			case relativeAfter:
				deps = []schema.Operator{schema.OperatorGreaterThan}
			case relativeInterval:
				deps = []schema.Operator{schema.OperatorEqual, schema.OperatorGreaterThan, schema.OperatorLessThan}
			}
			out[op] = append(out[op], alternative{
				dependsOn: deps,
				forTypes:  forTypes,
				replacer: func(l *ConditionTreeLeaf, tz *time.Location) ConditionTree {
					return RelativeDateEquivalent(l, columnType, tz)
				},
			})
		}
	}
	return out
}

type relativeKind int

const (
	relativeBefore relativeKind = iota
	relativeAfter
	relativeInterval
)

var relativeOperators = map[schema.Operator]relativeKind{
	schema.OperatorPast:                  relativeBefore,
	schema.OperatorBeforeXHoursAgo:       relativeBefore,
	schema.OperatorFuture:                relativeAfter,
	schema.OperatorAfterXHoursAgo:        relativeAfter,
	schema.OperatorToday:                 relativeInterval,
	schema.OperatorYesterday:             relativeInterval,
	schema.OperatorPreviousXDays:         relativeInterval,
	schema.OperatorPreviousXDaysToDate:   relativeInterval,
	schema.OperatorPreviousWeek:          relativeInterval,
	schema.OperatorPreviousWeekToDate:    relativeInterval,
	schema.OperatorPreviousMonth:         relativeInterval,
	schema.OperatorPreviousMonthToDate:   relativeInterval,
	schema.OperatorPreviousQuarter:       relativeInterval,
	schema.OperatorPreviousQuarterToDate: relativeInterval,
	schema.OperatorPreviousYear:          relativeInterval,
	schema.OperatorPreviousYearToDate:    relativeInterval,
}

// IsRelativeDateOperator reports whether op is resolved against the current
// time.
func IsRelativeDateOperator(op schema.Operator) bool {
	_, ok := relativeOperators[op]
	return ok
}

// RelativeDateEquivalent resolves a relative date leaf into absolute
// comparisons, computed in tz. Intervals include their start and exclude
// their end. It returns nil for other operators.
func RelativeDateEquivalent(l *ConditionTreeLeaf, columnType schema.ColumnType, tz *time.Location) ConditionTree {
	if tz == nil {
		tz = time.UTC
	}
	current := now().In(tz)
	n, _ := ToFloat64(l.Value)
	days := int(n)

	format := func(t time.Time) string {
		if columnType == schema.TypeDateonly {
			return t.In(tz).Format(time.DateOnly)
		}
		return t.UTC().Format(time.RFC3339)
	}
	interval := func(start, end time.Time) ConditionTree {
		from := format(start)
		return And(
			Or(l.Override(schema.OperatorEqual, from), l.Override(schema.OperatorGreaterThan, from)),
			l.Override(schema.OperatorLessThan, format(end)),
		)
	}

	day := startOfDay(current)
	week := startOfWeek(current)
	month := time.Date(current.Year(), current.Month(), 1, 0, 0, 0, 0, tz)
	quarter := time.Date(current.Year(), time.Month((int(current.Month())-1)/3*3+1), 1, 0, 0, 0, 0, tz)
	year := time.Date(current.Year(), time.January, 1, 0, 0, 0, 0, tz)

	switch l.Operator {
	case schema.OperatorPast:
		return l.Override(schema.OperatorLessThan, format(current))
	case schema.OperatorFuture:
		return l.Override(schema.OperatorGreaterThan, format(current))
	case schema.OperatorBeforeXHoursAgo:
		return l.Override(schema.OperatorLessThan, format(current.Add(-time.Duration(n*float64(time.Hour)))))
	case schema.OperatorAfterXHoursAgo:
		return l.Override(schema.OperatorGreaterThan, format(current.Add(-time.Duration(n*float64(time.Hour)))))
	case schema.OperatorToday:
		return interval(day, day.AddDate(0, 0, 1))
	case schema.OperatorYesterday:
		return interval(day.AddDate(0, 0, -1), day)
	case schema.OperatorPreviousXDays:
		return interval(day.AddDate(0, 0, -days), day)
	case schema.OperatorPreviousXDaysToDate:
		return interval(day.AddDate(0, 0, -days), current)
	case schema.OperatorPreviousWeek:
		return interval(week.AddDate(0, 0, -7), week)
	case schema.OperatorPreviousWeekToDate:
		return interval(week, current)
	case schema.OperatorPreviousMonth:
		return interval(month.AddDate(0, -1, 0), month)
	case schema.OperatorPreviousMonthToDate:
		return interval(month, current)
	case schema.OperatorPreviousQuarter:
		return interval(quarter.AddDate(0, -3, 0), quarter)
	case schema.OperatorPreviousQuarterToDate:
		return interval(quarter, current)
	case schema.OperatorPreviousYear:
		return interval(year.AddDate(-1, 0, 0), year)
	case schema.OperatorPreviousYearToDate:
		return interval(year, current)
	default:
		return nil
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// startOfWeek returns the previous Monday at midnight.
func startOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return startOfDay(t).AddDate(0, 0, -offset)
}
