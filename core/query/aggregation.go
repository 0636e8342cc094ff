package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/asaidimu/go-anansi-decorators/core/schema"
)

// AggregateOperation is the function computing the value of a group.
type AggregateOperation string

const (
	AggregateCount AggregateOperation = "Count"
	AggregateSum   AggregateOperation = "Sum"
	AggregateAvg   AggregateOperation = "Avg"
	AggregateMax   AggregateOperation = "Max"
	AggregateMin   AggregateOperation = "Min"
)

// DateOperation truncates a date used as a group key.
type DateOperation string

const (
	DateYear    DateOperation = "Year"
	DateQuarter DateOperation = "Quarter"
	DateMonth   DateOperation = "Month"
	DateWeek    DateOperation = "Week"
	DateDay     DateOperation = "Day"
)

// AggregationGroup is a group-by clause.
type AggregationGroup struct {
	Field     string
	Operation DateOperation
}

// Aggregation describes a grouped computation. An empty Field with Count
// counts records.
type Aggregation struct {
	Operation AggregateOperation
	Field     string
	Groups    []AggregationGroup
}

// AggregateResult is one row of an aggregation: the computed value and the
// group keys it was computed for.
type AggregateResult struct {
	Value any
	Group map[string]any
}

// Projection lists the fields read by the aggregation.
func (a *Aggregation) Projection() Projection {
	var out Projection
	if a.Field != "" {
		out = append(out, a.Field)
	}
	for _, g := range a.Groups {
		out = out.Union(Projection{g.Field})
	}
	return out
}

// ReplaceFields renames the aggregated field and every group field.
func (a *Aggregation) ReplaceFields(fn func(field string) string) *Aggregation {
	out := &Aggregation{Operation: a.Operation, Groups: make([]AggregationGroup, len(a.Groups))}
	if a.Field != "" {
		out.Field = fn(a.Field)
	}
	for i, g := range a.Groups {
		out.Groups[i] = AggregationGroup{Field: fn(g.Field), Operation: g.Operation}
	}
	return out
}

// Nest prefixes every field with a relation name.
func (a *Aggregation) Nest(prefix string) *Aggregation {
	if prefix == "" {
		return a
	}
	return a.ReplaceFields(func(field string) string { return prefix + Separator + field })
}

// Apply computes the aggregation in memory. Results are sorted by value,
// highest first, and truncated to limit when limit is positive.
func (a *Aggregation) Apply(records []schema.Record, tz *time.Location, limit int) ([]AggregateResult, error) {
	if tz == nil {
		tz = time.UTC
	}

	type bucket struct {
		group  map[string]any
		values []any
		count  int
	}
	buckets := map[string]*bucket{}
	var order []string

	for _, record := range records {
		group := make(map[string]any, len(a.Groups))
		keyParts := make([]string, len(a.Groups))
		for i, g := range a.Groups {
			value, err := groupValue(GetValue(record, g.Field), g.Operation, tz)
			if err != nil {
				return nil, err
			}
			group[g.Field] = value
			keyParts[i] = fmt.Sprintf("%T:%v", value, value)
		}

		key := strings.Join(keyParts, "|")
		b, ok := buckets[key]
		if !ok {
			b = &bucket{group: group}
			buckets[key] = b
			order = append(order, key)
		}
		b.count++
		if a.Field != "" {
			if v := GetValue(record, a.Field); v != nil {
				b.values = append(b.values, v)
			}
		}
	}

	results := make([]AggregateResult, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		value, err := a.compute(b.values, b.count)
		if err != nil {
			return nil, err
		}
		results = append(results, AggregateResult{Value: value, Group: b.group})
	}

	// Without groups, an aggregation over no record still yields one row.
	if len(a.Groups) == 0 && len(results) == 0 {
		value, err := a.compute(nil, 0)
		if err != nil {
			return nil, err
		}
		results = append(results, AggregateResult{Value: value, Group: map[string]any{}})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return compareForSort(results[i].Value, results[j].Value) > 0
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (a *Aggregation) compute(values []any, count int) (any, error) {
	switch a.Operation {
	case AggregateCount:
		if a.Field == "" {
			return count, nil
		}
		return len(values), nil
	case AggregateSum, AggregateAvg:
		sum := 0.0
		for _, v := range values {
			f, ok := ToFloat64(v)
			if !ok {
				return nil, fmt.Errorf("cannot %s non numeric value %v of field '%s'", strings.ToLower(string(a.Operation)), v, a.Field)
			}
			sum += f
		}
		if a.Operation == AggregateSum {
			return sum, nil
		}
		if len(values) == 0 {
			return nil, nil
		}
		return sum / float64(len(values)), nil
	case AggregateMin, AggregateMax:
		var best any
		for _, v := range values {
			if best == nil {
				best = v
				continue
			}
			cmp, ok := CompareValues(v, best)
			if !ok {
				return nil, fmt.Errorf("cannot compare values of field '%s'", a.Field)
			}
			if (a.Operation == AggregateMin && cmp < 0) || (a.Operation == AggregateMax && cmp > 0) {
				best = v
			}
		}
		return best, nil
	default:
		return nil, fmt.Errorf("unsupported aggregate operation: %s", a.Operation)
	}
}

func groupValue(value any, op DateOperation, tz *time.Location) (any, error) {
	if op == "" || value == nil {
		return value, nil
	}
	t, ok := toTime(value)
	if !ok {
		return nil, fmt.Errorf("cannot group value %v by %s: not a date", value, op)
	}
	t = t.In(tz)

	var start time.Time
	switch op {
	case DateYear:
		start = time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, tz)
	case DateQuarter:
		month := time.Month((int(t.Month())-1)/3*3 + 1)
		start = time.Date(t.Year(), month, 1, 0, 0, 0, 0, tz)
	case DateMonth:
		start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, tz)
	case DateWeek:
		start = startOfWeek(t)
	case DateDay:
		start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, tz)
	default:
		return nil, fmt.Errorf("unsupported date operation: %s", op)
	}
	return start.Format(time.DateOnly), nil
}
