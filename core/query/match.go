package query

import (
	"bytes"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/asaidimu/go-anansi-decorators/core/schema"
)

// GetValue reads a field path from a record, walking into related records.
// Missing values and null relations yield nil.
func GetValue(record schema.Record, path string) any {
	if record == nil {
		return nil
	}
	prefix, rest, nested := strings.Cut(path, Separator)
	if !nested {
		return record[path]
	}
	sub, ok := record[prefix].(map[string]any)
	if !ok {
		return nil
	}
	return GetValue(sub, rest)
}

// matchLeaf performs the in-memory evaluation of a leaf.
func matchLeaf(l *ConditionTreeLeaf, record schema.Record, tz *time.Location) (bool, error) {
	value := GetValue(record, l.Field)

	switch l.Operator {
	case schema.OperatorPresent:
		return !isBlank(value), nil
	case schema.OperatorBlank:
		return isBlank(value), nil
	case schema.OperatorMissing:
		return value == nil, nil
	case schema.OperatorEqual:
		return EqualValues(value, l.Value), nil
	case schema.OperatorNotEqual:
		return !EqualValues(value, l.Value), nil
	case schema.OperatorIn, schema.OperatorNotIn:
		found, err := contains(l.Value, value)
		if err != nil {
			return false, err
		}
		return found == (l.Operator == schema.OperatorIn), nil
	case schema.OperatorLessThan, schema.OperatorBefore:
		cmp, ok := CompareValues(value, l.Value)
		return ok && cmp < 0, nil
	case schema.OperatorGreaterThan, schema.OperatorAfter:
		cmp, ok := CompareValues(value, l.Value)
		return ok && cmp > 0, nil
	case schema.OperatorLike, schema.OperatorILike:
		return like(value, l.Value, l.Operator == schema.OperatorLike)
	case schema.OperatorContains, schema.OperatorNotContains, schema.OperatorIContains,
		schema.OperatorStartsWith, schema.OperatorIStartsWith,
		schema.OperatorEndsWith, schema.OperatorIEndsWith:
		return matchString(l.Operator, value, l.Value), nil
	case schema.OperatorLongerThan, schema.OperatorShorterThan:
		str, ok := value.(string)
		limit, limitOk := ToFloat64(l.Value)
		if !ok || !limitOk {
			return false, nil
		}
		if l.Operator == schema.OperatorLongerThan {
			return float64(len([]rune(str))) > limit, nil
		}
		return float64(len([]rune(str))) < limit, nil
	case schema.OperatorIncludesAll:
		all, err := toSlice(l.Value)
		if err != nil {
			return false, err
		}
		for _, expected := range all {
			found, err := contains(value, expected)
			if err != nil || !found {
				return false, err
			}
		}
		return true, nil
	case schema.OperatorMatch:
		str, ok := value.(string)
		if !ok {
			return false, nil
		}
		pattern, _ := l.Value.(string)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("invalid pattern for field '%s': %w", l.Field, err)
		}
		return re.MatchString(str), nil
	default:
		if IsRelativeDateOperator(l.Operator) {
			tree := RelativeDateEquivalent(l, dateType(value), tz)
			return tree.Match(record, tz)
		}
		return false, fmt.Errorf("unsupported operator for in-memory evaluation: %s", l.Operator)
	}
}

func isBlank(value any) bool {
	if value == nil {
		return true
	}
	str, ok := value.(string)
	return ok && str == ""
}

// EqualValues compares two values the way a storage engine would: numbers by
// value, byte slices by content, times by instant.
func EqualValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := ToFloat64Strict(a); ok {
		if fb, ok := ToFloat64Strict(b); ok {
			return fa == fb
		}
	}
	if ba, ok := a.([]byte); ok {
		if bb, ok := b.([]byte); ok {
			return bytes.Equal(ba, bb)
		}
	}
	if ta, ok := toTime(a); ok {
		if tb, ok := toTime(b); ok {
			return ta.Equal(tb)
		}
	}
	if sa, ok := a.(fmt.Stringer); ok {
		if sb, ok := b.(string); ok {
			return sa.String() == sb
		}
	}
	if sb, ok := b.(fmt.Stringer); ok {
		if sa, ok := a.(string); ok {
			return sa == sb.String()
		}
	}
	return reflect.DeepEqual(a, b)
}

// CompareValues orders two values. The boolean is false when the values
// cannot be ordered.
func CompareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if fa, ok := ToFloat64Strict(a); ok {
		if fb, ok := ToFloat64Strict(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	if ta, ok := toTime(a); ok {
		if tb, ok := toTime(b); ok {
			return ta.Compare(tb), true
		}
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return strings.Compare(sa, sb), true
		}
	}
	if ba, ok := a.([]byte); ok {
		if bb, ok := b.([]byte); ok {
			return bytes.Compare(ba, bb), true
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0, true
			case !ba:
				return -1, true
			default:
				return 1, true
			}
		}
	}
	return 0, false
}

// dateType tells a Dateonly value from a Date one. Records carry no schema,
// so the value's layout decides.
func dateType(v any) schema.PrimitiveType {
	if str, ok := v.(string); ok {
		if _, err := time.Parse(time.DateOnly, str); err == nil {
			return schema.TypeDateonly
		}
	}
	return schema.TypeDate
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.DateTime, time.DateOnly} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

func toSlice(v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	if list, ok := v.([]any); ok {
		return list, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func contains(list any, value any) (bool, error) {
	items, err := toSlice(list)
	if err != nil {
		return false, err
	}
	for _, item := range items {
		if EqualValues(item, value) {
			return true, nil
		}
	}
	return false, nil
}

func matchString(op schema.Operator, value, pattern any) bool {
	str, ok := value.(string)
	if !ok {
		return op == schema.OperatorNotContains
	}
	needle := fmt.Sprint(pattern)

	switch op {
	case schema.OperatorContains:
		return strings.Contains(str, needle)
	case schema.OperatorNotContains:
		return !strings.Contains(str, needle)
	case schema.OperatorIContains:
		return strings.Contains(strings.ToLower(str), strings.ToLower(needle))
	case schema.OperatorStartsWith:
		return strings.HasPrefix(str, needle)
	case schema.OperatorIStartsWith:
		return strings.HasPrefix(strings.ToLower(str), strings.ToLower(needle))
	case schema.OperatorEndsWith:
		return strings.HasSuffix(str, needle)
	case schema.OperatorIEndsWith:
		return strings.HasSuffix(strings.ToLower(str), strings.ToLower(needle))
	}
	return false
}

// like evaluates a SQL LIKE pattern: % matches any sequence, _ any character
// and a backslash escapes the next character.
func like(value, pattern any, caseSensitive bool) (bool, error) {
	str, ok := value.(string)
	if !ok {
		return false, nil
	}
	p, ok := pattern.(string)
	if !ok {
		return false, fmt.Errorf("like pattern must be a string, got %T", pattern)
	}

	var expr strings.Builder
	if !caseSensitive {
		expr.WriteString("(?is)")
	} else {
		expr.WriteString("(?s)")
	}
	expr.WriteString("^")
	escaped := false
	for _, r := range p {
		if escaped {
			expr.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '%':
			expr.WriteString(".*")
		case '_':
			expr.WriteString(".")
		default:
			expr.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	expr.WriteString("$")

	re, err := regexp.Compile(expr.String())
	if err != nil {
		return false, err
	}
	return re.MatchString(str), nil
}
