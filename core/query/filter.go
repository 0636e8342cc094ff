package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/asaidimu/go-anansi-decorators/core/schema"
)

// Filter restricts the records an operation applies to. Filters are values:
// the With* helpers return modified copies.
type Filter struct {
	ConditionTree  ConditionTree
	Search         string
	SearchExtended bool
	Segment        string
}

// WithConditionTree returns a copy of the filter using another tree.
func (f Filter) WithConditionTree(tree ConditionTree) *Filter {
	f.ConditionTree = tree
	return &f
}

// IsNestable reports whether the filter can be moved to a related collection,
// which is only possible when it carries nothing but a condition tree.
func (f Filter) IsNestable() bool {
	return f.Search == "" && f.Segment == ""
}

// Nest prefixes every field of the filter with a relation name.
func (f Filter) Nest(prefix string) (*Filter, error) {
	if !f.IsNestable() {
		return nil, fmt.Errorf("filter can't be nested")
	}
	if f.ConditionTree != nil {
		f.ConditionTree = f.ConditionTree.Nest(prefix)
	}
	return &f, nil
}

// SortClause orders records by one field.
type SortClause struct {
	Field     string
	Ascending bool
}

// Sort is an ordered list of sort clauses.
type Sort []SortClause

// Projection lists the fields needed to sort.
func (s Sort) Projection() Projection {
	out := make(Projection, 0, len(s))
	for _, clause := range s {
		out = out.Union(Projection{clause.Field})
	}
	return out
}

// ReplaceFields renames every sorted field.
func (s Sort) ReplaceFields(fn func(field string) string) Sort {
	if s == nil {
		return nil
	}
	out := make(Sort, len(s))
	for i, clause := range s {
		out[i] = SortClause{Field: fn(clause.Field), Ascending: clause.Ascending}
	}
	return out
}

// Nest prefixes every sorted field with a relation name.
func (s Sort) Nest(prefix string) Sort {
	return s.ReplaceFields(func(field string) string { return prefix + Separator + field })
}

// Unnest strips the relation prefix of every sorted field.
func (s Sort) Unnest() (Sort, error) {
	out := make(Sort, len(s))
	for i, clause := range s {
		_, rest, ok := strings.Cut(clause.Field, Separator)
		if !ok {
			return nil, fmt.Errorf("cannot unnest sort on '%s'", clause.Field)
		}
		out[i] = SortClause{Field: rest, Ascending: clause.Ascending}
	}
	return out, nil
}

// Inverse flips the direction of every clause.
func (s Sort) Inverse() Sort {
	out := make(Sort, len(s))
	for i, clause := range s {
		out[i] = SortClause{Field: clause.Field, Ascending: !clause.Ascending}
	}
	return out
}

// Apply sorts a copy of the records. Values that cannot be ordered keep
// their relative position.
func (s Sort) Apply(records []schema.Record) []schema.Record {
	out := append([]schema.Record(nil), records...)
	if len(s) == 0 {
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		for _, clause := range s {
			a := GetValue(out[i], clause.Field)
			b := GetValue(out[j], clause.Field)
			cmp := compareForSort(a, b)
			if cmp == 0 {
				continue
			}
			if clause.Ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return false
	})
	return out
}

// compareForSort places nil values first.
func compareForSort(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	cmp, _ := CompareValues(a, b)
	return cmp
}

// Page selects a window of records. A zero Limit means no limit.
type Page struct {
	Skip  int
	Limit int
}

// Apply returns the records inside the page.
func (p *Page) Apply(records []schema.Record) []schema.Record {
	if p == nil {
		return records
	}
	if p.Skip >= len(records) {
		return []schema.Record{}
	}
	out := records[p.Skip:]
	if p.Limit > 0 && p.Limit < len(out) {
		out = out[:p.Limit]
	}
	return out
}

// PaginatedFilter is a Filter used to list records.
type PaginatedFilter struct {
	Filter
	Sort Sort
	Page *Page
}

// Paginated wraps a filter without sort nor page. A nil filter yields an
// empty one.
func Paginated(f *Filter) *PaginatedFilter {
	if f == nil {
		return &PaginatedFilter{}
	}
	return &PaginatedFilter{Filter: *f}
}

// WithConditionTree returns a copy of the filter using another tree.
func (f PaginatedFilter) WithConditionTree(tree ConditionTree) *PaginatedFilter {
	f.ConditionTree = tree
	return &f
}

// WithSort returns a copy of the filter using another sort.
func (f PaginatedFilter) WithSort(s Sort) *PaginatedFilter {
	f.Sort = s
	return &f
}

// ToFilter drops the sort and page.
func (f *PaginatedFilter) ToFilter() *Filter {
	if f == nil {
		return &Filter{}
	}
	out := f.Filter
	return &out
}
