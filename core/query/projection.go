package query

import (
	"fmt"
	"slices"
	"strings"

	"github.com/asaidimu/go-anansi-decorators/core/schema"
)

// Projection is the list of field paths requested from a collection. Paths
// crossing relations use Separator.
type Projection []string

// Columns returns the paths that do not cross a relation.
func (p Projection) Columns() []string {
	var out []string
	for _, path := range p {
		if !strings.Contains(path, Separator) {
			out = append(out, path)
		}
	}
	return out
}

// Relations groups the relation paths by relation name, in order of first
// appearance.
func (p Projection) Relations() ([]string, map[string]Projection) {
	var names []string
	relations := make(map[string]Projection)
	for _, path := range p {
		prefix, rest, ok := strings.Cut(path, Separator)
		if !ok {
			continue
		}
		if _, seen := relations[prefix]; !seen {
			names = append(names, prefix)
		}
		relations[prefix] = append(relations[prefix], rest)
	}
	return names, relations
}

// Contains reports whether path belongs to the projection.
func (p Projection) Contains(path string) bool {
	return slices.Contains(p, path)
}

// Replace maps every path, removing duplicates.
func (p Projection) Replace(fn func(path string) string) Projection {
	out := make(Projection, 0, len(p))
	for _, path := range p {
		out = out.Union(Projection{fn(path)})
	}
	return out
}

// Union returns the paths of p followed by the paths of the others that p
// does not already hold.
func (p Projection) Union(others ...Projection) Projection {
	out := make(Projection, 0, len(p))
	seen := make(map[string]struct{}, len(p))
	add := func(path string) {
		if _, ok := seen[path]; !ok {
			seen[path] = struct{}{}
			out = append(out, path)
		}
	}
	for _, path := range p {
		add(path)
	}
	for _, other := range others {
		for _, path := range other {
			add(path)
		}
	}
	return out
}

// Nest prefixes every path with a relation name.
func (p Projection) Nest(prefix string) Projection {
	if prefix == "" {
		return p
	}
	out := make(Projection, len(p))
	for i, path := range p {
		out[i] = prefix + Separator + path
	}
	return out
}

// Unnest strips the relation prefix shared by every path.
func (p Projection) Unnest() (Projection, error) {
	if len(p) == 0 {
		return p, nil
	}
	prefix, _, _ := strings.Cut(p[0], Separator)
	out := make(Projection, len(p))
	for i, path := range p {
		head, rest, ok := strings.Cut(path, Separator)
		if !ok || head != prefix {
			return nil, fmt.Errorf("cannot unnest projection %v: paths do not share a relation", []string(p))
		}
		out[i] = rest
	}
	return out, nil
}

// Apply reprojects records so that they only hold the projected paths.
// Related records that are nil stay nil.
func (p Projection) Apply(records []schema.Record) []schema.Record {
	out := make([]schema.Record, len(records))
	for i, record := range records {
		out[i] = p.reproject(record)
	}
	return out
}

func (p Projection) reproject(record schema.Record) schema.Record {
	if record == nil {
		return nil
	}
	out := make(schema.Record, len(p))
	for _, column := range p.Columns() {
		out[column] = record[column]
	}
	names, relations := p.Relations()
	for _, name := range names {
		sub, _ := record[name].(map[string]any)
		if sub == nil {
			out[name] = nil
			continue
		}
		out[name] = relations[name].reproject(sub)
	}
	return out
}
