package write

import (
	"github.com/asaidimu/go-anansi-decorators/core/persistence"
	"github.com/asaidimu/go-anansi-decorators/core/schema"
)

// deepMerge combines two patches. Nested patches are merged recursively; a
// terminal value assigned by both sides is a conflict.
func deepMerge(a, b schema.Record) (schema.Record, error) {
	out := make(schema.Record, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}

	for k, v := range b {
		existing, ok := out[k]
		if !ok {
			out[k] = v
			continue
		}
		left, leftNested := existing.(map[string]any)
		right, rightNested := v.(map[string]any)
		if !leftNested || !rightNested {
			return nil, &persistence.ConflictError{Field: k}
		}
		merged, err := deepMerge(left, right)
		if err != nil {
			return nil, err
		}
		out[k] = merged
	}
	return out, nil
}
