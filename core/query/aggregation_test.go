package query

import (
	"testing"
	"time"

	"github.com/asaidimu/go-anansi-decorators/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregation_Apply(t *testing.T) {
	records := []schema.Record{
		{"category": "book", "price": 10, "createdAt": "2026-01-15T10:00:00Z"},
		{"category": "book", "price": 30, "createdAt": "2026-02-01T10:00:00Z"},
		{"category": "game", "price": 50, "createdAt": "2026-02-20T10:00:00Z"},
		{"category": "game", "price": nil, "createdAt": "2026-02-21T10:00:00Z"},
	}

	t.Run("count records without groups", func(t *testing.T) {
		out, err := (&Aggregation{Operation: AggregateCount}).Apply(records, nil, 0)
		require.NoError(t, err)
		assert.Equal(t, []AggregateResult{{Value: 4, Group: map[string]any{}}}, out)
	})

	t.Run("count ignores null values of the field", func(t *testing.T) {
		out, err := (&Aggregation{Operation: AggregateCount, Field: "price"}).Apply(records, nil, 0)
		require.NoError(t, err)
		assert.Equal(t, 3, out[0].Value)
	})

	t.Run("sum grouped by category, highest first", func(t *testing.T) {
		agg := &Aggregation{Operation: AggregateSum, Field: "price", Groups: []AggregationGroup{{Field: "category"}}}
		out, err := agg.Apply(records, nil, 0)
		require.NoError(t, err)
		assert.Equal(t, []AggregateResult{
			{Value: 50.0, Group: map[string]any{"category": "game"}},
			{Value: 40.0, Group: map[string]any{"category": "book"}},
		}, out)
	})

	t.Run("limit", func(t *testing.T) {
		agg := &Aggregation{Operation: AggregateAvg, Field: "price", Groups: []AggregationGroup{{Field: "category"}}}
		out, err := agg.Apply(records, nil, 1)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, 50.0, out[0].Value)
	})

	t.Run("group by month", func(t *testing.T) {
		agg := &Aggregation{Operation: AggregateMax, Field: "price", Groups: []AggregationGroup{{Field: "createdAt", Operation: DateMonth}}}
		out, err := agg.Apply(records, time.UTC, 0)
		require.NoError(t, err)
		assert.Equal(t, []AggregateResult{
			{Value: 50, Group: map[string]any{"createdAt": "2026-02-01"}},
			{Value: 10, Group: map[string]any{"createdAt": "2026-01-01"}},
		}, out)
	})

	t.Run("sum of non numeric values fails", func(t *testing.T) {
		_, err := (&Aggregation{Operation: AggregateSum, Field: "category"}).Apply(records, nil, 0)
		assert.Error(t, err)
	})
}

func TestAggregation_ReplaceFields(t *testing.T) {
	agg := &Aggregation{Operation: AggregateSum, Field: "price", Groups: []AggregationGroup{{Field: "createdAt", Operation: DateWeek}}}

	nested := agg.Nest("book")
	assert.Equal(t, "book:price", nested.Field)
	assert.Equal(t, AggregationGroup{Field: "book:createdAt", Operation: DateWeek}, nested.Groups[0])
	assert.Equal(t, Projection{"price", "createdAt"}, agg.Projection())
	assert.Equal(t, "price", agg.Field)
}
