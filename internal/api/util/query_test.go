package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = Schema{
	Query: map[string]FieldKind{
		"name":        KindString,
		"schedule_id": KindInt,
		"enabled":     KindBool,
		"created_at":  KindTime,
	},
	Order: []string{"name", "created_at"},
}

func TestParseQueryConvertsValues(t *testing.T) {
	filters, err := testSchema.ParseQuery("name|nightly, schedule_id|gte|3,enabled|false,created_at|lt|2025-11-03T10:00:00+02:00")
	require.NoError(t, err)
	require.Len(t, filters, 4)

	assert.Equal(t, QueryFilter{Field: "name", Operator: OpEq, Value: "nightly"}, filters[0])
	assert.Equal(t, QueryFilter{Field: "schedule_id", Operator: OpGte, Value: int64(3)}, filters[1])
	assert.Equal(t, QueryFilter{Field: "enabled", Operator: OpEq, Value: false}, filters[2])
	assert.Equal(t, time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC), filters[3].Value)
}

func TestParseQueryListOperators(t *testing.T) {
	filters, err := testSchema.ParseQuery("name|isnotnull,schedule_id|in|1,2,3")
	require.NoError(t, err)
	require.Len(t, filters, 2)

	assert.Equal(t, OpIsNotNull, filters[0].Operator)
	assert.Nil(t, filters[0].Value)
	assert.Equal(t, []interface{}{int64(1), int64(2), int64(3)}, filters[1].Value)
}

func TestParseQueryEmpty(t *testing.T) {
	filters, err := testSchema.ParseQuery("")
	require.NoError(t, err)
	assert.Empty(t, filters)
}

func TestParseQueryRejects(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"unknown field", "location|x"},
		{"unknown operator", "schedule_id|between|1"},
		{"bad integer", "schedule_id|abc"},
		{"bad boolean", "enabled|maybe"},
		{"bad datetime", "created_at|gt|yesterday"},
		{"range on boolean", "enabled|gt|true"},
		{"empty list", "schedule_id|in|"},
		{"too many parts", "name|eq|a|b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testSchema.ParseQuery(tt.query)
			assert.Error(t, err)
		})
	}
}

func TestParseOrder(t *testing.T) {
	orders, err := testSchema.ParseOrder("created_at|DESC,name|asc")
	require.NoError(t, err)
	assert.Equal(t, []OrderClause{
		{Field: "created_at", Direction: OrderDesc},
		{Field: "name", Direction: OrderAsc},
	}, orders)

	_, err = testSchema.ParseOrder("schedule_id|asc")
	assert.ErrorContains(t, err, "invalid order field")
	_, err = testSchema.ParseOrder("name|sideways")
	assert.ErrorContains(t, err, "invalid order direction")
	_, err = testSchema.ParseOrder("name")
	assert.ErrorContains(t, err, "invalid order format")
}

func TestListFilterOffset(t *testing.T) {
	assert.Equal(t, 0, ListFilter{Page: 1, PerPage: 25}.Offset())
	assert.Equal(t, 50, ListFilter{Page: 3, PerPage: 25}.Offset())
	assert.Equal(t, 0, ListFilter{Page: 3}.Offset())
}
