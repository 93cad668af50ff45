package realtimedb_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AntonStoeckl/realtime-database-go/realtimedb"
)

//nolint:funlen
func Test_FilterSet_ToQueryParameters(t *testing.T) {
	tests := []struct {
		name     string
		build    func() realtimedb.Reference
		validate func(t *testing.T, ref realtimedb.Reference)
	}{
		{
			name: "empty_filter_set_serializes_to_no_parameters",
			build: func() realtimedb.Reference {
				return realtimedb.Root().Child("scores")
			},
			validate: func(t *testing.T, ref realtimedb.Reference) {
				assert.True(t, ref.Filters().IsEmpty())
				assert.Empty(t, ref.ToQueryParameters(true))
				assert.Empty(t, ref.ToQueryParameters(false))
			},
		},
		{
			name: "range_bounds_are_quoted_for_key_ordering",
			build: func() realtimedb.Reference {
				return realtimedb.Root().Child("scores").StartAt("a").EndAt("m")
			},
			validate: func(t *testing.T, ref realtimedb.Reference) {
				assert.Equal(t,
					map[string]string{"startAt": `"a"`, "endAt": `"m"`},
					ref.ToQueryParameters(true),
				)
			},
		},
		{
			name: "range_bounds_are_verbatim_for_child_ordering",
			build: func() realtimedb.Reference {
				return realtimedb.Root().Child("scores").StartAt("10").EndAt("20")
			},
			validate: func(t *testing.T, ref realtimedb.Reference) {
				assert.Equal(t,
					map[string]string{"startAt": "10", "endAt": "20"},
					ref.ToQueryParameters(false),
				)
			},
		},
		{
			name: "limits_and_equal_to_are_never_quoted",
			build: func() realtimedb.Reference {
				return realtimedb.Root().LimitToFirst(3).LimitToLast(4).EqualTo("x")
			},
			validate: func(t *testing.T, ref realtimedb.Reference) {
				expected := map[string]string{"limitToFirst": "3", "limitToLast": "4", "equalTo": "x"}
				assert.Equal(t, expected, ref.ToQueryParameters(true))
				assert.Equal(t, expected, ref.ToQueryParameters(false))
			},
		},
		{
			name: "last_call_wins_per_field",
			build: func() realtimedb.Reference {
				return realtimedb.Root().LimitToFirst(5).StartAt("a").LimitToFirst(7).StartAt("b")
			},
			validate: func(t *testing.T, ref realtimedb.Reference) {
				assert.Equal(t, "7", ref.Filters().LimitToFirst())
				assert.Equal(t, "b", ref.Filters().StartAt())
				assert.Equal(t,
					map[string]string{"limitToFirst": "7", "startAt": "b"},
					ref.ToQueryParameters(false),
				)
			},
		},
		{
			name: "empty_values_count_as_unset",
			build: func() realtimedb.Reference {
				return realtimedb.Root().StartAt("").EndAt("").EqualTo("")
			},
			validate: func(t *testing.T, ref realtimedb.Reference) {
				assert.True(t, ref.Filters().IsEmpty())
				assert.Empty(t, ref.ToQueryParameters(true))
			},
		},
		{
			name: "no_mutual_exclusion_is_enforced",
			build: func() realtimedb.Reference {
				return realtimedb.Root().EqualTo("x").StartAt("a").LimitToFirst(1).LimitToLast(1)
			},
			validate: func(t *testing.T, ref realtimedb.Reference) {
				assert.NoError(t, ref.Err())
				assert.Len(t, ref.ToQueryParameters(false), 4)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.validate(t, tt.build())
		})
	}
}

func Test_Ordering_QueryValue(t *testing.T) {
	tests := []struct {
		name           string
		ordering       realtimedb.Ordering
		expectedValue  string
		expectedQuoted bool
	}{
		{name: "by_child", ordering: realtimedb.ByChild("points"), expectedValue: `"points"`, expectedQuoted: false},
		{name: "by_key", ordering: realtimedb.ByKey(), expectedValue: `"$key"`, expectedQuoted: true},
		{name: "by_value", ordering: realtimedb.ByValue(), expectedValue: `"$value"`, expectedQuoted: true},
		{name: "none", ordering: realtimedb.Ordering{}, expectedValue: "", expectedQuoted: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedValue, tt.ordering.QueryValue())
			assert.Equal(t, tt.expectedQuoted, tt.ordering.QuotesRangeBounds())
		})
	}
}
