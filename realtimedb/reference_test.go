package realtimedb_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/realtime-database-go/realtimedb"
)

func Test_Reference_Child_BuildsPath(t *testing.T) {
	root := realtimedb.Root()

	assert.Equal(t, "", root.Path())
	assert.True(t, root.IsRoot())
	assert.Equal(t, "a", root.Child("a").Path())
	assert.Equal(t, "a/b", root.Child("a").Child("b").Path())
	assert.Equal(t, root.Child("a").Child("b").Path(), root.Child("a/b").Path())
	assert.Equal(t, "b", root.Child("a/b").Key())
	assert.Equal(t, "/a/b", root.Child("a/b").String())
}

func Test_Reference_Child_DoesNotMutateReceiver(t *testing.T) {
	// arrange
	base := realtimedb.Root().Child("users").LimitToFirst(3).StartAt("k")

	// act
	child := base.Child("alice")
	filtered := base.EndAt("z")

	// assert
	assert.Equal(t, "users", base.Path())
	assert.Equal(t, "users/alice", child.Path())
	assert.Equal(t, base.Filters(), child.Filters(), "child copies filters unchanged")
	assert.Equal(t, "", base.Filters().EndAt(), "setting a filter on a copy leaves the original untouched")
	assert.Equal(t, "z", filtered.Filters().EndAt())
}

func Test_Reference_Child_RejectsInvalidNames(t *testing.T) {
	tests := []struct {
		name      string
		childName string
	}{
		{name: "empty", childName: ""},
		{name: "leading_slash", childName: "/a"},
		{name: "trailing_slash", childName: "a/"},
		{name: "double_slash", childName: "a//b"},
		{name: "dot", childName: "a.b"},
		{name: "hash", childName: "a#b"},
		{name: "dollar", childName: "$a"},
		{name: "open_bracket", childName: "a[0"},
		{name: "close_bracket", childName: "a]"},
		{name: "control_character", childName: "a\nb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := realtimedb.Root().Child("ok").Child(tt.childName)

			assert.ErrorIs(t, ref.Err(), realtimedb.ErrInvalidPathSegment)
			assert.ErrorIs(t, ref.Err(), realtimedb.ErrInvalidArgument)
			assert.Equal(t, "ok", ref.Path(), "path is not extended on error")
		})
	}
}

func Test_Reference_FirstErrorIsKept(t *testing.T) {
	ref := realtimedb.Root().LimitToFirst(0).Child("").LimitToLast(-1)

	assert.ErrorIs(t, ref.Err(), realtimedb.ErrInvalidLimit)
}

func Test_Reference_LimitsMustBePositive(t *testing.T) {
	assert.ErrorIs(t, realtimedb.Root().LimitToFirst(0).Err(), realtimedb.ErrInvalidLimit)
	assert.ErrorIs(t, realtimedb.Root().LimitToLast(-3).Err(), realtimedb.ErrInvalidLimit)
	assert.NoError(t, realtimedb.Root().LimitToLast(1).Err())
}

func Test_NewReference_TrimsSlashes(t *testing.T) {
	assert.Equal(t, "a/b", realtimedb.NewReference("/a/b/").Path())
	assert.True(t, realtimedb.NewReference("/").IsRoot())
	assert.ErrorIs(t, realtimedb.NewReference("a//b").Err(), realtimedb.ErrInvalidPathSegment)
}

func Test_Reference_Parent(t *testing.T) {
	ref := realtimedb.Root().Child("a/b/c").LimitToFirst(2)

	assert.Equal(t, "a/b", ref.Parent().Path())
	assert.True(t, ref.Parent().Filters().IsEmpty())
	assert.True(t, ref.Parent().Parent().Parent().IsRoot())
	assert.True(t, realtimedb.Root().Parent().IsRoot())
}

func Test_Reference_Ordering(t *testing.T) {
	ref := realtimedb.Root().Child("scores")

	assert.False(t, ref.Ordering().IsSet())
	assert.Equal(t, realtimedb.OrderByChild, ref.OrderedByChild("points").Ordering().Kind())
	assert.Equal(t, "points", ref.OrderedByChild("points").Ordering().ChildKey())
	assert.Equal(t, realtimedb.OrderByKey, ref.OrderedByKey().Ordering().Kind())
	assert.Equal(t, realtimedb.OrderByValue, ref.OrderedByValue().Ordering().Kind())
	assert.ErrorIs(t, ref.OrderedByChild("").Err(), realtimedb.ErrInvalidArgument)
	assert.False(t, ref.Ordering().IsSet(), "ordering a copy leaves the original untouched")
}

func Test_Reference_IsSafeForConcurrentUse(t *testing.T) {
	// arrange
	base := realtimedb.Root().Child("rooms").LimitToFirst(10)

	var wg sync.WaitGroup
	results := make([]realtimedb.Reference, 50)

	// act
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = base.Child("room").StartAt("a").LimitToFirst(i + 1)
		}(i)
	}
	wg.Wait()

	// assert
	require.Equal(t, "rooms", base.Path())
	assert.Equal(t, "10", base.Filters().LimitToFirst())
	assert.Equal(t, "", base.Filters().StartAt())

	for i, ref := range results {
		assert.Equal(t, "rooms/room", ref.Path())
		assert.Equal(t, realtimedb.Root().LimitToFirst(i+1).Filters().LimitToFirst(), ref.Filters().LimitToFirst())
	}
}
