package realtimedb_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/realtime-database-go/realtimedb"
)

func Test_BuildChangeEvent_ErrorCases(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "invalid payload JSON", payload: []byte(`{"invalid": json}`)},
		{name: "empty payload JSON", payload: []byte(``)},
		{name: "truncated payload JSON", payload: []byte(`{"a":`)},
		{name: "trailing data after payload JSON", payload: []byte(`1 2`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := realtimedb.BuildChangeEvent(realtimedb.ValueChanged, "/", "", tt.payload)
			assert.ErrorIs(t, err, realtimedb.ErrInvalidPayloadJSON)
		})
	}
}

func Test_BuildChangeEvent(t *testing.T) {
	// act
	event, err := realtimedb.BuildChangeEvent(realtimedb.ChildAdded, "/alice", "alice", []byte(`{"age":3}`))

	// assert
	require.NoError(t, err)
	assert.Equal(t, realtimedb.ChildAdded, event.Kind())
	assert.Equal(t, "/alice", event.Path())
	assert.Equal(t, "alice", event.Key())
	assert.True(t, event.Exists())

	var decoded struct {
		Age int `json:"age"`
	}
	require.NoError(t, event.Decode(&decoded))
	assert.Equal(t, 3, decoded.Age)
}

func Test_BuildChangeEvent_AcceptsScalarPayloads(t *testing.T) {
	for _, payload := range []string{`1`, `-2.5e3`, `"text"`, `true`, ` [1,{"a":null}] `} {
		event, err := realtimedb.BuildChangeEvent(realtimedb.ValueChanged, "/", "", []byte(payload))

		require.NoError(t, err, payload)
		assert.Equal(t, payload, string(event.Payload()))
	}
}

func Test_BuildChangeEvent_NullMeansDeleted(t *testing.T) {
	for _, payload := range [][]byte{nil, []byte("null"), []byte(" null ")} {
		event, err := realtimedb.BuildChangeEvent(realtimedb.ChildRemoved, "", "alice", payload)

		require.NoError(t, err)
		assert.False(t, event.Exists())
		assert.Nil(t, event.Payload())
		assert.Equal(t, "/", event.Path(), "empty path defaults to the listened location")
		assert.ErrorIs(t, event.Decode(&struct{}{}), realtimedb.ErrNoPayload)
	}
}

func Test_ChangeEvent_Decode_TypeMismatch(t *testing.T) {
	event, err := realtimedb.BuildChangeEvent(realtimedb.ValueChanged, "/", "", []byte(`"text"`))
	require.NoError(t, err)

	var n int
	assert.ErrorIs(t, event.Decode(&n), realtimedb.ErrParse)
}

func Test_EventKind_RoundTrip(t *testing.T) {
	for _, kind := range []realtimedb.EventKind{
		realtimedb.ValueChanged, realtimedb.ChildAdded, realtimedb.ChildRemoved, realtimedb.ChildChanged,
	} {
		parsed, ok := realtimedb.ParseEventKind(kind.String())
		assert.True(t, ok)
		assert.Equal(t, kind, parsed)
		assert.True(t, kind.IsValid())
	}

	_, ok := realtimedb.ParseEventKind("bogus")
	assert.False(t, ok)
	assert.False(t, realtimedb.EventKind(0).IsValid())
}

func Test_PushKey_IsOrderedAndCarriesTime(t *testing.T) {
	// arrange
	before := time.Now().Add(-time.Millisecond)

	// act
	keys := make([]string, 100)
	for i := range keys {
		keys[i] = realtimedb.NewPushKey()
	}

	// assert
	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1], keys[i], "keys sort in creation order")
	}

	created, err := realtimedb.PushKeyTime(keys[0])
	require.NoError(t, err)
	assert.WithinDuration(t, before, created, 2*time.Second)

	assert.NoError(t, realtimedb.Root().Child(keys[0]).Err(), "push keys are valid path segments")
}

func Test_PushKeyTime_RejectsForeignKeys(t *testing.T) {
	_, err := realtimedb.PushKeyTime("-Nabc")
	assert.ErrorIs(t, err, realtimedb.ErrInvalidPushKey)
}
