package httpengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/realtime-database-go/realtimedb"
)

func givenListenRequest(t *testing.T, ref realtimedb.Reference) realtimedb.Request {
	t.Helper()

	builder, err := realtimedb.NewRequestBuilder("https://example.test")
	require.NoError(t, err)

	req, err := builder.Build(ref, realtimedb.OperationListen, realtimedb.BuildParams{})
	require.NoError(t, err)

	return req
}

func Test_ConnectionKey_SeparatesCredentials(t *testing.T) {
	// arrange
	req := givenListenRequest(t, realtimedb.NewReference("rooms"))

	// act
	anonymous := connectionKey(req, "", false)
	alice := connectionKey(req, "alice-token", false)
	aliceAgain := connectionKey(req, "alice-token", false)
	bob := connectionKey(req, "bob-token", false)

	// assert
	assert.NotEqual(t, anonymous, alice)
	assert.NotEqual(t, alice, bob)
	assert.Equal(t, alice, aliceAgain)
	assert.NotContains(t, alice, "alice-token", "tokens must not appear in keys, which are logged")
}

func Test_ConnectionKey_DistinguishesShallowAndFilters(t *testing.T) {
	// arrange
	ref := realtimedb.NewReference("rooms")
	req := givenListenRequest(t, ref)

	// act
	deep := connectionKey(req, "", false)
	shallow := connectionKey(req, "", true)
	filtered := connectionKey(givenListenRequest(t, ref.OrderedByKey().LimitToFirst(2)), "", false)

	// assert
	assert.NotEqual(t, deep, shallow)
	assert.NotEqual(t, deep, filtered)
	assert.Equal(t, deep, connectionKey(givenListenRequest(t, ref), "", false))
}

func Test_Registry_EmptyRegistry(t *testing.T) {
	// arrange
	registry := NewRegistry()

	// assert
	assert.Zero(t, registry.Len())
	assert.Empty(t, registry.Keys())
}
