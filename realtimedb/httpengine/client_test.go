package httpengine_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/AntonStoeckl/realtime-database-go/realtimedb"
	"github.com/AntonStoeckl/realtime-database-go/realtimedb/httpengine"
	"github.com/AntonStoeckl/realtime-database-go/testutil/fakestore"
	"github.com/AntonStoeckl/realtime-database-go/testutil/mocks"
)

func newTestServer(t *testing.T) *fakestore.Server {
	t.Helper()

	server := fakestore.New()
	t.Cleanup(server.Close)

	return server
}

func newTestClient(t *testing.T, server *fakestore.Server, options ...httpengine.Option) *httpengine.Client {
	t.Helper()

	client, err := httpengine.NewClientFromHTTPClient(server.URL, server.Client(), options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	return ctx
}

func Test_Client_WriteAndRead_RoundTrip(t *testing.T) {
	// setup
	server := newTestServer(t)
	client := newTestClient(t, server)
	ctx := testContext(t)
	ref := realtimedb.Root().Child("users").Child("alice")

	// act
	err := client.Write(ctx, ref, map[string]any{"name": "Alice", "age": 30})
	require.NoError(t, err)

	raw, err := client.Read(ctx, ref)

	// assert
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Alice","age":30}`, string(raw))

	req, ok := server.LastRequest()
	require.True(t, ok)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/users/alice.json", req.Path)
}

func Test_Client_Read_MissingValueIsNull(t *testing.T) {
	// setup
	server := newTestServer(t)
	client := newTestClient(t, server)

	// act
	raw, err := client.Read(testContext(t), realtimedb.NewReference("nothing/here"))

	// assert
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))
}

func Test_Client_ReadInto_DecodesValue(t *testing.T) {
	// setup
	server := newTestServer(t)
	client := newTestClient(t, server)
	require.NoError(t, server.Seed("users/bob", `{"name":"Bob","age":41}`))

	var user struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}

	// act
	err := client.ReadInto(testContext(t), realtimedb.NewReference("users/bob"), &user)

	// assert
	require.NoError(t, err)
	assert.Equal(t, "Bob", user.Name)
	assert.Equal(t, 41, user.Age)
}

func Test_Client_ReadValue(t *testing.T) {
	// setup
	server := newTestServer(t)
	client := newTestClient(t, server)
	ctx := testContext(t)
	require.NoError(t, server.Seed("config", `{"title":"hello","limit":3,"nested":{"a":true}}`))

	// act
	title, errTitle := client.ReadValue(ctx, realtimedb.NewReference("config/title"))
	limit, errLimit := client.ReadValue(ctx, realtimedb.NewReference("config/limit"))
	nested, errNested := client.ReadValue(ctx, realtimedb.NewReference("config/nested"))
	missing, errMissing := client.ReadValue(ctx, realtimedb.NewReference("config/missing"))

	// assert
	require.NoError(t, errTitle)
	require.NoError(t, errLimit)
	require.NoError(t, errNested)
	require.NoError(t, errMissing)
	assert.Equal(t, "hello", title)
	assert.Equal(t, "3", limit)
	assert.JSONEq(t, `{"a":true}`, nested)
	assert.Empty(t, missing)
}

func Test_Client_ReadStrings(t *testing.T) {
	// setup
	server := newTestServer(t)
	client := newTestClient(t, server)
	ctx := testContext(t)
	require.NoError(t, server.Seed("profile", `{"name":"Carol","visits":7}`))

	// act
	values, err := client.ReadStrings(ctx, realtimedb.NewReference("profile"))
	single, errSingle := client.ReadStrings(ctx, realtimedb.NewReference("profile/name"))

	// assert
	require.NoError(t, err)
	require.NoError(t, errSingle)
	assert.Equal(t, map[string]string{"name": "Carol", "visits": "7"}, values)
	assert.Equal(t, map[string]string{"name": "Carol"}, single)
}

func Test_Client_Update_MergesFields(t *testing.T) {
	// setup
	server := newTestServer(t)
	client := newTestClient(t, server)
	ctx := testContext(t)
	require.NoError(t, server.Seed("settings", `{"a":"1","b":"2"}`))

	// act
	err := client.Update(ctx, realtimedb.NewReference("settings"), map[string]string{"b": "3"})
	errAppend := client.AppendField(ctx, realtimedb.NewReference("settings"), "c", "4")

	// assert
	require.NoError(t, err)
	require.NoError(t, errAppend)
	assert.JSONEq(t, `{"a":"1","b":"3","c":"4"}`, server.Value("settings"))

	req, ok := server.LastRequest()
	require.True(t, ok)
	assert.Equal(t, http.MethodPatch, req.Method)
}

func Test_Client_UpdateJSON_RejectsNonObject(t *testing.T) {
	// setup
	server := newTestServer(t)
	client := newTestClient(t, server)

	// act
	err := client.UpdateJSON(testContext(t), realtimedb.NewReference("settings"), []byte(`[1,2]`))

	// assert
	assert.ErrorIs(t, err, realtimedb.ErrInvalidArgument)
	assert.Empty(t, server.Requests(), "invalid requests must not be sent")
}

func Test_Client_WriteField_ReplacesValue(t *testing.T) {
	// setup
	server := newTestServer(t)
	client := newTestClient(t, server)
	require.NoError(t, server.Seed("settings", `{"a":"1","b":"2"}`))

	// act
	err := client.WriteField(testContext(t), realtimedb.NewReference("settings"), "c", "3")

	// assert
	require.NoError(t, err)
	assert.JSONEq(t, `{"c":"3"}`, server.Value("settings"))
}

func Test_Client_Delete_RemovesValue(t *testing.T) {
	// setup
	server := newTestServer(t)
	client := newTestClient(t, server)
	require.NoError(t, server.Seed("tmp", `{"x":1}`))

	// act
	err := client.Delete(testContext(t), realtimedb.NewReference("tmp"))

	// assert
	require.NoError(t, err)
	assert.Equal(t, "null", server.Value("tmp"))

	req, ok := server.LastRequest()
	require.True(t, ok)
	assert.Equal(t, http.MethodDelete, req.Method)
}

func Test_Client_Push_UsesGeneratedKey(t *testing.T) {
	// setup
	server := newTestServer(t)
	client := newTestClient(t, server, httpengine.WithPushKeyGenerator(func() string { return "k0001" }))

	// act
	key, err := client.Push(testContext(t), realtimedb.NewReference("messages"), map[string]string{"text": "hi"})

	// assert
	require.NoError(t, err)
	assert.Equal(t, "k0001", key)
	assert.JSONEq(t, `{"text":"hi"}`, server.Value("messages/k0001"))

	req, ok := server.LastRequest()
	require.True(t, ok)
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/messages/k0001.json", req.Path)
}

func Test_Client_Push_DefaultKeysAreTimeOrdered(t *testing.T) {
	// setup
	server := newTestServer(t)
	client := newTestClient(t, server)
	ctx := testContext(t)
	ref := realtimedb.NewReference("log")

	// act
	first, errFirst := client.Push(ctx, ref, 1)
	second, errSecond := client.Push(ctx, ref, 2)

	// assert
	require.NoError(t, errFirst)
	require.NoError(t, errSecond)
	assert.Less(t, first, second)

	_, err := realtimedb.PushKeyTime(first)
	assert.NoError(t, err)
}

func Test_Client_PushServerKey_ReturnsServerName(t *testing.T) {
	// setup
	server := newTestServer(t)
	client := newTestClient(t, server)

	// act
	key, err := client.PushServerKey(testContext(t), realtimedb.NewReference("queue"), map[string]int{"job": 1})

	// assert
	require.NoError(t, err)
	assert.Equal(t, "-fake000001", key)
	assert.JSONEq(t, `{"job":1}`, server.Value("queue/-fake000001"))
}

func Test_Client_HasChild(t *testing.T) {
	// setup
	server := newTestServer(t)
	client := newTestClient(t, server)
	ctx := testContext(t)
	require.NoError(t, server.Seed("rooms", `{"lobby":{"open":true}}`))
	rooms := realtimedb.NewReference("rooms").LimitToFirst(1)

	// act
	hasLobby, errLobby := client.HasChild(ctx, rooms, "lobby")
	req, _ := server.LastRequest()
	hasAttic, errAttic := client.HasChild(ctx, rooms, "attic")

	// assert
	require.NoError(t, errLobby)
	require.NoError(t, errAttic)
	assert.True(t, hasLobby)
	assert.False(t, hasAttic)
	assert.Equal(t, "/rooms/lobby.json", req.Path)
	assert.Equal(t, "true", req.Query.Get("shallow"))
	assert.Empty(t, req.Query.Get("limitToFirst"), "filters of the parent must not be sent")
}

func Test_Client_OrderBy_QueryParameters(t *testing.T) { //nolint:funlen
	testCases := []struct {
		name     string
		act      func(ctx context.Context, client *httpengine.Client) error
		expected map[string]string
	}{
		{
			name: "order by child sends filters verbatim",
			act: func(ctx context.Context, client *httpengine.Client) error {
				ref := realtimedb.NewReference("scores").StartAt("10").EndAt("20").LimitToFirst(5)
				_, err := client.OrderByChild(ctx, ref, "points")
				return err
			},
			expected: map[string]string{
				"orderBy":      `"points"`,
				"startAt":      "10",
				"endAt":        "20",
				"limitToFirst": "5",
			},
		},
		{
			name: "order by key quotes range bounds",
			act: func(ctx context.Context, client *httpengine.Client) error {
				ref := realtimedb.NewReference("scores").StartAt("a").EndAt("m")
				_, err := client.OrderByKey(ctx, ref)
				return err
			},
			expected: map[string]string{
				"orderBy": `"$key"`,
				"startAt": `"a"`,
				"endAt":   `"m"`,
			},
		},
		{
			name: "order by value quotes range bounds but not limits",
			act: func(ctx context.Context, client *httpengine.Client) error {
				ref := realtimedb.NewReference("scores").StartAt("x").LimitToLast(2)
				_, err := client.OrderByValue(ctx, ref)
				return err
			},
			expected: map[string]string{
				"orderBy":     `"$value"`,
				"startAt":     `"x"`,
				"limitToLast": "2",
			},
		},
		{
			name: "ordering carried by the reference",
			act: func(ctx context.Context, client *httpengine.Client) error {
				ref := realtimedb.NewReference("scores").OrderedByKey().EqualTo("k")
				_, err := client.Read(ctx, ref)
				return err
			},
			expected: map[string]string{
				"orderBy": `"$key"`,
				"equalTo": "k",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// setup
			server := newTestServer(t)
			client := newTestClient(t, server)

			// act
			err := tc.act(testContext(t), client)

			// assert
			require.NoError(t, err)
			req, ok := server.LastRequest()
			require.True(t, ok)

			actual := make(map[string]string, len(req.Query))
			for key := range req.Query {
				actual[key] = req.Query.Get(key)
			}
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func Test_Client_Credentials_SendAuthAndSkipShallow(t *testing.T) {
	// setup
	server := newTestServer(t)
	server.RequireToken("secret")
	client := newTestClient(t, server, httpengine.WithCredentials(realtimedb.StaticToken("secret")))
	require.NoError(t, server.Seed("private", `{"a":{"b":1}}`))

	// act
	raw, err := client.ReadShallow(testContext(t), realtimedb.NewReference("private"))

	// assert
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":{"b":1}}`, string(raw))

	req, ok := server.LastRequest()
	require.True(t, ok)
	assert.Equal(t, "secret", req.Query.Get("auth"))
	assert.Empty(t, req.Query.Get("shallow"))
}

func Test_Client_CredentialProvider_IsConsultedPerRequest(t *testing.T) {
	// setup
	server := newTestServer(t)
	ctrl := gomock.NewController(t)
	credentials := mocks.NewMockCredentialProvider(ctrl)
	client := newTestClient(t, server, httpengine.WithCredentials(credentials))
	ctx := testContext(t)
	ref := realtimedb.NewReference("a")

	gomock.InOrder(
		credentials.EXPECT().IsAuthenticated().Return(true),
		credentials.EXPECT().AccessToken().Return("first"),
		credentials.EXPECT().IsAuthenticated().Return(true),
		credentials.EXPECT().AccessToken().Return("second"),
		credentials.EXPECT().IsAuthenticated().Return(false),
	)

	// act / assert
	for _, expected := range []string{"first", "second", ""} {
		_, err := client.Read(ctx, ref)
		require.NoError(t, err)

		req, ok := server.LastRequest()
		require.True(t, ok)
		assert.Equal(t, expected, req.Query.Get("auth"))
	}
}

func Test_Client_ErrorMapping(t *testing.T) { //nolint:funlen
	testCases := []struct {
		name        string
		credentials realtimedb.CredentialProvider
		failure     fakestore.Failure
		expected    error
		statusCode  int
		message     string
	}{
		{
			name:       "401 without token is auth required",
			failure:    fakestore.Failure{Status: http.StatusUnauthorized, Body: `{"error":"Permission denied"}`, Count: 1},
			expected:   realtimedb.ErrAuthRequired,
			statusCode: http.StatusUnauthorized,
			message:    "Permission denied",
		},
		{
			name:        "401 with token is auth expired",
			credentials: realtimedb.StaticToken("stale"),
			failure:     fakestore.Failure{Status: http.StatusUnauthorized, Body: `{"error":"Auth token is expired"}`, Count: 1},
			expected:    realtimedb.ErrAuthExpired,
			statusCode:  http.StatusUnauthorized,
			message:     "Auth token is expired",
		},
		{
			name:       "500 is a transport error",
			failure:    fakestore.Failure{Status: http.StatusInternalServerError, Body: `oops`, Count: 1},
			expected:   realtimedb.ErrTransport,
			statusCode: http.StatusInternalServerError,
			message:    "Internal Server Error",
		},
		{
			name:       "400 is a transport error with message",
			failure:    fakestore.Failure{Status: http.StatusBadRequest, Body: `{"error":"Index not defined"}`, Count: 1},
			expected:   realtimedb.ErrTransport,
			statusCode: http.StatusBadRequest,
			message:    "Index not defined",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// setup
			server := newTestServer(t)
			options := make([]httpengine.Option, 0)
			if tc.credentials != nil {
				options = append(options, httpengine.WithCredentials(tc.credentials))
			}
			client := newTestClient(t, server, options...)
			server.InjectFailure(tc.failure)

			// act
			_, err := client.Read(testContext(t), realtimedb.NewReference("anything"))

			// assert
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.expected)

			var statusErr *realtimedb.StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tc.statusCode, statusErr.StatusCode)
			assert.Equal(t, tc.message, statusErr.Message)
		})
	}
}

func Test_Client_InvalidReference_FailsWithoutRequest(t *testing.T) {
	// setup
	server := newTestServer(t)
	client := newTestClient(t, server)

	// act
	_, err := client.Read(testContext(t), realtimedb.Root().Child("bad.name"))

	// assert
	assert.ErrorIs(t, err, realtimedb.ErrInvalidPathSegment)
	assert.Empty(t, server.Requests())
}

func Test_Client_TransportFailure(t *testing.T) {
	// setup
	server := fakestore.New()
	client, err := httpengine.NewClientFromHTTPClient(server.URL, server.Client())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	server.Close()

	// act
	_, err = client.Read(testContext(t), realtimedb.NewReference("anything"))

	// assert
	assert.ErrorIs(t, err, realtimedb.ErrTransport)
}

func Test_Client_Closed_RejectsOperations(t *testing.T) {
	// setup
	server := newTestServer(t)
	client := newTestClient(t, server)

	// act
	require.NoError(t, client.Close())
	_, err := client.Read(testContext(t), realtimedb.NewReference("anything"))

	// assert
	assert.ErrorIs(t, err, realtimedb.ErrClientClosed)
	assert.NoError(t, client.Close(), "close is idempotent")
}

func Test_Client_RetryableHTTP_RetriesServerErrors(t *testing.T) {
	// setup
	server := newTestServer(t)
	require.NoError(t, server.Seed("flaky", `"ok"`))
	server.InjectFailure(fakestore.Failure{Status: http.StatusServiceUnavailable, Count: 2})

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = server.Client()
	retryClient.RetryWaitMin = time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Millisecond
	retryClient.RetryMax = 3
	retryClient.Logger = nil

	client, err := httpengine.NewClientFromRetryableHTTP(server.URL, retryClient)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	// act
	value, err := client.ReadValue(testContext(t), realtimedb.NewReference("flaky"))

	// assert
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Len(t, server.Requests(), 3)
}

func Test_Client_RetryableHTTP_DoesNotRetryServerKeyedPush(t *testing.T) {
	// setup
	server := newTestServer(t)
	server.InjectFailure(fakestore.Failure{Method: http.MethodPost, Status: http.StatusServiceUnavailable, Count: 2})

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = server.Client()
	retryClient.RetryWaitMin = time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Millisecond
	retryClient.RetryMax = 3
	retryClient.Logger = nil

	client, err := httpengine.NewClientFromRetryableHTTP(server.URL, retryClient)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	// act
	_, err = client.PushServerKey(testContext(t), realtimedb.NewReference("messages"), "hello")

	// assert
	var statusErr *realtimedb.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Len(t, server.Requests(), 1)
	assert.Equal(t, "null", server.Value("messages"))
}

func Test_Client_Factories_RejectInvalidArguments(t *testing.T) {
	// act
	_, errNilHTTP := httpengine.NewClientFromHTTPClient("https://example.test", nil)
	_, errNilRetry := httpengine.NewClientFromRetryableHTTP("https://example.test", nil)
	_, errEndpoint := httpengine.NewClient("ftp://example.test")
	_, errDelay := httpengine.NewClient("https://example.test", httpengine.WithReconnectDelay(0))
	_, errFrameSize := httpengine.NewClient("https://example.test", httpengine.WithMaxFrameSize(0))

	// assert
	assert.ErrorIs(t, errNilHTTP, httpengine.ErrNilHTTPClient)
	assert.ErrorIs(t, errNilRetry, httpengine.ErrNilHTTPClient)
	assert.ErrorIs(t, errEndpoint, realtimedb.ErrInvalidEndpoint)
	assert.ErrorIs(t, errDelay, httpengine.ErrInvalidReconnectDelay)
	assert.ErrorIs(t, errFrameSize, httpengine.ErrInvalidMaxFrameSize)
}
