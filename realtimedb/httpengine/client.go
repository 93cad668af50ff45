package httpengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"

	"github.com/AntonStoeckl/realtime-database-go/realtimedb"
	"github.com/AntonStoeckl/realtime-database-go/realtimedb/httpengine/internal/adapters"
)

const (
	errorBodyField    = "error"
	pushResponseField = "name"
	maxErrorBodyBytes = 64 * 1024
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Client talks to one remote database endpoint. It executes one-shot operations and manages change streams.
//
// A Client is safe for concurrent use. Close releases all listeners registered through it.
type Client struct {
	http             adapters.HTTPAdapter
	builder          realtimedb.RequestBuilder
	credentials      realtimedb.CredentialProvider
	registry         *Registry
	newBackOff       func() backoff.BackOff
	idleTimeout      time.Duration
	maxFrameBytes    int
	pushKey          realtimedb.PushKeyGenerator
	statusHandler    StatusHandler
	logger           realtimedb.Logger
	contextualLogger realtimedb.ContextualLogger
	metricsCollector realtimedb.MetricsCollector
	tracingCollector realtimedb.TracingCollector

	mu            sync.Mutex
	closed        atomic.Bool
	subscriptions map[uuid.UUID]*Subscription
}

// NewClient creates a Client for endpoint backed by a default retryablehttp.Client.
func NewClient(endpoint string, options ...Option) (*Client, error) {
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	return NewClientFromRetryableHTTP(endpoint, retryClient, options...)
}

// NewClientFromRetryableHTTP creates a Client using the given retryablehttp.Client for one-shot requests.
// Streams use its underlying http.Client without retries.
func NewClientFromRetryableHTTP(endpoint string, client *retryablehttp.Client, options ...Option) (*Client, error) {
	if client == nil || client.HTTPClient == nil {
		return nil, ErrNilHTTPClient
	}

	return newClient(endpoint, adapters.NewRetryableAdapter(client), options...)
}

// NewClientFromHTTPClient creates a Client using a plain http.Client without retries.
func NewClientFromHTTPClient(endpoint string, client *http.Client, options ...Option) (*Client, error) {
	if client == nil {
		return nil, ErrNilHTTPClient
	}

	return newClient(endpoint, adapters.NewStdAdapter(client), options...)
}

func newClient(endpoint string, adapter adapters.HTTPAdapter, options ...Option) (*Client, error) {
	builder, err := realtimedb.NewRequestBuilder(endpoint)
	if err != nil {
		return nil, err
	}

	c := &Client{
		http:     adapter,
		builder:  builder,
		registry: NewRegistry(),
		newBackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(defaultReconnectDelay)
		},
		maxFrameBytes: defaultMaxFrameBytes,
		pushKey:       realtimedb.NewPushKey,
		subscriptions: make(map[uuid.UUID]*Subscription),
	}

	for _, option := range options {
		if err := option(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Close removes every listener registered through this Client and waits until their connections are torn down.
// One-shot operations fail with realtimedb.ErrClientClosed afterward. Close must not be called from a listener.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	subscriptions := make([]*Subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subscriptions = append(subscriptions, sub)
	}
	c.mu.Unlock()

	connections := make(map[*connection]struct{})
	for _, sub := range subscriptions {
		connections[sub.conn] = struct{}{}
		_ = sub.Close()
	}

	for conn := range connections {
		if conn.isStopped() {
			conn.wait()
		}
	}

	c.http.CloseIdleConnections()

	return nil
}

// Read returns the JSON value at ref. Filters and ordering of ref are applied.
func (c *Client) Read(ctx context.Context, ref realtimedb.Reference) (json.RawMessage, error) {
	body, err := c.execute(ctx, ref, realtimedb.OperationRead, realtimedb.BuildParams{})
	if err != nil {
		return nil, err
	}

	return body, nil
}

// ReadShallow returns the value at ref with nested objects truncated to true.
// Shallow reads are only requested for unauthenticated clients, authenticated clients get the full value.
func (c *Client) ReadShallow(ctx context.Context, ref realtimedb.Reference) (json.RawMessage, error) {
	body, err := c.execute(ctx, ref, realtimedb.OperationRead, realtimedb.BuildParams{Shallow: true})
	if err != nil {
		return nil, err
	}

	return body, nil
}

// ReadInto decodes the value at ref into v.
func (c *Client) ReadInto(ctx context.Context, ref realtimedb.Reference, v any) error {
	body, err := c.execute(ctx, ref, realtimedb.OperationRead, realtimedb.BuildParams{})
	if err != nil {
		return err
	}

	if err := jsonAPI.Unmarshal(body, v); err != nil {
		return errors.Join(realtimedb.ErrParse, err)
	}

	return nil
}

// ReadValue returns scalars as plain strings (strings unquoted) and objects or arrays as raw JSON.
// A missing value is returned as "".
func (c *Client) ReadValue(ctx context.Context, ref realtimedb.Reference) (string, error) {
	body, err := c.execute(ctx, ref, realtimedb.OperationRead, realtimedb.BuildParams{})
	if err != nil {
		return "", err
	}

	result := gjson.ParseBytes(body)
	switch {
	case result.IsObject(), result.IsArray():
		return result.Raw, nil
	case result.Type == gjson.Null:
		return "", nil
	default:
		return result.String(), nil
	}
}

// ReadStrings returns the direct children of ref as strings. Nested values are returned as raw JSON.
// A scalar at ref is returned as a single entry keyed by the last path segment of ref.
func (c *Client) ReadStrings(ctx context.Context, ref realtimedb.Reference) (map[string]string, error) {
	body, err := c.execute(ctx, ref, realtimedb.OperationRead, realtimedb.BuildParams{})
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	result := gjson.ParseBytes(body)

	switch {
	case result.IsObject():
		result.ForEach(func(key, value gjson.Result) bool {
			values[key.String()] = value.String()
			return true
		})
	case result.IsArray():
		for i, value := range result.Array() {
			values[strconv.Itoa(i)] = value.String()
		}
	case result.Type == gjson.Null:
	default:
		values[ref.Key()] = result.String()
	}

	return values, nil
}

// HasChild reports whether ref has a non-null child called name. Filters of ref are ignored.
func (c *Client) HasChild(ctx context.Context, ref realtimedb.Reference, name string) (bool, error) {
	if err := ref.Err(); err != nil {
		return false, err
	}

	child := realtimedb.NewReference(ref.Path()).Child(name)

	body, err := c.execute(ctx, child, realtimedb.OperationRead, realtimedb.BuildParams{Shallow: true})
	if err != nil {
		return false, err
	}

	return gjson.ParseBytes(body).Type != gjson.Null, nil
}

// Write replaces the value at ref with v encoded as JSON.
func (c *Client) Write(ctx context.Context, ref realtimedb.Reference, v any) error {
	body, err := marshal(v)
	if err != nil {
		return err
	}

	return c.WriteJSON(ctx, ref, body)
}

// WriteJSON replaces the value at ref with raw JSON.
func (c *Client) WriteJSON(ctx context.Context, ref realtimedb.Reference, raw []byte) error {
	_, err := c.execute(ctx, ref, realtimedb.OperationWrite, realtimedb.BuildParams{Body: raw})

	return err
}

// WriteField replaces the value at ref with the single-entry object {key: value}.
func (c *Client) WriteField(ctx context.Context, ref realtimedb.Reference, key, value string) error {
	return c.Write(ctx, ref, map[string]string{key: value})
}

// Update merges the fields of v into the value at ref.
func (c *Client) Update(ctx context.Context, ref realtimedb.Reference, v any) error {
	body, err := marshal(v)
	if err != nil {
		return err
	}

	return c.UpdateJSON(ctx, ref, body)
}

// UpdateJSON merges a raw JSON object into the value at ref.
func (c *Client) UpdateJSON(ctx context.Context, ref realtimedb.Reference, raw []byte) error {
	_, err := c.execute(ctx, ref, realtimedb.OperationUpdate, realtimedb.BuildParams{Body: raw})

	return err
}

// AppendField sets the single child key of ref to value and leaves its siblings untouched.
func (c *Client) AppendField(ctx context.Context, ref realtimedb.Reference, key, value string) error {
	return c.Update(ctx, ref, map[string]string{key: value})
}

// Delete removes the value at ref.
func (c *Client) Delete(ctx context.Context, ref realtimedb.Reference) error {
	_, err := c.execute(ctx, ref, realtimedb.OperationDelete, realtimedb.BuildParams{})

	return err
}

// Push stores v below a newly generated, time-ordered child key of ref and returns that key.
func (c *Client) Push(ctx context.Context, ref realtimedb.Reference, v any) (string, error) {
	body, err := marshal(v)
	if err != nil {
		return "", err
	}

	return c.PushJSON(ctx, ref, body)
}

// PushJSON is Push with a raw JSON value.
func (c *Client) PushJSON(ctx context.Context, ref realtimedb.Reference, raw []byte) (string, error) {
	key := c.pushKey()

	_, err := c.execute(ctx, ref, realtimedb.OperationPush, realtimedb.BuildParams{Body: raw, PushKey: key})
	if err != nil {
		return "", err
	}

	return key, nil
}

// PushServerKey stores v below a child key chosen by the server (POST) and returns that key.
// A retrying transport does not repeat the request, since every POST creates another child.
func (c *Client) PushServerKey(ctx context.Context, ref realtimedb.Reference, v any) (string, error) {
	raw, err := marshal(v)
	if err != nil {
		return "", err
	}

	body, err := c.execute(ctx, ref, realtimedb.OperationPost, realtimedb.BuildParams{Body: raw})
	if err != nil {
		return "", err
	}

	name := gjson.GetBytes(body, pushResponseField)
	if name.Type != gjson.String || name.String() == "" {
		return "", fmt.Errorf("%w: push response without %q: %s", realtimedb.ErrParse, pushResponseField, body)
	}

	return name.String(), nil
}

// OrderByChild reads ref ordered by the given child key, applying the filters of ref verbatim.
func (c *Client) OrderByChild(ctx context.Context, ref realtimedb.Reference, key string) (json.RawMessage, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty orderBy child key", realtimedb.ErrInvalidArgument)
	}

	return c.orderBy(ctx, ref, realtimedb.ByChild(key))
}

// OrderByKey reads ref ordered by key, with startAt and endAt quoted.
func (c *Client) OrderByKey(ctx context.Context, ref realtimedb.Reference) (json.RawMessage, error) {
	return c.orderBy(ctx, ref, realtimedb.ByKey())
}

// OrderByValue reads ref ordered by value, with startAt and endAt quoted.
func (c *Client) OrderByValue(ctx context.Context, ref realtimedb.Reference) (json.RawMessage, error) {
	return c.orderBy(ctx, ref, realtimedb.ByValue())
}

func (c *Client) orderBy(ctx context.Context, ref realtimedb.Reference, ordering realtimedb.Ordering) (json.RawMessage, error) {
	body, err := c.execute(ctx, ref, realtimedb.OperationOrderBy, realtimedb.BuildParams{Ordering: ordering})
	if err != nil {
		return nil, err
	}

	return body, nil
}

// execute builds, sends and observes a one-shot request and returns the response body of a 2xx response.
func (c *Client) execute(
	ctx context.Context,
	ref realtimedb.Reference,
	op realtimedb.Operation,
	params realtimedb.BuildParams,
) ([]byte, error) {

	if c.closed.Load() {
		return nil, realtimedb.ErrClientClosed
	}

	params.Token = realtimedb.TokenFrom(c.credentials)

	req, err := c.builder.Build(ref, op, params)
	if err != nil {
		c.logError(ctx, logMsgBuildRequestFailed, err, logAttrPath, ref.String())
		return nil, err
	}

	observer, ctx := c.startRequestObservation(ctx, op, ref)

	body, statusCode, duration, err := c.roundTrip(ctx, req)
	c.logRequest(ctx, req, op, statusCode, duration)

	if err != nil {
		observer.finishError(err, statusCode)
		c.logError(ctx, logMsgRequestFailed, err,
			logAttrMethod, req.Method,
			logAttrPath, ref.String(),
			logAttrStatusCode, statusCode)

		return nil, err
	}

	observer.finishSuccess(statusCode)
	c.logInfo(ctx, logMsgOperation+op.String(),
		logAttrPath, ref.String(),
		logAttrDurationMS, toMilliseconds(duration))

	return body, nil
}

// roundTrip executes req and maps transport failures and non-2xx responses to the error taxonomy.
func (c *Client) roundTrip(ctx context.Context, req realtimedb.Request) ([]byte, int, time.Duration, error) {
	start := time.Now()

	httpReq, err := newHTTPRequest(ctx, req)
	if err != nil {
		return nil, 0, time.Since(start), errors.Join(realtimedb.ErrTransport, err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, 0, time.Since(start), errors.Join(realtimedb.ErrTransport, err)
	}
	defer c.closeBody(ctx, resp.Body)

	body, err := io.ReadAll(resp.Body)
	duration := time.Since(start)

	if err != nil {
		return nil, resp.StatusCode, duration, errors.Join(realtimedb.ErrTransport, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, resp.StatusCode, duration, newStatusError(resp.StatusCode, body, req.HasToken())
	}

	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("null")
	}

	return body, resp.StatusCode, duration, nil
}

func (c *Client) closeBody(ctx context.Context, body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logWarn(ctx, logMsgCloseBodyFailed, logAttrError, err.Error())
	}
}

func newHTTPRequest(ctx context.Context, req realtimedb.Request) (*http.Request, error) {
	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL(), bodyReader)
	if err != nil {
		return nil, err
	}

	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}

	return httpReq, nil
}

// newStatusError extracts the {"error": "..."} message of the remote store, if present.
func newStatusError(statusCode int, body []byte, tokenSent bool) *realtimedb.StatusError {
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}

	message := ""
	if gjson.ValidBytes(body) {
		message = gjson.GetBytes(body, errorBodyField).String()
	}

	return realtimedb.NewStatusError(statusCode, message, body, tokenSent)
}

func marshal(v any) ([]byte, error) {
	body, err := jsonAPI.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", realtimedb.ErrInvalidJSON, err.Error())
	}

	return body, nil
}
