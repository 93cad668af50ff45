package adapters

import (
	"context"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

type noRetryKey struct{}

// RetryableAdapter implements HTTPAdapter for retryablehttp.Client.
type RetryableAdapter struct {
	client *retryablehttp.Client
}

// NewRetryableAdapter creates a new adapter. Responses are passed through after the last retry,
// so callers still see the final status code and body instead of a generic "giving up" error.
//
// The retry policy of client is kept for idempotent methods. POST requests are sent exactly once,
// since a repeated POST would create another server-keyed child.
func NewRetryableAdapter(client *retryablehttp.Client) *RetryableAdapter {
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.CheckRetry = idempotentOnly(client.CheckRetry)

	return &RetryableAdapter{client: client}
}

// Do executes the request with the retry policy of the wrapped client.
func (a *RetryableAdapter) Do(req *http.Request) (*http.Response, error) {
	if !isIdempotent(req.Method) {
		req = req.WithContext(context.WithValue(req.Context(), noRetryKey{}, true))
	}

	retryableReq, err := retryablehttp.FromRequest(req)
	if err != nil {
		return nil, err
	}

	return a.client.Do(retryableReq)
}

// Stream bypasses the retry policy and uses the underlying http.Client directly.
func (a *RetryableAdapter) Stream(req *http.Request) (*http.Response, error) {
	return a.client.HTTPClient.Do(req)
}

// CloseIdleConnections closes idle connections of the underlying http.Client.
func (a *RetryableAdapter) CloseIdleConnections() {
	a.client.HTTPClient.CloseIdleConnections()
}

func idempotentOnly(policy retryablehttp.CheckRetry) retryablehttp.CheckRetry {
	if policy == nil {
		policy = retryablehttp.DefaultRetryPolicy
	}

	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if skip, _ := ctx.Value(noRetryKey{}).(bool); skip {
			return false, ctx.Err()
		}

		return policy(ctx, resp, err)
	}
}

// isIdempotent reports whether repeating a request with method leaves the store in the same state.
// PATCH merges the given fields and therefore qualifies.
func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
