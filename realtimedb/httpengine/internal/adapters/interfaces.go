package adapters

import "net/http"

// HTTPAdapter defines the interface for the HTTP operations needed by the client.
type HTTPAdapter interface {
	// Do executes a one-shot request. Implementations may retry transient failures.
	Do(req *http.Request) (*http.Response, error)

	// Stream opens a long-lived response (event stream). It must not retry and must not apply a client timeout,
	// reconnecting is the caller's job.
	Stream(req *http.Request) (*http.Response, error)

	// CloseIdleConnections releases pooled connections, e.g. when the client is closed.
	CloseIdleConnections()
}
