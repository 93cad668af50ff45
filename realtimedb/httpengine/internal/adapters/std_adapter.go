package adapters

import (
	"net/http"
)

// StdAdapter implements HTTPAdapter for a plain http.Client without retries.
type StdAdapter struct {
	client *http.Client
}

// NewStdAdapter creates a new adapter for the given http.Client.
func NewStdAdapter(client *http.Client) *StdAdapter {
	return &StdAdapter{client: client}
}

// Do executes the request once.
func (a *StdAdapter) Do(req *http.Request) (*http.Response, error) {
	return a.client.Do(req)
}

// Stream executes the request once. A Timeout configured on the http.Client also bounds the stream,
// so clients used for listening should leave it at zero.
func (a *StdAdapter) Stream(req *http.Request) (*http.Response, error) {
	return a.client.Do(req)
}

// CloseIdleConnections closes idle connections of the http.Client.
func (a *StdAdapter) CloseIdleConnections() {
	a.client.CloseIdleConnections()
}
