// Package adapters provide HTTP transport implementations for the realtime database client.
//
// This package implements the adapter pattern to support two HTTP stacks:
// hashicorp/go-retryablehttp (retries with backoff for one-shot requests) and a plain net/http.Client.
// Both provide equivalent functionality through the common HTTPAdapter interface.
package adapters
