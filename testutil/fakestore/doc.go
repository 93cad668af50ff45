// Package fakestore provides an in-memory test server that speaks the REST and event stream
// protocol of the remote store, with hooks to drop streams, inject failures and send raw frames.
package fakestore
