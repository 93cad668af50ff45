package httpengine

import (
	"slices"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/AntonStoeckl/realtime-database-go/realtimedb"
)

const (
	credentialsKeySuffix = "|credentials="
	shallowKeySuffix     = "|shallow="
	anonymousCredentials = "anonymous"
)

// Registry de-duplicates stream connections by request key.
//
// A connection streams with the credentials of the client that opened it. Its key therefore carries a digest
// of the access token presented at listen time, and only listeners presenting the same token share it.
//
// Lookup-or-create plus attaching a registration, and detaching plus removing an idle connection, each happen
// under one lock. Concurrent listens for the same key therefore always share one connection, and no listener
// can attach to a connection that is shutting down.
//
// The Registry only references connections for lookup. Each connection owns its goroutine and lifetime.
type Registry struct {
	mu          sync.Mutex
	connections map[string]*connection
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{connections: make(map[string]*connection)}
}

// Len returns the number of open connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.connections)
}

// Keys returns the keys of all open connections in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.connections))
	for key := range r.connections {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	return keys
}

// acquire attaches reg to the connection for key, creating and starting it if none exists.
func (r *Registry) acquire(key string, create func() *connection, reg *registration) (*connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.connections[key]
	if !exists {
		conn = create()
		r.connections[key] = conn
	}

	conn.attach(reg)

	if !exists {
		conn.start()
	}

	return conn, !exists
}

// release detaches reg and stops the connection once it has no registrations left.
// It reports whether the connection was stopped.
func (r *Registry) release(conn *connection, reg *registration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn.detach(reg) > 0 {
		return false
	}

	if r.connections[conn.key] == conn {
		delete(r.connections, conn.key)
	}

	conn.stop()

	return true
}

// connectionKey identifies a stream connection: the listen request without the token itself, the identity the
// token stands for, and the shallow flag.
func connectionKey(req realtimedb.Request, token string, shallow bool) string {
	return req.Key(true) +
		credentialsKeySuffix + credentialScope(token) +
		shallowKeySuffix + strconv.FormatBool(shallow)
}

func credentialScope(token string) string {
	if token == "" {
		return anonymousCredentials
	}

	return strconv.FormatUint(xxhash.Sum64String(token), 16)
}
