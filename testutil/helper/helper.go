package helper

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/realtime-database-go/realtimedb"
	"github.com/AntonStoeckl/realtime-database-go/realtimedb/httpengine"
)

const (
	DefaultWaitTimeout  = 3 * time.Second
	DefaultPollInterval = 5 * time.Millisecond
)

// GivenUniqueKey returns a fresh, time-ordered key to isolate test data.
func GivenUniqueKey(t testing.TB) string {
	id, err := uuid.NewV7()
	require.NoError(t, err, "error in arranging test data")

	return id.String()
}

// EventRecorder is a realtimedb.Listener target that collects events for assertions.
type EventRecorder struct {
	mu     sync.Mutex
	events []realtimedb.ChangeEvent
}

// NewEventRecorder creates an empty EventRecorder.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{events: make([]realtimedb.ChangeEvent, 0)}
}

// Listen records event. Pass it as the listener of a subscription.
func (r *EventRecorder) Listen(event realtimedb.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events in delivery order.
func (r *EventRecorder) Events() []realtimedb.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.events)
}

// Count returns the number of recorded events.
func (r *EventRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.events)
}

// Keys returns the keys of the recorded events in delivery order.
func (r *EventRecorder) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.events))
	for _, event := range r.events {
		keys = append(keys, event.Key())
	}

	return keys
}

// WaitForCount blocks until at least n events are recorded and fails the test after DefaultWaitTimeout.
func (r *EventRecorder) WaitForCount(t testing.TB, n int) []realtimedb.ChangeEvent {
	t.Helper()

	assert.Eventually(t, func() bool {
		return r.Count() >= n
	}, DefaultWaitTimeout, DefaultPollInterval, "expected at least %d events", n)

	return r.Events()
}

// StatusRecorder collects stream state transitions.
type StatusRecorder struct {
	mu       sync.Mutex
	statuses []httpengine.StreamStatus
}

// NewStatusRecorder creates an empty StatusRecorder.
func NewStatusRecorder() *StatusRecorder {
	return &StatusRecorder{statuses: make([]httpengine.StreamStatus, 0)}
}

// Handle records status. Pass it to httpengine.WithStatusHandler.
func (r *StatusRecorder) Handle(status httpengine.StreamStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.statuses = append(r.statuses, status)
}

// Statuses returns a copy of the recorded transitions.
func (r *StatusRecorder) Statuses() []httpengine.StreamStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.statuses)
}

// CountState returns how often state was reported.
func (r *StatusRecorder) CountState(state httpengine.ConnectionState) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, status := range r.statuses {
		if status.State == state {
			count++
		}
	}

	return count
}

// WaitForState blocks until state has been reported at least n times.
func (r *StatusRecorder) WaitForState(t testing.TB, state httpengine.ConnectionState, n int) {
	t.Helper()

	assert.Eventually(t, func() bool {
		return r.CountState(state) >= n
	}, DefaultWaitTimeout, DefaultPollInterval, "expected state %s at least %d times", state, n)
}
