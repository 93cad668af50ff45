package httpengine

// ConnectionState is the lifecycle state of a stream connection.
type ConnectionState int

const (
	StateConnecting ConnectionState = iota + 1
	StateStreaming
	StateReconnecting
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StreamStatus describes one state transition of a stream connection.
//
// Err is set for StateReconnecting and holds the reason the previous attempt ended:
// a transport error, a *realtimedb.StatusError, realtimedb.ErrAuthExpired after an auth_revoked frame,
// or ErrStreamCanceled after a cancel frame.
type StreamStatus struct {
	Key     string
	Path    string
	State   ConnectionState
	Attempt int
	Err     error
}

// StatusHandler receives stream state transitions.
type StatusHandler func(StreamStatus)
