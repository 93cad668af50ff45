package httpengine

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/AntonStoeckl/realtime-database-go/realtimedb"
)

const defaultReconnectDelay = time.Second

var (
	ErrNilHTTPClient         = errors.New("http client must not be nil")
	ErrInvalidReconnectDelay = fmt.Errorf("%w: reconnect delay must be positive", realtimedb.ErrInvalidArgument)
	ErrNilBackOffFactory     = fmt.Errorf("%w: backoff factory must not be nil", realtimedb.ErrInvalidArgument)
	ErrNilRegistry           = fmt.Errorf("%w: registry must not be nil", realtimedb.ErrInvalidArgument)
	ErrNilPushKeyGenerator   = fmt.Errorf("%w: push key generator must not be nil", realtimedb.ErrInvalidArgument)
	ErrInvalidIdleTimeout    = fmt.Errorf("%w: idle timeout must not be negative", realtimedb.ErrInvalidArgument)
	ErrInvalidMaxFrameSize   = fmt.Errorf("%w: max frame size must be positive", realtimedb.ErrInvalidArgument)
)

// Option defines a functional option for configuring Client.
type Option func(*Client) error

// WithCredentials sets the provider of the access token. Without it all requests are unauthenticated.
func WithCredentials(provider realtimedb.CredentialProvider) Option {
	return func(c *Client) error {
		c.credentials = provider
		return nil
	}
}

// WithLogger sets the logger for the Client.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: every HTTP request with method, redacted url, status code and timing
// Info level: stream connects and closes, listener registration and removal
// Warn level: reconnect attempts, malformed frames, server side stream cancellation
// Error level: failed one-shot operations and panicking listeners.
func WithLogger(logger realtimedb.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the Client.
// It receives the same messages as the Logger, with the operation's context for trace correlation.
func WithContextualLogger(logger realtimedb.ContextualLogger) Option {
	return func(c *Client) error {
		c.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Client.
// It will receive request durations and counts, error counts, stream (re)connects, frame counts,
// active connections, dispatched events and listener panics.
func WithMetrics(collector realtimedb.MetricsCollector) Option {
	return func(c *Client) error {
		c.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the Client. One span is created per one-shot operation.
func WithTracing(collector realtimedb.TracingCollector) Option {
	return func(c *Client) error {
		c.tracingCollector = collector
		return nil
	}
}

// WithRegistry shares a connection registry between clients. Clients sharing a registry and an endpoint
// also share stream connections for identical listen requests made with the same access token.
func WithRegistry(registry *Registry) Option {
	return func(c *Client) error {
		if registry == nil {
			return ErrNilRegistry
		}

		c.registry = registry

		return nil
	}
}

// WithReconnectDelay sets a fixed delay between stream reconnect attempts. The default is one second.
func WithReconnectDelay(delay time.Duration) Option {
	return func(c *Client) error {
		if delay <= 0 {
			return ErrInvalidReconnectDelay
		}

		c.newBackOff = func() backoff.BackOff {
			return backoff.NewConstantBackOff(delay)
		}

		return nil
	}
}

// WithReconnectBackOff sets the reconnect policy. The factory is called once per stream connection.
//
// Reconnecting never gives up: when the policy returns backoff.Stop it is reset and the previous delay is reused.
func WithReconnectBackOff(factory func() backoff.BackOff) Option {
	return func(c *Client) error {
		if factory == nil {
			return ErrNilBackOffFactory
		}

		c.newBackOff = factory

		return nil
	}
}

// WithStreamIdleTimeout drops and reconnects a stream that delivered no frame (keep-alives included) for
// the given duration. Zero disables the check, which is the default.
func WithStreamIdleTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout < 0 {
			return ErrInvalidIdleTimeout
		}

		c.idleTimeout = timeout

		return nil
	}
}

// WithMaxFrameSize limits the size of a single stream line and of the data of one frame, 16 MiB by default.
// A stream exceeding it is counted as a malformed frame and reconnected.
func WithMaxFrameSize(bytes int) Option {
	return func(c *Client) error {
		if bytes <= 0 {
			return ErrInvalidMaxFrameSize
		}

		c.maxFrameBytes = bytes

		return nil
	}
}

// WithStatusHandler sets a callback for stream state transitions. It is called from the connection goroutine
// and must not block.
func WithStatusHandler(handler StatusHandler) Option {
	return func(c *Client) error {
		c.statusHandler = handler
		return nil
	}
}

// WithPushKeyGenerator replaces realtimedb.NewPushKey for Push.
func WithPushKeyGenerator(generator realtimedb.PushKeyGenerator) Option {
	return func(c *Client) error {
		if generator == nil {
			return ErrNilPushKeyGenerator
		}

		c.pushKey = generator

		return nil
	}
}
