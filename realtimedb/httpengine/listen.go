package httpengine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/AntonStoeckl/realtime-database-go/realtimedb"
)

// ListenOption configures a single Listen call.
type ListenOption func(*listenConfig)

type listenConfig struct {
	shallow bool
}

// WithShallow replaces the payload of ChildAdded and ChildChanged events with true.
// Shallow and full listeners of the same location use separate connections.
func WithShallow(shallow bool) ListenOption {
	return func(cfg *listenConfig) {
		cfg.shallow = shallow
	}
}

// registration is one listener attached to a connection.
//
// Events are queued without bound and delivered by a dedicated goroutine, so a slow listener
// delays only its own events and never the stream or other listeners.
type registration struct {
	id       uuid.UUID
	kind     realtimedb.EventKind
	listener realtimedb.Listener

	mu    sync.Mutex
	queue []realtimedb.ChangeEvent

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newRegistration(kind realtimedb.EventKind, listener realtimedb.Listener) *registration {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	return &registration{
		id:       id,
		kind:     kind,
		listener: listener,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (r *registration) enqueue(event realtimedb.ChangeEvent) {
	r.mu.Lock()
	r.queue = append(r.queue, event)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// run delivers queued events in order until the registration is stopped.
// Events still queued at that point are discarded.
func (r *registration) run(deliver func(*registration, realtimedb.ChangeEvent)) {
	for {
		select {
		case <-r.done:
			return
		case <-r.wake:
		}

		for {
			event, ok := r.pop()
			if !ok {
				break
			}

			select {
			case <-r.done:
				return
			default:
			}

			deliver(r, event)
		}
	}
}

func (r *registration) pop() (realtimedb.ChangeEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.queue) == 0 {
		return realtimedb.ChangeEvent{}, false
	}

	event := r.queue[0]
	r.queue[0] = realtimedb.ChangeEvent{}
	r.queue = r.queue[1:]

	return event, true
}

func (r *registration) stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
}

// Subscription is the cancellation handle of a registered listener.
type Subscription struct {
	id     uuid.UUID
	kind   realtimedb.EventKind
	ref    realtimedb.Reference
	key    string
	client *Client
	conn   *connection
	reg    *registration
	once   sync.Once
}

// ID returns the unique id of this listener registration.
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// Kind returns the event kind the listener receives.
func (s *Subscription) Kind() realtimedb.EventKind {
	return s.kind
}

// Reference returns the listened location.
func (s *Subscription) Reference() realtimedb.Reference {
	return s.ref
}

// ConnectionKey returns the key of the connection shared by this listener.
func (s *Subscription) ConnectionKey() string {
	return s.key
}

// Close removes the listener. No event is delivered to it after Close returns, except one that
// is being delivered concurrently at that moment. The connection is closed when its last listener is removed.
//
// Close is idempotent and does not block, so it may be called from within the listener itself.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.client.unsubscribe(s)
	})

	return nil
}

// Listen registers listener for events of kind at ref.
//
// Listeners with the same listen request (location, filters, ordering, access token and shallow flag) share one
// connection. A listener attaching to a connection that already streams first receives the current state:
// the value for ValueChanged and every existing child for ChildAdded. The returned Subscription removes the
// listener again.
func (c *Client) Listen(
	ref realtimedb.Reference,
	kind realtimedb.EventKind,
	listener realtimedb.Listener,
	options ...ListenOption,
) (*Subscription, error) {

	if c.closed.Load() {
		return nil, realtimedb.ErrClientClosed
	}

	if err := ref.Err(); err != nil {
		return nil, err
	}

	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: unknown event kind %d", realtimedb.ErrInvalidArgument, kind)
	}

	if listener == nil {
		return nil, realtimedb.ErrNilListener
	}

	cfg := listenConfig{}
	for _, option := range options {
		option(&cfg)
	}

	req, err := c.builder.Build(ref, realtimedb.OperationListen, realtimedb.BuildParams{})
	if err != nil {
		return nil, err
	}

	key := connectionKey(req, realtimedb.TokenFrom(c.credentials), cfg.shallow)
	reg := newRegistration(kind, listener)

	conn, created := c.registry.acquire(key, func() *connection {
		return newConnection(c, key, ref, cfg.shallow)
	}, reg)

	sub := &Subscription{
		id:     reg.id,
		kind:   kind,
		ref:    ref,
		key:    key,
		client: c,
		conn:   conn,
		reg:    reg,
	}

	c.mu.Lock()
	c.subscriptions[sub.id] = sub
	c.mu.Unlock()

	if c.closed.Load() {
		_ = sub.Close()
		return nil, realtimedb.ErrClientClosed
	}

	if created {
		c.recordActiveConnections(conn.ctx)
	}

	c.logInfo(conn.ctx, logMsgListenerAdded,
		logAttrSubscriptionID, sub.id.String(),
		logAttrKind, kind.String(),
		logAttrPath, ref.String(),
		logAttrShallow, cfg.shallow)

	return sub, nil
}

// ValueChanged registers listener for every change at or below ref.
func (c *Client) ValueChanged(ref realtimedb.Reference, listener realtimedb.Listener) (*Subscription, error) {
	return c.Listen(ref, realtimedb.ValueChanged, listener)
}

// ChildAdded registers listener for new direct children of ref.
// With shallow set, the payload of each event is true instead of the child's value.
func (c *Client) ChildAdded(ref realtimedb.Reference, listener realtimedb.Listener, shallow bool) (*Subscription, error) {
	return c.Listen(ref, realtimedb.ChildAdded, listener, WithShallow(shallow))
}

// ChildRemoved registers listener for removed direct children of ref.
func (c *Client) ChildRemoved(ref realtimedb.Reference, listener realtimedb.Listener) (*Subscription, error) {
	return c.Listen(ref, realtimedb.ChildRemoved, listener)
}

// ChildChanged registers listener for changes within existing direct children of ref.
func (c *Client) ChildChanged(ref realtimedb.Reference, listener realtimedb.Listener) (*Subscription, error) {
	return c.Listen(ref, realtimedb.ChildChanged, listener)
}

// Subscriptions returns the number of listeners currently registered through this Client.
func (c *Client) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.subscriptions)
}

func (c *Client) unsubscribe(sub *Subscription) {
	c.mu.Lock()
	delete(c.subscriptions, sub.id)
	c.mu.Unlock()

	sub.reg.stop()
	stopped := c.registry.release(sub.conn, sub.reg)

	c.logInfo(sub.conn.ctx, logMsgListenerRemoved,
		logAttrSubscriptionID, sub.id.String(),
		logAttrKind, sub.kind.String(),
		logAttrPath, sub.ref.String())

	if stopped {
		c.recordActiveConnections(sub.conn.ctx)
	}
}
