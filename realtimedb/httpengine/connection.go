package httpengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/AntonStoeckl/realtime-database-go/realtimedb"
)

var (
	// ErrStreamCanceled is reported when the server ends a stream with a cancel frame, e.g. after a rules change.
	ErrStreamCanceled = fmt.Errorf("%w: stream canceled by server", realtimedb.ErrTransport)

	errStreamIdle  = errors.New("no frame received within the idle timeout")
	errStreamEnded = errors.New("stream ended")
)

const unknownFrameEvent = "unknown"

// connection is one long-lived change stream for a listen request. It is shared by all registrations
// with the same connection key and reconnects until the last of them is removed.
type connection struct {
	key     string
	ref     realtimedb.Reference
	shallow bool
	client  *Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	mu            sync.Mutex
	registrations map[uuid.UUID]*registration
	stopped       bool
	classifier    *classifier
}

func newConnection(client *Client, key string, ref realtimedb.Reference, shallow bool) *connection {
	ctx, cancel := context.WithCancel(context.Background())

	return &connection{
		key:           key,
		ref:           ref,
		shallow:       shallow,
		client:        client,
		ctx:           ctx,
		cancel:        cancel,
		registrations: make(map[uuid.UUID]*registration),
		classifier:    newClassifier(shallow),
	}
}

// attach adds reg and queues the current state for it when the stream already delivered a snapshot.
// Frames are classified and dispatched under the same lock, so reg sees every change exactly once.
func (c *connection) attach(reg *registration) {
	c.mu.Lock()
	c.registrations[reg.id] = reg
	for _, event := range c.classifier.replay(reg.kind) {
		reg.enqueue(event)
	}
	c.mu.Unlock()

	c.wg.Go(func() {
		reg.run(c.deliver)
	})
}

// detach removes reg and returns the number of registrations left.
func (c *connection) detach(reg *registration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.registrations, reg.id)

	return len(c.registrations)
}

func (c *connection) start() {
	c.wg.Go(c.run)
}

func (c *connection) stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	c.cancel()
}

func (c *connection) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stopped
}

// wait blocks until the stream goroutine and all dispatch goroutines have returned.
func (c *connection) wait() {
	c.wg.Wait()
}

// classifyAndDispatch turns a put or patch frame into events and queues each for every registration
// listening for its kind.
func (c *connection) classifyAndDispatch(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	events, err := c.classifier.classify(f.event, f.data)
	if err != nil {
		return err
	}

	for _, event := range events {
		for _, reg := range c.registrations {
			if reg.kind == event.Kind() {
				reg.enqueue(event)
			}
		}
	}

	return nil
}

// deliver invokes the listener of reg. A panicking listener is logged and does not affect other listeners.
func (c *connection) deliver(reg *registration, event realtimedb.ChangeEvent) {
	labels := map[string]string{labelKind: reg.kind.String()}

	recovered := panics.Try(func() {
		reg.listener(event)
	})

	if recovered != nil {
		c.client.logError(c.ctx, logMsgListenerPanicked, recovered.AsError(),
			logAttrPanic, fmt.Sprint(recovered.Value),
			logAttrSubscriptionID, reg.id.String(),
			logAttrKind, reg.kind.String(),
			logAttrPath, event.Path())
		c.client.incrementCounter(c.ctx, metricListenerPanics, labels)

		return
	}

	c.client.incrementCounter(c.ctx, metricEventsDispatched, labels)
}

// run connects and reconnects until the connection is stopped.
func (c *connection) run() {
	defer c.reportStatus(StateClosed, 0, nil)

	backOff := c.client.newBackOff()
	lastDelay := time.Duration(0)

	for attempt := 1; ; attempt++ {
		c.reportStatus(StateConnecting, attempt, nil)

		err := c.stream(attempt, backOff)
		if c.ctx.Err() != nil {
			return
		}

		delay := backOff.NextBackOff()
		if delay == backoff.Stop {
			backOff.Reset()
			delay = lastDelay
		}
		if delay <= 0 {
			delay = defaultReconnectDelay
		}
		lastDelay = delay

		c.reportStatus(StateReconnecting, attempt, err)
		c.client.logWarn(c.ctx, logMsgStreamReconnecting,
			logAttrError, err.Error(),
			logAttrPath, c.ref.String(),
			logAttrAttempt, attempt,
			logAttrDelayMS, toMilliseconds(delay))
		c.client.incrementCounter(c.ctx, metricStreamReconnects, map[string]string{
			spanAttrErrorType: errorTypeOf(err),
		})

		timer := time.NewTimer(delay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// stream runs one connection attempt and returns why it ended. It never returns nil.
func (c *connection) stream(attempt int, backOff backoff.BackOff) error {
	req, err := c.client.builder.Build(c.ref, realtimedb.OperationListen, realtimedb.BuildParams{
		Token: realtimedb.TokenFrom(c.client.credentials),
	})
	if err != nil {
		return err
	}

	attemptCtx, cancelAttempt := context.WithCancelCause(c.ctx)
	defer cancelAttempt(nil)

	httpReq, err := newHTTPRequest(attemptCtx, req)
	if err != nil {
		return errors.Join(realtimedb.ErrTransport, err)
	}

	resp, err := c.client.http.Stream(httpReq)
	if err != nil {
		return errors.Join(realtimedb.ErrTransport, err)
	}
	defer c.client.closeBody(c.ctx, resp.Body)

	c.client.logDebug(c.ctx, logMsgRequestExecuted+realtimedb.OperationListen.String(),
		logAttrMethod, req.Method,
		logAttrURL, req.RedactedURL(),
		logAttrStatusCode, resp.StatusCode)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return newStatusError(resp.StatusCode, body, req.HasToken())
	}

	backOff.Reset()
	c.reportStatus(StateStreaming, attempt, nil)
	c.client.logInfo(c.ctx, logMsgStreamConnected,
		logAttrPath, c.ref.String(),
		logAttrConnectionKey, c.key,
		logAttrAttempt, attempt)
	c.client.incrementCounter(c.ctx, metricStreamConnects, nil)

	idleTimeout := c.client.idleTimeout
	if idleTimeout > 0 {
		idle := time.AfterFunc(idleTimeout, func() {
			cancelAttempt(errStreamIdle)
		})
		defer idle.Stop()

		return c.readFrames(attemptCtx, resp.Body, func() { idle.Reset(idleTimeout) })
	}

	return c.readFrames(attemptCtx, resp.Body, func() {})
}

// readFrames handles frames until the stream fails or a frame ends it.
func (c *connection) readFrames(attemptCtx context.Context, body io.Reader, onFrame func()) error {
	reader := newFrameReader(body, c.client.maxFrameBytes)

	for {
		f, err := reader.next()
		if err != nil {
			if cause := context.Cause(attemptCtx); errors.Is(cause, errStreamIdle) {
				return errors.Join(realtimedb.ErrTransport, errStreamIdle)
			}

			if errors.Is(err, errFrameTooLarge) {
				c.malformed(frame{event: unknownFrameEvent}, err)
				return errors.Join(realtimedb.ErrTransport, err)
			}

			if errors.Is(err, io.EOF) {
				return errors.Join(realtimedb.ErrTransport, errStreamEnded)
			}

			return errors.Join(realtimedb.ErrTransport, err)
		}

		onFrame()

		if err := c.handleFrame(f); err != nil {
			return err
		}
	}
}

// handleFrame dispatches the events of one frame. It returns an error for frames that end the stream.
func (c *connection) handleFrame(f frame) error {
	switch f.event {
	case frameEventKeepAlive:
		c.countFrame(f.event)
		return nil

	case frameEventCancel:
		c.countFrame(f.event)
		c.client.logWarn(c.ctx, logMsgStreamCanceled, logAttrPath, c.ref.String())

		return ErrStreamCanceled

	case frameEventAuthRevoked:
		c.countFrame(f.event)
		c.client.logWarn(c.ctx, logMsgAuthRevoked, logAttrPath, c.ref.String())

		return realtimedb.ErrAuthExpired

	case frameEventPut, frameEventPatch:
		c.countFrame(f.event)

		if err := c.classifyAndDispatch(f); err != nil {
			c.malformed(f, err)
		}

		return nil

	default:
		c.countFrame(unknownFrameEvent)
		c.malformed(f, fmt.Errorf("%w: unknown event %q", errMalformedFrame, f.event))

		return nil
	}
}

func (c *connection) countFrame(event string) {
	c.client.incrementCounter(c.ctx, metricStreamFrames, map[string]string{labelEvent: event})
}

func (c *connection) malformed(f frame, err error) {
	c.client.logWarn(c.ctx, logMsgMalformedFrame,
		logAttrError, err.Error(),
		logAttrEvent, f.event,
		logAttrPath, c.ref.String())
	c.client.incrementCounter(c.ctx, metricMalformedFrames, nil)
}

// reportStatus passes a state transition to the status handler, if one is configured.
func (c *connection) reportStatus(state ConnectionState, attempt int, err error) {
	if state == StateClosed {
		c.client.logInfo(c.ctx, logMsgStreamClosed,
			logAttrPath, c.ref.String(),
			logAttrConnectionKey, c.key)
	}

	if c.client.statusHandler == nil {
		return
	}

	c.client.statusHandler(StreamStatus{
		Key:     c.key,
		Path:    c.ref.String(),
		State:   state,
		Attempt: attempt,
		Err:     err,
	})
}
