package maestrosdk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxReconnectAttempts = 5
	baseReconnectDelay   = time.Second
	maxReconnectDelay    = 8 * time.Second
)

// ErrAlreadyWatching is returned when a second Watch call is made for a
// session this client is already observing. One client is one logical
// observer; duplicate attaches would double every event and heartbeat.
var ErrAlreadyWatching = errors.New("already watching this session")

// Observer follows one session's live event stream. It reconnects with
// exponential backoff on transport failure and stops on its own after a
// terminal event.
type Observer struct {
	client    *Client
	sessionID string
	events    chan Event

	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool
	err    error
}

// Watch attaches to a session's stream. A second Watch for the same session
// on the same client returns ErrAlreadyWatching instead of opening a second
// connection.
func (c *Client) Watch(ctx context.Context, sessionID string) (*Observer, error) {
	c.mu.Lock()
	if c.observers == nil {
		c.observers = map[string]*Observer{}
	}
	if _, ok := c.observers[sessionID]; ok {
		c.mu.Unlock()
		return nil, ErrAlreadyWatching
	}
	o := &Observer{
		client:    c,
		sessionID: sessionID,
		events:    make(chan Event, 64),
	}
	c.observers[sessionID] = o
	c.mu.Unlock()

	ws, err := o.dial(ctx)
	if err != nil {
		c.release(sessionID)
		return nil, err
	}
	o.setConn(ws)
	go o.run(ctx)
	return o, nil
}

// Events yields stream events in sequence order. The channel closes when
// the session reaches a terminal event, the observer is closed, or
// reconnection gives up; Err distinguishes the last case.
func (o *Observer) Events() <-chan Event {
	return o.events
}

// Err reports why the event channel closed, nil for a clean end.
func (o *Observer) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Close detaches the observer. Safe to call more than once.
func (o *Observer) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	ws := o.ws
	o.mu.Unlock()

	o.client.release(o.sessionID)
	if ws != nil {
		return ws.Close()
	}
	return nil
}

func (c *Client) release(sessionID string) {
	c.mu.Lock()
	delete(c.observers, sessionID)
	c.mu.Unlock()
}

func (o *Observer) dial(ctx context.Context) (*websocket.Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, o.client.streamURL(o.sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("dial stream: %w", err)
	}
	return ws, nil
}

func (o *Observer) setConn(ws *websocket.Conn) {
	o.mu.Lock()
	o.ws = ws
	o.mu.Unlock()
}

func (o *Observer) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Observer) fail(err error) {
	o.mu.Lock()
	if !o.closed {
		o.err = err
	}
	o.mu.Unlock()
}

func (o *Observer) run(ctx context.Context) {
	defer close(o.events)
	defer o.Close()

	attempts := 0
	for {
		terminal, readErr := o.readLoop(ctx)
		if terminal || o.isClosed() || ctx.Err() != nil {
			return
		}

		// Transport failure: back off and re-dial. The stream is
		// forward-only, so a gap during the outage is recovered via
		// GetSession, not replay.
		attempts++
		if attempts > maxReconnectAttempts {
			o.fail(fmt.Errorf("stream reconnect gave up after %d attempts: %w", maxReconnectAttempts, readErr))
			return
		}
		delay := baseReconnectDelay << (attempts - 1)
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		ws, err := o.dial(ctx)
		if err != nil {
			continue
		}
		o.setConn(ws)
		attempts = 0
	}
}

// readLoop consumes one connection until a terminal event or a transport
// error. Heartbeats keep the connection alive but are not surfaced.
func (o *Observer) readLoop(ctx context.Context) (terminal bool, err error) {
	o.mu.Lock()
	ws := o.ws
	o.mu.Unlock()
	if ws == nil {
		return false, errors.New("no connection")
	}
	for {
		var ev Event
		if err := ws.ReadJSON(&ev); err != nil {
			return false, err
		}
		if ev.Sequence == 0 {
			continue
		}
		select {
		case o.events <- ev:
		case <-ctx.Done():
			return false, ctx.Err()
		}
		if ev.Terminal() {
			return true, nil
		}
	}
}
