package stream

import (
	"sync"
	"sync/atomic"
)

// Transport is the write side of one attached observer. Implementations
// must tolerate Close being called more than once.
type Transport interface {
	WriteEvent(Event) error
	Close() error
}

// Conn is one live observer of a session. Events are enqueued on a bounded
// channel drained by a dedicated writer goroutine, so a slow transport
// never blocks the broadcaster or other observers.
type Conn struct {
	sessionID string
	transport Transport

	out       chan Event
	done      chan struct{}
	closeOnce sync.Once

	// consecutive undelivered heartbeats; reset on any successful enqueue
	missed atomic.Int32
}

func newConn(sessionID string, t Transport, queueDepth int) *Conn {
	return &Conn{
		sessionID: sessionID,
		transport: t,
		out:       make(chan Event, queueDepth),
		done:      make(chan struct{}),
	}
}

// SessionID returns the session this connection observes.
func (c *Conn) SessionID() string { return c.sessionID }

// writeLoop drains the outbound queue to the transport. A write error or
// queue close stops the loop; the hub detaches the connection.
func (c *Conn) writeLoop(onDead func(*Conn)) {
	for {
		select {
		case ev, ok := <-c.out:
			if !ok {
				return
			}
			if err := c.transport.WriteEvent(ev); err != nil {
				onDead(c)
				return
			}
		case <-c.done:
			return
		}
	}
}

// trySend enqueues without blocking. It reports false when the queue is
// full or the connection is closed.
func (c *Conn) trySend(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- ev:
		c.missed.Store(0)
		return true
	default:
		return false
	}
}

// close releases the connection exactly once.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.transport.Close()
	})
}
