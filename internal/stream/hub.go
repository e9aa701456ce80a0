package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// HubOptions tunes fan-out behavior.
type HubOptions struct {
	QueueDepth          int
	HeartbeatInterval   time.Duration
	MaxMissedHeartbeats int
	Logger              *slog.Logger
}

// Hub is the connection registry: it owns the set of live observers per
// session and fans events out to them. Broadcast never blocks on a slow
// observer; backpressure is isolated to the offending connection, which is
// detached once its queue stays full.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Conn]struct{}

	queueDepth        int
	heartbeatInterval time.Duration
	maxMissed         int
	logger            *slog.Logger
}

func NewHub(opts HubOptions) *Hub {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 64
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	if opts.MaxMissedHeartbeats <= 0 {
		opts.MaxMissedHeartbeats = 3
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Hub{
		sessions:          map[string]map[*Conn]struct{}{},
		queueDepth:        opts.QueueDepth,
		heartbeatInterval: opts.HeartbeatInterval,
		maxMissed:         opts.MaxMissedHeartbeats,
		logger:            opts.Logger,
	}
}

// Attach registers a transport as an observer of a session and immediately
// confirms attachment. The live channel is forward-only: no history is
// replayed (clients wanting history read the interaction log).
func (h *Hub) Attach(sessionID string, t Transport) *Conn {
	c := newConn(sessionID, t, h.queueDepth)
	// Queue the confirmation before broadcasters can see the connection,
	// so it is always the first frame delivered.
	c.trySend(newAttached(sessionID))
	h.mu.Lock()
	set, ok := h.sessions[sessionID]
	if !ok {
		set = map[*Conn]struct{}{}
		h.sessions[sessionID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	go c.writeLoop(func(dead *Conn) { h.Detach(sessionID, dead) })
	h.logger.Debug("stream attach", "session_id", sessionID)
	return c
}

// Detach removes a connection; it is idempotent.
func (h *Hub) Detach(sessionID string, c *Conn) {
	h.mu.Lock()
	set, ok := h.sessions[sessionID]
	if ok {
		if _, present := set[c]; present {
			delete(set, c)
			if len(set) == 0 {
				delete(h.sessions, sessionID)
			}
		} else {
			ok = false
		}
	}
	h.mu.Unlock()
	c.close()
	if ok {
		h.logger.Debug("stream detach", "session_id", sessionID)
	}
}

// Broadcast delivers the event to every observer of the session and
// returns promptly. An observer whose queue is full is scheduled for
// detachment rather than slowing the rest.
func (h *Hub) Broadcast(sessionID string, ev Event) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.sessions[sessionID]))
	for c := range h.sessions[sessionID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if !c.trySend(ev) {
			h.logger.Warn("dropping unresponsive stream connection",
				"session_id", sessionID, "event_type", ev.Type)
			go h.Detach(sessionID, c)
		}
	}
}

// ConnectionCount reports live observers for a session.
func (h *Hub) ConnectionCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Run emits heartbeats until the context is cancelled. A connection that
// misses maxMissed consecutive heartbeats is proactively detached.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.heartbeat()
		}
	}
}

func (h *Hub) heartbeat() {
	h.mu.RLock()
	type target struct {
		sessionID string
		conn      *Conn
	}
	var targets []target
	for sid, set := range h.sessions {
		for c := range set {
			targets = append(targets, target{sid, c})
		}
	}
	h.mu.RUnlock()

	for _, tg := range targets {
		if tg.conn.trySend(newHeartbeat()) {
			continue
		}
		if int(tg.conn.missed.Add(1)) >= h.maxMissed {
			h.logger.Warn("connection missed heartbeats, detaching",
				"session_id", tg.sessionID, "missed", h.maxMissed)
			h.Detach(tg.sessionID, tg.conn)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = map[string]map[*Conn]struct{}{}
	h.mu.Unlock()
	for _, set := range sessions {
		for c := range set {
			c.close()
		}
	}
}
