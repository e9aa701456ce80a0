// Package journal makes the live stream durable: every orchestrator event
// becomes one interaction log row before it is broadcast, so a session can
// always be replayed from storage.
package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"maestro/internal/domain"
	"maestro/internal/repo"
	"maestro/internal/stream"
)

// Usage attributes provider spend to a single event.
type Usage struct {
	Tokens    int
	CostCents int
}

// Writer persists events and artifacts. A persistence failure never stops
// the session; the session is marked degraded and the stream carries on.
type Writer struct {
	repo repo.Repo
	hub  *stream.Hub
	log  *slog.Logger

	mu       sync.Mutex
	degraded map[string]bool
}

func NewWriter(r repo.Repo, hub *stream.Hub, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{repo: r, hub: hub, log: log, degraded: map[string]bool{}}
}

// Emit journals ev for sessionID and then broadcasts it to attached
// observers. Events with sequence 0 are control traffic and are broadcast
// without journaling.
func (w *Writer) Emit(ctx context.Context, sessionID string, ev stream.Event, usage *Usage) {
	// Journaling outlives session cancellation: a cancelled session still
	// records its trailing events, so the write uses a detached context.
	ctx = context.WithoutCancel(ctx)
	if ev.Sequence > 0 {
		entry := domain.InteractionLog{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Sequence:  ev.Sequence,
			Timestamp: ev.Timestamp.Format(time.RFC3339Nano),
			EventType: string(ev.Type),
			Content:   ev.Data,
		}
		if usage != nil {
			tokens, cost := usage.Tokens, usage.CostCents
			entry.TokenCount = &tokens
			entry.CostCents = &cost
		}
		if err := w.repo.InsertInteractionLog(ctx, entry); err != nil {
			w.log.Error("journal write failed, session degraded",
				"session_id", sessionID, "sequence", ev.Sequence, "error", err)
			w.markDegraded(ctx, sessionID)
		}
	}
	w.hub.Broadcast(sessionID, ev)
}

// SaveArtifact persists a durable output. Unlike event journaling this is
// load-bearing for the caller, so the error is returned.
func (w *Writer) SaveArtifact(ctx context.Context, a domain.Artifact) error {
	return w.repo.InsertArtifact(ctx, a)
}

// Degraded reports whether journaling failed at least once for the session.
func (w *Writer) Degraded(sessionID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.degraded[sessionID]
}

func (w *Writer) markDegraded(ctx context.Context, sessionID string) {
	w.mu.Lock()
	already := w.degraded[sessionID]
	w.degraded[sessionID] = true
	w.mu.Unlock()
	if already {
		return
	}
	if err := w.repo.SetSessionMeta(ctx, sessionID, map[string]string{"journal_degraded": "true"}); err != nil {
		w.log.Error("could not mark session degraded", "session_id", sessionID, "error", err)
	}
}
