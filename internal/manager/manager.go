// Package manager is the front door for session lifecycle: it validates
// requests, persists the initial record and schedules exactly one
// orchestrator task per session.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"maestro/internal/domain"
	"maestro/internal/orchestrator"
	"maestro/internal/repo"
)

// MaxQueryLen caps the initial query, in characters.
const MaxQueryLen = 4000

var (
	ErrEmptyQuery      = errors.New("query must not be empty")
	ErrQueryTooLong    = fmt.Errorf("query must be at most %d characters", MaxQueryLen)
	ErrSessionTerminal = errors.New("session already reached a terminal state")
)

type Manager struct {
	repo repo.Repo
	orch *orchestrator.Orchestrator
	log  *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func New(r repo.Repo, orch *orchestrator.Orchestrator, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{repo: r, orch: orch, log: log, running: map[string]context.CancelFunc{}}
}

// CreateSession persists a new session and schedules its orchestrator task.
// It returns as soon as the record exists; execution is asynchronous.
func (m *Manager) CreateSession(ctx context.Context, agentID, query string, userID *string) (domain.Session, error) {
	if strings.TrimSpace(query) == "" {
		return domain.Session{}, ErrEmptyQuery
	}
	if utf8.RuneCountInString(query) > MaxQueryLen {
		return domain.Session{}, ErrQueryTooLong
	}
	if agentID == "" {
		agentID = domain.AgentAuto
	}
	sess := domain.Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		AgentID:      agentID,
		InitialQuery: query,
		Status:       domain.SessionCreated,
		StartTime:    time.Now().UTC().Format(time.RFC3339),
	}
	if err := m.repo.InsertSession(ctx, sess); err != nil {
		return domain.Session{}, err
	}

	// The run outlives the request: it is tied to the manager, not to
	// the HTTP call that created it.
	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.running[sess.ID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.release(sess.ID)
		m.orch.Run(runCtx, sess)
	}()

	m.log.Info("session scheduled", "session_id", sess.ID, "agent_id", agentID)
	return sess, nil
}

func (m *Manager) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return m.repo.GetSession(ctx, id)
}

func (m *Manager) ListSessions(ctx context.Context, f repo.SessionFilters) ([]domain.Session, error) {
	return m.repo.ListSessions(ctx, f)
}

func (m *Manager) ListInteractionLogs(ctx context.Context, sessionID string) ([]domain.InteractionLog, error) {
	return m.repo.ListInteractionLogs(ctx, sessionID)
}

func (m *Manager) ListArtifacts(ctx context.Context, sessionID string) ([]domain.Artifact, error) {
	return m.repo.ListArtifacts(ctx, sessionID)
}

func (m *Manager) SearchArchive(ctx context.Context, query string, limit int) (repo.ArchiveResult, error) {
	return m.repo.SearchArchive(ctx, query, limit)
}

// CancelSession stops a running session. The orchestrator observes the
// cancellation and records the failure itself; callers should re-read the
// session to see the terminal state.
func (m *Manager) CancelSession(ctx context.Context, id string) error {
	sess, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.Terminal() {
		return ErrSessionTerminal
	}
	m.mu.Lock()
	cancel, ok := m.running[id]
	m.mu.Unlock()
	if !ok {
		// Scheduled but no longer tracked: the run finished between the
		// status read and now.
		return ErrSessionTerminal
	}
	cancel()
	m.log.Info("session cancel requested", "session_id", id)
	return nil
}

// Shutdown cancels all in-flight sessions and waits for their orchestrator
// tasks to record terminal state.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	if cancel, ok := m.running[id]; ok {
		cancel()
		delete(m.running, id)
	}
	m.mu.Unlock()
}
