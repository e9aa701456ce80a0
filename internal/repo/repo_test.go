package repo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"maestro/internal/db"
	"maestro/internal/domain"
	"maestro/internal/migrate"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Repo{DB: conn}
}

func insertTestSession(t *testing.T, r Repo, id, query string) domain.Session {
	t.Helper()
	s := domain.Session{
		ID:           id,
		AgentID:      domain.AgentAuto,
		InitialQuery: query,
		Status:       domain.SessionCreated,
		StartTime:    time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.InsertSession(context.Background(), s); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	return s
}

func TestSessionLifecycle(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertTestSession(t, r, "s1", "what is 2+2?")

	got, err := r.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != domain.SessionCreated {
		t.Fatalf("status = %q, want created", got.Status)
	}
	if got.EndTime != nil || got.FinalOutput != nil {
		t.Fatalf("new session must not carry terminal fields")
	}

	if err := r.UpdateSessionStatus(ctx, "s1", domain.SessionInProgress); err != nil {
		t.Fatalf("update status: %v", err)
	}

	final := "2 + 2 = 4"
	cost := 1
	end := time.Now().UTC().Format(time.RFC3339)
	if err := r.CompleteSession(ctx, "s1", domain.SessionCompleted, &final, end, 3, &cost); err != nil {
		t.Fatalf("complete session: %v", err)
	}
	got, err = r.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !got.Terminal() {
		t.Fatalf("session should be terminal, got %q", got.Status)
	}
	if got.FinalOutput == nil || *got.FinalOutput != final {
		t.Fatalf("final output not persisted")
	}
	if got.EndTime == nil || got.DurationSeconds == nil || *got.DurationSeconds != 3 {
		t.Fatalf("terminal bookkeeping incomplete: %+v", got)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.GetSession(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := r.UpdateSessionStatus(context.Background(), "missing", domain.SessionFailed); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update err = %v, want ErrNotFound", err)
	}
}

func TestListSessionsFiltersAndOrder(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		s := domain.Session{
			ID:           id,
			AgentID:      "research-agent",
			InitialQuery: "q",
			Status:       domain.SessionCreated,
			StartTime:    base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
		}
		if err := r.InsertSession(ctx, s); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := r.UpdateSessionStatus(ctx, "b", domain.SessionFailed); err != nil {
		t.Fatalf("update: %v", err)
	}

	items, err := r.ListSessions(ctx, SessionFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 3 || items[0].ID != "c" || items[2].ID != "a" {
		t.Fatalf("want newest first [c b a], got %+v", items)
	}

	items, err = r.ListSessions(ctx, SessionFilters{Status: domain.SessionFailed})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(items) != 1 || items[0].ID != "b" {
		t.Fatalf("status filter broken: %+v", items)
	}

	items, err = r.ListSessions(ctx, SessionFilters{Limit: 2})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("limit ignored, got %d rows", len(items))
	}
}

func TestInteractionLogOrderAndUniqueness(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertTestSession(t, r, "s1", "q")

	for _, seq := range []int{1, 2, 3} {
		l := domain.InteractionLog{
			ID:        "l" + string(rune('0'+seq)),
			SessionID: "s1",
			Sequence:  seq,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			EventType: "chunk",
			Content:   map[string]any{"text": "x"},
		}
		if err := r.InsertInteractionLog(ctx, l); err != nil {
			t.Fatalf("insert log %d: %v", seq, err)
		}
	}

	dup := domain.InteractionLog{
		ID: "dup", SessionID: "s1", Sequence: 2,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		EventType: "chunk", Content: map[string]any{},
	}
	if err := r.InsertInteractionLog(ctx, dup); err == nil {
		t.Fatalf("duplicate sequence must be rejected")
	}

	logs, err := r.ListInteractionLogs(ctx, "s1")
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("want 3 logs, got %d", len(logs))
	}
	for i, l := range logs {
		if l.Sequence != i+1 {
			t.Fatalf("logs out of order: %+v", logs)
		}
	}

	n, err := r.CountInteractionLogs(ctx, "s1")
	if err != nil || n != 3 {
		t.Fatalf("count = %d err = %v, want 3", n, err)
	}
}

func TestInteractionLogRequiresSession(t *testing.T) {
	r := newTestRepo(t)
	l := domain.InteractionLog{
		ID: "l1", SessionID: "orphan", Sequence: 1,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		EventType: "chunk", Content: map[string]any{},
	}
	if err := r.InsertInteractionLog(context.Background(), l); err == nil {
		t.Fatalf("log without session must violate the foreign key")
	}
}

func TestArtifacts(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertTestSession(t, r, "s1", "q")

	a := domain.Artifact{
		ID:           "art1",
		SessionID:    "s1",
		ArtifactType: domain.ArtifactReport,
		Title:        "Quarterly report",
		Content:      "numbers went up",
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Tags:         []string{"research-agent", "analytics-agent"},
	}
	if err := r.InsertArtifact(ctx, a); err != nil {
		t.Fatalf("insert artifact: %v", err)
	}
	got, err := r.GetArtifact(ctx, "art1")
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	if got.Title != a.Title || len(got.Tags) != 2 {
		t.Fatalf("artifact roundtrip broken: %+v", got)
	}
	list, err := r.ListArtifacts(ctx, "s1")
	if err != nil || len(list) != 1 {
		t.Fatalf("list artifacts: %v (%d)", err, len(list))
	}
}

func TestSearchArchiveBounds(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if _, err := r.SearchArchive(ctx, "ab", 10); !errors.Is(err, ErrSearchQueryLength) {
		t.Fatalf("short query err = %v", err)
	}
	long := make([]byte, SearchMaxQueryLen+1)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := r.SearchArchive(ctx, string(long), 10); !errors.Is(err, ErrSearchQueryLength) {
		t.Fatalf("long query err = %v", err)
	}
}

func TestSearchArchiveBoundsCountRunes(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	// 200 characters but 600 bytes: within bounds.
	cjk := strings.Repeat("語", 200)
	if _, err := r.SearchArchive(ctx, cjk, 10); err != nil {
		t.Fatalf("multibyte query within bounds err = %v", err)
	}
	// Two characters but 6 bytes: still too short.
	if _, err := r.SearchArchive(ctx, "日本", 10); !errors.Is(err, ErrSearchQueryLength) {
		t.Fatalf("two-rune query err = %v", err)
	}
	if _, err := r.SearchArchive(ctx, strings.Repeat("語", SearchMaxQueryLen+1), 10); !errors.Is(err, ErrSearchQueryLength) {
		t.Fatalf("over-long multibyte query err = %v", err)
	}
}

func TestSearchArchiveLiteralWildcards(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertTestSession(t, r, "s1", "calculate 100% of revenue")
	insertTestSession(t, r, "s2", "calculate 100 units of revenue")

	res, err := r.SearchArchive(ctx, "100%", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Sessions) != 1 || res.Sessions[0].ID != "s1" {
		t.Fatalf("%% must match literally, got %+v", res.Sessions)
	}

	insertTestSession(t, r, "s3", "a_b pattern")
	res, err = r.SearchArchive(ctx, "a_b", 10)
	if err != nil {
		t.Fatalf("search underscore: %v", err)
	}
	if len(res.Sessions) != 1 || res.Sessions[0].ID != "s3" {
		t.Fatalf("_ must match literally, got %+v", res.Sessions)
	}
}

func TestSearchArchiveMatchesArtifacts(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertTestSession(t, r, "s1", "unrelated")
	a := domain.Artifact{
		ID: "art1", SessionID: "s1",
		ArtifactType: domain.ArtifactDocument,
		Title:        "migration runbook",
		Content:      "steps to migrate the cluster",
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.InsertArtifact(ctx, a); err != nil {
		t.Fatalf("insert artifact: %v", err)
	}
	res, err := r.SearchArchive(ctx, "runbook", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Artifacts) != 1 || res.Artifacts[0].ID != "art1" {
		t.Fatalf("artifact search broken: %+v", res.Artifacts)
	}
	if len(res.Sessions) != 0 {
		t.Fatalf("no session should match, got %+v", res.Sessions)
	}
}

func TestAgentUpsert(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	a := domain.Agent{
		ID: "research-agent", Name: "Research Agent", Type: "research",
		Specialization: "web research", Status: domain.AgentIdle,
		Capabilities: []string{"search"},
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.UpsertAgent(ctx, a); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	a.Specialization = "deep web research"
	if err := r.UpsertAgent(ctx, a); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, err := r.GetAgent(ctx, "research-agent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Specialization != "deep web research" {
		t.Fatalf("upsert did not refresh: %+v", got)
	}
	var count int
	if err := r.DB.QueryRow(`SELECT count(*) FROM agents`).Scan(&count); err != nil || count != 1 {
		t.Fatalf("want a single row, got %d (%v)", count, err)
	}
}
