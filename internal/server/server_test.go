package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"maestro/internal/agents"
	"maestro/internal/config"
	"maestro/internal/db"
	"maestro/internal/domain"
	"maestro/internal/journal"
	"maestro/internal/llm"
	"maestro/internal/manager"
	"maestro/internal/migrate"
	"maestro/internal/orchestrator"
	"maestro/internal/planner"
	"maestro/internal/repo"
	"maestro/internal/stream"
)

type testServer struct {
	URL      string
	client   *http.Client
	provider *llm.MockProvider
	close    func()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Provider.Retries = 0

	r := repo.Repo{DB: conn}
	reg := agents.NewRegistry(r)
	if err := reg.Seed(context.Background(), cfg.Agents); err != nil {
		t.Fatalf("seed agents: %v", err)
	}
	provider := llm.NewMockProvider()
	hub := stream.NewHub(stream.HubOptions{QueueDepth: cfg.Stream.QueueDepth})
	jw := journal.NewWriter(r, hub, nil)
	pl := planner.New(provider, nil)
	exec := agents.NewLLMExecutor(provider)
	orch := orchestrator.New(r, jw, pl, reg, exec, provider, cfg, nil)
	mgr := manager.New(r, orch, nil)

	handler, err := New(Config{Manager: mgr, Registry: reg, Hub: hub, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)

	ts := &testServer{
		URL:      "http://" + ln.Addr().String(),
		client:   &http.Client{},
		provider: provider,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			mgr.Shutdown()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func waitTerminal(t *testing.T, ts *testServer, id string) SessionDetailResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/sessions/"+id, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("get session: status %d: %s", resp.StatusCode, data)
		}
		var detail SessionDetailResponse
		if err := json.Unmarshal(data, &detail); err != nil {
			t.Fatalf("decode detail: %v", err)
		}
		if detail.Session.Terminal() {
			return detail
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("session %s never reached a terminal state", id)
	return SessionDetailResponse{}
}

func TestCreateSessionValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/sessions", map[string]any{
		"query": "",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty query: status %d body %s", resp.StatusCode, data)
	}
	if !strings.Contains(string(data), "bad_request") {
		t.Fatalf("want bad_request envelope, got %s", data)
	}

	resp, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/sessions", map[string]any{
		"query": strings.Repeat("q", manager.MaxQueryLen+1),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("over-long query: status %d body %s", resp.StatusCode, data)
	}
	if !strings.Contains(string(data), "at most") {
		t.Fatalf("want length-cap message, got %s", data)
	}
}

func TestCreateAndGetSession(t *testing.T) {
	ts := newTestServer(t)
	ts.provider.AddResponse("Respond with ONLY a JSON object",
		`{"requires_agents": false, "approach": "direct", "reasoning": "simple"}`)
	ts.provider.AddResponse("what is 2+2?", "2 + 2 = 4")

	resp, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/sessions", map[string]any{
		"query":    "what is 2+2?",
		"agent_id": "auto",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d body %s", resp.StatusCode, data)
	}
	var created SessionDetailResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if created.Session.ID == "" || created.Session.Status != domain.SessionCreated {
		t.Fatalf("unexpected created session: %+v", created.Session)
	}

	detail := waitTerminal(t, ts, created.Session.ID)
	if detail.Session.Status != domain.SessionCompleted {
		t.Fatalf("status = %q, want completed", detail.Session.Status)
	}
	if detail.Session.FinalOutput == nil || *detail.Session.FinalOutput != "2 + 2 = 4" {
		t.Fatalf("final output = %v", detail.Session.FinalOutput)
	}
	if len(detail.Logs) == 0 {
		t.Fatalf("journal must not be empty")
	}
	for i, l := range detail.Logs {
		if l.Sequence != i+1 {
			t.Fatalf("journal out of order: %+v", detail.Logs)
		}
	}
}

func TestGetSessionNotFound(t *testing.T) {
	ts := newTestServer(t)
	resp, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/sessions/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d body %s", resp.StatusCode, data)
	}
}

func TestSearchArchiveValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/archive/search?q=ab", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("short query: status %d body %s", resp.StatusCode, data)
	}

	long := strings.Repeat("x", repo.SearchMaxQueryLen+1)
	resp, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/archive/search?q="+long, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("long query: status %d body %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/archive/search?q=nothing-matches", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid query: status %d body %s", resp.StatusCode, data)
	}
}

func TestCapabilities(t *testing.T) {
	ts := newTestServer(t)
	resp, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/capabilities", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d body %s", resp.StatusCode, data)
	}
	var caps agents.Capabilities
	if err := json.Unmarshal(data, &caps); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if caps.TotalAgents == 0 || len(caps.ByType) == 0 {
		t.Fatalf("capabilities empty: %+v", caps)
	}
}

func TestCancelSession(t *testing.T) {
	ts := newTestServer(t)

	resp, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/sessions/nope/cancel", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cancel missing: status %d body %s", resp.StatusCode, data)
	}

	ts.provider.AddResponse("Respond with ONLY a JSON object",
		`{"requires_agents": false, "approach": "direct", "reasoning": "simple"}`)
	resp, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/sessions", map[string]any{
		"query": "quick question",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.StatusCode, data)
	}
	var created SessionDetailResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	detail := waitTerminal(t, ts, created.Session.ID)

	// Cancelling a finished session is a conflict.
	resp, data = doJSON(t, ts.client, http.MethodPost,
		fmt.Sprintf("%s/v0/sessions/%s/cancel", ts.URL, detail.Session.ID), nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("cancel terminal: status %d body %s", resp.StatusCode, data)
	}
}

func TestStreamEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.provider.AddResponse("Respond with ONLY a JSON object",
		`{"requires_agents": false, "approach": "direct", "reasoning": "simple"}`)
	ts.provider.AddResponse("stream me", "streamed output")

	resp, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/sessions", map[string]any{
		"query": "stream me",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.StatusCode, data)
	}
	var created SessionDetailResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream/" + created.Session.ID
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer ws.Close()

	// First frame confirms attachment.
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var first stream.Event
	if err := ws.ReadJSON(&first); err != nil {
		t.Fatalf("read attach confirmation: %v", err)
	}
	if first.Type != stream.EventStatusUpdate || first.Sequence != 0 {
		t.Fatalf("unexpected first frame: %+v", first)
	}

	waitTerminal(t, ts, created.Session.ID)
}

func TestStreamUnknownSession(t *testing.T) {
	ts := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream/nope"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("dial must fail for unknown session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404 handshake, got %+v", resp)
	}
}
