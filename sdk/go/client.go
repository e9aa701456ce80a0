// Package maestrosdk is a minimal Maestro HTTP API client with a streaming
// session observer.
package maestrosdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Client is a minimal Maestro HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration

	mu        sync.Mutex
	observers map[string]*Observer
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Session mirrors the API session model.
type Session struct {
	ID              string            `json:"id"`
	UserID          *string           `json:"user_id,omitempty"`
	AgentID         string            `json:"agent_id"`
	InitialQuery    string            `json:"initial_query"`
	FinalOutput     *string           `json:"final_output,omitempty"`
	Status          string            `json:"status"`
	StartTime       string            `json:"start_time"`
	EndTime         *string           `json:"end_time,omitempty"`
	DurationSeconds *int              `json:"duration_seconds,omitempty"`
	CostCents       *int              `json:"cost_cents,omitempty"`
	Meta            map[string]string `json:"meta,omitempty"`
}

// InteractionLog is one journaled session event.
type InteractionLog struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Sequence   int            `json:"sequence"`
	Timestamp  string         `json:"timestamp"`
	EventType  string         `json:"event_type"`
	Content    map[string]any `json:"content"`
	TokenCount *int           `json:"token_count,omitempty"`
	CostCents  *int           `json:"cost_cents,omitempty"`
}

// Artifact is a durable session output.
type Artifact struct {
	ID           string   `json:"id"`
	SessionID    string   `json:"session_id"`
	ArtifactType string   `json:"artifact_type"`
	Title        string   `json:"title"`
	Content      string   `json:"content,omitempty"`
	FilePath     *string  `json:"file_path,omitempty"`
	Timestamp    string   `json:"timestamp"`
	Tags         []string `json:"tags,omitempty"`
}

// Event is one live stream message.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Sequence  int            `json:"sequence"`
	Data      map[string]any `json:"data"`
}

// Terminal reports whether no further events follow on the stream.
func (e Event) Terminal() bool {
	return e.Type == "session_complete" || e.Type == "error"
}

// SessionDetail is the full durable record of a session.
type SessionDetail struct {
	Session   Session          `json:"session"`
	Logs      []InteractionLog `json:"interaction_logs"`
	Artifacts []Artifact       `json:"artifacts"`
}

// SessionList wraps the list endpoint response.
type SessionList struct {
	Sessions []Session `json:"sessions"`
	Count    int       `json:"count"`
}

// Agent mirrors the catalog entry model.
type Agent struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Specialization string   `json:"specialization"`
	Status         string   `json:"status"`
	Capabilities   []string `json:"capabilities,omitempty"`
}

// AgentList wraps the agent list response.
type AgentList struct {
	Agents []Agent `json:"agents"`
	Count  int     `json:"count"`
}

// Capabilities summarises the agent catalog.
type Capabilities struct {
	TotalAgents    int                 `json:"total_agents"`
	ByType         map[string][]string `json:"by_type"`
	AvailableTools []string            `json:"available_tools"`
}

// SearchResult groups archive matches.
type SearchResult struct {
	Query   string `json:"query"`
	Results struct {
		Sessions  []Session  `json:"sessions"`
		Artifacts []Artifact `json:"artifacts"`
	} `json:"results"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateSession starts a session. Execution is asynchronous; use Watch to
// follow the live stream or GetSession to read the durable record.
func (c *Client) CreateSession(ctx context.Context, agentID, query string) (Session, error) {
	body := map[string]any{
		"agent_id": agentID,
		"query":    query,
	}
	var resp SessionDetail
	err := c.do(ctx, http.MethodPost, "v0/sessions", body, &resp)
	return resp.Session, err
}

// GetSession fetches a session with its interaction log and artifacts.
func (c *Client) GetSession(ctx context.Context, id string) (SessionDetail, error) {
	var resp SessionDetail
	err := c.do(ctx, http.MethodGet, "v0/sessions/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListSessions lists sessions newest first.
func (c *Client) ListSessions(ctx context.Context, agentID, status string, limit int) (SessionList, error) {
	q := url.Values{}
	if agentID != "" {
		q.Set("agent_id", agentID)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "v0/sessions"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp SessionList
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CancelSession requests cancellation of a running session.
func (c *Client) CancelSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "v0/sessions/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// SearchArchive searches finished work. The query is matched literally.
func (c *Client) SearchArchive(ctx context.Context, query string, limit int) (SearchResult, error) {
	q := url.Values{"q": []string{query}}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp SearchResult
	err := c.do(ctx, http.MethodGet, "v0/archive/search?"+q.Encode(), nil, &resp)
	return resp, err
}

// Agents lists the agent catalog.
func (c *Client) Agents(ctx context.Context) (AgentList, error) {
	var resp AgentList
	err := c.do(ctx, http.MethodGet, "v0/agents", nil, &resp)
	return resp, err
}

// Capabilities describes what the orchestrator can do.
func (c *Client) Capabilities(ctx context.Context) (Capabilities, error) {
	var resp Capabilities
	err := c.do(ctx, http.MethodGet, "v0/capabilities", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

// streamURL derives the WebSocket endpoint from the API base URL.
func (c *Client) streamURL(sessionID string) string {
	base := c.base()
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/stream/" + url.PathEscape(sessionID)
}
