package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"maestro/internal/agents"
	"maestro/internal/manager"
	"maestro/internal/repo"
	"maestro/internal/stream"
)

// Config for the HTTP API handler.
type Config struct {
	Manager  *manager.Manager
	Registry *agents.Registry
	Hub      *stream.Hub
	BasePath string
	Log      *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"session not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Maestro API and the per-session
// event stream.
func New(cfg Config) (http.Handler, error) {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope above.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Maestro API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerSessions(group, cfg.Manager)
	registerArchive(group, cfg.Manager)
	registerAgents(group, cfg.Registry)
	registerOpenAPI(router, api, basePath)

	// The live stream is a raw WebSocket endpoint outside the OpenAPI
	// surface; history is served by the session detail endpoint, the
	// stream is forward-only.
	router.Get("/stream/{sessionId}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionId")
		if _, err := cfg.Manager.GetSession(r.Context(), sessionID); err != nil {
			writeStreamError(w, err)
			return
		}
		if err := stream.ServeWS(cfg.Hub, w, r, sessionID); err != nil {
			cfg.Log.Warn("stream attach failed", "session_id", sessionID, "error", err)
		}
	})

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrSearchQueryLength):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{
			"min_length": repo.SearchMinQueryLen,
			"max_length": repo.SearchMaxQueryLen,
		})
	case errors.Is(err, manager.ErrEmptyQuery), errors.Is(err, manager.ErrQueryTooLong):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, manager.ErrSessionTerminal):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// writeStreamError mirrors the API error envelope on the raw stream route,
// where huma is not in the loop.
func writeStreamError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	if errors.Is(err, repo.ErrNotFound) {
		status, code = http.StatusNotFound, "not_found"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": apiErrorBody{Code: code, Message: err.Error()},
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Maestro API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerSessions(api huma.API, m *manager.Manager) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Create session",
		Description:   "Creates a session and schedules its orchestration task. Returns immediately; attach to /stream/{sessionId} for live events.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateSessionRequest `json:"body"`
	}) (*struct {
		Body SessionDetailResponse `json:"body"`
	}, error) {
		sess, err := m.CreateSession(ctx, input.Body.AgentID, input.Body.Query, input.Body.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionDetailResponse `json:"body"`
		}{Body: SessionDetailResponse{Session: sess}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}",
		Summary:     "Get session",
		Description: "Returns the session with its full interaction log and artifacts.",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct {
		Body SessionDetailResponse `json:"body"`
	}, error) {
		sess, err := m.GetSession(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		logs, err := m.ListInteractionLogs(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		artifacts, err := m.ListArtifacts(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionDetailResponse `json:"body"`
		}{Body: SessionDetailResponse{Session: sess, Logs: logs, Artifacts: artifacts}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List sessions",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		AgentID string `query:"agent_id" required:"false"`
		Status  string `query:"status" required:"false" enum:",created,in_progress,completed,failed"`
		Limit   int    `query:"limit" required:"false" minimum:"0" maximum:"500"`
	}) (*struct {
		Body SessionListResponse `json:"body"`
	}, error) {
		items, err := m.ListSessions(ctx, repo.SessionFilters{
			AgentID: input.AgentID,
			Status:  input.Status,
			Limit:   input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionListResponse `json:"body"`
		}{Body: SessionListResponse{Sessions: items, Count: len(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "cancel-session",
		Method:        http.MethodPost,
		Path:          "/sessions/{session_id}/cancel",
		Summary:       "Cancel session",
		Description:   "Requests cancellation of a running session. The session transitions to failed with a cancellation event.",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := m.CancelSession(ctx, input.SessionID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"session_id": input.SessionID, "status": "cancelling"}}, nil
	})
}

func registerArchive(api huma.API, m *manager.Manager) {
	huma.Register(api, huma.Operation{
		OperationID: "search-archive",
		Method:      http.MethodGet,
		Path:        "/archive/search",
		Summary:     "Search archive",
		Description: "Full-text search over session queries/outputs and artifact titles/contents. The query is matched literally.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Query string `query:"q" required:"true"`
		Limit int    `query:"limit" required:"false" minimum:"0" maximum:"100"`
	}) (*struct {
		Body SearchResponse `json:"body"`
	}, error) {
		res, err := m.SearchArchive(ctx, input.Query, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SearchResponse `json:"body"`
		}{Body: SearchResponse{Query: input.Query, Results: res}}, nil
	})
}

func registerAgents(api huma.API, reg *agents.Registry) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AgentListResponse `json:"body"`
	}, error) {
		items, err := reg.List(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentListResponse `json:"body"`
		}{Body: AgentListResponse{Agents: items, Count: len(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "capabilities",
		Method:      http.MethodGet,
		Path:        "/capabilities",
		Summary:     "Describe capabilities",
		Description: "Summarises the agent catalog: agents grouped by type and the union of capability tags.",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body agents.Capabilities `json:"body"`
	}, error) {
		caps, err := reg.Capabilities(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body agents.Capabilities `json:"body"`
		}{Body: caps}, nil
	})
}
