package server

import (
	"maestro/internal/domain"
	"maestro/internal/repo"
)

// CreateSessionRequest starts a new session. AgentID defaults to "auto",
// which delegates agent selection to the planner.
type CreateSessionRequest struct {
	Query   string  `json:"query" minLength:"1" doc:"User request to process"`
	AgentID string  `json:"agent_id,omitempty" doc:"Agent id or \"auto\" for planner-driven selection"`
	UserID  *string `json:"user_id,omitempty"`
}

// SessionDetailResponse is the full durable record of a session: the
// session row, its journaled events in sequence order, and its artifacts.
type SessionDetailResponse struct {
	Session   domain.Session          `json:"session"`
	Logs      []domain.InteractionLog `json:"interaction_logs"`
	Artifacts []domain.Artifact       `json:"artifacts"`
}

type SessionListResponse struct {
	Sessions []domain.Session `json:"sessions"`
	Count    int              `json:"count"`
}

type SearchResponse struct {
	Query   string             `json:"query"`
	Results repo.ArchiveResult `json:"results"`
}

type AgentListResponse struct {
	Agents []domain.Agent `json:"agents"`
	Count  int            `json:"count"`
}
