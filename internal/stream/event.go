package stream

import "time"

// EventType enumerates the stream protocol message types.
type EventType string

const (
	EventSessionStart    EventType = "session_start"
	EventThinking        EventType = "thinking"
	EventToolCall        EventType = "tool_call"
	EventToolResult      EventType = "tool_result"
	EventChunk           EventType = "chunk"
	EventArtifactCreated EventType = "artifact_created"
	EventStatusUpdate    EventType = "status_update"
	EventSessionComplete EventType = "session_complete"
	EventError           EventType = "error"
)

// Event is one immutable, ordered message in a session's life. Sequence is
// per-session, monotonic and starts at 1; registry-originated control
// messages (attach confirmation, heartbeats) carry sequence 0 and are not
// journaled.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Sequence  int            `json:"sequence"`
	Data      map[string]any `json:"data"`
}

func newEvent(t EventType, seq int, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{Type: t, Timestamp: time.Now().UTC(), Sequence: seq, Data: data}
}

// NewSessionStart announces that processing of a session has begun.
func NewSessionStart(seq int, sessionID, agentID, query string) Event {
	return newEvent(EventSessionStart, seq, map[string]any{
		"session_id": sessionID,
		"agent_id":   agentID,
		"query":      query,
	})
}

// NewThinking carries planner or agent reasoning.
func NewThinking(seq int, thought string) Event {
	return newEvent(EventThinking, seq, map[string]any{"thought": thought})
}

// NewToolCall names the provider or agent about to do work.
func NewToolCall(seq int, toolName, description string) Event {
	return newEvent(EventToolCall, seq, map[string]any{
		"tool_name":   toolName,
		"description": description,
	})
}

// NewToolResult reports the completion status of a tool call.
func NewToolResult(seq int, toolName, status string) Event {
	return newEvent(EventToolResult, seq, map[string]any{
		"tool_name": toolName,
		"status":    status,
	})
}

// NewChunk carries one text fragment; chunks concatenate in sequence order
// to exactly the final output.
func NewChunk(seq int, text string) Event {
	return newEvent(EventChunk, seq, map[string]any{"text": text})
}

// NewArtifactCreated announces a durable output.
func NewArtifactCreated(seq int, artifactID, artifactType string) Event {
	return newEvent(EventArtifactCreated, seq, map[string]any{
		"artifact_id": artifactID,
		"type":        artifactType,
	})
}

// NewStatusUpdate carries an informational message.
func NewStatusUpdate(seq int, message string) Event {
	return newEvent(EventStatusUpdate, seq, map[string]any{"message": message})
}

// NewSessionComplete is the successful terminal event.
func NewSessionComplete(seq int, finalOutput, status string) Event {
	return newEvent(EventSessionComplete, seq, map[string]any{
		"final_output": finalOutput,
		"status":       status,
	})
}

// NewError is the failing terminal event (also used for non-fatal notices
// before a terminal state).
func NewError(seq int, message string) Event {
	return newEvent(EventError, seq, map[string]any{"message": message})
}

func newHeartbeat() Event {
	return newEvent(EventStatusUpdate, 0, map[string]any{"heartbeat": true})
}

func newAttached(sessionID string) Event {
	return newEvent(EventStatusUpdate, 0, map[string]any{
		"message":    "connected to session stream",
		"session_id": sessionID,
	})
}

// ChunkText extracts the text payload of a chunk event, empty otherwise.
func (e Event) ChunkText() string {
	if e.Type != EventChunk {
		return ""
	}
	if s, ok := e.Data["text"].(string); ok {
		return s
	}
	return ""
}

// IsHeartbeat reports whether this is a registry keep-alive.
func (e Event) IsHeartbeat() bool {
	if e.Type != EventStatusUpdate {
		return false
	}
	b, ok := e.Data["heartbeat"].(bool)
	return ok && b
}

// Terminal reports whether no further events follow on the live stream.
func (e Event) Terminal() bool {
	return e.Type == EventSessionComplete || e.Type == EventError
}
