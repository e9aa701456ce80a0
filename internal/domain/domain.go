package domain

// Session status values. A session is terminal once completed or failed;
// EndTime is set exactly then.
const (
	SessionCreated    = "created"
	SessionInProgress = "in_progress"
	SessionCompleted  = "completed"
	SessionFailed     = "failed"
)

// AgentAuto requests planner-driven agent selection instead of a fixed agent.
const AgentAuto = "auto"

type Session struct {
	ID              string            `json:"id"`
	UserID          *string           `json:"user_id,omitempty"`
	AgentID         string            `json:"agent_id"`
	InitialQuery    string            `json:"initial_query"`
	FinalOutput     *string           `json:"final_output,omitempty"`
	Status          string            `json:"status" enum:"created,in_progress,completed,failed"`
	StartTime       string            `json:"start_time" format:"date-time"`
	EndTime         *string           `json:"end_time,omitempty" format:"date-time"`
	DurationSeconds *int              `json:"duration_seconds,omitempty"`
	CostCents       *int              `json:"cost_cents,omitempty"`
	Meta            map[string]string `json:"meta,omitempty"`
}

// Terminal reports whether the session reached a final state.
func (s Session) Terminal() bool {
	return s.Status == SessionCompleted || s.Status == SessionFailed
}

// InteractionLog is one durable record of an emitted stream event. Entries
// for a session carry a strictly increasing sequence starting at 1.
type InteractionLog struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	Sequence   int               `json:"sequence"`
	Timestamp  string            `json:"timestamp" format:"date-time"`
	EventType  string            `json:"event_type"`
	Content    map[string]any    `json:"content"`
	TokenCount *int              `json:"token_count,omitempty"`
	CostCents  *int              `json:"cost_cents,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Artifact types.
const (
	ArtifactResearchSummary = "research_summary"
	ArtifactCodeSnippet     = "code_snippet"
	ArtifactDocument        = "document"
	ArtifactDataAnalysis    = "data_analysis"
	ArtifactDiagram         = "diagram"
	ArtifactReport          = "report"
)

type Artifact struct {
	ID           string            `json:"id"`
	SessionID    string            `json:"session_id"`
	ArtifactType string            `json:"artifact_type" enum:"research_summary,code_snippet,document,data_analysis,diagram,report"`
	Title        string            `json:"title"`
	Content      string            `json:"content,omitempty"`
	FilePath     *string           `json:"file_path,omitempty"`
	Timestamp    string            `json:"timestamp" format:"date-time"`
	Tags         []string          `json:"tags,omitempty"`
	Meta         map[string]string `json:"meta,omitempty"`
}

// Plan approaches.
const (
	ApproachDirect     = "direct"
	ApproachMultiAgent = "multi_agent"
)

// Plan is the planner's decision of how to answer a query. It is transient;
// only its reasoning is journaled (as a thinking event).
type Plan struct {
	RequiresAgents     bool     `json:"requires_agents"`
	Approach           string   `json:"approach" enum:"direct,multi_agent"`
	Reasoning          string   `json:"reasoning"`
	AgentsToUse        []string `json:"agents_to_use,omitempty"`
	ExecutionSteps     []string `json:"execution_steps,omitempty"`
	ExpectedOutputType string   `json:"expected_output_type,omitempty"`
}

// Agent status values in the registry.
const (
	AgentIdle    = "idle"
	AgentRunning = "running"
	AgentError   = "error"
	AgentOffline = "offline"
)

// Agent is registry metadata consulted read-only by the planner.
type Agent struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Specialization string   `json:"specialization"`
	Status         string   `json:"status" enum:"idle,running,error,offline"`
	Capabilities   []string `json:"capabilities,omitempty"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
}
