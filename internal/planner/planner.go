// Package planner decides whether a query is answered directly or routed
// through specialised agents. The decision comes back from the LLM as JSON;
// anything that fails to parse degrades to a safe direct plan instead of
// failing the session.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"maestro/internal/domain"
	"maestro/internal/llm"
)

type Planner struct {
	provider llm.Provider
	log      *slog.Logger
}

func New(provider llm.Provider, log *slog.Logger) *Planner {
	if log == nil {
		log = slog.Default()
	}
	return &Planner{provider: provider, log: log}
}

// Plan asks the provider how to answer query given the agent catalog. The
// returned plan always names a valid approach: unparsable or inconsistent
// provider output yields the direct fallback, never an error to the caller.
func (p *Planner) Plan(ctx context.Context, query string, catalog []domain.Agent) domain.Plan {
	raw, err := llm.Complete(ctx, p.provider, buildPrompt(query, catalog))
	if err != nil {
		p.log.Warn("planning call failed, using direct fallback", "error", err)
		return fallback("planner unavailable")
	}
	plan, err := parsePlan(raw)
	if err != nil {
		p.log.Warn("unparsable plan from provider, using direct fallback", "error", err)
		return fallback("plan response was not valid JSON")
	}
	return sanitize(plan, catalog, p.log)
}

func fallback(reason string) domain.Plan {
	return domain.Plan{
		RequiresAgents:     false,
		Approach:           domain.ApproachDirect,
		Reasoning:          "fallback: " + reason,
		ExpectedOutputType: "text",
	}
}

func buildPrompt(query string, catalog []domain.Agent) string {
	var b strings.Builder
	b.WriteString("You are a session planner. Decide how to handle this user request.\n\nAvailable agents:\n")
	for _, a := range catalog {
		fmt.Fprintf(&b, "- %s (%s): %s\n", a.ID, a.Type, a.Specialization)
	}
	fmt.Fprintf(&b, `
User request: %s

Respond with ONLY a JSON object, no prose, of this shape:
{
  "requires_agents": true or false,
  "approach": "direct" or "multi_agent",
  "reasoning": "one sentence on why",
  "agents_to_use": ["agent ids from the list above"],
  "execution_steps": ["ordered steps, one per agent"],
  "expected_output_type": "text", "code", "report" or "analysis"
}

Use "direct" for simple questions a single model reply can answer well.
Use "multi_agent" only when distinct specialisations clearly improve the result.`, query)
	return b.String()
}

// parsePlan tolerates the fenced code blocks models like to wrap JSON in.
func parsePlan(raw string) (domain.Plan, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}
	var plan domain.Plan
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		return domain.Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	return plan, nil
}

// sanitize enforces internal consistency: unknown agent ids are dropped,
// and a multi-agent plan with no usable agents degrades to direct.
func sanitize(plan domain.Plan, catalog []domain.Agent, log *slog.Logger) domain.Plan {
	known := make(map[string]bool, len(catalog))
	for _, a := range catalog {
		known[a.ID] = true
	}
	var kept []string
	for _, id := range plan.AgentsToUse {
		if known[id] {
			kept = append(kept, id)
		} else {
			log.Warn("plan referenced unknown agent, dropping", "agent_id", id)
		}
	}
	plan.AgentsToUse = kept

	switch plan.Approach {
	case domain.ApproachDirect, domain.ApproachMultiAgent:
	default:
		return fallback(fmt.Sprintf("unknown approach %q", plan.Approach))
	}
	if plan.Approach == domain.ApproachMultiAgent && len(plan.AgentsToUse) == 0 {
		return fallback("multi_agent plan named no known agents")
	}
	plan.RequiresAgents = plan.Approach == domain.ApproachMultiAgent
	if plan.ExpectedOutputType == "" {
		plan.ExpectedOutputType = "text"
	}
	return plan
}
