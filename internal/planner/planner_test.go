package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/internal/domain"
	"maestro/internal/llm"
)

var testCatalog = []domain.Agent{
	{ID: "research-agent", Name: "Research Agent", Type: "research", Specialization: "research"},
	{ID: "code-agent", Name: "Code Agent", Type: "development", Specialization: "code"},
}

func TestPlanDirect(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.AddResponse("User request: what is 2+2?",
		`{"requires_agents": false, "approach": "direct", "reasoning": "simple arithmetic", "expected_output_type": "text"}`)
	p := New(provider, nil)

	plan := p.Plan(context.Background(), "what is 2+2?", testCatalog)
	assert.Equal(t, domain.ApproachDirect, plan.Approach)
	assert.False(t, plan.RequiresAgents)
	assert.Equal(t, "simple arithmetic", plan.Reasoning)
}

func TestPlanMultiAgent(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.AddResponse("User request: research and implement",
		`{"requires_agents": true, "approach": "multi_agent", "reasoning": "distinct skills",
		  "agents_to_use": ["research-agent", "code-agent"],
		  "execution_steps": ["research the topic", "write the code"],
		  "expected_output_type": "code"}`)
	p := New(provider, nil)

	plan := p.Plan(context.Background(), "research and implement", testCatalog)
	require.Equal(t, domain.ApproachMultiAgent, plan.Approach)
	assert.True(t, plan.RequiresAgents)
	assert.Equal(t, []string{"research-agent", "code-agent"}, plan.AgentsToUse)
	assert.Len(t, plan.ExecutionSteps, 2)
}

func TestPlanStripsFencedCodeBlock(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.AddResponse("User request:",
		"```json\n{\"requires_agents\": false, \"approach\": \"direct\", \"reasoning\": \"fenced\"}\n```")
	p := New(provider, nil)

	plan := p.Plan(context.Background(), "anything", testCatalog)
	assert.Equal(t, "fenced", plan.Reasoning)
}

func TestPlanFallbackOnUnparsableOutput(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.AddResponse("User request:", "Sure! I think you should use agents for this.")
	p := New(provider, nil)

	plan := p.Plan(context.Background(), "anything", testCatalog)
	assert.Equal(t, domain.ApproachDirect, plan.Approach)
	assert.False(t, plan.RequiresAgents)
	assert.True(t, strings.HasPrefix(plan.Reasoning, "fallback"))
}

func TestPlanFallbackOnProviderError(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.FailWith(errors.New("connection refused"))
	p := New(provider, nil)

	plan := p.Plan(context.Background(), "anything", testCatalog)
	assert.Equal(t, domain.ApproachDirect, plan.Approach)
	assert.True(t, strings.HasPrefix(plan.Reasoning, "fallback"))
}

func TestPlanDropsUnknownAgents(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.AddResponse("User request:",
		`{"requires_agents": true, "approach": "multi_agent", "reasoning": "r",
		  "agents_to_use": ["research-agent", "made-up-agent"]}`)
	p := New(provider, nil)

	plan := p.Plan(context.Background(), "anything", testCatalog)
	assert.Equal(t, []string{"research-agent"}, plan.AgentsToUse)
	assert.Equal(t, domain.ApproachMultiAgent, plan.Approach)
}

func TestPlanDegradesWhenNoKnownAgentsRemain(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.AddResponse("User request:",
		`{"requires_agents": true, "approach": "multi_agent", "reasoning": "r",
		  "agents_to_use": ["ghost-agent"]}`)
	p := New(provider, nil)

	plan := p.Plan(context.Background(), "anything", testCatalog)
	assert.Equal(t, domain.ApproachDirect, plan.Approach)
	assert.False(t, plan.RequiresAgents)
}

func TestPlanRejectsUnknownApproach(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.AddResponse("User request:",
		`{"requires_agents": false, "approach": "swarm", "reasoning": "r"}`)
	p := New(provider, nil)

	plan := p.Plan(context.Background(), "anything", testCatalog)
	assert.Equal(t, domain.ApproachDirect, plan.Approach)
}
