package agents

import (
	"context"
	"fmt"

	"maestro/internal/domain"
	"maestro/internal/llm"
)

// Executor runs one agent's contribution to a session. Text is streamed
// on the returned channel; the error channel reports at most one failure
// and both channels close when the run ends.
type Executor interface {
	Execute(ctx context.Context, agent domain.Agent, query, step string) (<-chan string, <-chan error)
}

// LLMExecutor runs agents through an llm.Provider, framing the request
// with the agent's specialization.
type LLMExecutor struct {
	provider llm.Provider
}

func NewLLMExecutor(p llm.Provider) *LLMExecutor {
	return &LLMExecutor{provider: p}
}

func (e *LLMExecutor) Execute(ctx context.Context, agent domain.Agent, query, step string) (<-chan string, <-chan error) {
	prompt := fmt.Sprintf(`You are %s, a specialised agent. Specialization: %s.

Task step: %s

Original user request: %s

Produce your contribution for this step only. Be concrete and concise.`,
		agent.Name, agent.Specialization, step, query)
	return e.provider.GenerateText(ctx, prompt)
}
