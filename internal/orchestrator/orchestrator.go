// Package orchestrator runs one session from planning to a terminal state.
// A single goroutine per session is the only writer of that session's state
// and the only source of its events, so the write path needs no locking.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"maestro/internal/agents"
	"maestro/internal/config"
	"maestro/internal/domain"
	"maestro/internal/journal"
	"maestro/internal/llm"
	"maestro/internal/planner"
	"maestro/internal/repo"
	"maestro/internal/stream"

	"github.com/google/uuid"
)

type Orchestrator struct {
	repo     repo.Repo
	journal  *journal.Writer
	planner  *planner.Planner
	registry *agents.Registry
	executor agents.Executor
	provider llm.Provider
	cfg      *config.Config
	log      *slog.Logger
}

func New(r repo.Repo, jw *journal.Writer, pl *planner.Planner, reg *agents.Registry,
	exec agents.Executor, provider llm.Provider, cfg *config.Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		repo: r, journal: jw, planner: pl, registry: reg,
		executor: exec, provider: provider, cfg: cfg, log: log,
	}
}

// Run drives sess to completion or failure. It blocks until the session is
// terminal and is intended to be called in its own goroutine.
func (o *Orchestrator) Run(ctx context.Context, sess domain.Session) {
	r := &run{o: o, sess: sess, started: time.Now().UTC()}
	r.execute(ctx)
}

// run is the per-session state: the event sequence counter, the accumulated
// output and the token tally all live here and are touched by one goroutine.
type run struct {
	o       *Orchestrator
	sess    domain.Session
	started time.Time

	seq    int
	output strings.Builder
	tokens int
}

func (r *run) next() int {
	r.seq++
	return r.seq
}

func (r *run) emit(ctx context.Context, ev stream.Event, usage *journal.Usage) {
	r.o.journal.Emit(ctx, r.sess.ID, ev, usage)
}

// chunk emits one text fragment and records it toward the final output, so
// the chunk stream concatenates to exactly what the session reports.
func (r *run) chunk(ctx context.Context, text string) {
	if text == "" {
		return
	}
	r.output.WriteString(text)
	r.emit(ctx, stream.NewChunk(r.next(), text), nil)
}

func (r *run) execute(ctx context.Context) {
	o := r.o
	sess := r.sess

	r.emit(ctx, stream.NewSessionStart(r.next(), sess.ID, sess.AgentID, sess.InitialQuery), nil)
	if err := o.repo.UpdateSessionStatus(ctx, sess.ID, domain.SessionInProgress); err != nil {
		o.log.Error("could not mark session in progress", "session_id", sess.ID, "error", err)
	}

	catalog, err := o.registry.List(ctx)
	if err != nil {
		o.log.Warn("agent catalog unavailable, planner sees none", "session_id", sess.ID, "error", err)
	}
	plan := o.planner.Plan(ctx, sess.InitialQuery, catalog)
	r.emit(ctx, stream.NewThinking(r.next(), plan.Reasoning), r.usageFor(plan.Reasoning))

	if ctx.Err() != nil {
		r.fail(ctx, "cancelled")
		return
	}

	switch plan.Approach {
	case domain.ApproachMultiAgent:
		err = r.runMultiAgent(ctx, plan, catalog)
	default:
		err = r.runDirect(ctx)
	}
	if err != nil {
		if ctx.Err() != nil {
			r.fail(ctx, "cancelled")
		} else {
			r.fail(ctx, err.Error())
		}
		return
	}
	r.complete(ctx)
}

func (r *run) runDirect(ctx context.Context) error {
	o := r.o
	r.emit(ctx, stream.NewToolCall(r.next(), o.provider.Name(), "generate direct response"), nil)
	text, err := r.generate(ctx, r.sess.InitialQuery)
	if err != nil {
		r.emit(ctx, stream.NewToolResult(r.next(), o.provider.Name(), "error"), nil)
		return err
	}
	r.streamText(ctx, text)
	r.emit(ctx, stream.NewToolResult(r.next(), o.provider.Name(), "success"), r.usageFor(text))
	return nil
}

func (r *run) runMultiAgent(ctx context.Context, plan domain.Plan, catalog []domain.Agent) error {
	o := r.o
	byID := make(map[string]domain.Agent, len(catalog))
	for _, a := range catalog {
		byID[a.ID] = a
	}

	var contributions []string
	for i, id := range plan.AgentsToUse {
		agent := byID[id]
		step := r.sess.InitialQuery
		if i < len(plan.ExecutionSteps) {
			step = plan.ExecutionSteps[i]
		}
		r.emit(ctx, stream.NewToolCall(r.next(), agent.ID, step), nil)
		contribution, err := r.runAgent(ctx, agent, step)
		if err != nil {
			r.emit(ctx, stream.NewToolResult(r.next(), agent.ID, "error"), nil)
			return fmt.Errorf("agent %s failed: %w", agent.ID, err)
		}
		r.chunk(ctx, fmt.Sprintf("## %s\n\n", agent.Name))
		r.streamText(ctx, contribution)
		r.chunk(ctx, "\n\n")
		r.emit(ctx, stream.NewToolResult(r.next(), agent.ID, "success"), r.usageFor(contribution))
		contributions = append(contributions, fmt.Sprintf("%s:\n%s", agent.Name, contribution))
	}

	r.emit(ctx, stream.NewStatusUpdate(r.next(), "synthesizing agent contributions"), nil)
	synthesis, err := r.generate(ctx, synthesisPrompt(r.sess.InitialQuery, contributions))
	if err != nil {
		return fmt.Errorf("synthesis failed: %w", err)
	}
	r.chunk(ctx, "## Synthesis\n\n")
	r.streamText(ctx, synthesis)

	artifact := domain.Artifact{
		ID:           uuid.NewString(),
		SessionID:    r.sess.ID,
		ArtifactType: artifactType(plan.ExpectedOutputType),
		Title:        artifactTitle(r.sess.InitialQuery),
		Content:      r.output.String(),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Tags:         plan.AgentsToUse,
	}
	if err := o.journal.SaveArtifact(ctx, artifact); err != nil {
		o.log.Error("artifact write failed", "session_id", r.sess.ID, "error", err)
	} else {
		r.emit(ctx, stream.NewArtifactCreated(r.next(), artifact.ID, artifact.ArtifactType), nil)
	}
	return nil
}

// runAgent collects one agent's contribution in full before it is streamed,
// so a mid-stream agent fault never leaves partial text in the output.
func (r *run) runAgent(ctx context.Context, agent domain.Agent, step string) (string, error) {
	out, errCh := r.o.executor.Execute(ctx, agent, r.sess.InitialQuery, step)
	var b strings.Builder
	for piece := range out {
		b.WriteString(piece)
	}
	if err := <-errCh; err != nil {
		return "", err
	}
	return b.String(), nil
}

// generate calls the provider with the configured retry budget.
func (r *run) generate(ctx context.Context, prompt string) (string, error) {
	retries := r.o.cfg.Provider.Retries
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			r.o.log.Warn("retrying provider call",
				"session_id", r.sess.ID, "attempt", attempt, "error", lastErr)
		}
		text, err := llm.Complete(ctx, r.o.provider, prompt)
		if err == nil {
			return text, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("provider unreachable after %d retries: %w", retries, lastErr)
}

// streamText re-chunks text at the configured granularity and emits the
// pieces in order.
func (r *run) streamText(ctx context.Context, text string) {
	size := r.o.cfg.Stream.ChunkSize
	if size <= 0 {
		size = len(text)
	}
	runes := []rune(text)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		r.chunk(ctx, string(runes[start:end]))
	}
}

func (r *run) complete(ctx context.Context) {
	final := r.output.String()
	cost := r.costCents()
	r.emit(ctx, stream.NewSessionComplete(r.next(), final, domain.SessionCompleted), nil)
	r.finish(ctx, domain.SessionCompleted, &final, cost)
}

func (r *run) fail(ctx context.Context, message string) {
	// Terminal bookkeeping must land even when the context is already
	// cancelled; use a short detached context for the final writes.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	r.emit(ctx, stream.NewError(r.next(), message), nil)
	r.finish(ctx, domain.SessionFailed, nil, r.costCents())
}

func (r *run) finish(ctx context.Context, status string, finalOutput *string, costCents *int) {
	end := time.Now().UTC()
	duration := int(math.Round(end.Sub(r.started).Seconds()))
	err := r.o.repo.CompleteSession(ctx, r.sess.ID, status, finalOutput,
		end.Format(time.RFC3339), duration, costCents)
	if err != nil {
		r.o.log.Error("could not persist terminal session state",
			"session_id", r.sess.ID, "status", status, "error", err)
	}
	r.o.log.Info("session finished", "session_id", r.sess.ID,
		"status", status, "duration_seconds", duration, "events", r.seq)
}

// usageFor attributes an estimated token count and cost to one event and
// adds it to the session tally.
func (r *run) usageFor(text string) *journal.Usage {
	tokens := llm.EstimateTokens(text)
	r.tokens += tokens
	return &journal.Usage{
		Tokens:    tokens,
		CostCents: centsFor(tokens, r.o.cfg.Provider.CentsPer1KTokens),
	}
}

func (r *run) costCents() *int {
	c := centsFor(r.tokens, r.o.cfg.Provider.CentsPer1KTokens)
	return &c
}

func centsFor(tokens int, per1K float64) int {
	return int(math.Round(float64(tokens) / 1000 * per1K))
}

func synthesisPrompt(query string, contributions []string) string {
	var b strings.Builder
	b.WriteString("Combine the following agent contributions into one coherent answer.\n\n")
	fmt.Fprintf(&b, "Original request: %s\n\n", query)
	for _, c := range contributions {
		b.WriteString(c)
		b.WriteString("\n\n")
	}
	b.WriteString("Write the combined answer only, without restating the contributions.")
	return b.String()
}

func artifactType(expected string) string {
	switch expected {
	case "code":
		return domain.ArtifactCodeSnippet
	case "report":
		return domain.ArtifactReport
	case "analysis":
		return domain.ArtifactDataAnalysis
	case "research":
		return domain.ArtifactResearchSummary
	default:
		return domain.ArtifactDocument
	}
}

func artifactTitle(query string) string {
	const max = 80
	title := strings.TrimSpace(query)
	if runes := []rune(title); len(runes) > max {
		title = string(runes[:max]) + "…"
	}
	return title
}
