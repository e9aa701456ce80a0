// Package agents holds the read-only agent catalog and the executor that
// runs a single agent's contribution through the LLM provider.
package agents

import (
	"context"
	"fmt"
	"sort"
	"time"

	"maestro/internal/config"
	"maestro/internal/domain"
	"maestro/internal/repo"
)

// Registry exposes the agent catalog. Entries are seeded from configuration
// at startup and never mutated while sessions run.
type Registry struct {
	repo repo.Repo
}

func NewRegistry(r repo.Repo) *Registry {
	return &Registry{repo: r}
}

// Seed upserts the configured agents into the catalog.
func (g *Registry) Seed(ctx context.Context, specs []config.AgentSpec) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, spec := range specs {
		name := spec.Name
		if name == "" {
			name = spec.ID
		}
		err := g.repo.UpsertAgent(ctx, domain.Agent{
			ID:             spec.ID,
			Name:           name,
			Type:           spec.Type,
			Specialization: spec.Specialization,
			Status:         domain.AgentIdle,
			Capabilities:   spec.Capabilities,
			CreatedAt:      now,
		})
		if err != nil {
			return fmt.Errorf("seed agent %s: %w", spec.ID, err)
		}
	}
	return nil
}

func (g *Registry) Get(ctx context.Context, id string) (domain.Agent, error) {
	return g.repo.GetAgent(ctx, id)
}

func (g *Registry) List(ctx context.Context) ([]domain.Agent, error) {
	return g.repo.ListAgents(ctx)
}

// Capabilities summarises the catalog for clients deciding what to ask for.
type Capabilities struct {
	TotalAgents    int                 `json:"total_agents"`
	ByType         map[string][]string `json:"by_type"`
	AvailableTools []string            `json:"available_tools"`
}

// Capabilities groups agent ids by type and collects the union of their
// capability tags.
func (g *Registry) Capabilities(ctx context.Context) (Capabilities, error) {
	list, err := g.repo.ListAgents(ctx)
	if err != nil {
		return Capabilities{}, err
	}
	caps := Capabilities{ByType: map[string][]string{}}
	tools := map[string]bool{}
	for _, a := range list {
		caps.TotalAgents++
		caps.ByType[a.Type] = append(caps.ByType[a.Type], a.ID)
		for _, c := range a.Capabilities {
			tools[c] = true
		}
	}
	for tool := range tools {
		caps.AvailableTools = append(caps.AvailableTools, tool)
	}
	sort.Strings(caps.AvailableTools)
	return caps, nil
}
