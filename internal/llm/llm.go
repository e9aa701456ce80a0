// Package llm defines the provider-agnostic text generation interface the
// planner and orchestrator depend on, keeping higher layers decoupled from
// vendor SDKs.
package llm

import (
	"context"
	"strings"
)

// Provider streams generated text for a prompt. The text channel closes
// when generation finishes; at most one error is sent before the error
// channel closes.
type Provider interface {
	Name() string
	GenerateText(ctx context.Context, prompt string) (<-chan string, <-chan error)
}

// Complete collects a full streamed generation into one string.
func Complete(ctx context.Context, p Provider, prompt string) (string, error) {
	chunks, errs := p.GenerateText(ctx, prompt)
	var b strings.Builder
	for chunk := range chunks {
		b.WriteString(chunk)
	}
	if err := <-errs; err != nil {
		return "", err
	}
	return b.String(), nil
}

// EstimateTokens is a rough character-based token count used for cost
// accounting when the provider does not report usage.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}
