// Package anthropic adapts the Anthropic Messages API to the llm.Provider
// interface.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Options configures the adapter.
type Options struct {
	Model     anthropic.Model
	MaxTokens int64
	APIKey    string
}

// Provider wraps the Anthropic client behind llm.Provider.
type Provider struct {
	client *anthropic.Client
	opts   Options
}

// New creates a provider using the official client.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		Model:     anthropic.ModelClaudeSonnet4_0,
		MaxTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Provider{client: &client, opts: opts}
}

func (p *Provider) Name() string { return string(p.opts.Model) }

// GenerateText streams text deltas from the Messages API.
func (p *Provider) GenerateText(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	out := make(chan string, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		stream := p.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
			Model:     p.opts.Model,
			MaxTokens: p.opts.MaxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		for stream.Next() {
			event := stream.Current()
			switch eventVariant := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch deltaVariant := eventVariant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if deltaVariant.Text != "" {
						select {
						case out <- deltaVariant.Text:
						case <-ctx.Done():
							errCh <- ctx.Err()
							return
						}
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
		}
	}()

	return out, errCh
}
