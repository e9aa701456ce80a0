// Package openai adapts the OpenAI Chat Completions API to the llm.Provider
// interface.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Options configures the adapter.
type Options struct {
	Model     string
	MaxTokens int64
	APIKey    string
	BaseURL   string
}

// Provider wraps the OpenAI client behind llm.Provider.
type Provider struct {
	client *openai.Client
	opts   Options
}

// New creates a provider using the official client.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{
		Model:     openai.ChatModelGPT4o,
		MaxTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := openai.NewClient(clientOpts...)
	return &Provider{client: &client, opts: opts}
}

func (p *Provider) Name() string { return p.opts.Model }

// GenerateText streams chat completion deltas.
func (p *Provider) GenerateText(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	out := make(chan string, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := openai.ChatCompletionNewParams{
			Model: p.opts.Model,
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
			MaxTokens: openai.Int(p.opts.MaxTokens),
		}
		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				select {
				case out <- choice.Delta.Content:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("openai api error: %w", err)
		}
	}()

	return out, errCh
}
