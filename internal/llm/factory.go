package llm

import (
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"maestro/internal/llm/anthropic"
	"maestro/internal/llm/openai"
)

// NewProvider builds a provider for the named backend. The mock backend
// needs no credentials and is the default for local development.
func NewProvider(name, model, apiKey string, maxTokens int) (Provider, error) {
	switch name {
	case "mock", "":
		return NewMockProvider(), nil
	case "anthropic":
		return anthropic.New(func(o *anthropic.Options) {
			if model != "" {
				o.Model = anthropicsdk.Model(model)
			}
			o.APIKey = apiKey
			if maxTokens > 0 {
				o.MaxTokens = int64(maxTokens)
			}
		}), nil
	case "openai":
		return openai.New(func(o *openai.Options) {
			if model != "" {
				o.Model = model
			}
			o.APIKey = apiKey
			if maxTokens > 0 {
				o.MaxTokens = int64(maxTokens)
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
