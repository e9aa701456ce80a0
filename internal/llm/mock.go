package llm

import (
	"context"
	"strings"
	"sync"
)

// MockProvider is an in-memory Provider for tests and for running the
// service without an API key. Responses are matched by prompt substring;
// unmatched prompts echo a canned acknowledgement.
type MockProvider struct {
	mu        sync.RWMutex
	responses map[string]string
	fail      error
	chunkSize int
}

func NewMockProvider() *MockProvider {
	return &MockProvider{responses: map[string]string{}, chunkSize: 16}
}

func (m *MockProvider) Name() string { return "mock" }

// AddResponse registers a canned completion for prompts containing match.
func (m *MockProvider) AddResponse(match, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[match] = response
}

// FailWith makes every subsequent generation return err.
func (m *MockProvider) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// lookup picks the registered response whose match is the longest substring
// of the prompt, so a specific match always beats a generic one.
func (m *MockProvider) lookup(prompt string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	best := ""
	found := false
	var response string
	for match, resp := range m.responses {
		if strings.Contains(prompt, match) && (!found || len(match) > len(best)) {
			best, response, found = match, resp, true
		}
	}
	if found {
		return response
	}
	return "I received your request and generated this placeholder response."
}

func (m *MockProvider) GenerateText(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	out := make(chan string, 8)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		m.mu.RLock()
		fail := m.fail
		size := m.chunkSize
		m.mu.RUnlock()
		if fail != nil {
			errCh <- fail
			return
		}
		full := m.lookup(prompt)
		for i := 0; i < len(full); i += size {
			end := i + size
			if end > len(full) {
				end = len(full)
			}
			select {
			case out <- full[i:end]:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()
	return out, errCh
}
