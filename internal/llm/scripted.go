package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedProvider replays a fixed sequence of responses. It exists for tests
// and offline development, where deterministic model output is required.
type ScriptedProvider struct {
	mu        sync.Mutex
	responses []string
	index     int

	// Requests records every request received, in order.
	Requests []*ChatRequest

	// Err, when set, is returned by every Chat call instead of a response.
	Err error
}

// NewScriptedProvider creates a provider that returns the given responses in
// order. When the script runs out, Chat returns an error.
func NewScriptedProvider(responses ...string) *ScriptedProvider {
	return &ScriptedProvider{responses: responses}
}

// Name returns the provider identifier.
func (p *ScriptedProvider) Name() string {
	return "scripted"
}

// Available always reports true.
func (p *ScriptedProvider) Available() bool {
	return true
}

// Chat returns the next scripted response.
func (p *ScriptedProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.Requests = append(p.Requests, req)

	if p.Err != nil {
		return nil, p.Err
	}
	if p.index >= len(p.responses) {
		return nil, fmt.Errorf("scripted provider exhausted after %d responses", len(p.responses))
	}

	content := p.responses[p.index]
	p.index++

	return &ChatResponse{Content: content, Model: "scripted"}, nil
}

// CallCount returns how many Chat calls have been made.
func (p *ScriptedProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}
