package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/normanking/voicetask/internal/llm"
)

const (
	// DefaultSemanticTimeout is the maximum time allowed for semantic classification.
	DefaultSemanticTimeout = 5 * time.Second

	// ClassificationPrompt is the system prompt for the classifier LLM.
	ClassificationPrompt = `You are an intent classifier for a voice task manager. Classify the user's utterance into exactly ONE category.

Categories:
- mutate: The user wants to change their tasks (create, edit, complete, reopen, delete, move, rename, reprioritize, reschedule)
- analyze: The user is asking a question about their tasks or productivity (counts, lists, summaries, progress, patterns, overdue or neglected work)

Respond with ONLY the category name, nothing else.`
)

// SlowClassifier implements LLM-based semantic classification.
// It's used when the fast classifier is uncertain (confidence < threshold).
type SlowClassifier struct {
	llm     LLMClassifier
	timeout time.Duration
}

// NewSlowClassifier creates a new semantic classifier.
func NewSlowClassifier(llm LLMClassifier) *SlowClassifier {
	return &SlowClassifier{
		llm:     llm,
		timeout: DefaultSemanticTimeout,
	}
}

// NewSlowClassifierWithTimeout creates a semantic classifier with custom timeout.
func NewSlowClassifierWithTimeout(llm LLMClassifier, timeout time.Duration) *SlowClassifier {
	return &SlowClassifier{
		llm:     llm,
		timeout: timeout,
	}
}

// Classify uses an LLM to semantically classify the utterance.
func (c *SlowClassifier) Classify(ctx context.Context, input string) (Intent, float64, error) {
	if c.llm == nil {
		return IntentAnalyze, 0.5, fmt.Errorf("LLM classifier not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	intent, confidence, err := c.llm.Classify(ctx, input)
	if err != nil {
		return IntentAnalyze, 0.5, err
	}

	return intent, confidence, nil
}

// ParseLLMResponse converts an LLM text response to an Intent.
// This is useful when implementing the LLMClassifier interface.
func ParseLLMResponse(response string) (Intent, bool) {
	category := strings.TrimSpace(strings.ToLower(response))
	category = strings.TrimSuffix(category, ".")
	category = strings.TrimSuffix(category, ",")

	switch category {
	case "mutate", "mutation", "crud", "change", "edit":
		return IntentMutate, true
	case "analyze", "analysis", "analytics", "question", "query":
		return IntentAnalyze, true
	default:
		return IntentAnalyze, false
	}
}

// ProviderClassifier implements LLMClassifier on top of an llm.Provider,
// using a small model for cheap classification.
type ProviderClassifier struct {
	provider llm.Provider
	model    string
}

// NewProviderClassifier creates an LLM-backed classifier. The model should be
// a small, fast one; classification needs a single word back.
func NewProviderClassifier(provider llm.Provider, model string) *ProviderClassifier {
	return &ProviderClassifier{provider: provider, model: model}
}

// Classify implements LLMClassifier.
func (p *ProviderClassifier) Classify(ctx context.Context, input string) (Intent, float64, error) {
	resp, err := p.provider.Chat(ctx, &llm.ChatRequest{
		Model:        p.model,
		SystemPrompt: ClassificationPrompt,
		Messages:     []llm.Message{{Role: "user", Content: input}},
		MaxTokens:    8,
		Temperature:  llm.Temp(0),
	})
	if err != nil {
		return IntentAnalyze, 0.5, fmt.Errorf("classify utterance: %w", err)
	}

	intent, recognized := ParseLLMResponse(resp.Content)
	if !recognized {
		// The model answered outside the closed set; treat as uncertain.
		return IntentAnalyze, 0.5, nil
	}

	return intent, 0.85, nil
}

// MockLLMClassifier is a mock implementation for testing.
type MockLLMClassifier struct {
	responses map[string]Intent
	delay     time.Duration
	err       error
}

// NewMockLLMClassifier creates a mock LLM classifier for testing.
func NewMockLLMClassifier() *MockLLMClassifier {
	return &MockLLMClassifier{
		responses: make(map[string]Intent),
		delay:     time.Millisecond,
	}
}

// WithResponse adds a response mapping for testing.
func (m *MockLLMClassifier) WithResponse(input string, intent Intent) *MockLLMClassifier {
	m.responses[strings.ToLower(input)] = intent
	return m
}

// WithDelay sets a simulated delay for testing timeout behavior.
func (m *MockLLMClassifier) WithDelay(delay time.Duration) *MockLLMClassifier {
	m.delay = delay
	return m
}

// WithError makes every Classify call fail.
func (m *MockLLMClassifier) WithError(err error) *MockLLMClassifier {
	m.err = err
	return m
}

// Classify implements LLMClassifier for testing.
func (m *MockLLMClassifier) Classify(ctx context.Context, input string) (Intent, float64, error) {
	select {
	case <-time.After(m.delay):
	case <-ctx.Done():
		return IntentAnalyze, 0.5, ctx.Err()
	}

	if m.err != nil {
		return IntentAnalyze, 0.5, m.err
	}

	if intent, ok := m.responses[strings.ToLower(input)]; ok {
		return intent, 0.85, nil
	}

	lower := strings.ToLower(input)
	for key, intent := range m.responses {
		if strings.Contains(lower, key) {
			return intent, 0.85, nil
		}
	}

	// Keyword fallback so unscripted inputs still classify sensibly.
	switch {
	case strings.Contains(lower, "add") || strings.Contains(lower, "create") ||
		strings.Contains(lower, "delete") || strings.Contains(lower, "complete"):
		return IntentMutate, 0.75, nil
	default:
		return IntentAnalyze, 0.75, nil
	}
}
