// Package llm provides the reasoning provider abstraction for VoiceTask.
// Ollama (local) is the default backend; tests use the scripted provider.
package llm

import (
	"context"
	"io"
	"time"
)

// MaxErrorBodySize limits how much error response body we read (1MB).
// This prevents memory exhaustion from malformed error responses.
const MaxErrorBodySize = 1 * 1024 * 1024

// readLimitedBody reads up to maxBytes from r, returning the bytes read.
func readLimitedBody(r io.Reader, maxBytes int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBytes))
}

// Provider defines the interface for LLM providers.
type Provider interface {
	// Chat sends a message and returns the response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name returns the provider identifier.
	Name() string

	// Available returns true if the provider is configured and reachable.
	Available() bool
}

// ChatRequest represents a chat completion request.
type ChatRequest struct {
	// Model to use (provider-specific).
	Model string `json:"model"`

	// SystemPrompt sets the model's behavior.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Messages in the conversation.
	Messages []Message `json:"messages"`

	// MaxTokens limits response length.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0-1.0). Nil means the provider
	// default; an explicit zero is honored as zero.
	Temperature *float64 `json:"temperature,omitempty"`
}

// Temp returns a Temperature value for a ChatRequest. Deterministic callers
// pass Temp(0) to pin sampling off rather than inherit the default.
func Temp(v float64) *float64 { return &v }

// Message represents a conversation message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// ChatResponse contains the LLM's response.
type ChatResponse struct {
	Content          string        `json:"content"`
	Model            string        `json:"model"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// ProviderConfig contains configuration for an LLM provider.
type ProviderConfig struct {
	// Endpoint is the API base URL.
	Endpoint string

	// Model is the default model to use.
	Model string

	// MaxTokens default for responses.
	MaxTokens int

	// Temperature default.
	Temperature float64

	// Timeout for API calls.
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults for the Ollama backend.
func DefaultConfig() *ProviderConfig {
	return &ProviderConfig{
		Endpoint:    "http://127.0.0.1:11434",
		Model:       "llama3.2",
		MaxTokens:   4096,
		Temperature: 0.2,
		Timeout:     2 * time.Minute,
	}
}
