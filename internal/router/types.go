// Package router implements the Fast/Slow utterance classification system.
// It routes transcribed utterances to the mutation or analysis agent.
package router

import (
	"context"
	"time"
)

// Intent represents the classification of an utterance.
type Intent string

const (
	// IntentMutate is for requests that change task state (create, edit,
	// complete, delete, move).
	IntentMutate Intent = "mutate"
	// IntentAnalyze is for read-only questions about tasks and productivity.
	// It is also the default when classification is uncertain, since a
	// wrongly-run query is recoverable and a wrongly-run mutation is not.
	IntentAnalyze Intent = "analyze"
)

// AllIntents returns all valid intents for validation.
func AllIntents() []Intent {
	return []Intent{IntentMutate, IntentAnalyze}
}

// String returns the string representation of an Intent.
func (i Intent) String() string {
	return string(i)
}

// IsValid checks if an Intent is a known valid value.
func (i Intent) IsValid() bool {
	for _, valid := range AllIntents() {
		if i == valid {
			return true
		}
	}
	return false
}

// ClassificationPath indicates whether fast or slow classification was used.
type ClassificationPath string

const (
	// PathFast indicates regex-based classification was used.
	PathFast ClassificationPath = "fast"
	// PathSlow indicates semantic (LLM) classification was used.
	PathSlow ClassificationPath = "slow"
)

// Decision contains the result of utterance classification.
type Decision struct {
	// Intent is the classified intent.
	Intent Intent `json:"intent"`

	// Input is the original utterance.
	Input string `json:"input"`

	// Confidence is the classification confidence (0.0 to 1.0).
	Confidence float64 `json:"confidence"`

	// Path indicates which classification method was used.
	Path ClassificationPath `json:"path"`

	// LowConfidence is set when neither classifier was confident and the
	// decision fell back to the analysis default.
	LowConfidence bool `json:"low_confidence,omitempty"`

	// ClassifiedAt is when the classification was made.
	ClassifiedAt time.Time `json:"classified_at"`

	// ClassificationDuration is how long classification took.
	ClassificationDuration time.Duration `json:"classification_duration"`
}

// RouterStats tracks routing statistics for monitoring and tuning.
type RouterStats struct {
	// FastHits is the number of utterances classified via fast path.
	FastHits int64 `json:"fast_hits"`

	// SlowHits is the number of utterances classified via slow path.
	SlowHits int64 `json:"slow_hits"`

	// AmbiguousCount is the number of ambiguous utterances that needed slow path.
	AmbiguousCount int64 `json:"ambiguous_count"`

	// LowConfidenceCount is the number of utterances that fell back to the
	// analysis default.
	LowConfidenceCount int64 `json:"low_confidence_count"`

	// TotalRequests is the total number of routing requests.
	TotalRequests int64 `json:"total_requests"`

	// AverageConfidence is the running average confidence score.
	AverageConfidence float64 `json:"average_confidence"`

	// IntentDistribution tracks how often each intent is classified.
	IntentDistribution map[Intent]int64 `json:"intent_distribution"`
}

// FastPathRatio returns the percentage of requests handled by the fast path.
func (s *RouterStats) FastPathRatio() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.FastHits) / float64(s.TotalRequests) * 100
}

// LLMClassifier is the interface for semantic classification via LLM.
type LLMClassifier interface {
	// Classify uses an LLM to semantically classify an utterance.
	Classify(ctx context.Context, input string) (Intent, float64, error)
}
