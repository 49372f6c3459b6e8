package router

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultConfidenceThreshold is the minimum confidence for the fast path.
	// Below this threshold, semantic classification is used.
	DefaultConfidenceThreshold = 0.7

	// DefaultAcceptThreshold is the minimum confidence for routing to the
	// mutation path at all. A mutate classification below it is demoted to
	// analysis, since queries are recoverable and mutations are not.
	DefaultAcceptThreshold = 0.55
)

// SmartRouter implements the Fast/Slow classification pattern.
// It tries fast regex classification first, falling back to semantic
// classification when confidence is below the threshold. The final decision
// is always one of the two intents; uncertainty resolves to analysis.
type SmartRouter struct {
	fast                   *FastClassifier
	slow                   *SlowClassifier
	threshold              float64
	acceptThreshold        float64
	enableSemanticFallback bool

	// Statistics (thread-safe)
	stats RouterStats
	mu    sync.RWMutex
}

// SmartRouterOption is a functional option for configuring SmartRouter.
type SmartRouterOption func(*SmartRouter)

// WithConfidenceThreshold sets a custom fast-path confidence threshold.
func WithConfidenceThreshold(threshold float64) SmartRouterOption {
	return func(r *SmartRouter) {
		r.threshold = threshold
	}
}

// WithAcceptThreshold sets the minimum confidence required to route to the
// mutation path.
func WithAcceptThreshold(threshold float64) SmartRouterOption {
	return func(r *SmartRouter) {
		r.acceptThreshold = threshold
	}
}

// WithSemanticFallback enables/disables semantic fallback.
func WithSemanticFallback(enabled bool) SmartRouterOption {
	return func(r *SmartRouter) {
		r.enableSemanticFallback = enabled
	}
}

// NewSmartRouter creates a new SmartRouter with the given LLM classifier.
// If llm is nil, semantic fallback will be disabled.
func NewSmartRouter(llm LLMClassifier, opts ...SmartRouterOption) *SmartRouter {
	r := &SmartRouter{
		fast:                   NewFastClassifier(),
		threshold:              DefaultConfidenceThreshold,
		acceptThreshold:        DefaultAcceptThreshold,
		enableSemanticFallback: true,
		stats: RouterStats{
			IntentDistribution: make(map[Intent]int64),
		},
	}

	if llm != nil {
		r.slow = NewSlowClassifier(llm)
	} else {
		r.enableSemanticFallback = false
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Route classifies an utterance and returns a routing decision.
// This is the main entry point for the router.
func (r *SmartRouter) Route(ctx context.Context, input string) *Decision {
	start := time.Now()

	// 1. Fast Path: Regex classification with confidence
	intent, confidence := r.fast.Classify(input)

	if confidence >= r.threshold {
		return r.buildDecision(intent, input, confidence, PathFast, start, &classificationStats{
			fast: 1,
		})
	}

	// 2. Slow Path: Semantic classification (only when ambiguous and enabled)
	stats := &classificationStats{
		ambiguous: 1,
	}

	if r.enableSemanticFallback && r.slow != nil {
		semanticIntent, semanticConfidence, err := r.slow.Classify(ctx, input)
		if err == nil {
			stats.slow = 1
			return r.buildDecision(semanticIntent, input, semanticConfidence, PathSlow, start, stats)
		}
		// On error, fall through to use fast path result
	}

	// Fallback to fast path result (even with low confidence)
	stats.fast = 1
	return r.buildDecision(intent, input, confidence, PathFast, start, stats)
}

// classificationStats holds stats from a single classification
type classificationStats struct {
	fast      int64
	slow      int64
	ambiguous int64
}

// buildDecision constructs a Decision, applying the mutation accept
// threshold, and records statistics.
func (r *SmartRouter) buildDecision(
	intent Intent,
	input string,
	confidence float64,
	path ClassificationPath,
	start time.Time,
	stats *classificationStats,
) *Decision {
	duration := time.Since(start)

	lowConfidence := confidence < r.acceptThreshold
	if lowConfidence {
		// Never mutate on a guess.
		intent = IntentAnalyze
	}

	r.mu.Lock()
	r.stats.TotalRequests++
	if stats.fast > 0 {
		r.stats.FastHits++
	}
	if stats.slow > 0 {
		r.stats.SlowHits++
	}
	if stats.ambiguous > 0 {
		r.stats.AmbiguousCount++
	}
	if lowConfidence {
		r.stats.LowConfidenceCount++
	}
	r.stats.IntentDistribution[intent]++
	total := float64(r.stats.TotalRequests)
	r.stats.AverageConfidence = (r.stats.AverageConfidence*(total-1) + confidence) / total
	r.mu.Unlock()

	return &Decision{
		Intent:                 intent,
		Input:                  input,
		Confidence:             confidence,
		Path:                   path,
		LowConfidence:          lowConfidence,
		ClassifiedAt:           time.Now(),
		ClassificationDuration: duration,
	}
}

// Stats returns a copy of the current routing statistics.
func (r *SmartRouter) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	distCopy := make(map[Intent]int64, len(r.stats.IntentDistribution))
	for k, v := range r.stats.IntentDistribution {
		distCopy[k] = v
	}

	return RouterStats{
		FastHits:           r.stats.FastHits,
		SlowHits:           r.stats.SlowHits,
		AmbiguousCount:     r.stats.AmbiguousCount,
		LowConfidenceCount: r.stats.LowConfidenceCount,
		TotalRequests:      r.stats.TotalRequests,
		AverageConfidence:  r.stats.AverageConfidence,
		IntentDistribution: distCopy,
	}
}

// ResetStats resets all routing statistics.
func (r *SmartRouter) ResetStats() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats = RouterStats{
		IntentDistribution: make(map[Intent]int64),
	}
}
