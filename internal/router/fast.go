package router

import (
	"regexp"
	"strings"
)

// FastClassifier implements regex-based intent classification.
// It's designed for speed (~1ms) and handles the bulk of utterances
// confidently; ambiguous phrasings fall through to the slow path.
type FastClassifier struct {
	patterns map[Intent][]*compiledPattern
}

// compiledPattern holds a pre-compiled regex with its weight.
type compiledPattern struct {
	regex  *regexp.Regexp
	weight float64 // Higher weight = stronger signal
}

// NewFastClassifier creates a new regex-based classifier with patterns tuned
// for spoken task-management phrasing.
func NewFastClassifier() *FastClassifier {
	return &FastClassifier{
		patterns: buildPatterns(),
	}
}

// Classify analyzes an utterance and returns the best intent with confidence.
// Returns IntentAnalyze with low confidence if no strong match is found.
func (c *FastClassifier) Classify(input string) (Intent, float64) {
	lower := strings.ToLower(input)

	scores := make(map[Intent]float64)
	matchCounts := make(map[Intent]int)

	for intent, patterns := range c.patterns {
		for _, p := range patterns {
			if p.regex.MatchString(lower) {
				scores[intent] += p.weight
				matchCounts[intent]++
			}
		}
	}

	var bestIntent Intent = IntentAnalyze
	var bestScore float64
	var totalScore float64

	for intent, score := range scores {
		totalScore += score
		if score > bestScore {
			bestScore = score
			bestIntent = intent
		}
	}

	if totalScore == 0 {
		// No patterns matched - fall back to analysis with low confidence
		return IntentAnalyze, 0.4
	}

	// Base confidence is the proportion of the best score
	confidence := bestScore / totalScore

	if len(scores) == 1 {
		// Only one intent matched - high confidence
		confidence = min(confidence+0.25, 1.0)
	}

	if matchCounts[bestIntent] >= 2 {
		// Multiple patterns matched for the same intent - boost confidence
		confidence = min(confidence+0.1, 1.0)
	}

	// Penalize if both intents have similar scores
	if len(scores) > 1 {
		secondBest := findSecondBest(scores, bestIntent)
		if secondBest > 0 && (bestScore-secondBest)/bestScore < 0.3 {
			// Close competition - reduce confidence
			confidence *= 0.8
		}
	}

	return bestIntent, confidence
}

// ClassifyWithMatches returns the classification along with matched patterns.
// Useful for debugging and explanation.
func (c *FastClassifier) ClassifyWithMatches(input string) (Intent, float64, []string) {
	lower := strings.ToLower(input)
	matches := []string{}

	for _, patterns := range c.patterns {
		for _, p := range patterns {
			if p.regex.MatchString(lower) {
				matches = append(matches, p.regex.String())
			}
		}
	}

	intent, confidence := c.Classify(input)
	return intent, confidence, matches
}

// findSecondBest returns the second highest score.
func findSecondBest(scores map[Intent]float64, best Intent) float64 {
	var second float64
	for intent, score := range scores {
		if intent != best && score > second {
			second = score
		}
	}
	return second
}

// buildPatterns creates the regex patterns for each intent.
// Patterns are weighted: higher weight = stronger signal.
func buildPatterns() map[Intent][]*compiledPattern {
	return map[Intent][]*compiledPattern{
		IntentMutate: {
			{regexp.MustCompile(`\b(add|create|make|new)\s+(a\s+|an\s+)?(task|todo|to-do|item|reminder|folder|list)\b`), 1.2},
			{regexp.MustCompile(`\bremind\s+me\s+to\b`), 1.2},
			{regexp.MustCompile(`\b(i\s+need\s+to|i\s+have\s+to|don't\s+let\s+me\s+forget)\b`), 0.9},
			{regexp.MustCompile(`\b(complete|finish|done\s+with|check\s+off|mark\s+.{0,30}(done|complete|finished))\b`), 1.1},
			{regexp.MustCompile(`\b(delete|remove|cancel|get\s+rid\s+of|scratch)\s+(the\s+|my\s+|that\s+)?(task|todo|item|folder|one)\b`), 1.1},
			{regexp.MustCompile(`\bmove\s+.{0,40}\s(to|into)\s+(the\s+)?`), 1.0},
			{regexp.MustCompile(`\b(rename|change\s+the\s+name)\b`), 1.0},
			{regexp.MustCompile(`\b(change|set|update|push|postpone|reschedule)\s+.{0,30}(due|deadline|date|priority|name)\b`), 1.1},
			{regexp.MustCompile(`\b(make|mark)\s+.{0,30}(high\s+priority|urgent|important)\b`), 1.0},
			{regexp.MustCompile(`\breopen\b`), 1.0},
			{regexp.MustCompile(`\b(actually|instead|not\s+that\s+one)\b.*\b(change|undo|wrong)\b`), 0.7},
		},

		IntentAnalyze: {
			{regexp.MustCompile(`\b(how\s+many|how\s+much|how\s+often)\b`), 1.1},
			{regexp.MustCompile(`\b(what|which)\s+(tasks?|todos?|items?)\b`), 1.0},
			{regexp.MustCompile(`\b(show|list|display|tell)\s+me\b`), 0.9},
			{regexp.MustCompile(`\bwhat('s|\s+is)\s+(on|in|left|due|overdue)\b`), 1.0},
			{regexp.MustCompile(`\b(productivity|progress|patterns?|trends?|stats|statistics)\b`), 1.1},
			{regexp.MustCompile(`\b(how\s+am\s+i\s+doing|am\s+i\s+on\s+track)\b`), 1.1},
			{regexp.MustCompile(`\b(procrastinat\w*|putting\s+off|avoiding|stale|stuck)\b`), 1.2},
			{regexp.MustCompile(`\b(completion\s+rate|completed\s+this\s+week|finished\s+(this|last)\s+(week|month))\b`), 1.1},
			{regexp.MustCompile(`\b(overdue|behind\s+on|falling\s+behind)\b`), 1.0},
			{regexp.MustCompile(`\b(summary|summarize|overview|recap)\b`), 1.0},
			{regexp.MustCompile(`\bwhat\s+did\s+i\b`), 1.0},
			{regexp.MustCompile(`\bdo\s+i\s+have\s+(any|anything)\b`), 0.9},
		},
	}
}

// min returns the smaller of two float64 values.
func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
