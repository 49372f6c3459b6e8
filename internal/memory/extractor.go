// Package memory implements the preference extraction stage. Before routing,
// each utterance is scanned for durable user preferences ("I do my errands on
// Saturdays") which are stored as keyed facts with last-write-wins semantics
// and fed into agent prompts as context.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/normanking/voicetask/internal/llm"
	"github.com/normanking/voicetask/internal/logging"
	"github.com/normanking/voicetask/internal/store"
	"github.com/normanking/voicetask/pkg/types"
)

// ExtractionPrompt asks the mini model for preference facts as strict JSON.
const ExtractionPrompt = `You extract long-term user preferences from utterances addressed to a task manager.

A preference is a durable fact about how the user works or lives, for example working hours, preferred days for certain activities, recurring commitments, or naming habits. One-off commands ("add a task", "what's due today") contain no preferences.

Respond with ONLY a JSON object of this shape, no other text:
{"facts": [{"key": "short_snake_case_key", "value": "the preference"}]}

Return {"facts": []} when the utterance contains no durable preference.`

// FactStore is the subset of the store the extractor needs.
type FactStore interface {
	UpsertFact(ctx context.Context, fact *types.MemoryFact) error
	ListFacts(ctx context.Context, userID string) ([]*types.MemoryFact, error)
}

var _ FactStore = (*store.Store)(nil)

// Extractor runs preference extraction and recall for the driver.
type Extractor struct {
	provider llm.Provider
	model    string
	facts    FactStore
	log      *logging.Logger

	// cache holds the last successfully loaded fact set per user, used when
	// the store is unreachable so turns can degrade instead of fail.
	mu    sync.RWMutex
	cache map[string][]*types.MemoryFact
}

// NewExtractor creates the extraction stage. The model should be a small,
// fast one; extraction runs on every turn.
func NewExtractor(provider llm.Provider, model string, facts FactStore) *Extractor {
	return &Extractor{
		provider: provider,
		model:    model,
		facts:    facts,
		log:      logging.Global().WithComponent("memory"),
		cache:    make(map[string][]*types.MemoryFact),
	}
}

// Extract scans the utterance for preference facts and persists them.
// Extraction is best-effort: a model or store failure returns an error the
// driver logs and moves past, since losing one preference never justifies
// failing the user's actual request.
func (e *Extractor) Extract(ctx context.Context, userID, turnID, utterance string) ([]*types.MemoryFact, error) {
	resp, err := e.provider.Chat(ctx, &llm.ChatRequest{
		Model:        e.model,
		SystemPrompt: ExtractionPrompt,
		Messages:     []llm.Message{{Role: "user", Content: utterance}},
		MaxTokens:    256,
		Temperature:  llm.Temp(0),
	})
	if err != nil {
		return nil, fmt.Errorf("extraction model: %w", err)
	}

	parsed, err := ParseFacts(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse extraction output: %w", err)
	}

	var stored []*types.MemoryFact
	for _, f := range parsed {
		fact := &types.MemoryFact{
			UserID:     userID,
			Key:        NormalizeKey(f.Key),
			Value:      strings.TrimSpace(f.Value),
			SourceTurn: turnID,
		}
		if fact.Key == "" || fact.Value == "" {
			continue
		}
		if err := e.facts.UpsertFact(ctx, fact); err != nil {
			return stored, fmt.Errorf("store fact %s: %w", fact.Key, err)
		}
		e.log.Debug("stored preference %s=%s for %s", fact.Key, fact.Value, userID)
		stored = append(stored, fact)
	}

	return stored, nil
}

// Recall loads the user's preference facts. When the store is unreachable it
// falls back to the last fact set this process loaded and reports stale=true;
// a user with no cached facts gets an empty, stale set.
func (e *Extractor) Recall(ctx context.Context, userID string) (facts []*types.MemoryFact, stale bool) {
	loaded, err := e.facts.ListFacts(ctx, userID)
	if err != nil {
		e.log.Warn("preference store unreachable, using cached facts: %v", err)
		e.mu.RLock()
		cached := e.cache[userID]
		e.mu.RUnlock()
		return cached, true
	}

	e.mu.Lock()
	e.cache[userID] = loaded
	e.mu.Unlock()

	return loaded, false
}

// extractedFact is the wire shape the extraction model responds with.
type extractedFact struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ParseFacts decodes the extraction model's response. Models wrap JSON in
// prose or code fences often enough that the parser cuts the first balanced
// object out of the text before decoding.
func ParseFacts(response string) ([]extractedFact, error) {
	doc := firstJSONObject(response)
	if doc == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var parsed struct {
		Facts []extractedFact `json:"facts"`
	}
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		return nil, err
	}

	return parsed.Facts, nil
}

// firstJSONObject returns the first balanced {...} region of s, or "".
func firstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

var keySanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

// NormalizeKey lowercases a fact key and collapses it to snake_case so the
// same preference mentioned in different phrasings lands on one row.
func NormalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	key = strings.ReplaceAll(key, " ", "_")
	key = keySanitizer.ReplaceAllString(key, "")
	return strings.Trim(key, "_")
}

// FormatForPrompt renders facts as a context block for agent system prompts.
func FormatForPrompt(facts []*types.MemoryFact) string {
	if len(facts) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Known user preferences:\n")
	for _, f := range facts {
		fmt.Fprintf(&b, "- %s: %s\n", f.Key, f.Value)
	}
	return b.String()
}
