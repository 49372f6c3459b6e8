// Package orchestrator wires one conversational turn end to end: load the
// conversation, extract preferences, route the utterance, run the selected
// agent loop, and commit the updated state.
//
// The driver is the only component that writes conversation state. It holds a
// per-conversation lock for the duration of a turn, so turns on one
// conversation run strictly in arrival order while different conversations
// proceed concurrently.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/normanking/voicetask/internal/agent"
	"github.com/normanking/voicetask/internal/logging"
	"github.com/normanking/voicetask/internal/memory"
	"github.com/normanking/voicetask/internal/router"
	"github.com/normanking/voicetask/internal/store"
	"github.com/normanking/voicetask/internal/trace"
	"github.com/normanking/voicetask/pkg/types"
)

// FailedResponse is what the caller relays when a turn cannot complete.
const FailedResponse = "Sorry, I ran into a problem processing that. Please try again."

// DefaultTurnTimeout bounds one whole turn's wall-clock time.
const DefaultTurnTimeout = 3 * time.Minute

// Notifier receives the mutation side effects of a completed turn so live
// clients can refresh. Delivery is best effort; the driver only emits.
type Notifier interface {
	NotifyMutations(userID string, taskIDs []string)
}

// ═══════════════════════════════════════════════════════════════════════════════
// DRIVER
// ═══════════════════════════════════════════════════════════════════════════════

// Config tunes driver behavior.
type Config struct {
	// TurnTimeout is the wall-clock budget for one turn. Zero uses
	// DefaultTurnTimeout.
	TurnTimeout time.Duration

	// TraceEnabled controls whether per-turn traces are persisted.
	TraceEnabled bool
}

// Driver runs the turn state machine. Safe for concurrent use.
type Driver struct {
	store     *store.Store
	extractor *memory.Extractor
	router    *router.SmartRouter
	mutate    *agent.Agent
	analyze   *agent.Agent
	notifier  Notifier
	cfg       Config
	log       *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a driver. notifier may be nil when no push channel is wired.
func New(s *store.Store, extractor *memory.Extractor, rt *router.SmartRouter, mutate, analyze *agent.Agent, notifier Notifier, cfg Config) *Driver {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}
	return &Driver{
		store:     s,
		extractor: extractor,
		router:    rt,
		mutate:    mutate,
		analyze:   analyze,
		notifier:  notifier,
		cfg:       cfg,
		log:       logging.Global().WithComponent("driver"),
		locks:     make(map[string]*sync.Mutex),
	}
}

// ProcessTurn runs one utterance through the full pipeline and returns the
// turn's outcome. On failure the returned result is still populated (status
// failed, generic response) alongside the error, so callers always have
// something presentable.
func (d *Driver) ProcessTurn(ctx context.Context, userID, conversationID, utterance string) (*types.TurnResult, error) {
	if userID == "" || conversationID == "" {
		return nil, errors.New("user id and conversation id are required")
	}
	if utterance == "" {
		return nil, errors.New("empty utterance")
	}

	// At most one active turn per conversation. Waiting here rather than
	// rejecting keeps turns in arrival order.
	lock := d.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, d.cfg.TurnTimeout)
	defer cancel()

	turnID := uuid.NewString()
	rec := trace.NewRecorder(conversationID, turnID)
	start := time.Now()

	result, err := d.runTurn(ctx, rec, userID, conversationID, turnID, utterance)
	if err != nil {
		rec.SetStatus(string(types.TurnFailed))
		d.saveTrace(rec)
		d.log.Warn("turn %s failed after %s: %v", turnID, time.Since(start).Round(time.Millisecond), err)
		return &types.TurnResult{
			Response: FailedResponse,
			TraceRef: rec.ID(),
			Status:   types.TurnFailed,
		}, err
	}

	rec.SetStatus(string(result.Status))
	d.saveTrace(rec)
	d.log.Info("turn %s done in %s: steps=%d status=%s",
		turnID, time.Since(start).Round(time.Millisecond), len(rec.Steps()), result.Status)
	return result, nil
}

// runTurn is the happy-path state machine. Any returned error means the turn
// failed without committing state.
func (d *Driver) runTurn(ctx context.Context, rec *trace.Recorder, userID, conversationID, turnID, utterance string) (*types.TurnResult, error) {
	// LOAD_STATE
	state, err := d.store.LoadConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	// EXTRACT_MEMORY. Extraction is best effort; a failed extraction must
	// not cost the user their turn.
	if _, err := d.extractor.Extract(ctx, userID, turnID, utterance); err != nil {
		d.log.Warn("memory extraction skipped: %v", err)
	}
	facts, stale := d.extractor.Recall(ctx, userID)

	// ROUTE
	decision := d.router.Route(ctx, utterance)
	rec.SetRoute(string(decision.Intent))

	ag := d.analyze
	if decision.Intent == router.IntentMutate {
		ag = d.mutate
	}

	// MUTATE or ANALYZE
	outcome, err := ag.Run(ctx, rec, &agent.Request{
		UserID:  userID,
		Input:   utterance,
		History: state.Messages,
		Facts:   memory.FormatForPrompt(facts),
	})
	if err != nil {
		return nil, fmt.Errorf("%s agent: %w", decision.Intent, err)
	}

	// PERSIST. A conflict means another turn committed underneath us; the
	// turn fails rather than overwriting.
	state.Messages = append(state.Messages,
		types.ChatMessage{Role: types.RoleUser, Content: utterance},
		types.ChatMessage{Role: types.RoleAssistant, Content: outcome.Message},
	)
	if err := d.store.CommitConversation(ctx, state); err != nil {
		return nil, fmt.Errorf("commit conversation: %w", err)
	}

	if d.notifier != nil && len(outcome.MutatedIDs) > 0 {
		d.notifier.NotifyMutations(userID, outcome.MutatedIDs)
	}

	status := types.TurnOK
	if outcome.NeedsClarification {
		status = types.TurnClarificationNeeded
	}

	return &types.TurnResult{
		Response:             outcome.Message,
		MutationsApplied:     outcome.MutatedIDs,
		TraceRef:             rec.ID(),
		Status:               status,
		LowConfidenceRoute:   decision.LowConfidence,
		StalePreferences:     stale,
		HallucinationBlocked: outcome.HallucinationBlocked,
	}, nil
}

// saveTrace persists the turn trace when tracing is on. Trace storage is
// diagnostics only and never fails a turn.
func (d *Driver) saveTrace(rec *trace.Recorder) {
	if !d.cfg.TraceEnabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.store.SaveTrace(ctx, rec.Record()); err != nil {
		d.log.Warn("trace %s not saved: %v", rec.ID(), err)
	}
}

// lockFor returns the lock guarding a conversation, creating it on first use.
// Locks are never evicted; one mutex per conversation seen by this process.
func (d *Driver) lockFor(conversationID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[conversationID] = lock
	}
	return lock
}
