// Package trace records the reasoning steps of a turn. The record is
// append-only: steps are added as they happen and never rewritten, so a
// failed turn's trace shows exactly how far it got.
package trace

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/normanking/voicetask/pkg/types"
)

// Recorder accumulates the trace of one turn.
type Recorder struct {
	mu  sync.Mutex
	rec types.TraceRecord
}

// NewRecorder starts a trace for a turn.
func NewRecorder(conversationID, turnID string) *Recorder {
	return &Recorder{
		rec: types.TraceRecord{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			TurnID:         turnID,
			CreatedAt:      time.Now(),
		},
	}
}

// ID returns the trace identifier, usable as a TraceRef before the trace is
// persisted.
func (r *Recorder) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec.ID
}

// SetRoute records which agent path the turn took.
func (r *Recorder) SetRoute(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec.Route = route
}

// SetStatus records how the turn ended.
func (r *Recorder) SetStatus(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec.Status = status
}

// Think appends a reasoning step.
func (r *Recorder) Think(content string) {
	r.append(types.TraceStep{Phase: types.PhaseThink, Content: content})
}

// Act appends a tool invocation step.
func (r *Recorder) Act(tool, args string) {
	r.append(types.TraceStep{Phase: types.PhaseAct, Tool: tool, Args: args})
}

// Observe appends a tool result step.
func (r *Recorder) Observe(tool, result, errText string) {
	r.append(types.TraceStep{Phase: types.PhaseObserve, Tool: tool, Result: result, Err: errText})
}

// Finish appends the final response step.
func (r *Recorder) Finish(content string) {
	r.append(types.TraceStep{Phase: types.PhaseFinish, Content: content})
}

func (r *Recorder) append(step types.TraceStep) {
	step.Timestamp = time.Now()
	r.mu.Lock()
	r.rec.Steps = append(r.rec.Steps, step)
	r.mu.Unlock()
}

// Steps returns a copy of the steps recorded so far.
func (r *Recorder) Steps() []types.TraceStep {
	r.mu.Lock()
	defer r.mu.Unlock()
	steps := make([]types.TraceStep, len(r.rec.Steps))
	copy(steps, r.rec.Steps)
	return steps
}

// Record returns a copy of the complete trace for persistence.
func (r *Recorder) Record() *types.TraceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.rec
	rec.Steps = make([]types.TraceStep, len(r.rec.Steps))
	copy(rec.Steps, r.rec.Steps)
	return &rec
}
