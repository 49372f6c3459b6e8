package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/voicetask/pkg/types"
)

func TestRecorder_AppendOnlyOrder(t *testing.T) {
	r := NewRecorder("conv-1", "turn-1")
	r.SetRoute("mutate")

	r.Think("need to create a task")
	r.Act("create_task", `{"name":"buy milk"}`)
	r.Observe("create_task", `{"id":"t1"}`, "")
	r.Finish("Added buy milk.")
	r.SetStatus("ok")

	rec := r.Record()
	assert.Equal(t, "conv-1", rec.ConversationID)
	assert.Equal(t, "turn-1", rec.TurnID)
	assert.Equal(t, "mutate", rec.Route)
	assert.Equal(t, "ok", rec.Status)

	wantPhases := []types.StepPhase{
		types.PhaseThink, types.PhaseAct, types.PhaseObserve, types.PhaseFinish,
	}
	require.Len(t, rec.Steps, len(wantPhases))
	for i, phase := range wantPhases {
		assert.Equal(t, phase, rec.Steps[i].Phase, "step %d", i)
	}
	assert.Equal(t, "create_task", rec.Steps[1].Tool)
	assert.False(t, rec.Steps[0].Timestamp.IsZero())
}

func TestRecorder_RecordIsACopy(t *testing.T) {
	r := NewRecorder("conv-1", "turn-1")
	r.Think("first")

	rec := r.Record()
	r.Think("second")

	assert.Len(t, rec.Steps, 1, "earlier snapshot must not grow with the recorder")
	assert.Len(t, r.Record().Steps, 2)
}

func TestRecorder_IDStable(t *testing.T) {
	r := NewRecorder("conv-1", "turn-1")
	require.NotEmpty(t, r.ID())
	assert.Equal(t, r.ID(), r.Record().ID)
}
