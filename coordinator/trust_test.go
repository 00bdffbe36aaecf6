package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b00t-dev/acs/envelope"
)

type stubHandler struct {
	completions []envelope.TaskCompletion
	i           int
}

func (s *stubHandler) Accept(ctx context.Context, td envelope.TaskDelegation) (envelope.TaskCompletion, error) {
	tc := s.completions[s.i]
	s.i++
	return tc, nil
}

func TestComputeTrustScoreDefaultsToNeutralPrior(t *testing.T) {
	rl := NewReputationLedger()
	assert.Equal(t, 0.5, rl.ComputeTrustScore("worker-1"))
}

func TestRecordReputationTracksSuccessAndFailure(t *testing.T) {
	rl := NewReputationLedger()

	score := rl.RecordReputation("worker-1", envelope.TaskCompletion{Status: envelope.TaskSuccess})
	assert.Equal(t, 1.0, score)

	score = rl.RecordReputation("worker-1", envelope.TaskCompletion{Status: envelope.TaskFailed})
	// second (more recent) record is weighted 2x the first, so a failure
	// right after a success pulls the score below 0.5.
	assert.Less(t, score, 0.5)
}

func TestRecordReputationTripsCircuitBreakerBelowTrustFloor(t *testing.T) {
	rl := NewReputationLedger()

	for i := 0; i < 5; i++ {
		rl.RecordReputation("worker-1", envelope.TaskCompletion{Status: envelope.TaskFailed})
	}

	assert.False(t, rl.IsAllowed("worker-1"))
}

func TestTrustHandlerRejectsWhenCircuitOpen(t *testing.T) {
	rl := NewReputationLedger()
	for i := 0; i < 5; i++ {
		rl.RecordReputation("worker-1", envelope.TaskCompletion{Status: envelope.TaskFailed})
	}
	require.False(t, rl.IsAllowed("worker-1"))

	h := NewTrustHandler(&stubHandler{}, rl)
	tc, err := h.Accept(context.Background(), envelope.TaskDelegation{WorkerID: "worker-1", TaskID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, envelope.TaskFailed, tc.Status)
	assert.Contains(t, tc.Message, "circuit open")
}

func TestTrustHandlerRecordsOutcomeAfterAccept(t *testing.T) {
	rl := NewReputationLedger()
	inner := &stubHandler{completions: []envelope.TaskCompletion{
		{WorkerID: "worker-2", TaskID: "t1", Status: envelope.TaskSuccess},
	}}
	h := NewTrustHandler(inner, rl)

	tc, err := h.Accept(context.Background(), envelope.TaskDelegation{WorkerID: "worker-2", TaskID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, envelope.TaskSuccess, tc.Status)
	assert.Equal(t, 1.0, rl.ComputeTrustScore("worker-2"))
}
