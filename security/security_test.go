package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b00t-dev/acs/envelope"
)

func TestDCTAttenuateInheritsAndNarrows(t *testing.T) {
	parent := MintDCT("captain", "worker-1", "repo:acs", time.Hour, Caveat{Type: "operation", Key: "op", Value: "read,write"})
	child, err := parent.Attenuate("worker-2", Caveat{Type: "operation", Key: "op", Value: "read"})
	require.NoError(t, err)
	assert.Len(t, child.Caveats, 2)

	require.NoError(t, child.ValidateAccess("read", "repo:acs"))
}

func TestDCTValidateAccessRejectsRevoked(t *testing.T) {
	d := MintDCT("captain", "worker-1", "repo:acs", time.Hour)
	d.Revoked = true
	assert.Error(t, d.ValidateAccess("read", "repo:acs"))
}

func TestDCTValidateAccessRejectsTamperedResource(t *testing.T) {
	d := MintDCT("captain", "worker-1", "repo:acs", time.Hour)
	require.NoError(t, d.ValidateAccess("read", "repo:acs"))

	d.Resource = "repo:other"
	assert.False(t, d.VerifySignature())
	assert.Error(t, d.ValidateAccess("read", "repo:other"))
}

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("worker-1", 3, 0.2)
	assert.True(t, cb.IsAllowed())
	cb.RecordFailure()
	cb.RecordFailure()
	tripped := cb.RecordFailure()
	assert.True(t, tripped)
	assert.False(t, cb.IsAllowed())
}

func TestScreenTaskFlagsUndescribedTask(t *testing.T) {
	td := envelope.TaskDelegation{WorkerID: "w", CaptainID: "c", TaskID: "t"}
	warnings := ScreenTask(td)
	assert.NotEmpty(t, warnings)
}

type acceptingHandler struct{}

func (acceptingHandler) Accept(ctx context.Context, td envelope.TaskDelegation) (envelope.TaskCompletion, error) {
	return envelope.TaskCompletion{WorkerID: td.WorkerID, CaptainID: td.CaptainID, TaskID: td.TaskID, Status: envelope.TaskSuccess}, nil
}

func TestGatedHandlerBlocksWhenBreakerOpen(t *testing.T) {
	cb := NewCircuitBreaker("worker-1", 1, 0.2)
	cb.RecordFailure()
	require.False(t, cb.IsAllowed())

	h := NewGatedHandler(acceptingHandler{}, cb)
	tc, err := h.Accept(context.Background(), envelope.TaskDelegation{WorkerID: "worker-1", TaskID: "t1", Description: "x"})
	require.NoError(t, err)
	assert.Equal(t, envelope.TaskFailed, tc.Status)
}
