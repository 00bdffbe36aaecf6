package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/b00t-dev/acs/envelope"
	"github.com/b00t-dev/acs/security"
)

// ReputationRecord is one observed TaskCompletion outcome feeding a
// worker's trust score (engine.go's reputation-record concept, adapted
// onto TaskCompletion instead of the teacher's standalone
// ReputationRecord/VerificationResult types, which ACS has no analogue
// for — see SPEC_FULL.md §12 / DESIGN.md's dropped-vocabulary note).
type ReputationRecord struct {
	TaskID string
	Status envelope.TaskCompletionStatus
	At     int64
}

// ReputationLedger accumulates TaskCompletion outcomes per worker and
// derives a trust score from them (engine.go's ComputeTrustScore/
// RecordReputation pair), driving each worker's own security.CircuitBreaker
// via CheckTrustDrop — the integration the teacher's security.go defines
// CheckTrustDrop for but never actually calls from anywhere.
type ReputationLedger struct {
	mu       sync.Mutex
	history  map[string][]ReputationRecord
	breakers map[string]*security.CircuitBreaker
}

func NewReputationLedger() *ReputationLedger {
	return &ReputationLedger{
		history:  make(map[string][]ReputationRecord),
		breakers: make(map[string]*security.CircuitBreaker),
	}
}

func (rl *ReputationLedger) breakerFor(agentID string) *security.CircuitBreaker {
	cb, ok := rl.breakers[agentID]
	if !ok {
		cb = security.NewCircuitBreaker(agentID, 5, 0.3)
		rl.breakers[agentID] = cb
	}
	return cb
}

// RecordReputation folds one TaskCompletion into workerID's history,
// recomputes its trust score, and feeds that score into workerID's circuit
// breaker, which trips shut as soon as the score falls below the breaker's
// trust floor. Delegation capability tokens are not touched. Returns the
// recomputed score.
func (rl *ReputationLedger) RecordReputation(workerID string, tc envelope.TaskCompletion) float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.history[workerID] = append(rl.history[workerID], ReputationRecord{
		TaskID: tc.TaskID, Status: tc.Status, At: time.Now().UTC().Unix(),
	})

	score := rl.computeTrustScoreLocked(workerID)
	rl.breakerFor(workerID).CheckTrustDrop(score)
	return score
}

// ComputeTrustScore returns workerID's current trust score: a
// recency-weighted success ratio over its recorded completions (later
// records count for more, so a worker that's recently started failing
// trends down faster than one long-ago failure would otherwise allow). A
// worker with no history yet gets a neutral 0.5 prior rather than 0, so an
// unproven worker isn't automatically ranked last by market.RankResponses.
func (rl *ReputationLedger) ComputeTrustScore(workerID string) float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.computeTrustScoreLocked(workerID)
}

func (rl *ReputationLedger) computeTrustScoreLocked(workerID string) float64 {
	records := rl.history[workerID]
	if len(records) == 0 {
		return 0.5
	}

	var weighted, weightSum float64
	for i, r := range records {
		weight := float64(i + 1)
		weightSum += weight
		switch r.Status {
		case envelope.TaskSuccess:
			weighted += weight
		case envelope.TaskPartialSuccess:
			weighted += weight * 0.5
		}
	}
	return weighted / weightSum
}

// IsAllowed reports whether workerID's circuit breaker currently permits a
// new delegation.
func (rl *ReputationLedger) IsAllowed(workerID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.breakerFor(workerID).IsAllowed()
}

// TrustHandler is a WorkerHandler decorator that gates acceptance on the
// worker's current trust standing and records every outcome back into the
// ledger, closing the loop SPEC_FULL.md §12 calls for between delegation
// outcomes and future delegation decisions.
type TrustHandler struct {
	Inner  WorkerHandler
	Ledger *ReputationLedger
}

func NewTrustHandler(inner WorkerHandler, ledger *ReputationLedger) *TrustHandler {
	return &TrustHandler{Inner: inner, Ledger: ledger}
}

func (h *TrustHandler) Accept(ctx context.Context, td envelope.TaskDelegation) (envelope.TaskCompletion, error) {
	if !h.Ledger.IsAllowed(td.WorkerID) {
		return envelope.TaskCompletion{
			WorkerID: td.WorkerID, CaptainID: td.CaptainID, TaskID: td.TaskID,
			Status: envelope.TaskFailed, Message: "worker below trust floor, circuit open",
		}, nil
	}

	tc, err := h.Inner.Accept(ctx, td)
	if err != nil {
		tc = envelope.TaskCompletion{
			WorkerID: td.WorkerID, CaptainID: td.CaptainID, TaskID: td.TaskID,
			Status: envelope.TaskFailed, Message: err.Error(),
		}
	}
	h.Ledger.RecordReputation(td.WorkerID, tc)
	return tc, nil
}
