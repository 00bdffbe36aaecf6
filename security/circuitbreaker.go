package security

import "time"

// CBState is a circuit breaker's lifecycle state (security.go's CBState).
type CBState string

const (
	CBClosed   CBState = "closed"
	CBOpen     CBState = "open"
	CBHalfOpen CBState = "half_open"
)

// CircuitBreaker trips an agent's delegation eligibility shut when it
// accumulates too many task failures or its trust score drops below a
// floor, and holds it shut until a cooldown elapses. GatedHandler drives
// the failure-count path directly off TaskCompletion outcomes; the
// trust-floor path is driven by coordinator.ReputationLedger, which
// recomputes an agent's trust score from its completion history and feeds
// it through CheckTrustDrop on every new record (security.go's
// CircuitBreaker, now with both trip conditions actually wired to a
// caller instead of one sitting unused).
type CircuitBreaker struct {
	AgentID          string
	FailureCount     int
	FailureThreshold int
	TrustFloor       float64
	CooldownPeriod   time.Duration
	State            CBState
	LastTripped      time.Time
}

func NewCircuitBreaker(agentID string, failureThreshold int, trustFloor float64) *CircuitBreaker {
	return &CircuitBreaker{
		AgentID:          agentID,
		FailureThreshold: failureThreshold,
		TrustFloor:       trustFloor,
		CooldownPeriod:   30 * time.Minute,
		State:            CBClosed,
	}
}

func (cb *CircuitBreaker) RecordFailure() bool {
	cb.FailureCount++
	if cb.FailureCount >= cb.FailureThreshold {
		cb.State = CBOpen
		cb.LastTripped = time.Now()
		return true
	}
	return false
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.FailureCount = 0
	cb.State = CBClosed
}

func (cb *CircuitBreaker) CheckTrustDrop(currentTrust float64) bool {
	if currentTrust < cb.TrustFloor {
		cb.State = CBOpen
		cb.LastTripped = time.Now()
		return true
	}
	return false
}

// IsAllowed reports whether AgentID may currently accept a delegated task.
func (cb *CircuitBreaker) IsAllowed() bool {
	switch cb.State {
	case CBClosed:
		return true
	case CBOpen:
		if time.Since(cb.LastTripped) > cb.CooldownPeriod {
			cb.State = CBHalfOpen
			return true
		}
		return false
	case CBHalfOpen:
		return true
	}
	return false
}
