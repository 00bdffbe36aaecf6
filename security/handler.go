package security

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/b00t-dev/acs/envelope"
)

// Accepter is the coordinator.WorkerHandler shape, restated here to avoid a
// security -> coordinator import (coordinator/trust.go already imports
// security, so a dependency the other way would be an import cycle).
type Accepter interface {
	Accept(context.Context, envelope.TaskDelegation) (envelope.TaskCompletion, error)
}

// GatedHandler wraps a WorkerHandler with a circuit breaker and advisory
// task screening before handing a delegation to the real handler (spec §12
// supplemented feature, adapted from engine.go's trust-aware dispatch and
// security.go's CircuitBreaker/ScreenTask).
type GatedHandler struct {
	Inner   Accepter
	Breaker *CircuitBreaker
	Log     zerolog.Logger
}

func NewGatedHandler(inner Accepter, breaker *CircuitBreaker) *GatedHandler {
	return &GatedHandler{Inner: inner, Breaker: breaker, Log: log.With().Str("component", "security.GatedHandler").Logger()}
}

// Accept rejects the delegation outright if the breaker is open, logs any
// screening warnings (without blocking on them), then delegates to Inner,
// recording the outcome back into the breaker.
func (g *GatedHandler) Accept(ctx context.Context, td envelope.TaskDelegation) (envelope.TaskCompletion, error) {
	if g.Breaker != nil && !g.Breaker.IsAllowed() {
		return envelope.TaskCompletion{
			WorkerID: td.WorkerID, CaptainID: td.CaptainID, TaskID: td.TaskID,
			Status: envelope.TaskFailed, Message: fmt.Sprintf("circuit breaker open for %s", td.WorkerID),
		}, nil
	}

	if warnings := ScreenTask(td); len(warnings) > 0 {
		g.Log.Warn().Str("task_id", td.TaskID).Strs("warnings", warnings).Msg("task screening flagged concerns")
	}

	tc, err := g.Inner.Accept(ctx, td)
	if g.Breaker != nil {
		if err != nil || tc.Status == envelope.TaskFailed {
			g.Breaker.RecordFailure()
		} else {
			g.Breaker.RecordSuccess()
		}
	}
	return tc, err
}
