package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/b00t-dev/acs/envelope"
	"github.com/b00t-dev/acs/router"
)

// capabilityCollector buffers CapabilityResponse envelopes arriving for one
// outstanding CapabilityRequest. The original (agent_coordination.rs)
// leaves request_capability as a TODO stub returning an empty vec; this
// implements the bounded collection window explicitly (spec §6.5 gap list).
type capabilityCollector struct {
	mu        sync.Mutex
	responses []envelope.CapabilityResponse
}

func (cc *capabilityCollector) add(r envelope.CapabilityResponse) {
	cc.mu.Lock()
	cc.responses = append(cc.responses, r)
	cc.mu.Unlock()
}

func (cc *capabilityCollector) snapshot() []envelope.CapabilityResponse {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	out := make([]envelope.CapabilityResponse, len(cc.responses))
	copy(out, cc.responses)
	return out
}

// RequestCapability broadcasts a CapabilityRequest and blocks for window
// (default 5s) collecting CapabilityResponse envelopes before returning
// whatever arrived (spec §4.5 item 4, request_capability). A zero window
// uses the default rather than returning immediately, since an
// instantaneous window could never collect anything.
func (c *Coordinator) RequestCapability(ctx context.Context, requiredCaps []string, description string, urgency envelope.RequestUrgency, window time.Duration) ([]envelope.CapabilityResponse, error) {
	if window <= 0 {
		window = defaultCapabilityWindow
	}

	requestID := envelope.NewMessageID()
	collector := &capabilityCollector{}
	c.capabilityCache.Set(requestID, collector, window)

	cr := envelope.CapabilityRequest{
		RequestID: requestID, RequestingAgent: c.selfID,
		RequiredCapabilities: requiredCaps, Description: description, Urgency: urgency,
	}
	env, err := envelope.New(envelope.KindCapabilityRequest, c.selfID, cr)
	if err != nil {
		c.capabilityCache.Delete(requestID)
		return nil, err
	}
	if err := c.rt.Route(ctx, env, router.Broadcast()); err != nil {
		c.capabilityCache.Delete(requestID)
		return nil, err
	}

	select {
	case <-time.After(window):
	case <-ctx.Done():
		c.capabilityCache.Delete(requestID)
		return nil, ctx.Err()
	}

	result := collector.snapshot()
	c.capabilityCache.Delete(requestID)
	return result, nil
}

// collectCapabilityResponse folds an arriving response into its request's
// collector, if the collection window is still open. Responses for an
// unknown or already-closed request id are dropped: the window elapsed, or
// the response was never meant for this agent's request.
func (c *Coordinator) collectCapabilityResponse(r envelope.CapabilityResponse) {
	item, found := c.capabilityCache.Get(r.RequestID)
	if !found {
		return
	}
	collector, ok := item.(*capabilityCollector)
	if !ok {
		return
	}
	collector.add(r)
}
