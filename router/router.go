// Package router implements destination-aware routing (C4): resolve a
// Destination to a transport, fan out for Crew/Broadcast, and fall back
// across the transport chain on failure. Grounded on
// original_source/b00t-lib-chat/src/router.rs's MessageRouter/Destination,
// but unlike that source (whose route_fallback/route_to_endpoint only ever
// implement the Unix-socket arm and stub-error otherwise) this router
// actually walks the full UnixSocket -> Redis -> NATS -> MQTT chain
// required by spec §4.4.
package router

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/b00t-dev/acs/acserr"
	"github.com/b00t-dev/acs/envelope"
	"github.com/b00t-dev/acs/registry"
	"github.com/b00t-dev/acs/transport"
)

// DestinationKind is the closed set of routing targets (spec §4.4).
type DestinationKind string

const (
	DestAgent     DestinationKind = "agent"
	DestCrew      DestinationKind = "crew"
	DestBroadcast DestinationKind = "broadcast"
	DestDirect    DestinationKind = "direct"
)

// Destination selects where an envelope is routed.
type Destination struct {
	Kind   DestinationKind
	Target string // agent id, crew id, or direct URI depending on Kind
}

func Agent(id string) Destination     { return Destination{Kind: DestAgent, Target: id} }
func Crew(id string) Destination      { return Destination{Kind: DestCrew, Target: id} }
func Broadcast() Destination          { return Destination{Kind: DestBroadcast} }
func Direct(uri string) Destination   { return Destination{Kind: DestDirect, Target: uri} }

// Router is stateless beyond handles to the transport set and the registry
// (spec §4.4: "holds no per-message queue").
type Router struct {
	reg        *registry.Registry
	transports map[transport.Kind]transport.Transport
	log        zerolog.Logger
}

// New constructs a Router. transports need not cover every Kind; missing
// entries are treated as unavailable and skipped during fallback.
func New(reg *registry.Registry, transports map[transport.Kind]transport.Transport) *Router {
	return &Router{reg: reg, transports: transports, log: log.With().Str("component", "router").Logger()}
}

// Route dispatches env to destination per spec §4.4.
func (r *Router) Route(ctx context.Context, env envelope.Envelope, dest Destination) error {
	switch dest.Kind {
	case DestAgent:
		return r.routeToAgent(ctx, env, dest.Target)
	case DestCrew:
		return r.routeToCrew(ctx, env, dest.Target)
	case DestBroadcast:
		return r.routeBroadcast(ctx, env)
	case DestDirect:
		return r.routeDirect(ctx, env, dest.Target)
	default:
		return acserr.New(acserr.Validation, "router.Route", fmt.Errorf("unknown destination kind %q", dest.Kind))
	}
}

func (r *Router) routeToAgent(ctx context.Context, env envelope.Envelope, agentID string) error {
	channel := transport.AgentInbox(agentID)

	ep, found := r.reg.GetSocket(agentID)
	if found {
		if tr, ok := r.transports[ep.TransportKind]; ok {
			if err := tr.Publish(ctx, channel, env); err == nil {
				return nil
			}
			r.log.Debug().Str("agent", agentID).Str("transport", string(ep.TransportKind)).Msg("primary transport publish failed, falling back")
		}
	}

	return r.fallback(ctx, env, channel, agentID)
}

// fallback walks transport.FallbackOrder, skipping drivers this Router
// wasn't configured with or that fail to publish (spec §4.4).
func (r *Router) fallback(ctx context.Context, env envelope.Envelope, channel, agentID string) error {
	var lastErr error
	for _, kind := range transport.FallbackOrder {
		tr, ok := r.transports[kind]
		if !ok {
			continue
		}
		if err := tr.Publish(ctx, channel, env); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return acserr.New(acserr.Routing, "router.routeToAgent", fmt.Errorf("%w: %s (last error: %v)", acserr.ErrAgentUnreachable, agentID, lastErr))
}

func (r *Router) routeToCrew(ctx context.Context, env envelope.Envelope, crewID string) error {
	agents := r.reg.DiscoverAgents()

	sent := 0
	var errs []error
	for _, ep := range agents {
		if ep.Metadata == nil || ep.Metadata["crew"] != crewID {
			continue
		}
		if err := r.routeToAgent(ctx, env, ep.AgentID); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}

	if sent == 0 && len(errs) > 0 {
		return acserr.New(acserr.Routing, "router.routeToCrew", fmt.Errorf("%w: %s (%v)", acserr.ErrNoCrewMembers, crewID, errs))
	}
	return nil
}

func (r *Router) routeBroadcast(ctx context.Context, env envelope.Envelope) error {
	agents := r.reg.DiscoverAgents()
	sent := 0
	for _, ep := range agents {
		if err := r.routeToAgent(ctx, env, ep.AgentID); err != nil {
			r.log.Debug().Err(err).Str("agent", ep.AgentID).Msg("broadcast delivery failed")
			continue
		}
		sent++
	}
	r.log.Debug().Int("reached", sent).Int("known", len(agents)).Msg("broadcast complete")
	return nil
}

func (r *Router) routeDirect(ctx context.Context, env envelope.Envelope, uri string) error {
	// Direct addressing targets the Unix-socket driver by URI, per spec
	// §4.4 ("connect the matching transport driver by URI scheme").
	tr, ok := r.transports[transport.KindUnixSocket]
	if !ok {
		return acserr.New(acserr.Transport, "router.routeDirect", acserr.ErrNotConnected)
	}
	return tr.Publish(ctx, uri, env)
}
