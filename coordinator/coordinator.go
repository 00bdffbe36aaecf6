// Package coordinator implements the per-agent Coordinator (C5): presence
// heartbeat, pending-task/vote tables, and typed inbound dispatch on top of
// the transport/router/registry layers. Grounded on
// original_source/b00t-c0re-lib/src/agent_coordination.rs's
// AgentCoordinator — its message-kind dispatch, channel subscriptions, and
// heartbeat loop structure carry over almost directly, but several gaps the
// original leaves as stubs are fully implemented here (vote aggregation,
// request_capability's collection window, and TaskDelegation hand-off to a
// worker handler); see SPEC_FULL.md §6.5 for the gap-by-gap rationale.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/b00t-dev/acs/envelope"
	"github.com/b00t-dev/acs/metrics"
	"github.com/b00t-dev/acs/registry"
	"github.com/b00t-dev/acs/router"
	"github.com/b00t-dev/acs/transport"
)

const (
	heartbeatInterval          = 30 * time.Second
	defaultDelegationTimeout   = time.Hour
	defaultCapabilityWindow    = 5 * time.Second
	agentsRegistryKey          = "b00t:agents:registry"
)

// InboundHandler is the host-supplied extension point for DirectMessage
// delivery (spec §4.5 item 3, "hand to the host-specified inbound handler").
type InboundHandler func(envelope.DirectMessage)

// WorkerHandler decides whether to accept a delegated task and eventually
// produces the TaskCompletion (spec §4.5 item 3, "hand to the worker
// handler which chooses to accept/reject"). Implementations run on their
// own goroutine; Accept must not block the dispatch loop indefinitely.
type WorkerHandler interface {
	Accept(context.Context, envelope.TaskDelegation) (envelope.TaskCompletion, error)
}

// EventHandler receives opaque/unhandled envelope kinds (spec §4.5 item 3,
// "Other kinds: opaque to the core; exposed to the host via an extension point").
type EventHandler func(envelope.Envelope)

// Coordinator owns exactly one agent's transport subscriptions and
// pending-state tables (spec §4.5).
type Coordinator struct {
	selfID string
	role   string

	reg        *registry.Registry
	rt         *router.Router
	transports map[transport.Kind]transport.Transport
	recorder   metrics.Recorder

	inboundHandler InboundHandler
	workerHandler  WorkerHandler
	eventHandler   EventHandler

	mu            sync.Mutex
	metadata      envelope.AgentMetadata
	pendingTasks  map[string]chan envelope.TaskCompletion
	pendingVotes  map[string]*voteAggregator

	capabilityCache *cache.Cache

	log zerolog.Logger

	stop chan struct{}
}

// Config bundles the wiring a Coordinator needs. SelfID, Role, Registry and
// Router are required (Start publishes through Router, and inbound Presence
// is applied to Registry); the other fields are optional. Omitted handlers
// simply drop what they'd have handled, matching spec §4.5's "otherwise
// ignore"/"log at debug" behavior.
type Config struct {
	SelfID         string
	Role           string
	Capabilities   []string
	Crew           string
	Registry       *registry.Registry
	Router         *router.Router
	Transports     map[transport.Kind]transport.Transport
	Recorder       metrics.Recorder
	InboundHandler InboundHandler
	WorkerHandler  WorkerHandler
	EventHandler   EventHandler
}

func New(cfg Config) *Coordinator {
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Coordinator{
		selfID:     cfg.SelfID,
		role:       cfg.Role,
		reg:        cfg.Registry,
		rt:         cfg.Router,
		transports: cfg.Transports,
		recorder:   recorder,
		inboundHandler: cfg.InboundHandler,
		workerHandler:  cfg.WorkerHandler,
		eventHandler:   cfg.EventHandler,
		metadata: envelope.AgentMetadata{
			AgentID:      cfg.SelfID,
			Role:         cfg.Role,
			Capabilities: cfg.Capabilities,
			Crew:         cfg.Crew,
			Status:       envelope.StatusOnline,
		},
		pendingTasks:    make(map[string]chan envelope.TaskCompletion),
		pendingVotes:    make(map[string]*voteAggregator),
		capabilityCache: cache.New(defaultCapabilityWindow, time.Minute),
		log:             log.With().Str("component", "coordinator").Str("agent_id", cfg.SelfID).Logger(),
		stop:            make(chan struct{}),
	}
}

// Start emits initial Presence, subscribes to every coordination channel,
// and spawns the heartbeat loop (spec §4.5 item 1).
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.publishPresence(ctx); err != nil {
		return err
	}

	channels := []string{
		transport.ChannelAgentsPresence,
		transport.AgentInbox(c.selfID),
		transport.ChannelVotesCollection,
		transport.ChannelProgressUpdates,
		transport.ChannelEventsNotifications,
		transport.ChannelCapabilityRequests,
	}
	for _, ch := range channels {
		if err := c.subscribeAll(ctx, ch); err != nil {
			return err
		}
	}

	go c.heartbeatLoop(ctx)
	return nil
}

// subscribeAll fans the dispatch loop out across every configured
// transport for a channel: a message may legitimately arrive on any one of
// them depending on which driver the sender used.
func (c *Coordinator) subscribeAll(ctx context.Context, channel string) error {
	for kind, tr := range c.transports {
		inbound, err := tr.Subscribe(ctx, channel)
		if err != nil {
			c.log.Debug().Err(err).Str("transport", string(kind)).Str("channel", channel).Msg("subscribe failed, skipping transport")
			continue
		}
		go c.dispatchLoop(ctx, inbound)
	}
	return nil
}

func (c *Coordinator) dispatchLoop(ctx context.Context, inbound <-chan transport.Inbound) {
	for {
		select {
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			c.dispatch(ctx, msg.Envelope)
		case <-ctx.Done():
			return
		}
	}
}

// dispatch routes one inbound envelope by kind (spec §4.5 item 3).
func (c *Coordinator) dispatch(ctx context.Context, env envelope.Envelope) {
	c.recorder.RecordMessageReceived(string(env.Kind), "")

	switch env.Kind {
	case envelope.KindTaskCompletion:
		var tc envelope.TaskCompletion
		if err := env.Decode(&tc); err != nil {
			c.log.Debug().Err(err).Msg("malformed task completion")
			return
		}
		c.resolveTask(tc)

	case envelope.KindVote:
		var v envelope.Vote
		if err := env.Decode(&v); err != nil {
			c.log.Debug().Err(err).Msg("malformed vote")
			return
		}
		c.recordVote(v)

	case envelope.KindDirectMessage:
		var dm envelope.DirectMessage
		if err := env.Decode(&dm); err != nil {
			c.log.Debug().Err(err).Msg("malformed direct message")
			return
		}
		if dm.To == c.selfID && c.inboundHandler != nil {
			c.inboundHandler(dm)
		}

	case envelope.KindTaskDelegation:
		var td envelope.TaskDelegation
		if err := env.Decode(&td); err != nil {
			c.log.Debug().Err(err).Msg("malformed task delegation")
			return
		}
		if td.WorkerID == c.selfID {
			c.handleDelegation(ctx, td)
		}

	case envelope.KindPresence:
		var p envelope.Presence
		if err := env.Decode(&p); err != nil {
			c.log.Debug().Err(err).Msg("malformed presence")
			return
		}
		c.reg.ApplyPresence(p.Metadata, env.ProducedAt)

	case envelope.KindCapabilityResponse:
		var cr envelope.CapabilityResponse
		if err := env.Decode(&cr); err != nil {
			c.log.Debug().Err(err).Msg("malformed capability response")
			return
		}
		c.collectCapabilityResponse(cr)

	case envelope.KindProgressUpdate, envelope.KindVotingProposal, envelope.KindCapabilityRequest, envelope.KindEventNotification:
		c.log.Debug().Str("kind", string(env.Kind)).Msg("informational envelope received")
		if c.eventHandler != nil {
			c.eventHandler(env)
		}

	default:
		// Opaque to the core; exposed to the host (spec §4.5 item 3, last bullet).
		if c.eventHandler != nil {
			c.eventHandler(env)
		}
	}
}

func (c *Coordinator) handleDelegation(ctx context.Context, td envelope.TaskDelegation) {
	if c.workerHandler == nil {
		c.log.Debug().Str("task_id", td.TaskID).Msg("no worker handler configured, ignoring delegation")
		return
	}
	go func() {
		tc, err := c.workerHandler.Accept(ctx, td)
		if err != nil {
			tc = envelope.TaskCompletion{
				WorkerID: c.selfID, CaptainID: td.CaptainID, TaskID: td.TaskID,
				Status: envelope.TaskFailed, Message: err.Error(),
			}
		}
		if err := c.CompleteTask(ctx, tc); err != nil {
			c.log.Debug().Err(err).Str("task_id", td.TaskID).Msg("failed to publish task completion")
		}
	}()
}

// heartbeatLoop refreshes last_seen, publishes the registry snapshot, and
// re-announces Presence every 30s (spec §4.5 item 2).
func (c *Coordinator) heartbeatLoop(ctx context.Context) {
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := c.publishPresence(ctx); err != nil {
				c.log.Debug().Err(err).Msg("heartbeat publish failed, will retry next tick")
			}
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		}
	}
}

func (c *Coordinator) publishPresence(ctx context.Context) error {
	c.mu.Lock()
	c.metadata.LastSeen = time.Now().UTC().Unix()
	meta := c.metadata
	c.mu.Unlock()

	env, err := envelope.New(envelope.KindPresence, c.selfID, envelope.Presence{Metadata: meta})
	if err != nil {
		return err
	}

	c.registrySnapshot(ctx, meta)

	return c.rt.Route(ctx, env, router.Broadcast())
}

// redisHSetter narrows the Redis driver's extra HSet/HGetAll methods
// without widening the transport.Transport interface just for this one
// optional snapshot write.
type redisHSetter interface {
	HSet(ctx context.Context, key, field string, value []byte) error
}

func (c *Coordinator) registrySnapshot(ctx context.Context, meta envelope.AgentMetadata) {
	setter, ok := c.transports[transport.KindRedis].(redisHSetter)
	if !ok {
		return
	}
	raw, err := envelope.New(envelope.KindPresence, c.selfID, envelope.Presence{Metadata: meta})
	if err != nil {
		return
	}
	_ = setter.HSet(ctx, agentsRegistryKey, c.selfID, raw.Payload)
}

// Stop halts the heartbeat loop. Subscriptions are torn down by canceling
// the context passed to Start.
func (c *Coordinator) Stop() { close(c.stop) }

// SetWorkerHandler wires the handler after construction, for callers that
// need a handler closing over the Coordinator itself (e.g. one that
// delegates sub-tasks back through the same agent).
func (c *Coordinator) SetWorkerHandler(h WorkerHandler) { c.workerHandler = h }
