package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b00t-dev/acs/envelope"
	"github.com/b00t-dev/acs/registry"
	"github.com/b00t-dev/acs/router"
	"github.com/b00t-dev/acs/transport"
)

// loopbackTransport delivers every Publish straight back out its own
// Subscribe channel, regardless of channel name, so Coordinator-to-
// Coordinator tests don't need a real broker.
type loopbackTransport struct {
	inbound chan transport.Inbound
}

func newLoopback() *loopbackTransport {
	return &loopbackTransport{inbound: make(chan transport.Inbound, 16)}
}

func (l *loopbackTransport) Connect(ctx context.Context) error { return nil }
func (l *loopbackTransport) Publish(ctx context.Context, channel string, env envelope.Envelope) error {
	l.inbound <- transport.Inbound{Channel: channel, Envelope: env}
	return nil
}
func (l *loopbackTransport) Subscribe(ctx context.Context, channel string) (<-chan transport.Inbound, error) {
	return l.inbound, nil
}
func (l *loopbackTransport) Close() error         { return nil }
func (l *loopbackTransport) Kind() transport.Kind { return transport.KindUnixSocket }

func newTestCoordinator(t *testing.T, selfID string) (*Coordinator, *loopbackTransport) {
	t.Helper()
	reg := registry.New(selfID)
	lb := newLoopback()
	transports := map[transport.Kind]transport.Transport{transport.KindUnixSocket: lb}
	rt := router.New(reg, transports)
	c := New(Config{SelfID: selfID, Role: "worker", Registry: reg, Router: rt, Transports: transports})
	require.NoError(t, c.Start(context.Background()))
	return c, lb
}

func TestDelegateTaskBlockingResolvesOnCompletion(t *testing.T) {
	c, _ := newTestCoordinator(t, "captain")
	defer c.Stop()

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		tc := envelope.TaskCompletion{WorkerID: "worker-1", CaptainID: "captain", TaskID: "t1", Status: envelope.TaskSuccess}
		time.Sleep(20 * time.Millisecond)
		c.resolveTask(tc)
		close(done)
	}()

	tc, err := c.DelegateTask(ctx, "worker-1", "t1", "do thing", envelope.PriorityNormal, time.Second, nil, true)
	require.NoError(t, err)
	require.NotNil(t, tc)
	assert.Equal(t, envelope.TaskSuccess, tc.Status)
	<-done

	c.mu.Lock()
	_, stillPending := c.pendingTasks["t1"]
	c.mu.Unlock()
	assert.False(t, stillPending, "pending task slot must be removed once resolved")
}

func TestDelegateTaskBlockingTimesOut(t *testing.T) {
	c, _ := newTestCoordinator(t, "captain")
	defer c.Stop()

	_, err := c.DelegateTask(context.Background(), "worker-1", "t2", "do thing", envelope.PriorityNormal, 10*time.Millisecond, nil, true)
	require.Error(t, err)

	c.mu.Lock()
	_, stillPending := c.pendingTasks["t2"]
	c.mu.Unlock()
	assert.False(t, stillPending, "pending task slot must be removed on timeout")
}

func TestVotingResolvesOnMajority(t *testing.T) {
	c, _ := newTestCoordinator(t, "captain")
	defer c.Stop()

	p := envelope.VotingProposal{
		Subject:        "proceed?",
		VotingType:     envelope.VotingSingleChoice,
		EligibleVoters: []string{"a", "b", "c"},
	}

	resultCh := make(chan map[string]envelope.VoteChoice, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := c.CreateVotingProposal(context.Background(), p, time.Second)
		resultCh <- result
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	c.mu.Lock()
	var proposalID string
	for id := range c.pendingVotes {
		proposalID = id
	}
	c.mu.Unlock()
	require.NotEmpty(t, proposalID)

	c.recordVote(envelope.Vote{VoterID: "a", ProposalID: proposalID, Choice: envelope.VoteChoice{Kind: envelope.ChoiceSingle, Option: "yes"}})
	c.recordVote(envelope.Vote{VoterID: "b", ProposalID: proposalID, Choice: envelope.VoteChoice{Kind: envelope.ChoiceSingle, Option: "yes"}})

	require.NoError(t, <-errCh)
	result := <-resultCh
	assert.Len(t, result, 2)

	c.mu.Lock()
	_, stillPending := c.pendingVotes[proposalID]
	c.mu.Unlock()
	assert.False(t, stillPending)
}

func TestVetoResolvesImmediatelyOnVetoCapableProposal(t *testing.T) {
	c, _ := newTestCoordinator(t, "captain")
	defer c.Stop()

	p := envelope.VotingProposal{
		Subject:        "ship it?",
		VotingType:     envelope.VotingVetoCapable,
		EligibleVoters: []string{"a", "b", "c", "d", "e"},
	}

	resultCh := make(chan map[string]envelope.VoteChoice, 1)
	go func() {
		result, _ := c.CreateVotingProposal(context.Background(), p, time.Second)
		resultCh <- result
	}()

	time.Sleep(10 * time.Millisecond)
	c.mu.Lock()
	var proposalID string
	for id := range c.pendingVotes {
		proposalID = id
	}
	c.mu.Unlock()

	c.recordVote(envelope.Vote{VoterID: "a", ProposalID: proposalID, Choice: envelope.VoteChoice{Kind: envelope.ChoiceVeto}})

	result := <-resultCh
	assert.Len(t, result, 1)
	assert.True(t, result["a"].IsVeto())
}

func TestRequestCapabilityCollectsWithinWindow(t *testing.T) {
	c, _ := newTestCoordinator(t, "captain")
	defer c.Stop()

	resultCh := make(chan []envelope.CapabilityResponse, 1)
	go func() {
		result, _ := c.RequestCapability(context.Background(), []string{"rust"}, "need rust help", envelope.UrgencyNormal, 30*time.Millisecond)
		resultCh <- result
	}()

	time.Sleep(5 * time.Millisecond)

	var requestID string
	for k := range c.capabilityCache.Items() {
		requestID = k
	}
	require.NotEmpty(t, requestID)

	c.collectCapabilityResponse(envelope.CapabilityResponse{RequestID: requestID, RespondingAgent: "worker-1", Available: true})

	result := <-resultCh
	require.Len(t, result, 1)
	assert.Equal(t, "worker-1", result[0].RespondingAgent)
}

func TestDispatchIgnoresOpaqueEnvelopeKindWithoutHandler(t *testing.T) {
	c, lb := newTestCoordinator(t, "captain")
	defer c.Stop()

	env, err := envelope.New(envelope.KindEventNotification, "other", envelope.EventNotification{EventType: "x", Source: "other"})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		lb.inbound <- transport.Inbound{Channel: transport.ChannelEventsNotifications, Envelope: env}
		time.Sleep(10 * time.Millisecond)
	})
}
