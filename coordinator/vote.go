package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/b00t-dev/acs/acserr"
	"github.com/b00t-dev/acs/envelope"
	"github.com/b00t-dev/acs/router"
)

// voteAggregator tracks ballots for one in-flight VotingProposal. The
// original (agent_coordination.rs) only ever logs arriving votes and never
// resolves pending_votes; this fills that gap with simple-majority
// resolution, or immediate resolution on any Veto when the proposal is
// VetoCapable (spec §6.5 gap list / SPEC_FULL.md §6.5).
type voteAggregator struct {
	proposal envelope.VotingProposal
	ballots  map[string]envelope.Vote // voter_id -> vote
	done     chan map[string]envelope.VoteChoice
	closed   bool
}

func newVoteAggregator(p envelope.VotingProposal) *voteAggregator {
	return &voteAggregator{
		proposal: p,
		ballots:  make(map[string]envelope.Vote),
		done:     make(chan map[string]envelope.VoteChoice, 1),
	}
}

// quorumMet reports whether enough eligible voters have cast a ballot to
// resolve the proposal: strictly more than half of the eligible voter set,
// or any Veto at all when the proposal is VetoCapable.
func (va *voteAggregator) quorumMet() bool {
	if va.proposal.VotingType == envelope.VotingVetoCapable {
		for _, v := range va.ballots {
			if v.Choice.IsVeto() {
				return true
			}
		}
	}

	eligible := len(va.proposal.EligibleVoters)
	if eligible == 0 {
		// No explicit roster: resolve once at least one ballot exists and no
		// more votes are outstanding from a known set (degenerate case).
		return len(va.ballots) > 0
	}
	cast := 0
	for _, voter := range va.proposal.EligibleVoters {
		if _, ok := va.ballots[voter]; ok {
			cast++
		}
	}
	return cast*2 > eligible
}

func (va *voteAggregator) resultSnapshot() map[string]envelope.VoteChoice {
	out := make(map[string]envelope.VoteChoice, len(va.ballots))
	for voter, v := range va.ballots {
		out[voter] = v.Choice
	}
	return out
}

// CreateVotingProposal broadcasts a VotingProposal and blocks until quorum
// resolves or deadline elapses (spec §4.5 item 4, create_voting_proposal).
// On timeout the partial tally collected so far is returned alongside
// acserr.ErrVoteTimedOut, since a partial tally is still meaningful to a
// caller deciding how to proceed.
func (c *Coordinator) CreateVotingProposal(ctx context.Context, p envelope.VotingProposal, deadline time.Duration) (map[string]envelope.VoteChoice, error) {
	if p.ProposalID == "" {
		p.ProposalID = envelope.NewMessageID()
	}
	p.CaptainID = c.selfID

	va := newVoteAggregator(p)
	c.mu.Lock()
	c.pendingVotes[p.ProposalID] = va
	c.mu.Unlock()

	env, err := envelope.New(envelope.KindVotingProposal, c.selfID, p)
	if err != nil {
		c.removePendingVote(p.ProposalID)
		return nil, err
	}
	if err := c.rt.Route(ctx, env, router.Broadcast()); err != nil {
		c.removePendingVote(p.ProposalID)
		return nil, err
	}

	timeout := deadline
	if timeout <= 0 {
		timeout = defaultDelegationTimeout
	}

	select {
	case result := <-va.done:
		return result, nil
	case <-time.After(timeout):
		c.mu.Lock()
		partial := va.resultSnapshot()
		delete(c.pendingVotes, p.ProposalID)
		c.mu.Unlock()
		return partial, acserr.New(acserr.Coordination, "coordinator.CreateVotingProposal", fmt.Errorf("%w: proposal %s", acserr.ErrVoteTimedOut, p.ProposalID))
	case <-ctx.Done():
		c.removePendingVote(p.ProposalID)
		return nil, ctx.Err()
	}
}

func (c *Coordinator) removePendingVote(proposalID string) {
	c.mu.Lock()
	delete(c.pendingVotes, proposalID)
	c.mu.Unlock()
}

// SubmitVote broadcasts a Vote (spec §4.5 item 4, submit_vote). It goes
// through router.Broadcast, which delivers it to each discovered agent's
// inbox; nothing is published on the b00t:votes:collection channel itself.
func (c *Coordinator) SubmitVote(ctx context.Context, proposalID string, choice envelope.VoteChoice, reasoning string) error {
	v := envelope.Vote{VoterID: c.selfID, ProposalID: proposalID, Choice: choice, Reasoning: reasoning}
	env, err := envelope.New(envelope.KindVote, c.selfID, v)
	if err != nil {
		return err
	}
	return c.rt.Route(ctx, env, router.Broadcast())
}

// recordVote folds an arriving ballot into its proposal's aggregator and
// resolves it once quorum (or a veto) is reached. Ballots for unknown or
// already-resolved proposals are dropped silently: the proposal may have
// been created by a different agent, or already timed out locally.
func (c *Coordinator) recordVote(v envelope.Vote) {
	c.mu.Lock()
	va, ok := c.pendingVotes[v.ProposalID]
	if !ok {
		c.mu.Unlock()
		return
	}
	va.ballots[v.VoterID] = v
	resolved := va.quorumMet()
	var result map[string]envelope.VoteChoice
	if resolved {
		result = va.resultSnapshot()
		delete(c.pendingVotes, v.ProposalID)
	}
	c.mu.Unlock()

	if resolved {
		select {
		case va.done <- result:
		default:
		}
	}
}
