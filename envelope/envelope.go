// Package envelope implements the canonical on-wire message record (C1):
// a self-describing tagged record carried inside every transport frame.
// Grounded on original_source/b00t-c0re-lib/src/agent_coordination.rs's
// CoordinationMessage enum (serde tag="msg_type", content="data"), adapted
// to Go's json.RawMessage for lazy, round-trip-safe payload decoding.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/b00t-dev/acs/acserr"
)

// Kind is the closed set of envelope payload kinds. Unknown kinds on the
// wire are a Validation error, never a silent drop (spec §3).
type Kind string

const (
	KindPresence           Kind = "presence"
	KindDirectMessage      Kind = "direct_message"
	KindTaskDelegation     Kind = "task_delegation"
	KindTaskCompletion     Kind = "task_completion"
	KindProgressUpdate     Kind = "progress_update"
	KindVotingProposal     Kind = "voting_proposal"
	KindVote               Kind = "vote"
	KindEventNotification  Kind = "event_notification"
	KindCapabilityRequest  Kind = "capability_request"
	KindCapabilityResponse Kind = "capability_response"
)

var knownKinds = map[Kind]struct{}{
	KindPresence: {}, KindDirectMessage: {}, KindTaskDelegation: {},
	KindTaskCompletion: {}, KindProgressUpdate: {}, KindVotingProposal: {},
	KindVote: {}, KindEventNotification: {}, KindCapabilityRequest: {},
	KindCapabilityResponse: {},
}

// Validate returns acserr.ErrUnknownKind wrapped as a Validation error if k
// is not one of the closed set above.
func (k Kind) Validate() error {
	if _, ok := knownKinds[k]; !ok {
		return acserr.New(acserr.Validation, "envelope.Kind.Validate", fmt.Errorf("%w: %q", acserr.ErrUnknownKind, k))
	}
	return nil
}

// UnmarshalJSON rejects a kind outside the closed set with the Validate
// error, so decoding an envelope off the wire fails on an unknown kind.
func (k *Kind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if err := Kind(s).Validate(); err != nil {
		return err
	}
	*k = Kind(s)
	return nil
}

// Envelope is the wire record described in spec §3: kind, sender,
// produced_at (unix seconds UTC), an optional correlation id, and an opaque
// payload. Payload is kept as json.RawMessage so unknown fields inside a
// recognized payload round-trip untouched even if this build doesn't know
// about them yet.
type Envelope struct {
	Kind          Kind            `json:"kind"`
	Sender        string          `json:"sender"`
	ProducedAt    int64           `json:"produced_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// New builds an envelope with the current unix timestamp, marshaling
// payload into the Payload field. It validates kind before marshaling.
func New(kind Kind, sender string, payload interface{}) (Envelope, error) {
	if err := kind.Validate(); err != nil {
		return Envelope{}, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, acserr.New(acserr.Validation, "envelope.New", err)
	}
	return Envelope{
		Kind:       kind,
		Sender:     sender,
		ProducedAt: time.Now().UTC().Unix(),
		Payload:    raw,
	}, nil
}

// WithCorrelationID returns a copy of e carrying the given correlation id.
func (e Envelope) WithCorrelationID(id string) Envelope {
	e.CorrelationID = id
	return e
}

// NewMessageID generates a fresh message/run/request identifier. The ACS
// core has no natural id allocator of its own (the teacher used natsclient
// RDIDs for this); every example repo that needs opaque unique ids reaches
// for google/uuid, so this module does too.
func NewMessageID() string { return uuid.NewString() }

// Decode unmarshals e's Payload into v, returning a Validation error on
// malformed JSON.
func (e Envelope) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return acserr.New(acserr.Validation, "envelope.Decode", err)
	}
	return nil
}

// --- Typed payloads (spec §4.1) ---

type AgentStatus string

const (
	StatusOnline  AgentStatus = "online"
	StatusBusy    AgentStatus = "busy"
	StatusOffline AgentStatus = "offline"
)

// AgentMetadata is the per-agent identity/presence record (spec §3).
type AgentMetadata struct {
	AgentID         string             `json:"agent_id"`
	Role            string             `json:"agent_role"`
	Capabilities    []string           `json:"capabilities"`
	Crew            string             `json:"crew,omitempty"`
	Status          AgentStatus        `json:"status"`
	LastSeen        int64              `json:"last_seen"`
	Load            float64            `json:"load"`
	Specializations map[string]float64 `json:"specializations,omitempty"`
}

type Presence struct {
	Metadata AgentMetadata `json:"metadata"`
}

type DirectMessage struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Subject     string `json:"subject"`
	Content     string `json:"content"`
	MessageID   string `json:"message_id"`
	ReplyTo     string `json:"reply_to,omitempty"`
	RequiresAck bool   `json:"requires_ack"`
}

type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityNormal   TaskPriority = "normal"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

type TaskDelegation struct {
	CaptainID            string       `json:"captain_id"`
	WorkerID             string       `json:"worker_id"`
	TaskID               string       `json:"task_id"`
	Description          string       `json:"description"`
	Priority             TaskPriority `json:"priority"`
	DeadlineUnix          int64        `json:"deadline,omitempty"`
	RequiredCapabilities []string     `json:"required_capabilities"`
	Blocking             bool         `json:"blocking"`
}

type TaskCompletionStatus string

const (
	TaskSuccess        TaskCompletionStatus = "success"
	TaskFailed         TaskCompletionStatus = "failed"
	TaskPartialSuccess TaskCompletionStatus = "partial_success"
	TaskCancelled      TaskCompletionStatus = "cancelled"
)

type TaskCompletion struct {
	WorkerID  string               `json:"worker_id"`
	CaptainID string               `json:"captain_id"`
	TaskID    string               `json:"task_id"`
	Status    TaskCompletionStatus `json:"status"`
	Message   string               `json:"message,omitempty"`
	Result    string               `json:"result,omitempty"`
	Artifacts []string             `json:"artifacts,omitempty"`
}

type ProgressUpdate struct {
	AgentID             string `json:"agent_id"`
	TaskID              string `json:"task_id"`
	Percent             int    `json:"percent"`
	StatusMessage       string `json:"status_message"`
	EstimatedCompletion int64  `json:"estimated_completion,omitempty"`
}

type VotingType string

const (
	VotingSingleChoice VotingType = "single_choice"
	VotingRankedChoice VotingType = "ranked_choice"
	VotingApproval     VotingType = "approval"
	VotingVetoCapable  VotingType = "veto_capable"
)

type VotingOption struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type VotingProposal struct {
	CaptainID      string         `json:"captain_id"`
	ProposalID     string         `json:"proposal_id"`
	Subject        string         `json:"subject"`
	Description    string         `json:"description"`
	Options        []VotingOption `json:"options"`
	VotingType     VotingType     `json:"voting_type"`
	DeadlineUnix   int64          `json:"deadline"`
	EligibleVoters []string       `json:"eligible_voters"`
}

// VoteChoiceKind tags the discriminated VoteChoice union, mirroring the
// original source's serde-tagged VoteChoice enum (Single/Ranked/Approval/Veto).
type VoteChoiceKind string

const (
	ChoiceSingle   VoteChoiceKind = "single"
	ChoiceRanked   VoteChoiceKind = "ranked"
	ChoiceApproval VoteChoiceKind = "approval"
	ChoiceVeto     VoteChoiceKind = "veto"
)

type VoteChoice struct {
	Kind        VoteChoiceKind `json:"kind"`
	Option      string         `json:"option,omitempty"`
	Options     []string       `json:"options,omitempty"`
	Alternative string         `json:"alternative,omitempty"`
}

func (c VoteChoice) IsVeto() bool { return c.Kind == ChoiceVeto }

type Vote struct {
	VoterID    string     `json:"voter_id"`
	ProposalID string     `json:"proposal_id"`
	Choice     VoteChoice `json:"choice"`
	Reasoning  string     `json:"reasoning,omitempty"`
}

type EventNotification struct {
	EventType      string          `json:"event_type"`
	Source         string          `json:"source"`
	Details        json.RawMessage `json:"details"`
	Timestamp      int64           `json:"timestamp"`
	AffectedAgents []string        `json:"affected_agents,omitempty"`
}

type RequestUrgency string

const (
	UrgencyLow       RequestUrgency = "low"
	UrgencyNormal    RequestUrgency = "normal"
	UrgencyHigh      RequestUrgency = "high"
	UrgencyEmergency RequestUrgency = "emergency"
)

type CapabilityRequest struct {
	RequestID            string         `json:"request_id"`
	RequestingAgent       string         `json:"requesting_agent"`
	RequiredCapabilities []string       `json:"required_capabilities"`
	Description          string         `json:"task_description"`
	Urgency              RequestUrgency `json:"urgency"`
}

type CapabilityResponse struct {
	RequestID            string             `json:"request_id"`
	RespondingAgent       string             `json:"responding_agent"`
	Available            bool               `json:"available"`
	EstimatedAvailability int64              `json:"estimated_availability,omitempty"`
	ProficiencyScores     map[string]float64 `json:"proficiency_scores,omitempty"`
}
