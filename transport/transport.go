// Package transport implements the polymorphic pub/sub abstraction (C2):
// one publish/subscribe contract, four concrete drivers (Unix socket,
// Redis, NATS, MQTT). Grounded on original_source/b00t-ipc/src/transport.rs's
// Transport trait and its Redis/NATS driver implementations, adapted from
// tokio mpsc channels to Go channels and from async_trait to a plain
// interface. The NATS wiring also draws on the teacher's own engine.go,
// which already dials nats.go connections for the delegation bus.
package transport

import (
	"context"
	"fmt"

	"github.com/b00t-dev/acs/acserr"
	"github.com/b00t-dev/acs/envelope"
)

// Kind enumerates the closed set of concrete drivers. Per spec §9's design
// note ("prefer a small enum wrapping the concrete drivers over trait
// objects"), Router and Coordinator hold values of this enum rather than a
// public plugin registry; Transport itself stays an interface so call sites
// can accept it uniformly.
type Kind string

const (
	KindUnixSocket Kind = "unix_socket"
	KindRedis      Kind = "redis"
	KindNATS       Kind = "nats"
	KindMQTT       Kind = "mqtt"
)

// FallbackOrder is the mandatory chain the Router walks on publish failure
// (spec §4.4): UnixSocket -> Redis -> NATS -> MQTT, skipping unavailable
// drivers.
var FallbackOrder = []Kind{KindUnixSocket, KindRedis, KindNATS, KindMQTT}

// Inbound is one received envelope tagged with the channel it arrived on.
type Inbound struct {
	Channel  string
	Envelope envelope.Envelope
}

// Transport is the four-operation contract every driver satisfies (spec §4.2).
type Transport interface {
	// Connect establishes (or confirms) the backend connection. Connect must
	// be idempotent: calling it again on an already-connected driver is a
	// cheap no-op returning nil.
	Connect(ctx context.Context) error

	// Publish is best-effort; there are no delivery receipts.
	Publish(ctx context.Context, channel string, env envelope.Envelope) error

	// Subscribe returns a single-consumer channel of inbound envelopes. The
	// channel is closed when the subscription is torn down by Close or by
	// unrecoverable transport loss.
	Subscribe(ctx context.Context, channel string) (<-chan Inbound, error)

	// Close releases all resources and closes every subscription channel.
	Close() error

	// Kind identifies which concrete driver this is, for fallback ordering
	// and metrics labeling.
	Kind() Kind
}

// ChannelNames is the stable naming convention from spec §4.2. MUST be
// preserved bit-exact across transports for interop.
const (
	ChannelAgentsPresence      = "b00t:agents:presence"
	ChannelVotesCollection     = "b00t:votes:collection"
	ChannelProgressUpdates     = "b00t:progress:updates"
	ChannelEventsNotifications = "b00t:events:notifications"
	ChannelCapabilityRequests  = "b00t:capabilities:requests"
	ChannelJob                 = "b00t:job"
	ChannelJobStatus           = "b00t:job:status"
)

// AgentInbox returns the per-agent unicast channel name b00t:agent:<id>.
func AgentInbox(agentID string) string {
	return fmt.Sprintf("b00t:agent:%s", agentID)
}

// natsSubject converts a colon-delimited b00t channel into the dotted NATS
// subject spec §4.2 requires ("b00t.agents.<channel>.<sender>").
func natsSubject(channel, sender string) string {
	dotted := dotsForColons(channel)
	if sender == "" {
		return dotted
	}
	return fmt.Sprintf("%s.%s", dotted, sender)
}

// mqttTopic converts a colon-delimited b00t channel into the slash-delimited
// MQTT topic spec §4.2 requires ("b00t/agents/<channel>/<sender>"), matching
// mqtt_transport.rs's message_to_topic scheme.
func mqttTopic(channel, sender string) string {
	slashed := slashesForColons(channel)
	if sender == "" {
		return slashed
	}
	return fmt.Sprintf("%s/%s", slashed, sender)
}

func dotsForColons(s string) string  { return replaceAll(s, ':', '.') }
func slashesForColons(s string) string { return replaceAll(s, ':', '/') }

func replaceAll(s string, from, to byte) string {
	b := []byte(s)
	for i, c := range b {
		if c == from {
			b[i] = to
		}
	}
	return string(b)
}

// Unavailable wraps an underlying connection error as a Transport-kind
// acserr.Error so the Router can distinguish "this driver isn't usable right
// now" from other failure kinds when walking the fallback chain.
func Unavailable(kind Kind, op string, err error) error {
	return acserr.New(acserr.Transport, op, fmt.Errorf("%s transport unavailable: %w", kind, err))
}
