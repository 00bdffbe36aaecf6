// Package metrics defines the observation surface (C8) the rest of the
// module reports through. The Coordinator calls RecordMessageReceived for
// every inbound envelope it dispatches; the transport drivers take no
// Recorder and do not report connection, send, latency or operation
// observations. Grounded on the structured,
// leveled logging style used throughout
// original_source/b00t-c0re-lib/src/agent_coordination.rs (tracing::debug!
// with structured fields), translated here into zerolog field logging plus
// a small Recorder interface so a host can swap in a real metrics backend.
package metrics

import (
	"time"

	"github.com/rs/zerolog"
)

// Recorder is the observation sink; the Coordinator is its only caller in
// this module. Implementations must be safe for concurrent use.
type Recorder interface {
	RecordConnectionOpened(transportKind string)
	RecordConnectionClosed(transportKind string)
	RecordConnectionError(transportKind string, err error)

	RecordMessageSent(kind, channel string)
	RecordMessageReceived(kind, channel string)
	RecordMessageFailed(kind, channel string, err error)

	RecordSendLatency(transportKind string, d time.Duration)
	RecordRecvLatency(transportKind string, d time.Duration)

	RecordTransportOperation(transportKind, op string, d time.Duration, err error)
}

// NoopRecorder discards every observation. It is the default when a host
// does not supply a Recorder.
type NoopRecorder struct{}

func (NoopRecorder) RecordConnectionOpened(string)             {}
func (NoopRecorder) RecordConnectionClosed(string)              {}
func (NoopRecorder) RecordConnectionError(string, error)        {}
func (NoopRecorder) RecordMessageSent(string, string)           {}
func (NoopRecorder) RecordMessageReceived(string, string)       {}
func (NoopRecorder) RecordMessageFailed(string, string, error)  {}
func (NoopRecorder) RecordSendLatency(string, time.Duration)    {}
func (NoopRecorder) RecordRecvLatency(string, time.Duration)    {}
func (NoopRecorder) RecordTransportOperation(string, string, time.Duration, error) {}

// LogRecorder records every observation as a structured zerolog event. Useful
// as a default wired Recorder when no dedicated metrics backend is present.
type LogRecorder struct {
	Log zerolog.Logger
}

func (r LogRecorder) RecordConnectionOpened(transportKind string) {
	r.Log.Debug().Str("transport", transportKind).Msg("connection opened")
}

func (r LogRecorder) RecordConnectionClosed(transportKind string) {
	r.Log.Debug().Str("transport", transportKind).Msg("connection closed")
}

func (r LogRecorder) RecordConnectionError(transportKind string, err error) {
	r.Log.Warn().Str("transport", transportKind).Err(err).Msg("connection error")
}

func (r LogRecorder) RecordMessageSent(kind, channel string) {
	r.Log.Debug().Str("kind", kind).Str("channel", channel).Msg("message sent")
}

func (r LogRecorder) RecordMessageReceived(kind, channel string) {
	r.Log.Debug().Str("kind", kind).Str("channel", channel).Msg("message received")
}

func (r LogRecorder) RecordMessageFailed(kind, channel string, err error) {
	r.Log.Warn().Str("kind", kind).Str("channel", channel).Err(err).Msg("message failed")
}

func (r LogRecorder) RecordSendLatency(transportKind string, d time.Duration) {
	r.Log.Debug().Str("transport", transportKind).Dur("latency", d).Msg("send latency")
}

func (r LogRecorder) RecordRecvLatency(transportKind string, d time.Duration) {
	r.Log.Debug().Str("transport", transportKind).Dur("latency", d).Msg("recv latency")
}

func (r LogRecorder) RecordTransportOperation(transportKind, op string, d time.Duration, err error) {
	ev := r.Log.Debug()
	if err != nil {
		ev = r.Log.Warn().Err(err)
	}
	ev.Str("transport", transportKind).Str("op", op).Dur("duration", d).Msg("transport operation")
}
