package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b00t-dev/acs/acserr"
	"github.com/b00t-dev/acs/envelope"
	"github.com/b00t-dev/acs/registry"
	"github.com/b00t-dev/acs/transport"
)

// fakeTransport is a minimal transport.Transport double for router tests.
type fakeTransport struct {
	kind      transport.Kind
	failPub   bool
	published []string
}

func (f *fakeTransport) Connect(ctx context.Context) error { return nil }
func (f *fakeTransport) Publish(ctx context.Context, channel string, env envelope.Envelope) error {
	if f.failPub {
		return errors.New("boom")
	}
	f.published = append(f.published, channel)
	return nil
}
func (f *fakeTransport) Subscribe(ctx context.Context, channel string) (<-chan transport.Inbound, error) {
	return make(chan transport.Inbound), nil
}
func (f *fakeTransport) Close() error        { return nil }
func (f *fakeTransport) Kind() transport.Kind { return f.kind }

func testEnvelope(t *testing.T) envelope.Envelope {
	t.Helper()
	env, err := envelope.New(envelope.KindDirectMessage, "captain", envelope.DirectMessage{From: "captain", To: "worker-1"})
	require.NoError(t, err)
	return env
}

func TestRouteToAgentFallsBackToRedis(t *testing.T) {
	reg := registry.New("captain")
	unix := &fakeTransport{kind: transport.KindUnixSocket, failPub: true}
	redis := &fakeTransport{kind: transport.KindRedis}

	r := New(reg, map[transport.Kind]transport.Transport{
		transport.KindUnixSocket: unix,
		transport.KindRedis:      redis,
	})

	err := r.Route(context.Background(), testEnvelope(t), Agent("worker-1"))
	require.NoError(t, err)
	assert.Len(t, redis.published, 1)
}

func TestRouteToAgentUnreachableWhenAllFail(t *testing.T) {
	reg := registry.New("captain")
	r := New(reg, map[transport.Kind]transport.Transport{
		transport.KindUnixSocket: &fakeTransport{kind: transport.KindUnixSocket, failPub: true},
	})

	err := r.Route(context.Background(), testEnvelope(t), Agent("worker-1"))
	require.Error(t, err)
	assert.True(t, acserr.Is(err, acserr.Routing))
}

func TestRouteBroadcastSkipsMissingTransportsWithoutError(t *testing.T) {
	reg := registry.New("captain")
	r := New(reg, map[transport.Kind]transport.Transport{})

	err := r.Route(context.Background(), testEnvelope(t), Broadcast())
	assert.NoError(t, err)
}
