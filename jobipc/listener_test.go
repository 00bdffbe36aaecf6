package jobipc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b00t-dev/acs/envelope"
	"github.com/b00t-dev/acs/job"
	"github.com/b00t-dev/acs/transport"
)

// loopback routes Publish/Subscribe per channel name, so a command sent on
// b00t:job and a reply sent on b00t:job:status don't contend for the same
// queue.
type loopback struct {
	channels map[string]chan transport.Inbound
}

func newLoopback() *loopback { return &loopback{channels: make(map[string]chan transport.Inbound)} }

func (l *loopback) chanFor(channel string) chan transport.Inbound {
	ch, ok := l.channels[channel]
	if !ok {
		ch = make(chan transport.Inbound, 16)
		l.channels[channel] = ch
	}
	return ch
}

func (l *loopback) Connect(ctx context.Context) error { return nil }
func (l *loopback) Publish(ctx context.Context, channel string, env envelope.Envelope) error {
	l.chanFor(channel) <- transport.Inbound{Channel: channel, Envelope: env}
	return nil
}
func (l *loopback) Subscribe(ctx context.Context, channel string) (<-chan transport.Inbound, error) {
	return l.chanFor(channel), nil
}
func (l *loopback) Close() error         { return nil }
func (l *loopback) Kind() transport.Kind { return transport.KindUnixSocket }

type staticLoader struct{ cfg *job.Config }

func (s staticLoader) Load(jobName string) (*job.Config, error) { return s.cfg, nil }

type noopRunner struct{}

func (noopRunner) Run(ctx context.Context, task job.Task, env map[string]string, cwd string) error {
	return nil
}

func TestListenerHandlesRunAndPublishesStatus(t *testing.T) {
	dir := t.TempDir()
	store := job.NewStore(dir)
	orch := job.NewOrchestrator(store, nil, map[job.TaskKind]job.StepRunner{job.TaskBash: noopRunner{}})

	cfg := &job.Config{
		Exec:  job.ExecutionConfig{Mode: job.ModeSequential, CheckpointMode: job.CheckpointOff},
		Steps: []job.Step{{Name: "only", Task: job.Task{Kind: job.TaskBash, Command: "true"}}},
	}

	lb := newLoopback()
	listener := New(lb, store, orch, staticLoader{cfg: cfg}, "captain")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, listener.Start(ctx))

	runEnv, err := envelope.New(envelope.KindEventNotification, "caller", Command{Verb: "run", JobName: "demo"})
	require.NoError(t, err)
	require.NoError(t, lb.Publish(ctx, transport.ChannelJob, runEnv))

	statusCh := lb.chanFor(transport.ChannelJobStatus)

	decodeReply := func() JobStatusEnvelope {
		select {
		case reply := <-statusCh:
			var en envelope.EventNotification
			require.NoError(t, reply.Envelope.Decode(&en))
			assert.Equal(t, "job_status", en.EventType)
			var js JobStatusEnvelope
			require.NoError(t, json.Unmarshal(en.Details, &js))
			return js
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for job status reply")
			return JobStatusEnvelope{}
		}
	}

	started := decodeReply()
	assert.Equal(t, StatusStarted, started.Status)
	assert.Equal(t, "demo", started.JobName)

	completed := decodeReply()
	assert.Equal(t, StatusCompleted, completed.Status)
	assert.Equal(t, "demo", completed.JobName)
}

func TestListenerStopCancelsRunningJob(t *testing.T) {
	dir := t.TempDir()
	store := job.NewStore(dir)
	orch := job.NewOrchestrator(store, nil, map[job.TaskKind]job.StepRunner{job.TaskBash: noopRunner{}})
	lb := newLoopback()
	listener := New(lb, store, orch, staticLoader{}, "captain")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	listener.mu.Lock()
	listener.running["demo"] = func() { close(done) }
	listener.mu.Unlock()

	listener.handleStop(ctx, Command{JobName: "demo"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop did not cancel the running job")
	}
}
