// Package jobipc implements the Job IPC Adapter (C7): a verb-dispatching
// listener bridging the job orchestrator to the transport layer so a remote
// caller can run/status/stop/plan/list jobs without a local CLI process.
// Grounded on original_source/b00t-cli/src/job_ipc.rs's JobIpcListener.
package jobipc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/b00t-dev/acs/acserr"
	"github.com/b00t-dev/acs/envelope"
	"github.com/b00t-dev/acs/job"
	"github.com/b00t-dev/acs/transport"
)

// Status values published on b00t:job:status, the closed vocabulary spec
// §4.7 defines — job_ipc.rs's publish_status uses these six strings as its
// "status" param, plus a "stopped" value this package does not publish (see
// handleStop).
const (
	StatusStarted      = "started"
	StatusCompleted    = "completed"
	StatusError        = "error"
	StatusResponse     = "status_response"
	StatusPlanResponse = "plan_response"
	StatusListResponse = "list_response"
)

// JobStatusEnvelope is the {status, job_name, content} wire shape spec
// §4.7 requires for every b00t:job:status reply, carried as the nested
// payload of an EventNotification (job_ipc.rs's publish_status params,
// generalized from k0mmand3r's flat string-param map to a typed struct).
type JobStatusEnvelope struct {
	Status  string          `json:"status"`
	JobName string          `json:"job_name"`
	Content json.RawMessage `json:"content"`
}

// Command is the inbound IPC request shape (job_ipc.rs's handle_command
// verb dispatch: run/status/stop/plan/list).
type Command struct {
	Verb     string            `json:"verb"`
	JobName  string            `json:"job_name"`
	RunID    string            `json:"run_id,omitempty"`
	FromStep string            `json:"from_step,omitempty"`
	ToStep   string            `json:"to_step,omitempty"`
	DryRun   bool              `json:"dry_run,omitempty"`
	Resume   bool              `json:"resume,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
}

// JobLoader resolves a job name to its parsed Config (host-supplied: where
// job definitions live is outside this module's scope).
type JobLoader interface {
	Load(jobName string) (*job.Config, error)
}

// Listener subscribes to the job command channel, dispatches verbs, and
// publishes JSON status/error replies on the job status channel
// (job_ipc.rs's JobIpcListener).
type Listener struct {
	transport transport.Transport
	store     *job.Store
	orch      *job.Orchestrator
	loader    JobLoader
	selfID    string

	mu      sync.Mutex
	running map[string]context.CancelFunc // job_name -> cancel for an in-flight run

	log zerolog.Logger
}

func New(tr transport.Transport, store *job.Store, orch *job.Orchestrator, loader JobLoader, selfID string) *Listener {
	return &Listener{
		transport: tr,
		store:     store,
		orch:      orch,
		loader:    loader,
		selfID:    selfID,
		running:   make(map[string]context.CancelFunc),
		log:       log.With().Str("component", "jobipc.Listener").Logger(),
	}
}

// Start subscribes to b00t:job and dispatches inbound commands until ctx is
// canceled.
func (l *Listener) Start(ctx context.Context) error {
	inbound, err := l.transport.Subscribe(ctx, transport.ChannelJob)
	if err != nil {
		return acserr.New(acserr.Transport, "jobipc.Listener.Start", err)
	}

	go func() {
		for {
			select {
			case msg, ok := <-inbound:
				if !ok {
					return
				}
				l.handle(ctx, msg.Envelope)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (l *Listener) handle(ctx context.Context, env envelope.Envelope) {
	var cmd Command
	if err := env.Decode(&cmd); err != nil {
		l.log.Debug().Err(err).Msg("malformed job command")
		return
	}

	switch cmd.Verb {
	case "run":
		go l.handleRun(ctx, cmd)
	case "status":
		l.handleStatus(ctx, cmd)
	case "stop":
		l.handleStop(ctx, cmd)
	case "plan":
		l.handlePlan(ctx, cmd)
	case "list":
		l.handleList(ctx)
	default:
		l.publishError(ctx, cmd.JobName, fmt.Errorf("unknown verb %q", cmd.Verb))
	}
}

func (l *Listener) handleRun(ctx context.Context, cmd Command) {
	cfg, err := l.loader.Load(cmd.JobName)
	if err != nil {
		l.publishError(ctx, cmd.JobName, err)
		return
	}

	// job_ipc.rs's handle_run publishes a "started" status before calling
	// run_job_internal; this mirrors that so a caller sees the run begin
	// rather than only learning about it once it finishes.
	l.publishJSON(ctx, StatusStarted, cmd.JobName, fmt.Sprintf("starting job: %s", cmd.JobName))

	runCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.running[cmd.JobName] = cancel
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.running, cmd.JobName)
		l.mu.Unlock()
		cancel()
	}()

	state, err := l.orch.Run(runCtx, cmd.JobName, cfg, job.RunOptions{
		FromStep: cmd.FromStep, ToStep: cmd.ToStep, DryRun: cmd.DryRun,
		Resume: cmd.Resume, ExtraEnv: cmd.Env,
	})
	if err != nil {
		l.publishError(ctx, cmd.JobName, err)
		return
	}
	l.publishJSON(ctx, StatusCompleted, cmd.JobName, state)
}

func (l *Listener) handleStatus(ctx context.Context, cmd Command) {
	var (
		state *job.State
		err   error
	)
	if cmd.RunID != "" {
		state, err = l.store.Load(cmd.JobName, cmd.RunID)
	} else {
		state, err = l.store.LoadLatest(cmd.JobName)
	}
	if err != nil {
		l.publishError(ctx, cmd.JobName, err)
		return
	}
	l.publishJSON(ctx, StatusResponse, cmd.JobName, state)
}

// handleStop cancels an in-flight run's context, so the orchestrator loop
// observes ctx.Done() before its next step and marks the run Cancelled.
// job_ipc.rs's stop_job_internal is a non-functional TODO that only prints
// a warning; this makes stop actually interrupt the run.
func (l *Listener) handleStop(ctx context.Context, cmd Command) {
	l.mu.Lock()
	cancel, ok := l.running[cmd.JobName]
	l.mu.Unlock()

	if !ok {
		l.publishError(ctx, cmd.JobName, fmt.Errorf("job %q is not running", cmd.JobName))
		return
	}
	cancel()

	// spec §4.7's status vocabulary has no separate "stopped" state (unlike
	// job_ipc.rs's own publish_status call here); the stop request itself
	// completed, so it's reported as "completed" rather than inventing a
	// seventh status outside the closed set.
	l.publishJSON(ctx, StatusCompleted, cmd.JobName, fmt.Sprintf("job %s stop requested", cmd.JobName))
}

func (l *Listener) handlePlan(ctx context.Context, cmd Command) {
	cfg, err := l.loader.Load(cmd.JobName)
	if err != nil {
		l.publishError(ctx, cmd.JobName, err)
		return
	}
	if err := cfg.Validate(); err != nil {
		l.publishError(ctx, cmd.JobName, err)
		return
	}
	order, err := cfg.ExecutionOrder()
	if err != nil {
		l.publishError(ctx, cmd.JobName, err)
		return
	}

	plan := struct {
		Name           string   `json:"name"`
		Description    string   `json:"description"`
		Mode           string   `json:"mode"`
		ExecutionOrder []string `json:"execution_order"`
	}{Name: cmd.JobName, Description: cfg.Description, Mode: string(cfg.Exec.Mode), ExecutionOrder: order}

	l.publishJSON(ctx, StatusPlanResponse, cmd.JobName, plan)
}

func (l *Listener) handleList(ctx context.Context) {
	states, err := l.store.ListAll()
	if err != nil {
		l.publishError(ctx, "", err)
		return
	}
	l.publishJSON(ctx, StatusListResponse, "", states)
}

// publishJSON wraps v as the content of a JobStatusEnvelope{status, job_name,
// content} and publishes it on b00t:job:status, nested inside an
// EventNotification's Details field. Every call site passes one of the
// spec §4.7 status constants, so the published vocabulary stays closed.
func (l *Listener) publishJSON(ctx context.Context, status, jobName string, v interface{}) {
	content, err := json.Marshal(v)
	if err != nil {
		l.log.Debug().Err(err).Msg("failed to marshal job ipc reply")
		return
	}
	reply := JobStatusEnvelope{Status: status, JobName: jobName, Content: content}
	raw, err := json.Marshal(reply)
	if err != nil {
		l.log.Debug().Err(err).Msg("failed to marshal job ipc status envelope")
		return
	}
	env, err := envelope.New(envelope.KindEventNotification, l.selfID, envelope.EventNotification{
		EventType: "job_status", Source: l.selfID, Details: raw,
	})
	if err != nil {
		return
	}
	if err := l.transport.Publish(ctx, transport.ChannelJobStatus, env); err != nil {
		l.log.Debug().Err(err).Str("job", jobName).Msg("failed to publish job status")
	}
}

func (l *Listener) publishError(ctx context.Context, jobName string, cause error) {
	l.publishJSON(ctx, StatusError, jobName, cause.Error())
}
