package job

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/b00t-dev/acs/acserr"
)

// StepRunner executes one Task kind. Bash is built in (os/exec); Agent, Mcp,
// K0mmander, Dagu, and Datum tasks depend on host-specific subprocesses
// (commands/job.rs shells to `uv run b00t-langchain`, the running binary
// itself, etc.) that have no equivalent inside this module, so a host wires
// in a StepRunner per kind it wants to support. An unregistered kind fails
// the step rather than silently succeeding, unlike the original's
// execute_k0mmander/execute_dagu stubs which print a warning and return Ok.
type StepRunner interface {
	Run(ctx context.Context, task Task, env map[string]string, cwd string) error
}

// BashRunner runs Task.Command via `bash -c`, matching commands/job.rs's
// execute_bash (merged env, optional per-task timeout, output captured and
// only surfaced on failure).
type BashRunner struct{}

func (BashRunner) Run(ctx context.Context, task Task, env map[string]string, cwd string) error {
	workDir := task.Cwd
	if workDir == "" {
		workDir = cwd
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if task.TimeoutMs > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(task.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "bash", "-c", task.Command)
	cmd.Dir = workDir
	cmd.Env = mergedEnviron(env, task.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return acserr.New(acserr.External, "job.BashRunner.Run", fmt.Errorf("%w: command timed out after %dms", acserr.ErrStepTimedOut, task.TimeoutMs))
		}
		return acserr.New(acserr.External, "job.BashRunner.Run", fmt.Errorf("command failed: %w: %s", err, stderr.String()))
	}
	return nil
}

func mergedEnviron(base, override map[string]string) []string {
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

// Orchestrator runs a Config's steps through to completion, persisting
// State after every transition (commands/job.rs's run_job).
type Orchestrator struct {
	store         *Store
	checkpointer  *Checkpointer
	runners       map[TaskKind]StepRunner
	log           zerolog.Logger
}

func NewOrchestrator(store *Store, checkpointer *Checkpointer, runners map[TaskKind]StepRunner) *Orchestrator {
	if runners == nil {
		runners = map[TaskKind]StepRunner{}
	}
	if _, ok := runners[TaskBash]; !ok {
		runners[TaskBash] = BashRunner{}
	}
	return &Orchestrator{
		store:        store,
		checkpointer: checkpointer,
		runners:      runners,
		log:          log.With().Str("component", "job.Orchestrator").Logger(),
	}
}

// RunOptions parameterizes one Run call (commands/job.rs's run_job CLI flags).
type RunOptions struct {
	FromStep     string
	ToStep       string
	DryRun       bool
	NoCheckpoint bool
	Resume       bool
	ExtraEnv     map[string]string
}

// Run executes cfg's steps for jobName, honoring from/to-step filtering,
// resume-from-latest-state, continue-on-failure, and rollback-on-failure
// (spec §6.6; commands/job.rs's run_job). ctx cancellation stops the loop
// before the next step starts and marks the run Cancelled — the original's
// stop_job is a non-functional TODO ("Job stop not yet implemented"); this
// makes stop actually work by threading ctx through from the IPC layer.
func (o *Orchestrator) Run(ctx context.Context, jobName string, cfg *Config, opts RunOptions) (*State, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	order, err := cfg.ExecutionOrder()
	if err != nil {
		return nil, err
	}

	state := o.loadOrCreateState(jobName, cfg, order, opts.Resume)
	if !opts.DryRun {
		if err := o.store.Save(state); err != nil {
			return nil, err
		}
	}

	order, err = filterStepRange(order, opts.FromStep, opts.ToStep)
	if err != nil {
		return nil, err
	}

	env := make(map[string]string, len(cfg.Env)+len(opts.ExtraEnv))
	for k, v := range cfg.Env {
		env[k] = v
	}
	for k, v := range opts.ExtraEnv {
		env[k] = v
	}

	for _, stepName := range order {
		select {
		case <-ctx.Done():
			state.Status = StatusCancelled
			_ = o.store.Save(state)
			return state, ctx.Err()
		default:
		}

		step, ok := cfg.GetStep(stepName)
		if !ok {
			return state, acserr.New(acserr.Validation, "job.Orchestrator.Run", fmt.Errorf("%w: %s", acserr.ErrUnknownStep, stepName))
		}

		if opts.DryRun {
			continue
		}

		if opts.Resume {
			if existing, ok := state.Steps[stepName]; ok && existing.Status == StepCompleted {
				continue
			}
		}

		if !stepShouldRun(step) {
			state.SkipStep(stepName)
			_ = o.store.Save(state)
			continue
		}

		if err := o.runStepWithRetry(ctx, step, env, cfg.Exec.RetryFailedSteps, state); err != nil {
			state.Status = StatusFailed
			state.Error = err.Error()
			_ = o.store.Save(state)

			if cfg.Exec.ContinueOnFailure {
				continue
			}

			if cfg.Exec.RollbackOnFailure && len(cfg.Rollback) > 0 {
				o.runRollback(ctx, jobName, cfg, env, state)
			}
			return state, err
		}

		if !opts.NoCheckpoint && cfg.Exec.CheckpointMode != CheckpointOff && o.checkpointer != nil {
			if cfg.Exec.CheckpointAfterEach || step.Checkpoint != "" {
				name := step.Checkpoint
				if name == "" {
					name = stepName + "-complete"
				}
				cp, err := o.checkpointer.Create(jobName, stepName, name, cfg.Exec.CreateGitTag)
				if err != nil {
					o.log.Warn().Err(err).Str("step", stepName).Msg("checkpoint failed")
				} else {
					state.AddCheckpoint(cp)
					_ = o.store.Save(state)
				}
			}
		}
	}

	state.Complete()
	_ = o.store.Save(state)
	return state, nil
}

func (o *Orchestrator) loadOrCreateState(jobName string, cfg *Config, order []string, resume bool) *State {
	if resume {
		if existing, err := o.store.LoadLatest(jobName); err == nil {
			return existing
		}
	}
	return NewState(jobName, string(cfg.Exec.Mode), len(order))
}

func (o *Orchestrator) runStepWithRetry(ctx context.Context, step *Step, env map[string]string, maxRetries int, state *State) error {
	state.StartStep(step.Name)
	_ = o.store.Save(state)

	runner, ok := o.runners[step.Task.Kind]
	if !ok {
		err := fmt.Errorf("no runner registered for task kind %q", step.Task.Kind)
		state.FailStep(step.Name, err)
		return acserr.New(acserr.Validation, "job.Orchestrator.runStepWithRetry", err)
	}

	attempt := 0
	var lastErr error
	for {
		lastErr = runner.Run(ctx, step.Task, env, "")
		if lastErr == nil {
			state.CompleteStep(step.Name)
			return nil
		}
		if attempt >= maxRetries {
			state.FailStep(step.Name, lastErr)
			return lastErr
		}
		attempt++
		state.IncrementRetry(step.Name)
		_ = o.store.Save(state)
	}
}

func (o *Orchestrator) runRollback(ctx context.Context, jobName string, cfg *Config, env map[string]string, state *State) {
	state.Status = StatusRollingBack
	_ = o.store.Save(state)

	for _, step := range cfg.Rollback {
		if err := o.runStepWithRetry(ctx, &step, env, 0, state); err != nil {
			o.log.Warn().Err(err).Str("step", step.Name).Msg("rollback step failed")
		}
	}

	state.Status = StatusRolledBack
	_ = o.store.Save(state)
}

func filterStepRange(order []string, fromStep, toStep string) ([]string, error) {
	if fromStep != "" {
		idx := indexOf(order, fromStep)
		if idx < 0 {
			return nil, acserr.New(acserr.Validation, "job.filterStepRange", fmt.Errorf("%w: %s", acserr.ErrUnknownStep, fromStep))
		}
		order = order[idx:]
	}
	if toStep != "" {
		idx := indexOf(order, toStep)
		if idx < 0 {
			return nil, acserr.New(acserr.Validation, "job.filterStepRange", fmt.Errorf("%w: %s", acserr.ErrUnknownStep, toStep))
		}
		order = order[:idx+1]
	}
	return order, nil
}

func indexOf(haystack []string, needle string) int {
	for i, v := range haystack {
		if v == needle {
			return i
		}
	}
	return -1
}

// stepShouldRun evaluates step.Condition.When. "always" (the default) and
// an empty condition both run; "never" always skips. "on_success"/
// "on_failure" depend on prior-step outcome tracking this module doesn't
// carry per-step, so they currently behave like "always" — a host wanting
// that nuance should filter steps before calling Run instead.
func stepShouldRun(step *Step) bool {
	if step.Condition == nil {
		return true
	}
	return !strings.EqualFold(step.Condition.When, "never")
}
