package job

import (
	"fmt"

	"github.com/b00t-dev/acs/acserr"
)

// ExecutionMode selects how Steps are ordered (datum_job.rs's
// JobExecutionConfig.mode).
type ExecutionMode string

const (
	ModeSequential ExecutionMode = "sequential"
	ModeParallel   ExecutionMode = "parallel"
	ModeDAG        ExecutionMode = "dag"
)

// CheckpointMode controls when a checkpoint commit is taken.
type CheckpointMode string

const (
	CheckpointAuto   CheckpointMode = "auto"
	CheckpointManual CheckpointMode = "manual"
	CheckpointOff    CheckpointMode = "off"
)

// ExecutionConfig mirrors datum_job.rs's JobExecutionConfig.
type ExecutionConfig struct {
	Mode                  ExecutionMode  `json:"mode"`
	CheckpointMode        CheckpointMode `json:"checkpoint_mode"`
	CheckpointAfterEach   bool           `json:"checkpoint_after_each_step"`
	CreateGitTag          bool           `json:"create_git_tag"`
	UseSubagents          bool           `json:"use_subagents"`
	SubagentTimeoutMs     int            `json:"subagent_timeout_ms"`
	SubagentType          string         `json:"subagent_type,omitempty"`
	ContinueOnFailure     bool           `json:"continue_on_failure"`
	RetryFailedSteps      int            `json:"retry_failed_steps"`
	RollbackOnFailure     bool           `json:"rollback_on_failure"`
}

// DefaultExecutionConfig mirrors the #[serde(default)] values in
// datum_job.rs's JobExecutionConfig.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		Mode:              ModeSequential,
		CheckpointMode:    CheckpointAuto,
		SubagentTimeoutMs: 300000,
	}
}

// TaskKind tags JobTask's discriminated union (datum_job.rs's JobTask enum,
// serde tag="type").
type TaskKind string

const (
	TaskBash      TaskKind = "bash"
	TaskAgent     TaskKind = "agent"
	TaskK0mmander TaskKind = "k0mmander"
	TaskDatum     TaskKind = "datum"
	TaskMcp       TaskKind = "mcp"
	TaskDagu      TaskKind = "dagu"
)

// Task is a step's unit of work. Only the fields relevant to Kind are
// populated; the rest are left zero, matching the tagged-union shape of the
// original's enum.
type Task struct {
	Kind TaskKind `json:"type"`

	// Bash
	Command string            `json:"command,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	TimeoutMs int             `json:"timeout_ms,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// Agent
	AgentType     string   `json:"agent_type,omitempty"`
	Prompt        string   `json:"prompt,omitempty"`
	ContextFiles  []string `json:"context_files,omitempty"`

	// K0mmander
	Script string `json:"script,omitempty"`

	// Datum
	Datum string   `json:"datum,omitempty"`
	Args  []string `json:"args,omitempty"`

	// Mcp
	Server string                 `json:"server,omitempty"`
	Tool   string                 `json:"tool,omitempty"`
	Params map[string]interface{} `json:"params,omitempty"`

	// Dagu
	Dag string `json:"dag,omitempty"`
}

// Condition gates whether a step runs (datum_job.rs's JobCondition).
type Condition struct {
	When   string `json:"when"`
	Script string `json:"script,omitempty"`
}

// Artifacts names files a step produces that should be archived.
type Artifacts struct {
	Paths   []string `json:"paths"`
	Archive string   `json:"archive,omitempty"`
}

// Step is one unit of a job's execution graph (datum_job.rs's JobStep).
type Step struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Checkpoint  string     `json:"checkpoint,omitempty"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	Task        Task       `json:"task"`
	Condition   *Condition `json:"condition,omitempty"`
	Artifacts   *Artifacts `json:"artifacts,omitempty"`
}

// Outputs records where a run's artifacts/reports/logs end up.
type Outputs struct {
	Artifacts []string `json:"artifacts,omitempty"`
	Reports   []string `json:"reports,omitempty"`
	Logs      []string `json:"logs,omitempty"`
}

// Config is a declarative job definition (datum_job.rs's JobConfig).
type Config struct {
	Description string            `json:"description,omitempty"`
	Author      string            `json:"author,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Exec        ExecutionConfig   `json:"config"`
	Steps       []Step            `json:"steps"`
	Rollback    []Step            `json:"rollback,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Outputs     Outputs           `json:"outputs,omitempty"`
}

// Validate checks the closed enums and, for DAG mode, that every depends_on
// name refers to a real step (datum_job.rs's JobDatum::validate).
func (c *Config) Validate() error {
	switch c.Exec.Mode {
	case ModeSequential, ModeParallel, ModeDAG:
	default:
		return acserr.New(acserr.Validation, "job.Config.Validate", fmt.Errorf("%w: mode %q", acserr.ErrInvalidExecMode, c.Exec.Mode))
	}
	switch c.Exec.CheckpointMode {
	case CheckpointAuto, CheckpointManual, CheckpointOff:
	default:
		return acserr.New(acserr.Validation, "job.Config.Validate", fmt.Errorf("invalid checkpoint_mode %q", c.Exec.CheckpointMode))
	}

	names := make(map[string]struct{}, len(c.Steps))
	for _, s := range c.Steps {
		names[s.Name] = struct{}{}
	}
	if c.Exec.Mode == ModeDAG {
		for _, s := range c.Steps {
			for _, dep := range s.DependsOn {
				if _, ok := names[dep]; !ok {
					return acserr.New(acserr.Validation, "job.Config.Validate", fmt.Errorf("%w: step %q depends on unknown step %q", acserr.ErrUnknownStep, s.Name, dep))
				}
			}
		}
	}
	return nil
}

// GetStep looks up a step by name.
func (c *Config) GetStep(name string) (*Step, bool) {
	for i := range c.Steps {
		if c.Steps[i].Name == name {
			return &c.Steps[i], true
		}
	}
	return nil, false
}

// ExecutionOrder returns step names in the order they should run
// (datum_job.rs's JobDatum::execution_order): declaration order for
// sequential and parallel modes, topological order for dag mode.
func (c *Config) ExecutionOrder() ([]string, error) {
	switch c.Exec.Mode {
	case ModeSequential, ModeParallel:
		names := make([]string, len(c.Steps))
		for i, s := range c.Steps {
			names[i] = s.Name
		}
		return names, nil
	case ModeDAG:
		return topologicalSort(c.Steps)
	default:
		return nil, acserr.New(acserr.Validation, "job.Config.ExecutionOrder", fmt.Errorf("%w: mode %q", acserr.ErrInvalidExecMode, c.Exec.Mode))
	}
}

// topologicalSort implements Kahn's algorithm exactly as
// datum_job.rs's topological_sort does: a reverse-dependency graph plus an
// in-degree map, seeding the queue with zero-in-degree steps in declaration
// order so the tie-break matches the original bit for bit.
func topologicalSort(steps []Step) ([]string, error) {
	inDegree := make(map[string]int, len(steps))
	reverseGraph := make(map[string][]string, len(steps))
	order := make([]string, len(steps))
	for i, s := range steps {
		order[i] = s.Name
		if _, ok := inDegree[s.Name]; !ok {
			inDegree[s.Name] = 0
		}
	}
	for _, s := range steps {
		inDegree[s.Name] += len(s.DependsOn)
		for _, dep := range s.DependsOn {
			reverseGraph[dep] = append(reverseGraph[dep], s.Name)
		}
	}

	queue := make([]string, 0, len(steps))
	for _, name := range order {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	result := make([]string, 0, len(steps))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		result = append(result, name)

		for _, dependent := range reverseGraph[name] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(steps) {
		return nil, acserr.New(acserr.Validation, "job.topologicalSort", acserr.ErrCircularDependency)
	}
	return result, nil
}
