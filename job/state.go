// Package job implements the Job Orchestrator (C6): parsing declarative job
// configs, ordering steps (sequential/parallel/dag), running them, and
// persisting resumable run state. Grounded on
// original_source/b00t-cli/src/job_state.rs (JobState/StepState/
// CheckpointInfo/JobMetadata) and src/datum_job.rs (JobConfig/JobStep/
// JobTask/topological_sort).
package job

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/b00t-dev/acs/acserr"
)

// Status is a job's overall lifecycle state (job_state.rs's JobStatus).
type Status string

const (
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
	StatusPaused      Status = "paused"
	StatusRollingBack Status = "rolling_back"
	StatusRolledBack  Status = "rolled_back"
)

// StepStatus is one step's lifecycle state (job_state.rs's StepStatus).
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepState tracks one step's execution within a run.
type StepState struct {
	Name        string     `json:"name"`
	Status      StepStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  *int64     `json:"duration_ms,omitempty"`
	Error       string     `json:"error,omitempty"`
	Retries     int        `json:"retries"`
}

// CheckpointInfo records one checkpoint taken during a run. Unlike
// job_state.rs's add_checkpoint (which leaves git_commit permanently nil
// with a "TODO: Get from git" comment), this module's checkpoint.go always
// resolves the real commit SHA via go-git before constructing one of these.
type CheckpointInfo struct {
	StepName       string    `json:"step_name"`
	CheckpointName string    `json:"checkpoint_name"`
	GitCommit      string    `json:"git_commit,omitempty"`
	GitTag         string    `json:"git_tag,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Metadata summarizes a run for quick status queries without walking Steps.
type Metadata struct {
	ExecutionMode string            `json:"execution_mode"`
	TotalSteps    int               `json:"total_steps"`
	CompletedSteps int              `json:"completed_steps"`
	FailedSteps   int               `json:"failed_steps"`
	SkippedSteps  int               `json:"skipped_steps"`
	Env           map[string]string `json:"env"`
}

// State is one job run's full persisted record (job_state.rs's JobState).
type State struct {
	JobName     string                `json:"job_name"`
	RunID       string                `json:"run_id"`
	Status      Status                `json:"status"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	CurrentStep string                `json:"current_step,omitempty"`
	Steps       map[string]*StepState `json:"steps"`
	Checkpoints []CheckpointInfo      `json:"checkpoints"`
	Error       string                `json:"error,omitempty"`
	Metadata    Metadata              `json:"metadata"`
}

// NewState starts a fresh run record with a random run id.
func NewState(jobName, executionMode string, totalSteps int) *State {
	return &State{
		JobName:   jobName,
		RunID:     uuid.NewString(),
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
		Steps:     make(map[string]*StepState),
		Metadata: Metadata{
			ExecutionMode: executionMode,
			TotalSteps:    totalSteps,
			Env:           make(map[string]string),
		},
	}
}

func (s *State) StartStep(name string) {
	s.CurrentStep = name
	now := time.Now().UTC()
	s.Steps[name] = &StepState{Name: name, Status: StepRunning, StartedAt: &now}
}

func (s *State) CompleteStep(name string) {
	step, ok := s.Steps[name]
	if !ok {
		return
	}
	now := time.Now().UTC()
	step.Status = StepCompleted
	step.CompletedAt = &now
	if step.StartedAt != nil {
		d := now.Sub(*step.StartedAt).Milliseconds()
		step.DurationMs = &d
	}
	s.Metadata.CompletedSteps++
}

func (s *State) SkipStep(name string) {
	step, ok := s.Steps[name]
	if !ok {
		step = &StepState{Name: name}
		s.Steps[name] = step
	}
	now := time.Now().UTC()
	step.Status = StepSkipped
	step.CompletedAt = &now
	s.Metadata.SkippedSteps++
}

func (s *State) FailStep(name string, err error) {
	step, ok := s.Steps[name]
	if !ok {
		return
	}
	now := time.Now().UTC()
	step.Status = StepFailed
	step.CompletedAt = &now
	step.Error = err.Error()
	if step.StartedAt != nil {
		d := now.Sub(*step.StartedAt).Milliseconds()
		step.DurationMs = &d
	}
	s.Metadata.FailedSteps++
}

func (s *State) IncrementRetry(name string) {
	step, ok := s.Steps[name]
	if !ok {
		return
	}
	step.Retries++
	step.Status = StepRunning
	now := time.Now().UTC()
	step.StartedAt = &now
	step.CompletedAt = nil
	step.Error = ""
}

func (s *State) AddCheckpoint(cp CheckpointInfo) {
	s.Checkpoints = append(s.Checkpoints, cp)
}

func (s *State) Complete() {
	s.Status = StatusCompleted
	now := time.Now().UTC()
	s.CompletedAt = &now
	s.CurrentStep = ""
}

func (s *State) Fail(err error) {
	s.Status = StatusFailed
	now := time.Now().UTC()
	s.CompletedAt = &now
	s.Error = err.Error()
	s.CurrentStep = ""
}

func (s *State) ProgressPercent() float64 {
	if s.Metadata.TotalSteps == 0 {
		return 0
	}
	return float64(s.Metadata.CompletedSteps) / float64(s.Metadata.TotalSteps) * 100
}

// Store persists run state under baseDir/.b00t/jobs/<job_name>/<run_id>.json,
// with an atomic write-temp-then-rename (spec §6.6: the Rust original writes
// the file and the "latest.json" symlink directly, with no crash-safety
// around either).
type Store struct {
	baseDir string
}

func NewStore(baseDir string) *Store { return &Store{baseDir: baseDir} }

func (st *Store) jobDir(jobName string) string {
	return filepath.Join(st.baseDir, ".b00t", "jobs", jobName)
}

func (st *Store) statePath(jobName, runID string) string {
	return filepath.Join(st.jobDir(jobName), runID+".json")
}

// Save atomically writes state to its run file and repoints latest.json at
// it, so a crash mid-write never corrupts either the run file or the
// symlink target it's about to replace.
func (st *Store) Save(state *State) error {
	dir := st.jobDir(state.JobName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return acserr.New(acserr.Persistence, "job.Store.Save", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return acserr.New(acserr.Persistence, "job.Store.Save", err)
	}

	target := st.statePath(state.JobName, state.RunID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return acserr.New(acserr.Persistence, "job.Store.Save", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return acserr.New(acserr.Persistence, "job.Store.Save", err)
	}

	latest := filepath.Join(dir, "latest.json")
	latestTmp := latest + ".tmp"
	_ = os.Remove(latestTmp)
	if err := os.Symlink(target, latestTmp); err != nil {
		// Fall back to a copy when symlinks aren't available (e.g. some
		// restricted filesystems), matching the original's Windows branch.
		if err := os.WriteFile(latestTmp, data, 0o644); err != nil {
			return acserr.New(acserr.Persistence, "job.Store.Save", err)
		}
	}
	if err := os.Rename(latestTmp, latest); err != nil {
		return acserr.New(acserr.Persistence, "job.Store.Save", err)
	}
	return nil
}

func (st *Store) Load(jobName, runID string) (*State, error) {
	data, err := os.ReadFile(st.statePath(jobName, runID))
	if err != nil {
		return nil, acserr.New(acserr.Persistence, "job.Store.Load", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, acserr.New(acserr.Persistence, "job.Store.Load", err)
	}
	return &state, nil
}

func (st *Store) LoadLatest(jobName string) (*State, error) {
	data, err := os.ReadFile(filepath.Join(st.jobDir(jobName), "latest.json"))
	if err != nil {
		return nil, acserr.New(acserr.Persistence, "job.Store.LoadLatest", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, acserr.New(acserr.Persistence, "job.Store.LoadLatest", err)
	}
	return &state, nil
}

// ListAll returns the latest state of every known job, most recently
// started first.
func (st *Store) ListAll() ([]*State, error) {
	jobsDir := filepath.Join(st.baseDir, ".b00t", "jobs")
	entries, err := os.ReadDir(jobsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, acserr.New(acserr.Persistence, "job.Store.ListAll", err)
	}

	var states []*State
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		state, err := st.LoadLatest(entry.Name())
		if err != nil {
			continue
		}
		states = append(states, state)
	}

	sort.Slice(states, func(i, j int) bool { return states[i].StartedAt.After(states[j].StartedAt) })
	return states, nil
}
