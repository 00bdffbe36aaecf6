package job

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopologicalSortLinearChain(t *testing.T) {
	steps := []Step{
		{Name: "C", DependsOn: []string{"B"}},
		{Name: "A"},
		{Name: "B", DependsOn: []string{"A"}},
	}
	order, err := topologicalSort(steps)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, order)
}

func TestTopologicalSortDetectsCycle(t *testing.T) {
	steps := []Step{
		{Name: "A", DependsOn: []string{"B"}},
		{Name: "B", DependsOn: []string{"A"}},
	}
	_, err := topologicalSort(steps)
	require.Error(t, err)
}

func TestConfigValidateRejectsUnknownDependency(t *testing.T) {
	cfg := &Config{
		Exec: ExecutionConfig{Mode: ModeDAG, CheckpointMode: CheckpointAuto},
		Steps: []Step{
			{Name: "A", DependsOn: []string{"ghost"}},
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestExecutionOrderSequentialIsDeclarationOrder(t *testing.T) {
	cfg := &Config{
		Exec:  ExecutionConfig{Mode: ModeSequential, CheckpointMode: CheckpointAuto},
		Steps: []Step{{Name: "first"}, {Name: "second"}},
	}
	order, err := cfg.ExecutionOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

type fakeRunner struct {
	calls *[]string
	fail  bool
}

func (f fakeRunner) Run(ctx context.Context, task Task, env map[string]string, cwd string) error {
	*f.calls = append(*f.calls, task.Command)
	if f.fail {
		return assertErr
	}
	return nil
}

var assertErr = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestOrchestratorRunSequentialSuccess(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	var calls []string
	runners := map[TaskKind]StepRunner{TaskBash: fakeRunner{calls: &calls}}
	orch := NewOrchestrator(store, nil, runners)

	cfg := &Config{
		Exec: ExecutionConfig{Mode: ModeSequential, CheckpointMode: CheckpointOff},
		Steps: []Step{
			{Name: "build", Task: Task{Kind: TaskBash, Command: "echo build"}},
			{Name: "test", Task: Task{Kind: TaskBash, Command: "echo test"}},
		},
	}

	state, err := orch.Run(context.Background(), "demo", cfg, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, []string{"echo build", "echo test"}, calls)
	assert.Equal(t, 2, state.Metadata.CompletedSteps)
}

func TestOrchestratorRunContinuesOnFailureWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	var calls []string
	runners := map[TaskKind]StepRunner{TaskBash: fakeRunner{calls: &calls, fail: true}}
	orch := NewOrchestrator(store, nil, runners)

	cfg := &Config{
		Exec: ExecutionConfig{Mode: ModeSequential, CheckpointMode: CheckpointOff, ContinueOnFailure: true},
		Steps: []Step{
			{Name: "flaky", Task: Task{Kind: TaskBash, Command: "false"}},
			{Name: "after", Task: Task{Kind: TaskBash, Command: "echo ok"}},
		},
	}

	state, err := orch.Run(context.Background(), "demo2", cfg, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"false", "echo ok"}, calls)
	assert.Equal(t, 2, state.Metadata.FailedSteps)
}

func TestOrchestratorFromStepToStepFiltersRange(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	var calls []string
	runners := map[TaskKind]StepRunner{TaskBash: fakeRunner{calls: &calls}}
	orch := NewOrchestrator(store, nil, runners)

	cfg := &Config{
		Exec: ExecutionConfig{Mode: ModeSequential, CheckpointMode: CheckpointOff},
		Steps: []Step{
			{Name: "a", Task: Task{Kind: TaskBash, Command: "a"}},
			{Name: "b", Task: Task{Kind: TaskBash, Command: "b"}},
			{Name: "c", Task: Task{Kind: TaskBash, Command: "c"}},
		},
	}

	_, err := orch.Run(context.Background(), "demo3", cfg, RunOptions{FromStep: "b", ToStep: "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, calls)
}
