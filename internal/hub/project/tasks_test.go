package project

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmhub/swarmhub/internal/hub/state"
	"github.com/swarmhub/swarmhub/internal/hub/wire"
)

func createTask(t *testing.T, a *Actor, c Caller, params map[string]any) state.Task {
	t.Helper()
	resp := submit(t, a, c, wire.TypeTaskCreate, params)
	require.Nil(t, resp.Error, "task_create: %+v", resp.Error)
	return resp.Result.(state.Task)
}

func TestTaskCreateDefaults(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")

	task := createTask(t, a, alice, map[string]any{
		"title": "refactor parser", "files": []string{"pkg\\parser\\lex.go"},
	})
	assert.Equal(t, state.TaskOpen, task.Status)
	assert.Equal(t, state.PriorityNormal, task.Priority)
	assert.Equal(t, []string{"pkg/parser/lex.go"}, task.Files, "paths are normalized")
	assert.NotEmpty(t, task.ID)
}

func TestTaskCreateRejectsBadInput(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")

	resp := submit(t, a, alice, wire.TypeTaskCreate, map[string]any{"title": "   "})
	assert.Equal(t, wire.CodeInvalidRequest, errCode(resp))

	resp = submit(t, a, alice, wire.TypeTaskCreate, map[string]any{
		"title": "escape", "files": []string{"../etc/passwd"},
	})
	assert.Equal(t, wire.CodeInvalidPath, errCode(resp))

	resp = submit(t, a, alice, wire.TypeTaskCreate, map[string]any{
		"title": "ghost dep", "depends_on": []string{"task-missing"},
	})
	assert.Equal(t, wire.CodeNotFound, errCode(resp))

	resp = submit(t, a, alice, wire.TypeTaskCreate, map[string]any{
		"title": "odd", "priority": "urgent-ish",
	})
	assert.Equal(t, wire.CodeInvalidRequest, errCode(resp))
}

func TestTaskClaimAndComplete(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	task := createTask(t, a, alice, map[string]any{"title": "do the thing"})

	resp := submit(t, a, alice, wire.TypeTaskAssign, map[string]any{
		"task_id": task.ID, "agent": alice.Agent,
	})
	require.Nil(t, resp.Error)
	claimed := resp.Result.(state.Task)
	assert.Equal(t, state.TaskInProgress, claimed.Status)
	assert.Equal(t, alice.Agent, claimed.Assignee)

	resp = submit(t, a, alice, wire.TypeTaskUpdate, map[string]any{
		"task_id": task.ID, "status": "done",
	})
	require.Nil(t, resp.Error)
	done := resp.Result.(state.Task)
	assert.Equal(t, state.TaskDone, done.Status)
	assert.Empty(t, done.Assignee, "completed tasks carry no assignee")
}

func TestTaskCompletionReleasesLeases(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	task := createTask(t, a, alice, map[string]any{"title": "edit config"})
	require.Nil(t, submit(t, a, alice, wire.TypeTaskAssign, map[string]any{
		"task_id": task.ID, "agent": alice.Agent,
	}).Error)
	require.Nil(t, submit(t, a, alice, wire.TypeFileReserve, map[string]any{
		"path": "config/app.yaml", "task_id": task.ID,
	}).Error)

	require.Nil(t, submit(t, a, alice, wire.TypeTaskUpdate, map[string]any{
		"task_id": task.ID, "status": "canceled",
	}).Error)

	require.NoError(t, a.Inspect(context.Background(), func(s *state.State) {
		assert.Empty(t, s.Leases["config/app.yaml"], "cancellation releases the task's leases")
	}))
}

func TestTaskCompletionRequiresAssigneeOrEpoch(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	bob := register(t, a, "bob")
	task := createTask(t, a, alice, map[string]any{"title": "guarded"})
	require.Nil(t, submit(t, a, alice, wire.TypeTaskAssign, map[string]any{
		"task_id": task.ID, "agent": alice.Agent,
	}).Error)

	// A bystander cannot complete someone else's task.
	resp := submit(t, a, bob, wire.TypeTaskUpdate, map[string]any{
		"task_id": task.ID, "status": "done",
	})
	require.NotNil(t, resp.Error)

	// The orchestrator can, under its epoch.
	require.Nil(t, submit(t, a, bob, wire.TypeElect, nil).Error)
	resp = submit(t, a, bob, wire.TypeTaskUpdate, map[string]any{
		"task_id": task.ID, "status": "done", "epoch": 1,
	})
	require.Nil(t, resp.Error)
}

func TestTaskDependencyGating(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	dep := createTask(t, a, alice, map[string]any{"title": "first"})
	task := createTask(t, a, alice, map[string]any{
		"title": "second", "depends_on": []string{dep.ID},
	})

	// Not claimable until the dependency is done.
	resp := submit(t, a, alice, wire.TypeTaskAssign, map[string]any{
		"task_id": task.ID, "agent": alice.Agent,
	})
	assert.Equal(t, wire.CodePrecondition, errCode(resp))

	require.Nil(t, submit(t, a, alice, wire.TypeTaskAssign, map[string]any{
		"task_id": dep.ID, "agent": alice.Agent,
	}).Error)
	require.Nil(t, submit(t, a, alice, wire.TypeTaskUpdate, map[string]any{
		"task_id": dep.ID, "status": "done",
	}).Error)

	resp = submit(t, a, alice, wire.TypeTaskAssign, map[string]any{
		"task_id": task.ID, "agent": alice.Agent,
	})
	require.Nil(t, resp.Error)
}

func TestTaskCompletionChecksDependencies(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	dep := createTask(t, a, alice, map[string]any{"title": "groundwork"})
	task := createTask(t, a, alice, map[string]any{"title": "finisher"})
	require.Nil(t, submit(t, a, alice, wire.TypeTaskAssign, map[string]any{
		"task_id": task.ID, "agent": alice.Agent,
	}).Error)

	// A dependency added after the claim still blocks completion.
	require.Nil(t, submit(t, a, alice, wire.TypeTaskUpdate, map[string]any{
		"task_id": task.ID, "depends_on": []string{dep.ID},
	}).Error)
	resp := submit(t, a, alice, wire.TypeTaskUpdate, map[string]any{
		"task_id": task.ID, "status": "done",
	})
	assert.Equal(t, wire.CodePrecondition, errCode(resp))

	// Cancellation is not gated on dependencies.
	resp = submit(t, a, alice, wire.TypeTaskUpdate, map[string]any{
		"task_id": task.ID, "status": "canceled",
	})
	require.Nil(t, resp.Error)

	other := createTask(t, a, alice, map[string]any{
		"title": "second try", "depends_on": []string{dep.ID},
	})
	require.Nil(t, submit(t, a, alice, wire.TypeTaskAssign, map[string]any{
		"task_id": dep.ID, "agent": alice.Agent,
	}).Error)
	require.Nil(t, submit(t, a, alice, wire.TypeTaskUpdate, map[string]any{
		"task_id": dep.ID, "status": "done",
	}).Error)
	require.Nil(t, submit(t, a, alice, wire.TypeTaskAssign, map[string]any{
		"task_id": other.ID, "agent": alice.Agent,
	}).Error)
	resp = submit(t, a, alice, wire.TypeTaskUpdate, map[string]any{
		"task_id": other.ID, "status": "done",
	})
	require.Nil(t, resp.Error, "done dependency unblocks completion")
}

func TestTaskDependencyCycleRejected(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	first := createTask(t, a, alice, map[string]any{"title": "first"})
	second := createTask(t, a, alice, map[string]any{
		"title": "second", "depends_on": []string{first.ID},
	})

	resp := submit(t, a, alice, wire.TypeTaskUpdate, map[string]any{
		"task_id": first.ID, "depends_on": []string{second.ID},
	})
	assert.Equal(t, wire.CodePrecondition, errCode(resp))

	resp = submit(t, a, alice, wire.TypeTaskUpdate, map[string]any{
		"task_id": first.ID, "depends_on": []string{first.ID},
	})
	assert.Equal(t, wire.CodePrecondition, errCode(resp))
}

func TestTaskAssignConflicts(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	bob := register(t, a, "bob")
	task := createTask(t, a, alice, map[string]any{"title": "contested"})

	require.Nil(t, submit(t, a, alice, wire.TypeTaskAssign, map[string]any{
		"task_id": task.ID, "agent": alice.Agent,
	}).Error)

	resp := submit(t, a, bob, wire.TypeTaskAssign, map[string]any{
		"task_id": task.ID, "agent": bob.Agent,
	})
	assert.Equal(t, wire.CodeConflict, errCode(resp))
}

func TestOrchestratorDirectAssignment(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	bob := register(t, a, "bob")
	task := createTask(t, a, alice, map[string]any{"title": "delegated"})
	require.Nil(t, submit(t, a, alice, wire.TypeElect, nil).Error)

	// Assigning another agent requires the current epoch.
	resp := submit(t, a, alice, wire.TypeTaskAssign, map[string]any{
		"task_id": task.ID, "agent": bob.Agent, "epoch": 7,
	})
	assert.Equal(t, wire.CodeStaleEpoch, errCode(resp))

	resp = submit(t, a, alice, wire.TypeTaskAssign, map[string]any{
		"task_id": task.ID, "agent": bob.Agent, "epoch": 1,
	})
	require.Nil(t, resp.Error)
	assert.Equal(t, bob.Agent, resp.Result.(state.Task).Assignee)
}

func TestTaskListFilter(t *testing.T) {
	a := newTestActor(t)
	alice := register(t, a, "alice")
	open := createTask(t, a, alice, map[string]any{"title": "open one"})
	claimed := createTask(t, a, alice, map[string]any{"title": "busy one"})
	require.Nil(t, submit(t, a, alice, wire.TypeTaskAssign, map[string]any{
		"task_id": claimed.ID, "agent": alice.Agent,
	}).Error)

	resp := submit(t, a, alice, wire.TypeTaskList, map[string]any{"status": "open"})
	require.Nil(t, resp.Error)
	tasks := resp.Result.(map[string]any)["tasks"].([]state.Task)
	require.Len(t, tasks, 1)
	assert.Equal(t, open.ID, tasks[0].ID)

	resp = submit(t, a, alice, wire.TypeTaskList, map[string]any{"status": "bogus"})
	assert.Equal(t, wire.CodeInvalidRequest, errCode(resp))
}
