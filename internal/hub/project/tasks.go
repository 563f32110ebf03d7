package project

import (
	"sort"

	"github.com/swarmhub/swarmhub/internal/hub/id"
	"github.com/swarmhub/swarmhub/internal/hub/state"
	"github.com/swarmhub/swarmhub/internal/hub/validate"
	"github.com/swarmhub/swarmhub/internal/hub/wire"
	"github.com/swarmhub/swarmhub/internal/metrics"
)

// handleTaskCreate adds a task to the board.
func (a *Actor) handleTaskCreate(c Caller, req *wire.Request) (any, error) {
	if _, err := a.requireAgent(c); err != nil {
		return nil, err
	}
	var p wire.TaskCreateParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	title, err := validate.SanitizeName(p.Title)
	if err != nil {
		return nil, wire.Errorf(wire.CodeInvalidRequest, "title: %v", err)
	}
	priority := state.Priority(p.Priority)
	if priority == "" {
		priority = state.PriorityNormal
	}
	if !state.ValidPriority(priority) {
		return nil, wire.Errorf(wire.CodeInvalidRequest, "unknown priority %q", p.Priority)
	}
	deps, err := a.checkDeps("", p.DependsOn)
	if err != nil {
		return nil, err
	}
	files, err := normalizeFiles(p.Files)
	if err != nil {
		return nil, err
	}

	task := state.Task{
		ID:          id.Short("task"),
		Title:       title,
		Description: p.Description,
		Status:      state.TaskOpen,
		Priority:    priority,
		DependsOn:   deps,
		Files:       files,
		CreatedAt:   a.now(),
		ExternalRef: p.ExternalRef,
	}
	if _, err := a.emit(wire.KindTaskCreated, state.TaskCreatedPayload{Task: task}); err != nil {
		return nil, err
	}
	return task, nil
}

// handleTaskList returns tasks, optionally filtered by status, oldest
// first.
func (a *Actor) handleTaskList(c Caller, req *wire.Request) (any, error) {
	var p wire.TaskListParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	if p.Status != "" && !state.ValidTaskStatus(state.TaskStatus(p.Status)) {
		return nil, wire.Errorf(wire.CodeInvalidRequest, "unknown status %q", p.Status)
	}
	out := make([]state.Task, 0, len(a.st.Tasks))
	for _, t := range a.st.Tasks {
		if p.Status != "" && t.Status != state.TaskStatus(p.Status) {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return map[string]any{"tasks": out}, nil
}

// handleTaskUpdate edits task fields or drives a status transition.
// Completion (done or canceled) releases the task's leases and is
// restricted to the assignee or the fenced orchestrator.
func (a *Actor) handleTaskUpdate(c Caller, req *wire.Request) (any, error) {
	ag, err := a.requireAgent(c)
	if err != nil {
		return nil, err
	}
	var p wire.TaskUpdateParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	task := a.st.Tasks[p.TaskID]
	if task == nil {
		return nil, wire.Errorf(wire.CodeNotFound, "task %q not found", p.TaskID)
	}

	if p.Status != "" {
		status := state.TaskStatus(p.Status)
		if !state.ValidTaskStatus(status) {
			return nil, wire.Errorf(wire.CodeInvalidRequest, "unknown status %q", p.Status)
		}
		switch status {
		case state.TaskDone, state.TaskCanceled:
			return a.completeTask(c, ag, task, status, p.Epoch)
		case state.TaskNeedsReview:
			if task.Assignee != ag.Name {
				return nil, wire.Errorf(wire.CodeForbidden, "only the assignee moves a task to needs_review")
			}
			if task.Status != state.TaskInProgress {
				return nil, wire.Errorf(wire.CodePrecondition, "task is %s, not in_progress", task.Status)
			}
		case state.TaskOpen:
			// Abandoning: assignee hands the task back, or the fenced
			// orchestrator reclaims it.
			if task.Assignee != "" && task.Assignee != ag.Name {
				if err := a.requireEpoch(c, p.Epoch); err != nil {
					return nil, err
				}
			}
			if task.Status == state.TaskDone || task.Status == state.TaskCanceled {
				return nil, wire.Errorf(wire.CodePrecondition, "task is already %s", task.Status)
			}
		default:
			return nil, wire.Errorf(wire.CodePrecondition, "status %s is set by assignment, not by update", status)
		}
	}

	updated := *task
	updated.DependsOn = append([]string(nil), task.DependsOn...)
	updated.Files = append([]string(nil), task.Files...)

	if p.Title != "" {
		title, terr := validate.SanitizeName(p.Title)
		if terr != nil {
			return nil, wire.Errorf(wire.CodeInvalidRequest, "title: %v", terr)
		}
		updated.Title = title
	}
	if p.Description != "" {
		updated.Description = p.Description
	}
	if p.Priority != "" {
		priority := state.Priority(p.Priority)
		if !state.ValidPriority(priority) {
			return nil, wire.Errorf(wire.CodeInvalidRequest, "unknown priority %q", p.Priority)
		}
		updated.Priority = priority
	}
	if p.DependsOn != nil {
		deps, derr := a.checkDeps(task.ID, p.DependsOn)
		if derr != nil {
			return nil, derr
		}
		updated.DependsOn = deps
	}
	if p.Files != nil {
		files, ferr := normalizeFiles(p.Files)
		if ferr != nil {
			return nil, ferr
		}
		updated.Files = files
	}
	if p.Status != "" {
		updated.Status = state.TaskStatus(p.Status)
		if updated.Status == state.TaskOpen {
			updated.Assignee = ""
			updated.ClaimedAt = nil
		}
	}

	if _, err := a.emit(wire.KindTaskUpdated, state.TaskUpdatedPayload{Task: updated}); err != nil {
		return nil, err
	}
	return updated, nil
}

// completeTask finishes a task as done or canceled, releasing its
// leases either way.
func (a *Actor) completeTask(c Caller, ag *state.Agent, task *state.Task, status state.TaskStatus, epoch int64) (any, error) {
	if task.Status == state.TaskDone || task.Status == state.TaskCanceled {
		return nil, wire.Errorf(wire.CodePrecondition, "task is already %s", task.Status)
	}
	if task.Assignee != ag.Name {
		if err := a.requireEpoch(c, epoch); err != nil {
			return nil, err
		}
	}
	// Readiness is only checked at assignment, so deps added while the
	// task was in flight must still hold at completion.
	if status == state.TaskDone && !a.st.DepsDone(task) {
		return nil, wire.Errorf(wire.CodePrecondition, "task %q has unfinished dependencies", task.ID)
	}
	now := a.now()
	if _, err := a.emit(wire.KindTaskCompleted, state.TaskCompletedPayload{
		TaskID:      task.ID,
		Status:      status,
		By:          ag.Name,
		CompletedAt: now,
	}); err != nil {
		return nil, err
	}
	if err := a.releaseTaskLeases(task.ID); err != nil {
		return nil, err
	}
	return *task, nil
}

// releaseTaskLeases releases every lease bound to the task.
func (a *Actor) releaseTaskLeases(taskID string) error {
	type bound struct{ path, holder string }
	var due []bound
	for path, leases := range a.st.Leases {
		for _, l := range leases {
			if l.TaskID == taskID {
				due = append(due, bound{path, l.Holder})
			}
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].path < due[j].path })
	for _, b := range due {
		if _, err := a.emit(wire.KindFileUnlocked, state.FileUnlockedPayload{
			Path: b.path, Holder: b.holder, Reason: "task_completed",
		}); err != nil {
			return err
		}
		metrics.ActiveLeases.Dec()
	}
	return nil
}

// handleTaskAssign is the direct assignment path: the fenced
// orchestrator assigns any ready task; an agent claims a ready,
// unassigned task for itself. An orchestrator assignment on an
// auctioning task is an explicit award.
func (a *Actor) handleTaskAssign(c Caller, req *wire.Request) (any, error) {
	ag, err := a.requireAgent(c)
	if err != nil {
		return nil, err
	}
	var p wire.TaskAssignParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	task := a.st.Tasks[p.TaskID]
	if task == nil {
		return nil, wire.Errorf(wire.CodeNotFound, "task %q not found", p.TaskID)
	}
	target := a.st.AgentByName(p.Agent)
	if target == nil {
		return nil, wire.Errorf(wire.CodeNotFound, "agent %q not found", p.Agent)
	}
	if task.Assignee != "" {
		return nil, wire.Errorf(wire.CodeConflict, "task is assigned to %q", task.Assignee)
	}

	selfClaim := ag.Name == p.Agent && p.Epoch == 0
	if !selfClaim {
		if err := a.requireEpoch(c, p.Epoch); err != nil {
			return nil, err
		}
	}

	if task.Status == state.TaskAuctioning {
		if selfClaim {
			return nil, wire.Errorf(wire.CodePrecondition, "task is up for auction; bid instead")
		}
		// Explicit award by the orchestrator closes the auction early.
		return a.awardAuction(task, p.Agent)
	}
	if !a.st.TaskReady(task) {
		return nil, wire.Errorf(wire.CodePrecondition, "task %q is not ready", task.ID)
	}

	kind := wire.KindTaskAssigned
	if selfClaim {
		kind = wire.KindTaskClaimed
	}
	now := a.now()
	if _, err := a.emit(kind, state.TaskAssignedPayload{
		TaskID:    task.ID,
		Agent:     p.Agent,
		ClaimedAt: now,
	}); err != nil {
		return nil, err
	}
	return *task, nil
}

// checkDeps validates a depends_on set: every id must exist and the
// new edges must not close a cycle.
func (a *Actor) checkDeps(taskID string, deps []string) ([]string, error) {
	seen := make(map[string]bool, len(deps))
	out := make([]string, 0, len(deps))
	for _, dep := range deps {
		if seen[dep] {
			continue
		}
		seen[dep] = true
		if a.st.Tasks[dep] == nil {
			return nil, wire.Errorf(wire.CodeNotFound, "dependency %q not found", dep)
		}
		if dep == taskID {
			return nil, wire.Errorf(wire.CodePrecondition, "task cannot depend on itself")
		}
		out = append(out, dep)
	}
	if taskID != "" && a.st.WouldCycle(taskID, out) {
		return nil, wire.Errorf(wire.CodePrecondition, "depends_on would introduce a cycle")
	}
	sort.Strings(out)
	return out, nil
}

func normalizeFiles(files []string) ([]string, error) {
	seen := make(map[string]bool, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		path, err := validate.RepoPath(f)
		if err != nil {
			return nil, wire.Errorf(wire.CodeInvalidPath, "%q: %v", f, err)
		}
		if !seen[path] {
			seen[path] = true
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}
