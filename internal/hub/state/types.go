// Package state holds the per-project domain model: agents, tasks,
// file leases, the orchestrator record, auctions, votes and the stop
// flag. State is a pure projection of the event log; all evented
// mutations go through Apply so that live execution and replay share
// one code path.
package state

import "time"

// AgentRole is the coordination role of an agent.
type AgentRole string

const (
	RoleOrchestrator AgentRole = "orchestrator"
	RoleExecutor     AgentRole = "executor"
	RoleObserver     AgentRole = "observer"
)

// AgentStatus is the liveness state of an agent.
type AgentStatus string

const (
	AgentActive  AgentStatus = "active"
	AgentIdle    AgentStatus = "idle"
	AgentPaused  AgentStatus = "paused"
	AgentOffline AgentStatus = "offline"
)

// Agent is a connected client that performs or coordinates work.
type Agent struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Platform      string      `json:"platform,omitempty"`
	Role          AgentRole   `json:"role"`
	Status        AgentStatus `json:"status"`
	CurrentFile   string      `json:"current_file,omitempty"`
	CurrentTask   string      `json:"current_task,omitempty"`
	LastHeartbeat time.Time   `json:"last_heartbeat_ts"`
	ConnectionID  string      `json:"connection_id,omitempty"`
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskOpen        TaskStatus = "open"
	TaskAuctioning  TaskStatus = "auctioning"
	TaskInProgress  TaskStatus = "in_progress"
	TaskNeedsReview TaskStatus = "needs_review"
	TaskDone        TaskStatus = "done"
	TaskCanceled    TaskStatus = "canceled"
)

// ValidTaskStatus reports whether s is a recognized task status.
func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskOpen, TaskAuctioning, TaskInProgress, TaskNeedsReview, TaskDone, TaskCanceled:
		return true
	}
	return false
}

// Priority orders tasks on the board.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ValidPriority reports whether p is a recognized priority.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Task is a unit of work on the project board.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	Assignee    string     `json:"assignee,omitempty"` // agent name
	Priority    Priority   `json:"priority"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	Files       []string   `json:"files,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExternalRef string     `json:"external_ref,omitempty"`
}

// Lease is a time-bounded reservation of a repository path.
type Lease struct {
	Path       string    `json:"path"`
	Holder     string    `json:"holder"` // agent name
	Exclusive  bool      `json:"exclusive"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	TaskID     string    `json:"task_id,omitempty"`
}

// Orchestrator is the single coordination authority for a project.
type Orchestrator struct {
	AgentID       string    `json:"agent_id"` // agent name
	Epoch         int64     `json:"epoch"`
	ElectedAt     time.Time `json:"elected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat_ts"`
}

// Bid is one agent's offer in an auction.
type Bid struct {
	Agent    string    `json:"agent"`
	Score    float64   `json:"score"`
	PostedAt time.Time `json:"posted_at"`
}

// Auction is a time-bounded bidding round for one task.
type Auction struct {
	TaskID   string    `json:"task_id"`
	OpenedAt time.Time `json:"opened_at"`
	ClosesAt time.Time `json:"closes_at"`
	Bids     []Bid     `json:"bids,omitempty"`
}

// Ballot is one agent's choice in a vote.
type Ballot struct {
	Choice string    `json:"choice"` // yes, no, abstain
	TS     time.Time `json:"ts"`
}

// Vote is a quorum decision about a dangerous action.
type Vote struct {
	ID        string            `json:"id"`
	Subject   string            `json:"subject"`
	Kind      string            `json:"kind"`
	OpenedBy  string            `json:"opened_by"`
	OpenedAt  time.Time         `json:"opened_at"`
	ClosesAt  time.Time         `json:"closes_at"`
	Ballots   map[string]Ballot `json:"ballots,omitempty"`
	Quorum    int               `json:"quorum"`
	Threshold float64           `json:"threshold"`
	Closed    bool              `json:"closed,omitempty"`
	Passed    bool              `json:"passed,omitempty"`
}

// Tally counts the ballots cast so far.
func (v *Vote) Tally() (yes, no, abstain int) {
	for _, b := range v.Ballots {
		switch b.Choice {
		case "yes":
			yes++
		case "no":
			no++
		case "abstain":
			abstain++
		}
	}
	return yes, no, abstain
}

// Message is one direct inbox entry. Seq is the event sequence number
// of the message event, used for inbox cursors.
type Message struct {
	Seq    int64     `json:"seq"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Thread string    `json:"thread,omitempty"`
	Body   string    `json:"body"`
	TS     time.Time `json:"ts"`
}

// StopFlag is the project-wide safety switch.
type StopFlag struct {
	Stopped bool      `json:"stopped"`
	Reason  string    `json:"reason,omitempty"`
	By      string    `json:"by,omitempty"`
	TS      time.Time `json:"ts,omitempty"`
}
