package client

import (
	"context"
	"time"
)

// Entity shapes mirror the hub's wire responses. They are redeclared
// here so importers of the client never reach into hub internals.

// Agent is a registered agent.
type Agent struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Platform      string    `json:"platform,omitempty"`
	Role          string    `json:"role"`
	Status        string    `json:"status"`
	CurrentFile   string    `json:"current_file,omitempty"`
	CurrentTask   string    `json:"current_task,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat_ts"`
}

// Task is one unit of work on the project board.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Assignee    string     `json:"assignee,omitempty"`
	Priority    string     `json:"priority"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	Files       []string   `json:"files,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExternalRef string     `json:"external_ref,omitempty"`
}

// Lease is a live file reservation.
type Lease struct {
	Path       string    `json:"path"`
	Holder     string    `json:"holder"`
	Exclusive  bool      `json:"exclusive"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	TaskID     string    `json:"task_id,omitempty"`
}

// Orchestrator is the current coordination authority.
type Orchestrator struct {
	AgentID   string    `json:"agent_id"`
	Epoch     int64     `json:"epoch"`
	ElectedAt time.Time `json:"elected_at"`
}

// Vote is an open or settled quorum vote.
type Vote struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Kind      string    `json:"kind"`
	OpenedBy  string    `json:"opened_by"`
	OpenedAt  time.Time `json:"opened_at"`
	ClosesAt  time.Time `json:"closes_at"`
	Quorum    int       `json:"quorum"`
	Threshold float64   `json:"threshold"`
	Closed    bool      `json:"closed,omitempty"`
	Passed    bool      `json:"passed,omitempty"`
}

// Message is one inbox entry.
type Message struct {
	Seq    int64     `json:"seq"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Thread string    `json:"thread,omitempty"`
	Body   string    `json:"body"`
	TS     time.Time `json:"ts"`
}

// Forecast is the conflict outlook for one path.
type Forecast struct {
	Path        string   `json:"path"`
	Holder      string   `json:"holder,omitempty"`
	Exclusive   bool     `json:"exclusive,omitempty"`
	ExpiresInMS int64    `json:"expires_in_ms,omitempty"`
	DeclaredBy  []string `json:"declared_by,omitempty"`
	Invalid     bool     `json:"invalid,omitempty"`
}

// StopFlag is the project-wide safety switch.
type StopFlag struct {
	Stopped bool      `json:"stopped"`
	Reason  string    `json:"reason,omitempty"`
	By      string    `json:"by,omitempty"`
	TS      time.Time `json:"ts,omitempty"`
}

// Status is the project overview.
type Status struct {
	Project      string         `json:"project"`
	Seq          int64          `json:"seq"`
	Degraded     bool           `json:"degraded,omitempty"`
	Stop         StopFlag       `json:"stop"`
	Orchestrator *Orchestrator  `json:"orchestrator,omitempty"`
	Agents       []Agent        `json:"agents"`
	TaskCounts   map[string]int `json:"task_counts"`
	Leases       int            `json:"leases"`
	OpenAuctions int            `json:"open_auctions"`
	OpenVotes    int            `json:"open_votes"`
}

// RegisterOptions customizes a registration.
type RegisterOptions struct {
	AgentID  string `json:"agent_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Platform string `json:"platform,omitempty"`
	Role     string `json:"role,omitempty"`
}

// Register enrolls this connection's agent with the project and binds
// the connection to the returned agent name.
func (c *Client) Register(ctx context.Context, opts RegisterOptions) (Agent, error) {
	var ag Agent
	if err := c.call(ctx, "register", opts, &ag); err != nil {
		return Agent{}, err
	}
	c.mu.Lock()
	c.agent = ag.Name
	c.mu.Unlock()
	return ag, nil
}

// AgentName returns the agent name bound by Register, if any.
func (c *Client) AgentName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agent
}

// Heartbeat refreshes the agent's liveness and optionally its status
// and focus.
func (c *Client) Heartbeat(ctx context.Context, status, currentFile, currentTask string) error {
	return c.call(ctx, "heartbeat", map[string]string{
		"status": status, "current_file": currentFile, "current_task": currentTask,
	}, nil)
}

// Deregister removes the agent record.
func (c *Client) Deregister(ctx context.Context) error {
	return c.call(ctx, "deregister", nil, nil)
}

// Elect stands for orchestrator. On success the returned record
// carries the new epoch, which fences all later orchestrator writes.
func (c *Client) Elect(ctx context.Context) (Orchestrator, error) {
	var o Orchestrator
	err := c.call(ctx, "elect", nil, &o)
	return o, err
}

// OrchHeartbeat refreshes the orchestrator's clock under its epoch.
func (c *Client) OrchHeartbeat(ctx context.Context, epoch int64) error {
	return c.call(ctx, "orch_heartbeat", map[string]int64{"epoch": epoch}, nil)
}

// Resign vacates the orchestrator seat.
func (c *Client) Resign(ctx context.Context, epoch int64) error {
	return c.call(ctx, "resign", map[string]int64{"epoch": epoch}, nil)
}

// CreateTaskOptions are the optional fields of CreateTask.
type CreateTaskOptions struct {
	Description string   `json:"description,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Files       []string `json:"files,omitempty"`
	ExternalRef string   `json:"external_ref,omitempty"`
}

// CreateTask adds a task to the board.
func (c *Client) CreateTask(ctx context.Context, title string, opts CreateTaskOptions) (Task, error) {
	params := map[string]any{
		"title":        title,
		"description":  opts.Description,
		"priority":     opts.Priority,
		"depends_on":   opts.DependsOn,
		"files":        opts.Files,
		"external_ref": opts.ExternalRef,
	}
	var t Task
	err := c.call(ctx, "task_create", params, &t)
	return t, err
}

// ListTasks returns the board, optionally filtered by status.
func (c *Client) ListTasks(ctx context.Context, status string) ([]Task, error) {
	var out struct {
		Tasks []Task `json:"tasks"`
	}
	err := c.call(ctx, "task_list", map[string]string{"status": status}, &out)
	return out.Tasks, err
}

// UpdateTaskParams is a partial task update; zero fields are left
// untouched. Epoch is required only for orchestrator-privileged
// transitions on tasks the caller does not own.
type UpdateTaskParams struct {
	TaskID      string   `json:"task_id"`
	Status      string   `json:"status,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Files       []string `json:"files,omitempty"`
	Epoch       int64    `json:"epoch,omitempty"`
}

// UpdateTask edits task fields or drives a status transition.
func (c *Client) UpdateTask(ctx context.Context, params UpdateTaskParams) (Task, error) {
	var t Task
	err := c.call(ctx, "task_update", params, &t)
	return t, err
}

// ClaimTask self-assigns a ready, unassigned task.
func (c *Client) ClaimTask(ctx context.Context, taskID string) (Task, error) {
	var t Task
	err := c.call(ctx, "task_assign", map[string]string{
		"task_id": taskID, "agent": c.AgentName(),
	}, &t)
	return t, err
}

// AssignTask assigns a task to an agent under the orchestrator epoch.
func (c *Client) AssignTask(ctx context.Context, taskID, agent string, epoch int64) (Task, error) {
	var t Task
	err := c.call(ctx, "task_assign", map[string]any{
		"task_id": taskID, "agent": agent, "epoch": epoch,
	}, &t)
	return t, err
}

// AnnounceAuction opens a bidding round on a ready task.
func (c *Client) AnnounceAuction(ctx context.Context, taskID string, duration time.Duration) error {
	return c.call(ctx, "auction_announce", map[string]any{
		"task_id": taskID, "duration_ms": duration.Milliseconds(),
	}, nil)
}

// Bid posts this agent's score for an open auction. Scores outside
// [0, 1] are clamped by the hub.
func (c *Client) Bid(ctx context.Context, taskID string, score float64) error {
	return c.call(ctx, "auction_bid", map[string]any{
		"task_id": taskID, "score": score,
	}, nil)
}

// ReserveFile takes a lease on a repository path.
func (c *Client) ReserveFile(ctx context.Context, path string, ttl time.Duration, exclusive bool, taskID string) (Lease, error) {
	var l Lease
	err := c.call(ctx, "file_reserve", map[string]any{
		"path": path, "ttl_ms": ttl.Milliseconds(), "exclusive": exclusive, "task_id": taskID,
	}, &l)
	return l, err
}

// ReleaseFile releases the caller's lease. A non-zero epoch performs
// an orchestrator force-release instead.
func (c *Client) ReleaseFile(ctx context.Context, path string, epoch int64) error {
	return c.call(ctx, "file_release", map[string]any{"path": path, "epoch": epoch}, nil)
}

// RenewFile extends the caller's lease.
func (c *Client) RenewFile(ctx context.Context, path string, ttl time.Duration) (Lease, error) {
	var l Lease
	err := c.call(ctx, "file_renew", map[string]any{
		"path": path, "ttl_ms": ttl.Milliseconds(),
	}, &l)
	return l, err
}

// ListFiles returns the live leases.
func (c *Client) ListFiles(ctx context.Context) ([]Lease, error) {
	var out struct {
		Leases []Lease `json:"leases"`
	}
	err := c.call(ctx, "file_list", nil, &out)
	return out.Leases, err
}

// ForecastFiles reports likely conflicts for a set of paths without
// taking leases.
func (c *Client) ForecastFiles(ctx context.Context, files []string) ([]Forecast, error) {
	var out struct {
		Forecast []Forecast `json:"forecast"`
	}
	err := c.call(ctx, "file_forecast", map[string]any{"files": files}, &out)
	return out.Forecast, err
}

// SendMessage delivers a durable direct message.
func (c *Client) SendMessage(ctx context.Context, to, thread, body string) error {
	return c.call(ctx, "message_send", map[string]string{
		"to": to, "thread": thread, "body": body,
	}, nil)
}

// Inbox returns the caller's messages with seq greater than since.
func (c *Client) Inbox(ctx context.Context, since int64) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	err := c.call(ctx, "message_inbox", map[string]int64{"since": since}, &out)
	return out.Messages, err
}

// Broadcast publishes a fire-and-forget chat event.
func (c *Client) Broadcast(ctx context.Context, channel, body string) error {
	return c.call(ctx, "broadcast", map[string]string{
		"channel": channel, "body": body,
	}, nil)
}

// StartVote opens a quorum vote.
func (c *Client) StartVote(ctx context.Context, kind, subject string, quorum int, threshold float64, duration time.Duration) (Vote, error) {
	var v Vote
	err := c.call(ctx, "vote_start", map[string]any{
		"kind": kind, "subject": subject, "quorum": quorum,
		"threshold": threshold, "duration_ms": duration.Milliseconds(),
	}, &v)
	return v, err
}

// CastVote records a ballot: yes, no or abstain.
func (c *Client) CastVote(ctx context.Context, voteID, choice string) error {
	return c.call(ctx, "vote_cast", map[string]string{
		"vote_id": voteID, "choice": choice,
	}, nil)
}

// Stop raises the project-wide stop flag.
func (c *Client) Stop(ctx context.Context, reason string) error {
	return c.call(ctx, "stop", map[string]string{"reason": reason}, nil)
}

// Resume clears the stop flag.
func (c *Client) Resume(ctx context.Context) error {
	return c.call(ctx, "resume", nil, nil)
}

// Status returns the project overview.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.call(ctx, "status", nil, &st)
	return st, err
}

// Subscribe narrows the event stream to the given kinds. An empty set
// restores all kinds.
func (c *Client) Subscribe(ctx context.Context, kinds ...string) error {
	return c.call(ctx, "subscribe", map[string]any{"kinds": kinds}, nil)
}

// Replay asks the hub to resend events with seq greater than since.
// The events arrive on the Events channel before the call returns.
func (c *Client) Replay(ctx context.Context, since int64, max int) error {
	return c.call(ctx, "replay", map[string]any{"since_seq": since, "max": max}, nil)
}
