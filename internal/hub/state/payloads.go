package state

import "time"

// Event payloads. Each evented mutation is recorded as exactly one of
// these, keyed by the event kind. Payload shapes are stable: dashboards
// and bots consume them directly from the log.

// AgentRegisteredPayload accompanies agent_registered.
type AgentRegisteredPayload struct {
	Agent Agent `json:"agent"`
}

// AgentOfflinePayload accompanies agent_offline. Removed is set when
// the agent record was evicted after its offline TTL, not merely
// demoted.
type AgentOfflinePayload struct {
	Name    string    `json:"name"`
	Removed bool      `json:"removed,omitempty"`
	TS      time.Time `json:"ts"`
}

// AgentResumedPayload accompanies agent_resumed.
type AgentResumedPayload struct {
	Name string    `json:"name"`
	TS   time.Time `json:"ts"`
}

// OrchestratorChangedPayload accompanies orchestrator_changed. An
// empty AgentID means the seat is vacant (resignation or timeout);
// Epoch still advances monotonically.
type OrchestratorChangedPayload struct {
	AgentID   string    `json:"agent_id,omitempty"`
	Epoch     int64     `json:"epoch"`
	ElectedAt time.Time `json:"elected_at,omitempty"`
	Reason    string    `json:"reason"` // elected, resigned, timeout
}

// TaskCreatedPayload accompanies task_created.
type TaskCreatedPayload struct {
	Task Task `json:"task"`
}

// TaskUpdatedPayload accompanies task_updated and carries the full
// task after the update.
type TaskUpdatedPayload struct {
	Task Task `json:"task"`
}

// TaskAssignedPayload accompanies task_assigned (orchestrator direct
// assignment or auction award) and task_claimed (self-assignment).
type TaskAssignedPayload struct {
	TaskID    string    `json:"task_id"`
	Agent     string    `json:"agent"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// TaskCompletedPayload accompanies task_completed. Status is done or
// canceled; canceled tasks release their leases the same way.
type TaskCompletedPayload struct {
	TaskID      string     `json:"task_id"`
	Status      TaskStatus `json:"status"`
	By          string     `json:"by"`
	CompletedAt time.Time  `json:"completed_at"`
}

// AuctionOpenedPayload accompanies auction_opened.
type AuctionOpenedPayload struct {
	TaskID   string    `json:"task_id"`
	OpenedBy string    `json:"opened_by"`
	OpenedAt time.Time `json:"opened_at"`
	ClosesAt time.Time `json:"closes_at"`
}

// AuctionBidPayload accompanies auction_bid.
type AuctionBidPayload struct {
	TaskID   string    `json:"task_id"`
	Agent    string    `json:"agent"`
	Score    float64   `json:"score"`
	PostedAt time.Time `json:"posted_at"`
}

// AuctionAwardedPayload accompanies auction_awarded. An empty Winner
// means the auction closed with no usable bids and the task returned
// to open.
type AuctionAwardedPayload struct {
	TaskID string `json:"task_id"`
	Winner string `json:"winner,omitempty"`
	Bids   int    `json:"bids"`
}

// FileLockedPayload accompanies file_locked.
type FileLockedPayload struct {
	Lease Lease `json:"lease"`
}

// FileUnlockedPayload accompanies file_unlocked. Reason is one of
// released, expired, forced, task_completed.
type FileUnlockedPayload struct {
	Path   string `json:"path"`
	Holder string `json:"holder"`
	Reason string `json:"reason"`
}

// MessagePayload accompanies message.
type MessagePayload struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Thread string    `json:"thread,omitempty"`
	Body   string    `json:"body"`
	TS     time.Time `json:"ts"`
}

// ChatPayload accompanies chat. Broadcasts carry no inbox state.
type ChatPayload struct {
	From    string    `json:"from"`
	Channel string    `json:"channel,omitempty"`
	Body    string    `json:"body"`
	TS      time.Time `json:"ts"`
}

// VoteOpenedPayload accompanies vote_opened.
type VoteOpenedPayload struct {
	Vote Vote `json:"vote"`
}

// VoteCastPayload accompanies vote_cast.
type VoteCastPayload struct {
	VoteID string    `json:"vote_id"`
	Agent  string    `json:"agent"`
	Choice string    `json:"choice"`
	TS     time.Time `json:"ts"`
}

// VoteClosedPayload accompanies vote_closed.
type VoteClosedPayload struct {
	VoteID  string `json:"vote_id"`
	Passed  bool   `json:"passed"`
	Yes     int    `json:"yes"`
	No      int    `json:"no"`
	Abstain int    `json:"abstain"`
}

// SwarmStoppedPayload accompanies swarm_stopped.
type SwarmStoppedPayload struct {
	Reason string    `json:"reason,omitempty"`
	By     string    `json:"by,omitempty"`
	TS     time.Time `json:"ts"`
}

// SwarmResumedPayload accompanies swarm_resumed.
type SwarmResumedPayload struct {
	By string    `json:"by,omitempty"`
	TS time.Time `json:"ts"`
}
