package wire

// Per-request parameter structs. Fields are flattened into the request
// frame next to "type" and "id". The agent name is taken from the
// connection identity, not from the frame, except where a request acts
// on behalf of another agent (orchestrator operations).

type RegisterParams struct {
	AgentID  string `json:"agent_id"`
	Name     string `json:"name,omitempty"`
	Platform string `json:"platform,omitempty"`
	Role     string `json:"role,omitempty"`
}

type HeartbeatParams struct {
	Status      string `json:"status,omitempty"`
	CurrentFile string `json:"current_file,omitempty"`
	CurrentTask string `json:"current_task,omitempty"`
}

type OrchHeartbeatParams struct {
	Epoch int64 `json:"epoch"`
}

type ResignParams struct {
	Epoch int64 `json:"epoch"`
}

type TaskCreateParams struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Files       []string `json:"files,omitempty"`
	ExternalRef string   `json:"external_ref,omitempty"`
}

type TaskListParams struct {
	Status string `json:"status,omitempty"`
}

type TaskUpdateParams struct {
	TaskID      string   `json:"task_id"`
	Status      string   `json:"status,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Files       []string `json:"files,omitempty"`
	Epoch       int64    `json:"epoch,omitempty"`
}

type TaskAssignParams struct {
	TaskID string `json:"task_id"`
	Agent  string `json:"agent"`
	Epoch  int64  `json:"epoch,omitempty"`
}

type AuctionAnnounceParams struct {
	TaskID     string `json:"task_id"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

type AuctionBidParams struct {
	TaskID string  `json:"task_id"`
	Score  float64 `json:"score"`
}

type FileReserveParams struct {
	Path      string `json:"path"`
	TTLMS     int64  `json:"ttl_ms,omitempty"`
	Exclusive *bool  `json:"exclusive,omitempty"` // default true
	TaskID    string `json:"task_id,omitempty"`
}

type FileReleaseParams struct {
	Path   string `json:"path"`
	Epoch  int64  `json:"epoch,omitempty"`   // set for orchestrator force-release
	VoteID string `json:"vote_id,omitempty"` // passed vote backing a force-release
}

type FileRenewParams struct {
	Path  string `json:"path"`
	TTLMS int64  `json:"ttl_ms,omitempty"`
}

type FileForecastParams struct {
	Files []string `json:"files"`
}

type MessageSendParams struct {
	To     string `json:"to"`
	Thread string `json:"thread,omitempty"`
	Body   string `json:"body"`
}

type MessageInboxParams struct {
	Since int64 `json:"since,omitempty"`
}

type BroadcastParams struct {
	Channel string `json:"channel,omitempty"`
	Body    string `json:"body"`
}

type VoteStartParams struct {
	Kind       string  `json:"kind"`
	Subject    string  `json:"subject"`
	Quorum     int     `json:"quorum,omitempty"`
	Threshold  float64 `json:"threshold,omitempty"`
	DurationMS int64   `json:"duration_ms,omitempty"`
}

type VoteCastParams struct {
	VoteID string `json:"vote_id"`
	Choice string `json:"choice"`
}

type StopParams struct {
	Reason string `json:"reason,omitempty"`
	VoteID string `json:"vote_id,omitempty"` // passed vote authorizing the stop
}

type SubscribeParams struct {
	Kinds []string `json:"kinds"`
}

type ReplayParams struct {
	SinceSeq int64 `json:"since_seq"`
	Max      int   `json:"max,omitempty"`
}
