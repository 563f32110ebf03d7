// Package wire defines the JSON frames exchanged over the WebSocket
// connection: requests, responses, and events. Each WebSocket text
// frame carries exactly one JSON object.
package wire

import (
	"encoding/json"
	"fmt"
)

// Frame type discriminators.
const (
	FrameOK       = "ok"
	FrameErr      = "err"
	FrameEvent    = "event"
	FrameEventGap = "event_gap"
	FrameWelcome  = "welcome"
)

// Request types. The full set mirrors the hub operations; unknown
// types are rejected with invalid_request.
const (
	TypeRegister        = "register"
	TypeHeartbeat       = "heartbeat"
	TypeDeregister      = "deregister"
	TypeElect           = "elect"
	TypeOrchHeartbeat   = "orch_heartbeat"
	TypeResign          = "resign"
	TypeTaskCreate      = "task_create"
	TypeTaskList        = "task_list"
	TypeTaskUpdate      = "task_update"
	TypeTaskAssign      = "task_assign"
	TypeAuctionAnnounce = "auction_announce"
	TypeAuctionBid      = "auction_bid"
	TypeFileReserve     = "file_reserve"
	TypeFileRelease     = "file_release"
	TypeFileRenew       = "file_renew"
	TypeFileList        = "file_list"
	TypeFileForecast    = "file_forecast"
	TypeMessageSend     = "message_send"
	TypeMessageInbox    = "message_inbox"
	TypeBroadcast       = "broadcast"
	TypeVoteStart       = "vote_start"
	TypeVoteCast        = "vote_cast"
	TypeStop            = "stop"
	TypeResume          = "resume"
	TypeStatus          = "status"
	TypeSubscribe       = "subscribe"
	TypeReplay          = "replay"
)

// Event kinds. This is a closed set; the hub never emits a kind
// outside it.
const (
	KindAgentRegistered     = "agent_registered"
	KindAgentOffline        = "agent_offline"
	KindAgentResumed        = "agent_resumed"
	KindOrchestratorChanged = "orchestrator_changed"
	KindTaskCreated         = "task_created"
	KindTaskUpdated         = "task_updated"
	KindTaskClaimed         = "task_claimed"
	KindTaskCompleted       = "task_completed"
	KindTaskAssigned        = "task_assigned"
	KindAuctionOpened       = "auction_opened"
	KindAuctionBid          = "auction_bid"
	KindAuctionAwarded      = "auction_awarded"
	KindFileLocked          = "file_locked"
	KindFileUnlocked        = "file_unlocked"
	KindMessage             = "message"
	KindChat                = "chat"
	KindVoteOpened          = "vote_opened"
	KindVoteCast            = "vote_cast"
	KindVoteClosed          = "vote_closed"
	KindSwarmStopped        = "swarm_stopped"
	KindSwarmResumed        = "swarm_resumed"
	KindEventGap            = "event_gap"
)

// Kinds returns the closed set of event kinds.
func Kinds() []string {
	return []string{
		KindAgentRegistered, KindAgentOffline, KindAgentResumed,
		KindOrchestratorChanged,
		KindTaskCreated, KindTaskUpdated, KindTaskClaimed,
		KindTaskCompleted, KindTaskAssigned,
		KindAuctionOpened, KindAuctionBid, KindAuctionAwarded,
		KindFileLocked, KindFileUnlocked,
		KindMessage, KindChat,
		KindVoteOpened, KindVoteCast, KindVoteClosed,
		KindSwarmStopped, KindSwarmResumed, KindEventGap,
	}
}

// Request is a decoded request frame. Params holds the raw frame so
// per-type parameter structs can be unmarshalled from the same object
// (parameters are flattened into the frame, not nested).
type Request struct {
	Type   string
	ID     string
	Params json.RawMessage
}

// DecodeRequest parses one request frame.
func DecodeRequest(data []byte) (*Request, error) {
	var head struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, Errorf(CodeInvalidRequest, "malformed frame: %v", err)
	}
	if head.Type == "" {
		return nil, Errorf(CodeInvalidRequest, "missing type")
	}
	return &Request{Type: head.Type, ID: head.ID, Params: json.RawMessage(data)}, nil
}

// Bind unmarshals the request parameters into v.
func (r *Request) Bind(v any) error {
	if err := json.Unmarshal(r.Params, v); err != nil {
		return Errorf(CodeInvalidRequest, "bad parameters for %s: %v", r.Type, err)
	}
	return nil
}

// Response is a request response frame: {"type":"ok"|"err","id":...}.
type Response struct {
	Type   string     `json:"type"`
	ID     string     `json:"id,omitempty"`
	Result any        `json:"result,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries the stable code and a human-readable message.
type ErrorBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// OK builds a success response.
func OK(id string, result any) *Response {
	return &Response{Type: FrameOK, ID: id, Result: result}
}

// Err builds an error response from any error.
func Err(id string, err error) *Response {
	return &Response{Type: FrameErr, ID: id, Error: &ErrorBody{
		Code:    CodeOf(err),
		Message: err.Error(),
	}}
}

// Event is one fact in the per-project append-only log. Seq is dense
// and strictly increasing per project.
type Event struct {
	Type    string          `json:"type"` // always "event" on the wire
	Seq     int64           `json:"seq"`
	Kind    string          `json:"kind"`
	TS      string          `json:"ts"` // ISO-8601
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Gap is sent in place of dropped events when a connection's outbound
// queue overflows. Clients recover with a replay request.
type Gap struct {
	Type             string `json:"type"` // always "event_gap"
	LastDeliveredSeq int64  `json:"last_delivered_seq"`
}

// Welcome is the first frame on every accepted connection.
type Welcome struct {
	Type    string `json:"type"` // always "welcome"
	Project string `json:"project"`
	Agent   string `json:"agent,omitempty"`
	Seq     int64  `json:"seq"`
}

// Encode marshals a frame to a single JSON text frame.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}
