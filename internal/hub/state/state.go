package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/swarmhub/swarmhub/internal/hub/wire"
)

// DefaultInboxCap is the per-agent inbox size before FIFO eviction.
const DefaultInboxCap = 1000

// State is the in-memory projection of one project. It is not safe
// for concurrent use: the owning Project actor is the only writer and
// reader, and external consumers only ever see copies.
type State struct {
	Agents    map[string]*Agent // keyed by agent name
	Tasks     map[string]*Task
	Leases    map[string][]*Lease // keyed by normalized path
	Orch      *Orchestrator
	LastEpoch int64 // strictly increasing across the project lifetime
	Auctions  map[string]*Auction // keyed by task id
	Votes     map[string]*Vote
	Inboxes   map[string][]Message
	Stop      StopFlag
	InboxCap  int

	byID map[string]string // agent id -> name
}

// New creates an empty projection.
func New() *State {
	return &State{
		Agents:   make(map[string]*Agent),
		Tasks:    make(map[string]*Task),
		Leases:   make(map[string][]*Lease),
		Auctions: make(map[string]*Auction),
		Votes:    make(map[string]*Vote),
		Inboxes:  make(map[string][]Message),
		InboxCap: DefaultInboxCap,
		byID:     make(map[string]string),
	}
}

// AgentByName returns the agent with the given name, or nil.
func (s *State) AgentByName(name string) *Agent {
	return s.Agents[name]
}

// AgentByID returns the agent with the given id, or nil.
func (s *State) AgentByID(id string) *Agent {
	if name, ok := s.byID[id]; ok {
		return s.Agents[name]
	}
	return nil
}

// LiveLeases returns the unexpired leases on path.
func (s *State) LiveLeases(path string, now time.Time) []*Lease {
	var live []*Lease
	for _, l := range s.Leases[path] {
		if l.ExpiresAt.After(now) {
			live = append(live, l)
		}
	}
	return live
}

// ExclusiveHolder returns the unexpired exclusive lease on path, or nil.
func (s *State) ExclusiveHolder(path string, now time.Time) *Lease {
	for _, l := range s.Leases[path] {
		if l.Exclusive && l.ExpiresAt.After(now) {
			return l
		}
	}
	return nil
}

// LeaseBy returns the lease on path held by the given agent, or nil.
func (s *State) LeaseBy(path, holder string) *Lease {
	for _, l := range s.Leases[path] {
		if l.Holder == holder {
			return l
		}
	}
	return nil
}

// TaskReady reports whether a task is open with every dependency done.
func (s *State) TaskReady(t *Task) bool {
	if t.Status != TaskOpen {
		return false
	}
	return s.DepsDone(t)
}

// DepsDone reports whether every dependency of t is done.
func (s *State) DepsDone(t *Task) bool {
	for _, dep := range t.DependsOn {
		d, ok := s.Tasks[dep]
		if !ok || d.Status != TaskDone {
			return false
		}
	}
	return true
}

// WouldCycle reports whether adding the given depends_on set to task
// id would introduce a cycle in the dependency graph. DFS over the
// changed edges only.
func (s *State) WouldCycle(id string, dependsOn []string) bool {
	seen := make(map[string]bool)
	var visit func(cur string) bool
	visit = func(cur string) bool {
		if cur == id {
			return true
		}
		if seen[cur] {
			return false
		}
		seen[cur] = true
		if t, ok := s.Tasks[cur]; ok {
			for _, dep := range t.DependsOn {
				if visit(dep) {
					return true
				}
			}
		}
		return false
	}
	for _, dep := range dependsOn {
		if visit(dep) {
			return true
		}
	}
	return false
}

// Apply projects one event onto the state. Live mutations and replay
// from disk share this path, so applying must never fail for events
// the hub itself produced.
func (s *State) Apply(ev *wire.Event) error {
	switch ev.Kind {
	case wire.KindAgentRegistered:
		var p AgentRegisteredPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		a := p.Agent
		s.Agents[a.Name] = &a
		s.byID[a.ID] = a.Name

	case wire.KindAgentOffline:
		var p AgentOfflinePayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		a := s.Agents[p.Name]
		if a == nil {
			return nil
		}
		if p.Removed {
			delete(s.byID, a.ID)
			delete(s.Agents, p.Name)
			return nil
		}
		a.Status = AgentOffline
		a.ConnectionID = ""

	case wire.KindAgentResumed:
		var p AgentResumedPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		if a := s.Agents[p.Name]; a != nil {
			a.Status = AgentActive
			a.LastHeartbeat = p.TS
		}

	case wire.KindOrchestratorChanged:
		var p OrchestratorChangedPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		if s.Orch != nil {
			if prev := s.Agents[s.Orch.AgentID]; prev != nil && prev.Role == RoleOrchestrator {
				prev.Role = RoleExecutor
			}
		}
		s.LastEpoch = p.Epoch
		if p.AgentID == "" {
			s.Orch = nil
			return nil
		}
		s.Orch = &Orchestrator{
			AgentID:       p.AgentID,
			Epoch:         p.Epoch,
			ElectedAt:     p.ElectedAt,
			LastHeartbeat: p.ElectedAt,
		}
		if a := s.Agents[p.AgentID]; a != nil {
			a.Role = RoleOrchestrator
		}

	case wire.KindTaskCreated:
		var p TaskCreatedPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		t := p.Task
		s.Tasks[t.ID] = &t

	case wire.KindTaskUpdated:
		var p TaskUpdatedPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		t := p.Task
		s.Tasks[t.ID] = &t

	case wire.KindTaskAssigned, wire.KindTaskClaimed:
		var p TaskAssignedPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		if t := s.Tasks[p.TaskID]; t != nil {
			t.Assignee = p.Agent
			t.Status = TaskInProgress
			claimed := p.ClaimedAt
			t.ClaimedAt = &claimed
		}

	case wire.KindTaskCompleted:
		var p TaskCompletedPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		if t := s.Tasks[p.TaskID]; t != nil {
			t.Status = p.Status
			t.Assignee = ""
			done := p.CompletedAt
			t.CompletedAt = &done
		}

	case wire.KindAuctionOpened:
		var p AuctionOpenedPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		s.Auctions[p.TaskID] = &Auction{
			TaskID:   p.TaskID,
			OpenedAt: p.OpenedAt,
			ClosesAt: p.ClosesAt,
		}
		if t := s.Tasks[p.TaskID]; t != nil {
			t.Status = TaskAuctioning
		}

	case wire.KindAuctionBid:
		var p AuctionBidPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		a := s.Auctions[p.TaskID]
		if a == nil {
			return nil
		}
		bid := Bid{Agent: p.Agent, Score: p.Score, PostedAt: p.PostedAt}
		replaced := false
		for i := range a.Bids {
			if a.Bids[i].Agent == p.Agent {
				a.Bids[i] = bid
				replaced = true
				break
			}
		}
		if !replaced {
			a.Bids = append(a.Bids, bid)
		}

	case wire.KindAuctionAwarded:
		var p AuctionAwardedPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		delete(s.Auctions, p.TaskID)
		if p.Winner == "" {
			if t := s.Tasks[p.TaskID]; t != nil && t.Status == TaskAuctioning {
				t.Status = TaskOpen
			}
		}
		// A winning award is followed by a task_assigned event that
		// carries the assignment itself.

	case wire.KindFileLocked:
		var p FileLockedPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		l := p.Lease
		s.removeLease(l.Path, l.Holder)
		s.Leases[l.Path] = append(s.Leases[l.Path], &l)

	case wire.KindFileUnlocked:
		var p FileUnlockedPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		s.removeLease(p.Path, p.Holder)

	case wire.KindMessage:
		var p MessagePayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		box := append(s.Inboxes[p.To], Message{
			Seq:    ev.Seq,
			From:   p.From,
			To:     p.To,
			Thread: p.Thread,
			Body:   p.Body,
			TS:     p.TS,
		})
		if cap := s.InboxCap; cap > 0 && len(box) > cap {
			box = box[len(box)-cap:]
		}
		s.Inboxes[p.To] = box

	case wire.KindChat:
		// Broadcasts carry no inbox state.

	case wire.KindVoteOpened:
		var p VoteOpenedPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		v := p.Vote
		if v.Ballots == nil {
			v.Ballots = make(map[string]Ballot)
		}
		s.Votes[v.ID] = &v

	case wire.KindVoteCast:
		var p VoteCastPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		if v := s.Votes[p.VoteID]; v != nil {
			v.Ballots[p.Agent] = Ballot{Choice: p.Choice, TS: p.TS}
		}

	case wire.KindVoteClosed:
		var p VoteClosedPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		if v := s.Votes[p.VoteID]; v != nil {
			v.Closed = true
			v.Passed = p.Passed
		}

	case wire.KindSwarmStopped:
		var p SwarmStoppedPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		s.Stop = StopFlag{Stopped: true, Reason: p.Reason, By: p.By, TS: p.TS}

	case wire.KindSwarmResumed:
		var p SwarmResumedPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		s.Stop = StopFlag{Stopped: false, By: p.By, TS: p.TS}

	default:
		return fmt.Errorf("apply: unknown event kind %q", ev.Kind)
	}
	return nil
}

func (s *State) removeLease(path, holder string) {
	leases := s.Leases[path]
	for i, l := range leases {
		if l.Holder == holder {
			s.Leases[path] = append(leases[:i], leases[i+1:]...)
			break
		}
	}
	if len(s.Leases[path]) == 0 {
		delete(s.Leases, path)
	}
}

func decode(ev *wire.Event, v any) error {
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		return fmt.Errorf("apply %s (seq %d): %w", ev.Kind, ev.Seq, err)
	}
	return nil
}
