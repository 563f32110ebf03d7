package project

import (
	"sort"
	"time"

	"github.com/swarmhub/swarmhub/internal/hub/state"
	"github.com/swarmhub/swarmhub/internal/hub/wire"
)

// handleAuctionAnnounce opens a bidding round for a ready, unassigned
// task. Any registered non-observer agent may announce; the round
// closes after the requested duration, or the configured default.
func (a *Actor) handleAuctionAnnounce(c Caller, req *wire.Request) (any, error) {
	ag, err := a.requireAgent(c)
	if err != nil {
		return nil, err
	}
	if ag.Role == state.RoleObserver {
		return nil, wire.Errorf(wire.CodeForbidden, "observers cannot open auctions")
	}
	var p wire.AuctionAnnounceParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	task := a.st.Tasks[p.TaskID]
	if task == nil {
		return nil, wire.Errorf(wire.CodeNotFound, "task %q not found", p.TaskID)
	}
	if task.Status == state.TaskAuctioning {
		return nil, wire.Errorf(wire.CodePrecondition, "task %q is already up for auction", task.ID)
	}
	if !a.st.TaskReady(task) {
		return nil, wire.Errorf(wire.CodePrecondition, "task %q is not ready", task.ID)
	}

	dur := time.Duration(p.DurationMS) * time.Millisecond
	if p.DurationMS <= 0 {
		dur = a.cfg.AuctionDefault
	}
	now := a.now()
	if _, err := a.emit(wire.KindAuctionOpened, state.AuctionOpenedPayload{
		TaskID:   task.ID,
		OpenedBy: ag.Name,
		OpenedAt: now,
		ClosesAt: now.Add(dur),
	}); err != nil {
		return nil, err
	}
	return *a.st.Auctions[task.ID], nil
}

// handleAuctionBid records (or replaces) the caller's bid. Scores are
// clamped to [0, 1]; a later bid from the same agent overwrites the
// earlier one but keeps the new posting time.
func (a *Actor) handleAuctionBid(c Caller, req *wire.Request) (any, error) {
	ag, err := a.requireAgent(c)
	if err != nil {
		return nil, err
	}
	if ag.Role == state.RoleObserver {
		return nil, wire.Errorf(wire.CodeForbidden, "observers cannot bid")
	}
	var p wire.AuctionBidParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	auc := a.st.Auctions[p.TaskID]
	if auc == nil {
		if a.st.Tasks[p.TaskID] == nil {
			return nil, wire.Errorf(wire.CodeNotFound, "task %q not found", p.TaskID)
		}
		return nil, wire.Errorf(wire.CodePrecondition, "no open auction for task %q", p.TaskID)
	}
	now := a.now()
	if !auc.ClosesAt.After(now) {
		return nil, wire.Errorf(wire.CodePrecondition, "auction for task %q has closed", p.TaskID)
	}

	score := p.Score
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	if _, err := a.emit(wire.KindAuctionBid, state.AuctionBidPayload{
		TaskID:   p.TaskID,
		Agent:    ag.Name,
		Score:    score,
		PostedAt: now,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"task_id": p.TaskID, "score": score, "bids": len(auc.Bids)}, nil
}

// closeDueAuctions settles every auction whose deadline passed.
func (a *Actor) closeDueAuctions(now time.Time) {
	var due []string
	for id, auc := range a.st.Auctions {
		if !auc.ClosesAt.After(now) {
			due = append(due, id)
		}
	}
	sort.Strings(due)
	for _, id := range due {
		a.settleAuction(id)
	}
}

// settleAuction picks a winner among the bids: highest score, then
// earliest posted bid, then lexically smallest agent name. Bids from
// agents that went offline after bidding still count. A round with no
// bids, or whose task is no longer auctionable, returns the task to
// open with an empty winner.
func (a *Actor) settleAuction(taskID string) {
	auc := a.st.Auctions[taskID]
	if auc == nil {
		return
	}
	task := a.st.Tasks[taskID]

	winner := ""
	if task != nil && task.Status == state.TaskAuctioning && a.st.DepsDone(task) {
		winner = pickWinner(auc.Bids)
	}
	bids := len(auc.Bids)

	if _, err := a.emit(wire.KindAuctionAwarded, state.AuctionAwardedPayload{
		TaskID: taskID,
		Winner: winner,
		Bids:   bids,
	}); err != nil {
		return
	}
	if winner == "" {
		return
	}
	_, _ = a.emit(wire.KindTaskAssigned, state.TaskAssignedPayload{
		TaskID:    taskID,
		Agent:     winner,
		ClaimedAt: a.now(),
	})
}

// awardAuction closes an open auction early with an orchestrator-chosen
// winner, bypassing the bid ranking.
func (a *Actor) awardAuction(task *state.Task, winner string) (any, error) {
	auc := a.st.Auctions[task.ID]
	bids := 0
	if auc != nil {
		bids = len(auc.Bids)
	}
	if _, err := a.emit(wire.KindAuctionAwarded, state.AuctionAwardedPayload{
		TaskID: task.ID,
		Winner: winner,
		Bids:   bids,
	}); err != nil {
		return nil, err
	}
	if _, err := a.emit(wire.KindTaskAssigned, state.TaskAssignedPayload{
		TaskID:    task.ID,
		Agent:     winner,
		ClaimedAt: a.now(),
	}); err != nil {
		return nil, err
	}
	return *task, nil
}

func pickWinner(bids []state.Bid) string {
	best := -1
	for i, b := range bids {
		if best < 0 {
			best = i
			continue
		}
		w := bids[best]
		switch {
		case b.Score != w.Score:
			if b.Score > w.Score {
				best = i
			}
		case !b.PostedAt.Equal(w.PostedAt):
			if b.PostedAt.Before(w.PostedAt) {
				best = i
			}
		case b.Agent < w.Agent:
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return bids[best].Agent
}
