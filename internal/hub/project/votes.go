package project

import (
	"sort"
	"time"

	"github.com/swarmhub/swarmhub/internal/hub/id"
	"github.com/swarmhub/swarmhub/internal/hub/state"
	"github.com/swarmhub/swarmhub/internal/hub/wire"
)

const defaultVoteDuration = 60 * time.Second

// handleVoteStart opens a quorum vote on a dangerous action. Quorum
// defaults to a majority of the currently registered non-observer
// agents; the threshold defaults to a simple majority of yes over
// yes-plus-no.
func (a *Actor) handleVoteStart(c Caller, req *wire.Request) (any, error) {
	ag, err := a.requireAgent(c)
	if err != nil {
		return nil, err
	}
	if ag.Role == state.RoleObserver {
		return nil, wire.Errorf(wire.CodeForbidden, "observers cannot open votes")
	}
	var p wire.VoteStartParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	if p.Kind == "" || p.Subject == "" {
		return nil, wire.Errorf(wire.CodeInvalidRequest, "kind and subject are required")
	}

	quorum := p.Quorum
	if quorum <= 0 {
		quorum = a.eligibleVoters()/2 + 1
	}
	threshold := p.Threshold
	if threshold <= 0 {
		threshold = 0.5
	}
	if threshold > 1 {
		return nil, wire.Errorf(wire.CodeInvalidRequest, "threshold must be in (0, 1]")
	}
	dur := time.Duration(p.DurationMS) * time.Millisecond
	if p.DurationMS <= 0 {
		dur = defaultVoteDuration
	}

	now := a.now()
	vote := state.Vote{
		ID:        id.Short("vote"),
		Subject:   p.Subject,
		Kind:      p.Kind,
		OpenedBy:  ag.Name,
		OpenedAt:  now,
		ClosesAt:  now.Add(dur),
		Quorum:    quorum,
		Threshold: threshold,
	}
	if _, err := a.emit(wire.KindVoteOpened, state.VoteOpenedPayload{Vote: vote}); err != nil {
		return nil, err
	}
	return vote, nil
}

// handleVoteCast records the caller's ballot. Re-casting replaces the
// earlier ballot. Once every eligible agent has voted the outcome
// cannot change, so the vote closes immediately.
func (a *Actor) handleVoteCast(c Caller, req *wire.Request) (any, error) {
	ag, err := a.requireAgent(c)
	if err != nil {
		return nil, err
	}
	if ag.Role == state.RoleObserver {
		return nil, wire.Errorf(wire.CodeForbidden, "observers cannot vote")
	}
	var p wire.VoteCastParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	switch p.Choice {
	case "yes", "no", "abstain":
	default:
		return nil, wire.Errorf(wire.CodeInvalidRequest, "choice must be yes, no or abstain")
	}
	vote := a.st.Votes[p.VoteID]
	if vote == nil {
		return nil, wire.Errorf(wire.CodeNotFound, "vote %q not found", p.VoteID)
	}
	if vote.Closed || !vote.ClosesAt.After(a.now()) {
		return nil, wire.Errorf(wire.CodePrecondition, "vote %q is closed", p.VoteID)
	}

	if _, err := a.emit(wire.KindVoteCast, state.VoteCastPayload{
		VoteID: vote.ID,
		Agent:  ag.Name,
		Choice: p.Choice,
		TS:     a.now(),
	}); err != nil {
		return nil, err
	}

	if len(vote.Ballots) >= a.eligibleVoters() {
		a.settleVote(vote.ID)
	}
	yes, no, abstain := vote.Tally()
	return map[string]any{
		"vote_id": vote.ID, "yes": yes, "no": no, "abstain": abstain,
		"closed": vote.Closed, "passed": vote.Passed,
	}, nil
}

// closeDueVotes settles every open vote whose deadline passed.
func (a *Actor) closeDueVotes(now time.Time) {
	var due []string
	for id, v := range a.st.Votes {
		if !v.Closed && !v.ClosesAt.After(now) {
			due = append(due, id)
		}
	}
	sort.Strings(due)
	for _, id := range due {
		a.settleVote(id)
	}
}

// settleVote closes a vote: it passes when the decisive (non-abstain)
// ballot count reaches quorum and the yes share of decisive ballots
// reaches the threshold. Abstentions are recorded but count toward
// neither quorum nor the threshold.
func (a *Actor) settleVote(voteID string) {
	v := a.st.Votes[voteID]
	if v == nil || v.Closed {
		return
	}
	yes, no, abstain := v.Tally()
	passed := false
	if yes+no >= v.Quorum && yes+no > 0 {
		passed = float64(yes)/float64(yes+no) >= v.Threshold
	}
	_, _ = a.emit(wire.KindVoteClosed, state.VoteClosedPayload{
		VoteID:  voteID,
		Passed:  passed,
		Yes:     yes,
		No:      no,
		Abstain: abstain,
	})
}

// requireVotePassed gates a dangerous action on an earlier vote: a
// request tagged with a vote id only proceeds once that vote has
// closed and passed.
func (a *Actor) requireVotePassed(voteID string) error {
	v := a.st.Votes[voteID]
	if v == nil {
		return wire.Errorf(wire.CodeNotFound, "vote %q not found", voteID)
	}
	if !v.Closed || !v.Passed {
		return wire.Errorf(wire.CodePrecondition, "vote %q has not passed", voteID)
	}
	return nil
}

// eligibleVoters counts the registered non-observer agents.
func (a *Actor) eligibleVoters() int {
	n := 0
	for _, ag := range a.st.Agents {
		if ag.Role != state.RoleObserver {
			n++
		}
	}
	return n
}
