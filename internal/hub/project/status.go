package project

import (
	"sort"

	"github.com/swarmhub/swarmhub/internal/hub/state"
	"github.com/swarmhub/swarmhub/internal/hub/wire"
)

// handleStop raises the project-wide stop flag. Any registered agent
// may pull the cord; the flag blocks all writes except heartbeats and
// resume until cleared. A stop tagged with a vote id only goes
// through once that vote has passed.
func (a *Actor) handleStop(c Caller, req *wire.Request) (any, error) {
	ag, err := a.requireAgent(c)
	if err != nil {
		return nil, err
	}
	var p wire.StopParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	if p.VoteID != "" {
		if err := a.requireVotePassed(p.VoteID); err != nil {
			return nil, err
		}
	}
	if a.st.Stop.Stopped {
		return a.st.Stop, nil
	}
	if _, err := a.emit(wire.KindSwarmStopped, state.SwarmStoppedPayload{
		Reason: p.Reason,
		By:     ag.Name,
		TS:     a.now(),
	}); err != nil {
		return nil, err
	}
	return a.st.Stop, nil
}

// handleResume clears the stop flag.
func (a *Actor) handleResume(c Caller, req *wire.Request) (any, error) {
	ag, err := a.requireAgent(c)
	if err != nil {
		return nil, err
	}
	if !a.st.Stop.Stopped {
		return a.st.Stop, nil
	}
	if _, err := a.emit(wire.KindSwarmResumed, state.SwarmResumedPayload{
		By: ag.Name,
		TS: a.now(),
	}); err != nil {
		return nil, err
	}
	return a.st.Stop, nil
}

// Status is the project overview returned by the status request and
// the HTTP status endpoint.
type Status struct {
	Project      string              `json:"project"`
	Seq          int64               `json:"seq"`
	Degraded     bool                `json:"degraded,omitempty"`
	Stop         state.StopFlag      `json:"stop"`
	Orchestrator *state.Orchestrator `json:"orchestrator,omitempty"`
	Agents       []state.Agent       `json:"agents"`
	TaskCounts   map[string]int      `json:"task_counts"`
	Leases       int                 `json:"leases"`
	OpenAuctions int                 `json:"open_auctions"`
	OpenVotes    int                 `json:"open_votes"`
}

// handleStatus reports the project overview. Available even when the
// project is stopped or degraded.
func (a *Actor) handleStatus(c Caller, req *wire.Request) (any, error) {
	return a.buildStatus(), nil
}

func (a *Actor) buildStatus() Status {
	st := Status{
		Project:    a.ID,
		Seq:        a.log.Seq(),
		Degraded:   a.degraded.Load(),
		Stop:       a.st.Stop,
		TaskCounts: make(map[string]int),
	}
	if a.st.Orch != nil {
		orch := *a.st.Orch
		st.Orchestrator = &orch
	}
	st.Agents = make([]state.Agent, 0, len(a.st.Agents))
	for _, ag := range a.st.Agents {
		st.Agents = append(st.Agents, *ag)
	}
	sort.Slice(st.Agents, func(i, j int) bool { return st.Agents[i].Name < st.Agents[j].Name })
	for _, t := range a.st.Tasks {
		st.TaskCounts[string(t.Status)]++
	}
	now := a.now()
	for path := range a.st.Leases {
		st.Leases += len(a.st.LiveLeases(path, now))
	}
	st.OpenAuctions = len(a.st.Auctions)
	for _, v := range a.st.Votes {
		if !v.Closed {
			st.OpenVotes++
		}
	}
	return st
}
