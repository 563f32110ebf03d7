package project

import (
	"github.com/swarmhub/swarmhub/internal/hub/state"
	"github.com/swarmhub/swarmhub/internal/hub/wire"
)

// handleElect seats the caller as orchestrator if the seat is empty
// or the incumbent's heartbeat has gone stale. The epoch advances on
// every successful (re)election and fences all later orchestrator
// writes.
func (a *Actor) handleElect(c Caller, req *wire.Request) (any, error) {
	ag, err := a.requireAgent(c)
	if err != nil {
		return nil, err
	}
	if ag.Role == state.RoleObserver {
		return nil, wire.Errorf(wire.CodeForbidden, "observers cannot stand for election")
	}

	now := a.now()
	if cur := a.st.Orch; cur != nil {
		if cur.AgentID == ag.Name {
			// Already seated; idempotent.
			return *cur, nil
		}
		if now.Sub(cur.LastHeartbeat) <= a.cfg.OrchTimeout {
			return nil, wire.Errorf(wire.CodeConflict, "orchestrator %q is live (epoch %d)", cur.AgentID, cur.Epoch)
		}
	}

	epoch := a.st.LastEpoch + 1
	if _, err := a.emit(wire.KindOrchestratorChanged, state.OrchestratorChangedPayload{
		AgentID:   ag.Name,
		Epoch:     epoch,
		ElectedAt: now,
		Reason:    "elected",
	}); err != nil {
		return nil, err
	}
	return *a.st.Orch, nil
}

// handleOrchHeartbeat refreshes the orchestrator's own clock. A
// mismatched epoch is always rejected so a deposed leader learns it
// was replaced.
func (a *Actor) handleOrchHeartbeat(c Caller, req *wire.Request) (any, error) {
	if _, err := a.requireAgent(c); err != nil {
		return nil, err
	}
	var p wire.OrchHeartbeatParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	if err := a.requireEpoch(c, p.Epoch); err != nil {
		return nil, err
	}
	a.st.Orch.LastHeartbeat = a.now()
	return map[string]any{"epoch": a.st.Orch.Epoch}, nil
}

// handleResign vacates the orchestrator seat without advancing the
// epoch; the next election will.
func (a *Actor) handleResign(c Caller, req *wire.Request) (any, error) {
	if _, err := a.requireAgent(c); err != nil {
		return nil, err
	}
	var p wire.ResignParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	if err := a.requireEpoch(c, p.Epoch); err != nil {
		return nil, err
	}
	if _, err := a.emit(wire.KindOrchestratorChanged, state.OrchestratorChangedPayload{
		Epoch:  a.st.Orch.Epoch,
		Reason: "resigned",
	}); err != nil {
		return nil, err
	}
	return map[string]any{"resigned": true}, nil
}
