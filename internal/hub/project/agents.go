package project

import (
	"time"

	"github.com/google/uuid"

	"github.com/swarmhub/swarmhub/internal/hub/names"
	"github.com/swarmhub/swarmhub/internal/hub/state"
	"github.com/swarmhub/swarmhub/internal/hub/validate"
	"github.com/swarmhub/swarmhub/internal/hub/wire"
	"github.com/swarmhub/swarmhub/internal/metrics"
)

// handleRegister creates or revives an agent. Registering the same
// agent id twice is idempotent: the second call returns the existing
// name.
func (a *Actor) handleRegister(c Caller, req *wire.Request) (any, error) {
	var p wire.RegisterParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}

	agentID := p.AgentID
	if agentID == "" {
		agentID = uuid.NewString()
	}

	role := state.AgentRole(p.Role)
	if role == "" {
		role = state.RoleExecutor
	}
	switch role {
	case state.RoleExecutor, state.RoleObserver, state.RoleOrchestrator:
	default:
		return nil, wire.Errorf(wire.CodeInvalidRequest, "unknown role %q", p.Role)
	}
	// The orchestrator role is earned through election, never claimed
	// at registration.
	if role == state.RoleOrchestrator {
		role = state.RoleExecutor
	}

	now := a.now()

	if existing := a.st.AgentByID(agentID); existing != nil {
		wasOffline := existing.Status == state.AgentOffline
		existing.ConnectionID = c.ConnID
		if p.Platform != "" {
			existing.Platform = p.Platform
		}
		existing.LastHeartbeat = now
		if wasOffline {
			if _, err := a.emit(wire.KindAgentResumed, state.AgentResumedPayload{
				Name: existing.Name, TS: now,
			}); err != nil {
				return nil, err
			}
		} else {
			existing.Status = state.AgentActive
		}
		return *existing, nil
	}

	name := p.Name
	if name != "" {
		sanitized, err := validate.SanitizeName(name)
		if err != nil {
			return nil, wire.Errorf(wire.CodeInvalidRequest, "agent name: %v", err)
		}
		if other := a.st.AgentByName(sanitized); other != nil {
			return nil, wire.Errorf(wire.CodeConflict, "agent name %q is taken", sanitized)
		}
		name = sanitized
	} else {
		name = names.Pick(agentID, func(candidate string) bool {
			return a.st.AgentByName(candidate) != nil
		})
	}

	agent := state.Agent{
		ID:            agentID,
		Name:          name,
		Platform:      p.Platform,
		Role:          role,
		Status:        state.AgentActive,
		LastHeartbeat: now,
		ConnectionID:  c.ConnID,
	}
	if _, err := a.emit(wire.KindAgentRegistered, state.AgentRegisteredPayload{Agent: agent}); err != nil {
		return nil, err
	}
	metrics.ActiveAgents.Inc()
	return agent, nil
}

// handleHeartbeat refreshes an agent's pulse. Heartbeats do not touch
// the event log unless they revive an offline agent.
func (a *Actor) handleHeartbeat(c Caller, req *wire.Request) (any, error) {
	ag, err := a.requireAgent(c)
	if err != nil {
		return nil, err
	}
	var p wire.HeartbeatParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}

	now := a.now()
	wasOffline := ag.Status == state.AgentOffline

	if p.Status != "" {
		switch status := state.AgentStatus(p.Status); status {
		case state.AgentActive, state.AgentIdle, state.AgentPaused:
			ag.Status = status
		default:
			return nil, wire.Errorf(wire.CodeInvalidRequest, "unknown status %q", p.Status)
		}
	}
	ag.LastHeartbeat = now
	if p.CurrentFile != "" {
		ag.CurrentFile = p.CurrentFile
	}
	if p.CurrentTask != "" {
		ag.CurrentTask = p.CurrentTask
	}

	if wasOffline {
		if _, err := a.emit(wire.KindAgentResumed, state.AgentResumedPayload{
			Name: ag.Name, TS: now,
		}); err != nil {
			return nil, err
		}
	}
	return map[string]any{"status": ag.Status, "ts": now}, nil
}

// handleDeregister destroys the caller's agent record. Its leases are
// left to expire on their own clock.
func (a *Actor) handleDeregister(c Caller, req *wire.Request) (any, error) {
	ag, err := a.requireAgent(c)
	if err != nil {
		return nil, err
	}
	if a.st.Orch != nil && a.st.Orch.AgentID == ag.Name {
		if _, err := a.emit(wire.KindOrchestratorChanged, state.OrchestratorChangedPayload{
			Epoch: a.st.Orch.Epoch, Reason: "resigned",
		}); err != nil {
			return nil, err
		}
	}
	if _, err := a.emit(wire.KindAgentOffline, state.AgentOfflinePayload{
		Name: ag.Name, Removed: true, TS: a.now(),
	}); err != nil {
		return nil, err
	}
	metrics.ActiveAgents.Dec()
	return map[string]any{"deregistered": ag.Name}, nil
}

// scanAgents demotes agents with stale heartbeats to offline and
// evicts agents that stayed offline past the TTL.
func (a *Actor) scanAgents(now time.Time) {
	for _, ag := range a.st.Agents {
		switch {
		case ag.Status != state.AgentOffline && now.Sub(ag.LastHeartbeat) > a.cfg.HeartbeatTimeout:
			if _, err := a.emit(wire.KindAgentOffline, state.AgentOfflinePayload{
				Name: ag.Name, TS: now,
			}); err != nil {
				return
			}
		case ag.Status == state.AgentOffline && now.Sub(ag.LastHeartbeat) > a.cfg.AgentTTL:
			if _, err := a.emit(wire.KindAgentOffline, state.AgentOfflinePayload{
				Name: ag.Name, Removed: true, TS: now,
			}); err != nil {
				return
			}
			metrics.ActiveAgents.Dec()
		}
	}
}
