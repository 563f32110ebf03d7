package project

import (
	"sort"
	"time"

	"github.com/swarmhub/swarmhub/internal/hub/state"
	"github.com/swarmhub/swarmhub/internal/hub/validate"
	"github.com/swarmhub/swarmhub/internal/hub/wire"
	"github.com/swarmhub/swarmhub/internal/metrics"
)

// defaultLeaseTTL applies when a reserve carries no ttl_ms; it is
// still clamped to the configured bounds.
const defaultLeaseTTL = 5 * time.Minute

// handleFileReserve grants an exclusive (or shared) lease on a
// repository path. Exclusivity is per exact normalized path; prefix
// containment grants nothing.
func (a *Actor) handleFileReserve(c Caller, req *wire.Request) (any, error) {
	ag, err := a.requireAgent(c)
	if err != nil {
		return nil, err
	}
	var p wire.FileReserveParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	path, err := validate.RepoPath(p.Path)
	if err != nil {
		return nil, wire.Errorf(wire.CodeInvalidPath, "%v", err)
	}
	exclusive := true
	if p.Exclusive != nil {
		exclusive = *p.Exclusive
	}
	if p.TaskID != "" {
		if a.st.Tasks[p.TaskID] == nil {
			return nil, wire.Errorf(wire.CodeNotFound, "task %q not found", p.TaskID)
		}
	}

	now := a.now()
	for _, l := range a.st.LiveLeases(path, now) {
		if l.Holder == ag.Name {
			continue // re-reserving one's own lease replaces it
		}
		if exclusive || l.Exclusive {
			return nil, wire.Errorf(wire.CodeConflict, "%s is leased by %q until %s", path, l.Holder, l.ExpiresAt.UTC().Format(time.RFC3339))
		}
	}

	ttl := time.Duration(p.TTLMS) * time.Millisecond
	if p.TTLMS <= 0 {
		ttl = defaultLeaseTTL
	}
	ttl = clampDur(ttl, a.cfg.MinLeaseTTL, a.cfg.MaxLeaseTTL)

	hadLease := a.st.LeaseBy(path, ag.Name) != nil
	lease := state.Lease{
		Path:       path,
		Holder:     ag.Name,
		Exclusive:  exclusive,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
		TaskID:     p.TaskID,
	}
	if _, err := a.emit(wire.KindFileLocked, state.FileLockedPayload{Lease: lease}); err != nil {
		return nil, err
	}
	if !hadLease {
		metrics.ActiveLeases.Inc()
	}
	return lease, nil
}

// handleFileRelease removes a lease. Only the holder may release it,
// except for the orchestrator carrying the current epoch.
func (a *Actor) handleFileRelease(c Caller, req *wire.Request) (any, error) {
	ag, err := a.requireAgent(c)
	if err != nil {
		return nil, err
	}
	var p wire.FileReleaseParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	path, err := validate.RepoPath(p.Path)
	if err != nil {
		return nil, wire.Errorf(wire.CodeInvalidPath, "%v", err)
	}

	leases := a.st.Leases[path]
	if len(leases) == 0 {
		return nil, wire.Errorf(wire.CodeNotFound, "no lease on %s", path)
	}

	if own := a.st.LeaseBy(path, ag.Name); own != nil {
		if _, err := a.emit(wire.KindFileUnlocked, state.FileUnlockedPayload{
			Path: path, Holder: ag.Name, Reason: "released",
		}); err != nil {
			return nil, err
		}
		metrics.ActiveLeases.Dec()
		return map[string]any{"released": path}, nil
	}

	// Force-release of another agent's lease is an orchestrator-only
	// write and must carry the current epoch. When tagged with a vote
	// id, the vote must have passed first.
	if err := a.requireEpoch(c, p.Epoch); err != nil {
		if wire.CodeOf(err) == wire.CodePrecondition {
			return nil, wire.Errorf(wire.CodeForbidden, "%s is held by another agent", path)
		}
		return nil, err
	}
	if p.VoteID != "" {
		if err := a.requireVotePassed(p.VoteID); err != nil {
			return nil, err
		}
	}
	released := 0
	for _, l := range append([]*state.Lease(nil), leases...) {
		if _, err := a.emit(wire.KindFileUnlocked, state.FileUnlockedPayload{
			Path: path, Holder: l.Holder, Reason: "forced",
		}); err != nil {
			return nil, err
		}
		released++
	}
	metrics.ActiveLeases.Sub(float64(released))
	return map[string]any{"released": path, "forced": released}, nil
}

// handleFileRenew extends a lease the caller still holds.
func (a *Actor) handleFileRenew(c Caller, req *wire.Request) (any, error) {
	ag, err := a.requireAgent(c)
	if err != nil {
		return nil, err
	}
	var p wire.FileRenewParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	path, err := validate.RepoPath(p.Path)
	if err != nil {
		return nil, wire.Errorf(wire.CodeInvalidPath, "%v", err)
	}
	own := a.st.LeaseBy(path, ag.Name)
	if own == nil {
		if len(a.st.Leases[path]) == 0 {
			return nil, wire.Errorf(wire.CodeNotFound, "no lease on %s", path)
		}
		return nil, wire.Errorf(wire.CodeForbidden, "%s is held by another agent", path)
	}

	now := a.now()
	ttl := time.Duration(p.TTLMS) * time.Millisecond
	if p.TTLMS <= 0 {
		ttl = defaultLeaseTTL
	}
	ttl = clampDur(ttl, a.cfg.MinLeaseTTL, a.cfg.MaxLeaseTTL)

	renewed := *own
	renewed.ExpiresAt = now.Add(ttl)
	if _, err := a.emit(wire.KindFileLocked, state.FileLockedPayload{Lease: renewed}); err != nil {
		return nil, err
	}
	return renewed, nil
}

// handleFileList returns all live leases, sorted by path.
func (a *Actor) handleFileList(c Caller, req *wire.Request) (any, error) {
	now := a.now()
	out := make([]state.Lease, 0)
	for path := range a.st.Leases {
		for _, l := range a.st.LiveLeases(path, now) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Holder < out[j].Holder
	})
	return map[string]any{"leases": out}, nil
}

// Forecast is the per-path answer of a conflict forecast: who holds
// the path now, when that hold lapses, and which in-progress tasks
// declare it.
type Forecast struct {
	Path         string   `json:"path"`
	Holder       string   `json:"holder,omitempty"`
	Exclusive    bool     `json:"exclusive,omitempty"`
	ExpiresInMS  int64    `json:"expires_in_ms,omitempty"`
	DeclaredBy   []string `json:"declared_by,omitempty"` // in_progress task ids
	Invalid      bool     `json:"invalid,omitempty"`
	InvalidError string   `json:"invalid_error,omitempty"`
}

// handleFileForecast reports likely conflicts for a set of paths.
// Purely informational; takes no leases.
func (a *Actor) handleFileForecast(c Caller, req *wire.Request) (any, error) {
	var p wire.FileForecastParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	now := a.now()
	out := make([]Forecast, 0, len(p.Files))
	for _, raw := range p.Files {
		path, err := validate.RepoPath(raw)
		if err != nil {
			out = append(out, Forecast{Path: raw, Invalid: true, InvalidError: err.Error()})
			continue
		}
		f := Forecast{Path: path}
		if l := a.st.ExclusiveHolder(path, now); l != nil {
			f.Holder = l.Holder
			f.Exclusive = true
			f.ExpiresInMS = int64(l.ExpiresAt.Sub(now) / time.Millisecond)
		}
		for _, t := range a.st.Tasks {
			if t.Status != state.TaskInProgress {
				continue
			}
			for _, tf := range t.Files {
				if tf == path {
					f.DeclaredBy = append(f.DeclaredBy, t.ID)
					break
				}
			}
		}
		sort.Strings(f.DeclaredBy)
		out = append(out, f)
	}
	return map[string]any{"forecast": out}, nil
}

// reapLeases expires leases whose clock ran out.
func (a *Actor) reapLeases(now time.Time) {
	type expired struct{ path, holder string }
	var due []expired
	for path, leases := range a.st.Leases {
		for _, l := range leases {
			if !l.ExpiresAt.After(now) {
				due = append(due, expired{path, l.Holder})
			}
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].path != due[j].path {
			return due[i].path < due[j].path
		}
		return due[i].holder < due[j].holder
	})
	for _, e := range due {
		if _, err := a.emit(wire.KindFileUnlocked, state.FileUnlockedPayload{
			Path: e.path, Holder: e.holder, Reason: "expired",
		}); err != nil {
			return
		}
		metrics.ActiveLeases.Dec()
	}
}
