package state

import (
	"sort"
	"time"
)

// Snapshot is the full projection of a project at a sequence
// watermark. It is what gets written to snapshot.json and what the
// read-only HTTP surface serves.
type Snapshot struct {
	Seq       int64         `json:"seq"`
	TakenAt   time.Time     `json:"taken_at"`
	LastEpoch int64         `json:"last_epoch"`
	Agents    []Agent       `json:"agents,omitempty"`
	Tasks     []Task        `json:"tasks,omitempty"`
	Leases    []Lease       `json:"leases,omitempty"`
	Orch      *Orchestrator `json:"orchestrator,omitempty"`
	Auctions  []Auction     `json:"auctions,omitempty"`
	Votes     []Vote        `json:"votes,omitempty"`
	Inboxes   map[string][]Message `json:"inboxes,omitempty"`
	Stop      StopFlag      `json:"stop"`
}

// Snapshot copies the state into a Snapshot at the given watermark.
// Slices are sorted by key so repeated snapshots of identical state
// are byte-identical.
func (s *State) Snapshot(seq int64, now time.Time) *Snapshot {
	snap := &Snapshot{
		Seq:       seq,
		TakenAt:   now.UTC(),
		LastEpoch: s.LastEpoch,
		Stop:      s.Stop,
	}
	for _, a := range s.Agents {
		snap.Agents = append(snap.Agents, *a)
	}
	sort.Slice(snap.Agents, func(i, j int) bool { return snap.Agents[i].Name < snap.Agents[j].Name })
	for _, t := range s.Tasks {
		cp := *t
		cp.DependsOn = append([]string(nil), t.DependsOn...)
		cp.Files = append([]string(nil), t.Files...)
		snap.Tasks = append(snap.Tasks, cp)
	}
	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].ID < snap.Tasks[j].ID })
	for _, leases := range s.Leases {
		for _, l := range leases {
			snap.Leases = append(snap.Leases, *l)
		}
	}
	sort.Slice(snap.Leases, func(i, j int) bool {
		if snap.Leases[i].Path != snap.Leases[j].Path {
			return snap.Leases[i].Path < snap.Leases[j].Path
		}
		return snap.Leases[i].Holder < snap.Leases[j].Holder
	})
	if s.Orch != nil {
		cp := *s.Orch
		snap.Orch = &cp
	}
	for _, a := range s.Auctions {
		cp := *a
		cp.Bids = append([]Bid(nil), a.Bids...)
		snap.Auctions = append(snap.Auctions, cp)
	}
	sort.Slice(snap.Auctions, func(i, j int) bool { return snap.Auctions[i].TaskID < snap.Auctions[j].TaskID })
	for _, v := range s.Votes {
		cp := *v
		cp.Ballots = make(map[string]Ballot, len(v.Ballots))
		for k, b := range v.Ballots {
			cp.Ballots[k] = b
		}
		snap.Votes = append(snap.Votes, cp)
	}
	sort.Slice(snap.Votes, func(i, j int) bool { return snap.Votes[i].ID < snap.Votes[j].ID })
	if len(s.Inboxes) > 0 {
		snap.Inboxes = make(map[string][]Message, len(s.Inboxes))
		for name, box := range s.Inboxes {
			snap.Inboxes[name] = append([]Message(nil), box...)
		}
	}
	return snap
}

// FromSnapshot rebuilds a projection from a snapshot. Trailing events
// with seq greater than the snapshot watermark are applied on top by
// the caller.
func FromSnapshot(snap *Snapshot) *State {
	s := New()
	if snap == nil {
		return s
	}
	s.LastEpoch = snap.LastEpoch
	s.Stop = snap.Stop
	for i := range snap.Agents {
		a := snap.Agents[i]
		s.Agents[a.Name] = &a
		s.byID[a.ID] = a.Name
	}
	for i := range snap.Tasks {
		t := snap.Tasks[i]
		s.Tasks[t.ID] = &t
	}
	for i := range snap.Leases {
		l := snap.Leases[i]
		s.Leases[l.Path] = append(s.Leases[l.Path], &l)
	}
	if snap.Orch != nil {
		cp := *snap.Orch
		s.Orch = &cp
	}
	for i := range snap.Auctions {
		a := snap.Auctions[i]
		s.Auctions[a.TaskID] = &a
	}
	for i := range snap.Votes {
		v := snap.Votes[i]
		if v.Ballots == nil {
			v.Ballots = make(map[string]Ballot)
		}
		s.Votes[v.ID] = &v
	}
	for name, box := range snap.Inboxes {
		s.Inboxes[name] = append([]Message(nil), box...)
	}
	return s
}
