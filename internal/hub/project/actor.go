// Package project implements the per-project coordination actor. Each
// project owns all of its state and processes requests from a single
// input queue, so invariants hold without locking; projects run in
// parallel with no shared mutable state between them.
package project

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/swarmhub/swarmhub/internal/hub/eventlog"
	"github.com/swarmhub/swarmhub/internal/hub/state"
	"github.com/swarmhub/swarmhub/internal/hub/wire"
	"github.com/swarmhub/swarmhub/internal/metrics"
)

// Config carries the per-project tunables. Zero values are filled by
// Defaults.
type Config struct {
	HeartbeatTimeout time.Duration
	OrchTimeout      time.Duration
	AuctionDefault   time.Duration
	MinLeaseTTL      time.Duration
	MaxLeaseTTL      time.Duration
	AgentTTL         time.Duration
	ScanInterval     time.Duration
	ReapInterval     time.Duration
	SnapshotEveryN   int
	SnapshotInterval time.Duration
	InboxCap         int
}

// Defaults returns the documented default configuration.
func Defaults() Config {
	return Config{
		HeartbeatTimeout: 60 * time.Second,
		OrchTimeout:      2 * time.Minute,
		AuctionDefault:   10 * time.Second,
		MinLeaseTTL:      30 * time.Second,
		MaxLeaseTTL:      30 * time.Minute,
		AgentTTL:         30 * time.Minute,
		ScanInterval:     10 * time.Second,
		ReapInterval:     5 * time.Second,
		SnapshotEveryN:   500,
		SnapshotInterval: 60 * time.Second,
		InboxCap:         state.DefaultInboxCap,
	}
}

// Caller identifies the connection submitting a request. Agent is the
// agent name bound at connect time; it may be empty until register.
type Caller struct {
	Agent  string
	ConnID string
}

type request struct {
	caller Caller
	req    *wire.Request
	fn     func() // internal control command, exclusive with req
	reply  chan *wire.Response
}

// Actor is one project's single-threaded coordination loop.
type Actor struct {
	ID string

	cfg Config
	log *eventlog.Log
	st  *state.State

	fanout func(*wire.Event)
	now    func() time.Time

	reqCh  chan request
	stopCh chan struct{}
	done   chan struct{}

	degraded atomic.Bool

	lastActivity atomic.Int64 // unix nanos

	// timer bookkeeping, touched only by the run loop
	nextScan        time.Time
	nextReap        time.Time
	lastSnapshot    time.Time
	eventsSinceSnap int
}

// New creates and starts a project actor on top of an opened log. The
// loaded snapshot and trailing events are projected before the first
// request is served.
func New(projectID string, log *eventlog.Log, cfg Config) *Actor {
	a := &Actor{
		ID:     projectID,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
		reqCh:  make(chan request, 64),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	a.st = state.FromSnapshot(log.LoadedSnapshot())
	a.st.InboxCap = cfg.InboxCap
	for _, ev := range log.TailEvents() {
		if err := a.st.Apply(ev); err != nil {
			slog.Warn("replaying event failed", "project", projectID, "seq", ev.Seq, "error", err)
		}
	}
	log.SetDegradedHook(func(err error) { a.degraded.Store(true) })

	now := a.now()
	a.lastActivity.Store(now.UnixNano())
	a.lastSnapshot = now
	a.nextScan = now.Add(cfg.ScanInterval)
	a.nextReap = now.Add(cfg.ReapInterval)

	metrics.ActiveProjects.Inc()
	metrics.ActiveAgents.Add(float64(len(a.st.Agents)))
	for _, leases := range a.st.Leases {
		metrics.ActiveLeases.Add(float64(len(leases)))
	}

	go a.run()
	return a
}

// SetFanout installs the event fan-out sink. Must be called before
// the first request is submitted.
func (a *Actor) SetFanout(fn func(*wire.Event)) {
	a.fanout = fn
}

// Seq returns the newest event sequence number.
func (a *Actor) Seq() int64 {
	return a.log.Seq()
}

// ReplayEvents returns up to max logged events with seq > since.
func (a *Actor) ReplayEvents(since int64, max int) []*wire.Event {
	return a.log.Replay(since, max)
}

// LastActivity returns the time of the most recent submitted request.
func (a *Actor) LastActivity() time.Time {
	return time.Unix(0, a.lastActivity.Load())
}

// Submit runs one request on the actor and returns its response. The
// response is built only after any triggered events have been
// appended to the log.
func (a *Actor) Submit(ctx context.Context, caller Caller, req *wire.Request) *wire.Response {
	a.lastActivity.Store(a.now().UnixNano())
	r := request{caller: caller, req: req, reply: make(chan *wire.Response, 1)}
	select {
	case a.reqCh <- r:
	case <-ctx.Done():
		return wire.Err(req.ID, wire.Errorf(wire.CodeInternal, "request dropped: %v", ctx.Err()))
	case <-a.done:
		return wire.Err(req.ID, wire.Errorf(wire.CodeInternal, "project closed"))
	}
	select {
	case resp := <-r.reply:
		return resp
	case <-ctx.Done():
		return wire.Err(req.ID, wire.Errorf(wire.CodeInternal, "request abandoned: %v", ctx.Err()))
	}
}

// Disconnected tells the actor a connection went away so it can clear
// the agent's connection binding. Liveness itself stays on the
// heartbeat clock.
func (a *Actor) Disconnected(connID string) {
	r := request{fn: func() {
		for _, ag := range a.st.Agents {
			if ag.ConnectionID == connID {
				ag.ConnectionID = ""
			}
		}
	}, reply: make(chan *wire.Response, 1)}
	select {
	case a.reqCh <- r:
		<-r.reply
	case <-a.done:
	}
}

// Inspect runs fn on the actor loop with exclusive access to the
// projection. fn must copy anything it wants to keep.
func (a *Actor) Inspect(ctx context.Context, fn func(*state.State)) error {
	r := request{fn: func() { fn(a.st) }, reply: make(chan *wire.Response, 1)}
	select {
	case a.reqCh <- r:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return context.Canceled
	}
	select {
	case <-r.reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the project overview, computed on the actor loop.
func (a *Actor) Status(ctx context.Context) (Status, error) {
	var st Status
	err := a.Inspect(ctx, func(*state.State) { st = a.buildStatus() })
	return st, err
}

// Close checkpoints the project and stops the actor. Safe to call once.
func (a *Actor) Close() {
	close(a.stopCh)
	<-a.done
}

func (a *Actor) run() {
	defer close(a.done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case r := <-a.reqCh:
			if r.fn != nil {
				r.fn()
				r.reply <- nil
				continue
			}
			resp := a.dispatch(r.caller, r.req)
			code := "ok"
			if resp.Error != nil {
				code = string(resp.Error.Code)
			}
			metrics.RequestsTotal.WithLabelValues(r.req.Type, code).Inc()
			r.reply <- resp

		case now := <-ticker.C:
			a.tick(now)

		case <-a.stopCh:
			a.checkpoint()
			if err := a.log.Close(); err != nil {
				slog.Warn("closing event log", "project", a.ID, "error", err)
			}
			metrics.ActiveProjects.Dec()
			metrics.ActiveAgents.Sub(float64(len(a.st.Agents)))
			for _, leases := range a.st.Leases {
				metrics.ActiveLeases.Sub(float64(len(leases)))
			}
			return
		}
	}
}

// dispatch routes one request frame to its handler.
func (a *Actor) dispatch(c Caller, req *wire.Request) *wire.Response {
	result, err := a.handle(c, req)
	if err != nil {
		return wire.Err(req.ID, err)
	}
	return wire.OK(req.ID, result)
}

func (a *Actor) handle(c Caller, req *wire.Request) (any, error) {
	if a.degraded.Load() && !readOnly(req.Type) && req.Type != wire.TypeResume && req.Type != wire.TypeStop {
		return nil, wire.Errorf(wire.CodeInternal, "project degraded: event log unavailable")
	}
	if a.st.Stop.Stopped && !readOnly(req.Type) && !stopExempt(req.Type) {
		return nil, wire.Errorf(wire.CodeStopped, "project is stopped: %s", a.st.Stop.Reason)
	}

	switch req.Type {
	case wire.TypeRegister:
		return a.handleRegister(c, req)
	case wire.TypeHeartbeat:
		return a.handleHeartbeat(c, req)
	case wire.TypeDeregister:
		return a.handleDeregister(c, req)
	case wire.TypeElect:
		return a.handleElect(c, req)
	case wire.TypeOrchHeartbeat:
		return a.handleOrchHeartbeat(c, req)
	case wire.TypeResign:
		return a.handleResign(c, req)
	case wire.TypeTaskCreate:
		return a.handleTaskCreate(c, req)
	case wire.TypeTaskList:
		return a.handleTaskList(c, req)
	case wire.TypeTaskUpdate:
		return a.handleTaskUpdate(c, req)
	case wire.TypeTaskAssign:
		return a.handleTaskAssign(c, req)
	case wire.TypeAuctionAnnounce:
		return a.handleAuctionAnnounce(c, req)
	case wire.TypeAuctionBid:
		return a.handleAuctionBid(c, req)
	case wire.TypeFileReserve:
		return a.handleFileReserve(c, req)
	case wire.TypeFileRelease:
		return a.handleFileRelease(c, req)
	case wire.TypeFileRenew:
		return a.handleFileRenew(c, req)
	case wire.TypeFileList:
		return a.handleFileList(c, req)
	case wire.TypeFileForecast:
		return a.handleFileForecast(c, req)
	case wire.TypeMessageSend:
		return a.handleMessageSend(c, req)
	case wire.TypeMessageInbox:
		return a.handleMessageInbox(c, req)
	case wire.TypeBroadcast:
		return a.handleBroadcast(c, req)
	case wire.TypeVoteStart:
		return a.handleVoteStart(c, req)
	case wire.TypeVoteCast:
		return a.handleVoteCast(c, req)
	case wire.TypeStop:
		return a.handleStop(c, req)
	case wire.TypeResume:
		return a.handleResume(c, req)
	case wire.TypeStatus:
		return a.handleStatus(c, req)
	default:
		return nil, wire.Errorf(wire.CodeInvalidRequest, "unknown request type %q", req.Type)
	}
}

// readOnly request types are served even when stopped or degraded.
func readOnly(t string) bool {
	switch t {
	case wire.TypeTaskList, wire.TypeFileList, wire.TypeFileForecast,
		wire.TypeMessageInbox, wire.TypeStatus, wire.TypeSubscribe, wire.TypeReplay:
		return true
	}
	return false
}

// stopExempt request types stay available while the stop flag is set:
// resume to clear it, and heartbeats so liveness does not decay while
// everyone is held.
func stopExempt(t string) bool {
	switch t {
	case wire.TypeResume, wire.TypeHeartbeat, wire.TypeOrchHeartbeat:
		return true
	}
	return false
}

// emit appends one event to the log, projects it, and fans it out.
// Must only be called from the run loop.
func (a *Actor) emit(kind string, payload any) (*wire.Event, error) {
	ev, err := a.log.Append(kind, payload, a.now())
	if err != nil {
		return nil, wire.Errorf(wire.CodeInternal, "append event: %v", err)
	}
	if err := a.st.Apply(ev); err != nil {
		// The payload came from our own structs; a decode failure here
		// is an invariant violation, not a client error.
		slog.Error("applying own event failed", "project", a.ID, "kind", kind, "error", err)
		return nil, wire.Errorf(wire.CodeInternal, "apply event: %v", err)
	}
	a.eventsSinceSnap++
	if a.fanout != nil {
		a.fanout(ev)
	}
	return ev, nil
}

// requireAgent resolves the caller to a registered agent.
func (a *Actor) requireAgent(c Caller) (*state.Agent, error) {
	if c.Agent == "" {
		return nil, wire.Errorf(wire.CodeForbidden, "caller is not registered")
	}
	ag := a.st.AgentByName(c.Agent)
	if ag == nil {
		return nil, wire.Errorf(wire.CodeForbidden, "agent %q is not registered", c.Agent)
	}
	return ag, nil
}

// requireEpoch enforces the fencing discipline for orchestrator-only
// writes: wrong epoch fails before identity so a partitioned old
// leader always sees stale_epoch.
func (a *Actor) requireEpoch(c Caller, epoch int64) error {
	if a.st.Orch == nil {
		return wire.Errorf(wire.CodePrecondition, "no orchestrator elected")
	}
	if epoch != a.st.Orch.Epoch {
		return wire.Errorf(wire.CodeStaleEpoch, "epoch %d is not current (current %d)", epoch, a.st.Orch.Epoch)
	}
	if c.Agent != a.st.Orch.AgentID {
		return wire.Errorf(wire.CodeForbidden, "caller %q is not the orchestrator", c.Agent)
	}
	return nil
}

// tick drives all background clocks: the heartbeat scanner, the lease
// reaper, auction and vote closes, and periodic snapshots.
func (a *Actor) tick(now time.Time) {
	if !now.Before(a.nextScan) {
		a.scanAgents(now)
		a.nextScan = now.Add(a.cfg.ScanInterval)
	}
	if !now.Before(a.nextReap) {
		a.reapLeases(now)
		a.nextReap = now.Add(a.cfg.ReapInterval)
	}
	a.closeDueAuctions(now)
	a.closeDueVotes(now)

	if a.eventsSinceSnap >= a.cfg.SnapshotEveryN ||
		(a.eventsSinceSnap > 0 && now.Sub(a.lastSnapshot) >= a.cfg.SnapshotInterval) {
		a.checkpoint()
	}
}

// checkpoint writes a snapshot at the current watermark.
func (a *Actor) checkpoint() {
	snap := a.st.Snapshot(a.log.Seq(), a.now())
	if err := a.log.WriteSnapshot(snap); err != nil {
		slog.Error("write snapshot", "project", a.ID, "error", err)
		return
	}
	a.eventsSinceSnap = 0
	a.lastSnapshot = a.now()
}

// Degraded reports whether the project has lost its event log.
func (a *Actor) Degraded() bool {
	return a.degraded.Load()
}

func clampDur(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
