// Package connhub accepts WebSocket connections, routes request
// frames to project actors, and fans project events out to
// subscribers. One Hub serves every project; each connection is bound
// to a single project for its lifetime.
package connhub

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/swarmhub/swarmhub/internal/hub/auth"
	"github.com/swarmhub/swarmhub/internal/hub/id"
	"github.com/swarmhub/swarmhub/internal/hub/project"
	"github.com/swarmhub/swarmhub/internal/hub/registry"
	"github.com/swarmhub/swarmhub/internal/hub/state"
	"github.com/swarmhub/swarmhub/internal/hub/wire"
	"github.com/swarmhub/swarmhub/internal/metrics"
)

// Options configures a Hub.
type Options struct {
	Auth        *auth.Checker
	Registry    *registry.Registry
	QueueSize   int // per-connection outbound queue
	MaxPerProj  int // connection limit per project
	PongTimeout time.Duration
	IdleTimeout time.Duration
}

// Hub is the WebSocket front of the coordination server.
type Hub struct {
	opts Options

	mu    sync.RWMutex
	conns map[string]map[*Conn]struct{} // project id -> connections
}

// New creates a Hub. Install Fanout on the registry so project events
// reach subscribers.
func New(opts Options) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.MaxPerProj <= 0 {
		opts.MaxPerProj = 64
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 20 * time.Second
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 90 * time.Second
	}
	return &Hub{
		opts:  opts,
		conns: make(map[string]map[*Conn]struct{}),
	}
}

// ConnCount returns the number of live connections for a project.
func (h *Hub) ConnCount(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[projectID])
}

// Fanout delivers one project event to every subscribed connection.
func (h *Hub) Fanout(projectID string, ev *wire.Event) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns[projectID]))
	for c := range h.conns[projectID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.enqueueEvent(ev)
	}
}

// ServeHTTP upgrades /ws requests. The project id arrives as a query
// parameter; authentication is the shared bearer token.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.opts.Auth.CheckRequest(r) {
		http.Error(w, "invalid or missing bearer token", http.StatusUnauthorized)
		return
	}
	projectID := r.URL.Query().Get("project")
	if projectID == "" {
		http.Error(w, "project query parameter is required", http.StatusBadRequest)
		return
	}

	actor, err := h.opts.Registry.Get(r.Context(), projectID)
	if err != nil {
		slog.Warn("open project for connection", "project", projectID, "error", err)
		http.Error(w, "project unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("websocket accept failed", "error", err)
		return
	}

	c := &Conn{
		ID:       id.Short("conn"),
		project:  actor.ID,
		actor:    actor,
		ws:       ws,
		outCh:    make(chan []byte, h.opts.QueueSize),
		catching: true,
	}
	if !h.register(c) {
		ws.Close(websocket.StatusTryAgainLater, "project connection limit reached")
		return
	}
	metrics.WSConnectionsActive.Inc()
	defer func() {
		h.unregister(c)
		metrics.WSConnectionsActive.Dec()
		actor.Disconnected(c.ID)
	}()

	h.serve(r.Context(), c, r.URL.Query().Get("since_seq"))
}

func (h *Hub) register(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.conns[c.project]) >= h.opts.MaxPerProj {
		return false
	}
	if h.conns[c.project] == nil {
		h.conns[c.project] = make(map[*Conn]struct{})
	}
	h.conns[c.project][c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *Conn) {
	c.markClosed()
	h.mu.Lock()
	delete(h.conns[c.project], c)
	if len(h.conns[c.project]) == 0 {
		delete(h.conns, c.project)
	}
	h.mu.Unlock()
}

// serve runs the connection's writer, pinger and reader. It returns
// when any of them fails; the deferred unregister does the cleanup.
func (h *Hub) serve(ctx context.Context, c *Conn, sinceSeq string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		h.writeLoop(ctx, c)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		h.pingLoop(ctx, c)
	}()

	if err := h.greet(ctx, c, sinceSeq); err == nil {
		h.readLoop(ctx, c)
	}
	cancel()
	c.ws.Close(websocket.StatusNormalClosure, "")
	wg.Wait()
}

// greet sends the welcome frame and, when the client asked to resume
// from a sequence number, the catch-up events. The connection is
// already registered for fanout, so live events arriving meanwhile
// are held; they are flushed above the catch-up watermark once the
// greeting is fully enqueued.
func (h *Hub) greet(ctx context.Context, c *Conn, sinceSeq string) error {
	seq := c.actor.Seq()
	welcome, err := wire.Encode(wire.Welcome{
		Type:    wire.FrameWelcome,
		Project: c.project,
		Seq:     seq,
	})
	if err != nil {
		return err
	}
	if err := c.enqueueReply(ctx, welcome); err != nil {
		return err
	}
	watermark := seq
	if since, ok := parseSeq(sinceSeq); ok && sinceSeq != "" {
		for _, ev := range c.actor.ReplayEvents(since, 0) {
			data, eerr := wire.Encode(ev)
			if eerr != nil {
				continue
			}
			if err := c.enqueueReply(ctx, data); err != nil {
				return err
			}
			watermark = ev.Seq
		}
	}
	c.endCatchup(watermark)
	return nil
}

func (h *Hub) readLoop(ctx context.Context, c *Conn) {
	for {
		readCtx, cancel := context.WithTimeout(ctx, h.opts.IdleTimeout)
		_, data, err := c.ws.Read(readCtx)
		cancel()
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				slog.Debug("websocket read failed", "conn", c.ID, "error", err)
			}
			return
		}
		metrics.WSFramesTotal.WithLabelValues("in").Inc()
		h.handleFrame(ctx, c, data)
	}
}

// handleFrame decodes and executes one request frame. Subscribe and
// replay are connection-level concerns and never reach the actor.
func (h *Hub) handleFrame(ctx context.Context, c *Conn, data []byte) {
	req, err := wire.DecodeRequest(data)
	if err != nil {
		h.reply(ctx, c, wire.Err("", err))
		return
	}

	switch req.Type {
	case wire.TypeSubscribe:
		h.handleSubscribe(ctx, c, req)
		return
	case wire.TypeReplay:
		h.handleReplay(ctx, c, req)
		return
	}

	caller := project.Caller{Agent: c.Agent(), ConnID: c.ID}
	resp := c.actor.Submit(ctx, caller, req)

	// A successful register (or deregister) changes the connection's
	// agent binding.
	if resp.Error == nil {
		switch req.Type {
		case wire.TypeRegister:
			if ag, ok := resp.Result.(state.Agent); ok {
				c.bindAgent(ag.Name)
			}
		case wire.TypeDeregister:
			c.bindAgent("")
		}
	}
	h.reply(ctx, c, resp)
}

func (h *Hub) handleSubscribe(ctx context.Context, c *Conn, req *wire.Request) {
	var p wire.SubscribeParams
	if err := req.Bind(&p); err != nil {
		h.reply(ctx, c, wire.Err(req.ID, err))
		return
	}
	known := make(map[string]bool)
	for _, k := range wire.Kinds() {
		known[k] = true
	}
	for _, k := range p.Kinds {
		if !known[k] {
			h.reply(ctx, c, wire.Err(req.ID, wire.Errorf(wire.CodeInvalidRequest, "unknown event kind %q", k)))
			return
		}
	}
	c.setSubscription(p.Kinds)
	h.reply(ctx, c, wire.OK(req.ID, map[string]any{"kinds": p.Kinds}))
}

// handleReplay streams the requested events as ordinary event frames,
// then acknowledges with the count and the newest sequence number.
func (h *Hub) handleReplay(ctx context.Context, c *Conn, req *wire.Request) {
	var p wire.ReplayParams
	if err := req.Bind(&p); err != nil {
		h.reply(ctx, c, wire.Err(req.ID, err))
		return
	}
	events := c.actor.ReplayEvents(p.SinceSeq, p.Max)
	for _, ev := range events {
		data, err := wire.Encode(ev)
		if err != nil {
			continue
		}
		if err := c.enqueueReply(ctx, data); err != nil {
			return
		}
	}
	h.reply(ctx, c, wire.OK(req.ID, map[string]any{
		"count": len(events),
		"seq":   c.actor.Seq(),
	}))
}

func (h *Hub) reply(ctx context.Context, c *Conn, resp *wire.Response) {
	data, err := wire.Encode(resp)
	if err != nil {
		slog.Error("encode response", "conn", c.ID, "error", err)
		return
	}
	if err := c.enqueueReply(ctx, data); err != nil {
		slog.Debug("response dropped on closing connection", "conn", c.ID)
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *Conn) {
	for {
		select {
		case data := <-c.outCh:
			if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
			metrics.WSFramesTotal.WithLabelValues("out").Inc()
			if seq, ok := c.takeGap(); ok {
				gap, err := wire.Encode(wire.Gap{Type: wire.FrameEventGap, LastDeliveredSeq: seq})
				if err != nil {
					continue
				}
				if err := c.ws.Write(ctx, websocket.MessageText, gap); err != nil {
					return
				}
				metrics.WSFramesTotal.WithLabelValues("out").Inc()
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) pingLoop(ctx context.Context, c *Conn) {
	interval := h.opts.PongTimeout / 2
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.opts.PongTimeout)
			err := c.ws.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func parseSeq(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil && n >= 0
}
