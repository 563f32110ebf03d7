package connhub

import (
	"context"
	"sync"

	"github.com/coder/websocket"

	"github.com/swarmhub/swarmhub/internal/hub/project"
	"github.com/swarmhub/swarmhub/internal/hub/wire"
	"github.com/swarmhub/swarmhub/internal/metrics"
)

// Conn is one WebSocket session bound to a project. Responses travel
// through the same outbound queue as events, so a response is never
// delivered before the events its request produced. Responses block
// the reader when the queue is full; events are dropped instead, and
// the drop is surfaced as an event_gap frame.
//
// Until the welcome catch-up has been enqueued, live events are held
// aside; endCatchup flushes the suffix above the catch-up watermark,
// so the client never sees a live event ahead of a replayed one.
type Conn struct {
	ID      string
	project string

	actor *project.Actor
	ws    *websocket.Conn

	outCh chan []byte

	mu           sync.Mutex
	agent        string
	subs         map[string]bool // nil means all kinds
	lastEnqueued int64           // seq of the newest enqueued event
	gapPending   bool
	closed       bool
	catching     bool
	held         []heldEvent
}

type heldEvent struct {
	seq  int64
	data []byte
}

// Agent returns the agent name bound to the connection, if any.
func (c *Conn) Agent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agent
}

func (c *Conn) bindAgent(name string) {
	c.mu.Lock()
	c.agent = name
	c.mu.Unlock()
}

// setSubscription replaces the event kind filter. An empty set means
// all kinds.
func (c *Conn) setSubscription(kinds []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(kinds) == 0 {
		c.subs = nil
		return
	}
	c.subs = make(map[string]bool, len(kinds))
	for _, k := range kinds {
		c.subs[k] = true
	}
}

func (c *Conn) wants(kind string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs == nil || c.subs[kind]
}

// enqueueEvent offers an event to the connection. When the queue is
// full the event is dropped and a gap is recorded; the client recovers
// with a replay once it sees the event_gap frame.
func (c *Conn) enqueueEvent(ev *wire.Event) {
	if !c.wants(ev.Kind) {
		return
	}
	data, err := wire.Encode(ev)
	if err != nil {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.catching {
		if len(c.held) >= cap(c.outCh) {
			c.gapPending = true
			metrics.WSEventsDropped.Inc()
		} else {
			c.held = append(c.held, heldEvent{seq: ev.Seq, data: data})
		}
		c.mu.Unlock()
		return
	}
	select {
	case c.outCh <- data:
		c.lastEnqueued = ev.Seq
	default:
		c.gapPending = true
		metrics.WSEventsDropped.Inc()
	}
	c.mu.Unlock()
}

// endCatchup flushes live events held during the greeting. Events at
// or below the watermark were already covered by the welcome frame or
// the replayed catch-up and are discarded.
func (c *Conn) endCatchup(watermark int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catching = false
	for _, h := range c.held {
		if h.seq <= watermark {
			continue
		}
		select {
		case c.outCh <- h.data:
			c.lastEnqueued = h.seq
		default:
			c.gapPending = true
			metrics.WSEventsDropped.Inc()
		}
	}
	c.held = nil
}

// enqueueReply queues a response (or replayed event) frame, blocking
// until there is room so request ordering is preserved.
func (c *Conn) enqueueReply(ctx context.Context, data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return context.Canceled
	}
	c.mu.Unlock()
	select {
	case c.outCh <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// takeGap reports and clears a pending gap once the live queue has
// drained, returning the seq of the last event actually enqueued.
func (c *Conn) takeGap() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.gapPending || len(c.outCh) > 0 {
		return 0, false
	}
	c.gapPending = false
	return c.lastEnqueued, true
}

func (c *Conn) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
