// Package client is the Go client for the swarmhub coordination
// server. It speaks the JSON frame protocol over a single WebSocket
// connection: requests are correlated by id, events arrive on a
// channel, and gaps in the event stream are surfaced so the caller can
// replay.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/swarmhub/swarmhub/internal/hub/id"
	"github.com/swarmhub/swarmhub/internal/hub/wire"
)

// Options configures a connection.
type Options struct {
	// URL is the hub's WebSocket endpoint, e.g. ws://localhost:4540/ws.
	URL     string
	Token   string
	Project string

	// SinceSeq resumes the event stream after the given sequence
	// number. Zero means live events only.
	SinceSeq int64

	// EventBuffer is the capacity of the Events channel. Events are
	// dropped locally when the consumer falls behind; the hub's
	// event_gap mechanism covers the remote side only.
	EventBuffer int

	// CallTimeout bounds a single request round trip.
	CallTimeout time.Duration

	// HTTPClient overrides the dialing client, e.g. to reach a hub on
	// a Unix domain socket.
	HTTPClient *http.Client
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.EventBuffer <= 0 {
		out.EventBuffer = 256
	}
	if out.CallTimeout <= 0 {
		out.CallTimeout = 30 * time.Second
	}
	return out
}

// Client is one live connection to the hub.
type Client struct {
	opts Options
	ws   *websocket.Conn

	mu      sync.Mutex
	pending map[string]chan *response
	agent   string
	closed  bool

	events  chan *wire.Event
	gaps    chan int64
	done    chan struct{}
	lastSeq atomic.Int64

	closeOnce sync.Once
	readErr   error
}

type response struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *wire.ErrorBody `json:"error"`
}

// Dial connects, waits for the welcome frame, and starts the read
// loop. The caller owns the returned Client and must Close it.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	if opts.URL == "" || opts.Project == "" {
		return nil, fmt.Errorf("url and project are required")
	}

	url := opts.URL + "?project=" + opts.Project
	if opts.SinceSeq > 0 {
		url += "&since_seq=" + strconv.FormatInt(opts.SinceSeq, 10)
	}
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: opts.HTTPClient,
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + opts.Token}},
	})
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}

	c := &Client{
		opts:    opts,
		ws:      ws,
		pending: make(map[string]chan *response),
		events:  make(chan *wire.Event, opts.EventBuffer),
		gaps:    make(chan int64, 1),
		done:    make(chan struct{}),
	}

	// The welcome frame is always first.
	_, data, err := ws.Read(ctx)
	if err != nil {
		ws.Close(websocket.StatusNormalClosure, "")
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	var welcome wire.Welcome
	if err := json.Unmarshal(data, &welcome); err != nil || welcome.Type != wire.FrameWelcome {
		ws.Close(websocket.StatusProtocolError, "expected welcome")
		return nil, fmt.Errorf("unexpected first frame")
	}
	c.lastSeq.Store(welcome.Seq)

	go c.readLoop()
	return c, nil
}

// Events is the stream of project events this connection receives.
// The channel closes when the connection dies.
func (c *Client) Events() <-chan *wire.Event {
	return c.events
}

// Gaps delivers the last delivered sequence number whenever the hub
// reports that it dropped events for this connection. The caller
// should Replay from that point.
func (c *Client) Gaps() <-chan int64 {
	return c.gaps
}

// Seq returns the newest sequence number seen on this connection.
func (c *Client) Seq() int64 {
	return c.lastSeq.Load()
}

// Done closes when the connection has terminated.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal read error after Done closes.
func (c *Client) Err() error {
	<-c.done
	return c.readErr
}

// Close tears the connection down.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.ws.Close(websocket.StatusNormalClosure, "")
	})
	<-c.done
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)
	ctx := context.Background()
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			c.readErr = err
			c.failPending(err)
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		slog.Debug("unparseable frame from hub", "error", err)
		return
	}

	switch head.Type {
	case wire.FrameOK, wire.FrameErr:
		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			return
		}
		c.mu.Lock()
		ch := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ch != nil {
			ch <- &resp
		}

	case wire.FrameEvent:
		var ev wire.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		if ev.Seq > c.lastSeq.Load() {
			c.lastSeq.Store(ev.Seq)
		}
		select {
		case c.events <- &ev:
		default:
			slog.Warn("event dropped: consumer too slow", "seq", ev.Seq, "kind", ev.Kind)
		}

	case wire.FrameEventGap:
		var gap wire.Gap
		if err := json.Unmarshal(data, &gap); err != nil {
			return
		}
		select {
		case c.gaps <- gap.LastDeliveredSeq:
		default:
		}

	default:
		slog.Debug("unhandled frame type from hub", "type", head.Type)
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan *response)
	c.mu.Unlock()
	for id, ch := range pending {
		ch <- &response{
			Type: wire.FrameErr,
			ID:   id,
			Error: &wire.ErrorBody{
				Code:    wire.CodeInternal,
				Message: fmt.Sprintf("connection lost: %v", err),
			},
		}
	}
}

// Call performs one request and returns the raw result. The error, if
// any, is a *wire.Error carrying the hub's error code.
func (c *Client) Call(ctx context.Context, reqType string, params any) (json.RawMessage, error) {
	frame, reqID, err := buildFrame(reqType, params)
	if err != nil {
		return nil, err
	}

	ch := make(chan *response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("client closed")
	}
	c.pending[reqID] = ch
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	if err := c.ws.Write(ctx, websocket.MessageText, frame); err != nil {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
		return nil, fmt.Errorf("send %s: %w", reqType, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, &wire.Error{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", reqType, ctx.Err())
	case <-c.done:
		return nil, fmt.Errorf("%s: connection lost", reqType)
	}
}

// call is Call plus unmarshalling into out (which may be nil).
func (c *Client) call(ctx context.Context, reqType string, params, out any) error {
	raw, err := c.Call(ctx, reqType, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", reqType, err)
	}
	return nil
}

// buildFrame flattens the params next to the type and id fields.
func buildFrame(reqType string, params any) ([]byte, string, error) {
	flat := make(map[string]any)
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, "", fmt.Errorf("marshal %s params: %w", reqType, err)
		}
		if err := json.Unmarshal(data, &flat); err != nil {
			return nil, "", fmt.Errorf("flatten %s params: %w", reqType, err)
		}
	}
	reqID := id.Short("req")
	flat["type"] = reqType
	flat["id"] = reqID
	frame, err := json.Marshal(flat)
	if err != nil {
		return nil, "", fmt.Errorf("marshal %s frame: %w", reqType, err)
	}
	return frame, reqID, nil
}
