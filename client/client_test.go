package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmhub/swarmhub/internal/hub/auth"
	"github.com/swarmhub/swarmhub/internal/hub/connhub"
	"github.com/swarmhub/swarmhub/internal/hub/httpapi"
	"github.com/swarmhub/swarmhub/internal/hub/project"
	"github.com/swarmhub/swarmhub/internal/hub/registry"
	"github.com/swarmhub/swarmhub/internal/hub/wire"
)

const testToken = "test-token"

// newTestHub assembles the real server stack on an ephemeral port and
// returns the WebSocket URL.
func newTestHub(t *testing.T) (wsURL string, srv *httptest.Server) {
	t.Helper()
	checker := auth.New(testToken)
	root := t.TempDir()
	reg := registry.New(registry.Options{
		ProjectDir:  func(id string) string { return filepath.Join(root, id) },
		ActorConfig: project.Defaults(),
	})
	t.Cleanup(reg.Shutdown)

	conns := connhub.New(connhub.Options{Auth: checker, Registry: reg})
	reg.SetFanout(conns.Fanout)

	mux := http.NewServeMux()
	mux.Handle("/ws", conns)
	httpapi.New(checker, reg).Register(mux)

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", srv
}

func dialTest(t *testing.T, wsURL, proj string, sinceSeq int64) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, Options{URL: wsURL, Token: testToken, Project: proj, SinceSeq: sinceSeq})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func nextEvent(t *testing.T, c *Client) *wire.Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestDialRejectsBadToken(t *testing.T) {
	wsURL, _ := newTestHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Dial(ctx, Options{URL: wsURL, Token: "wrong", Project: "demo"})
	require.Error(t, err)
}

func TestRegisterCreateTaskAndEvents(t *testing.T) {
	wsURL, _ := newTestHub(t)
	ctx := context.Background()
	c := dialTest(t, wsURL, "demo", 0)

	ag, err := c.Register(ctx, RegisterOptions{AgentID: "agent-1", Name: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice", ag.Name)
	assert.Equal(t, "executor", ag.Role)
	assert.Equal(t, "alice", c.AgentName())

	ev := nextEvent(t, c)
	assert.Equal(t, wire.KindAgentRegistered, ev.Kind)
	assert.Equal(t, int64(1), ev.Seq)

	task, err := c.CreateTask(ctx, "wire the parser", CreateTaskOptions{Priority: "high"})
	require.NoError(t, err)
	assert.Equal(t, "open", task.Status)
	assert.Equal(t, "high", task.Priority)

	ev = nextEvent(t, c)
	assert.Equal(t, wire.KindTaskCreated, ev.Kind)
	assert.Equal(t, int64(2), ev.Seq)
	assert.Equal(t, ev.Seq, c.Seq())

	tasks, err := c.ListTasks(ctx, "open")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.ID, tasks[0].ID)
}

func TestHubErrorsCarryCodes(t *testing.T) {
	wsURL, _ := newTestHub(t)
	ctx := context.Background()
	c := dialTest(t, wsURL, "demo", 0)

	// Requests before register are rejected.
	_, err := c.CreateTask(ctx, "too early", CreateTaskOptions{})
	var werr *wire.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wire.CodeForbidden, werr.Code)
}

func TestSubscribeFiltersEventStream(t *testing.T) {
	wsURL, _ := newTestHub(t)
	ctx := context.Background()
	c := dialTest(t, wsURL, "demo", 0)

	_, err := c.Register(ctx, RegisterOptions{AgentID: "agent-1", Name: "alice"})
	require.NoError(t, err)
	nextEvent(t, c) // own agent_registered

	require.NoError(t, c.Subscribe(ctx, wire.KindTaskCreated))
	require.NoError(t, c.Broadcast(ctx, "general", "noise"))
	task, err := c.CreateTask(ctx, "signal", CreateTaskOptions{})
	require.NoError(t, err)

	ev := nextEvent(t, c)
	assert.Equal(t, wire.KindTaskCreated, ev.Kind, "the chat event is filtered out")
	assert.Contains(t, string(ev.Payload), task.ID)

	require.NoError(t, c.Subscribe(ctx, wire.Kinds()...))
}

func TestResumeFromSeqReplaysHistory(t *testing.T) {
	wsURL, _ := newTestHub(t)
	ctx := context.Background()

	c := dialTest(t, wsURL, "demo", 0)
	_, err := c.Register(ctx, RegisterOptions{AgentID: "agent-1", Name: "alice"})
	require.NoError(t, err)
	_, err = c.CreateTask(ctx, "one", CreateTaskOptions{})
	require.NoError(t, err)
	_, err = c.CreateTask(ctx, "two", CreateTaskOptions{})
	require.NoError(t, err)

	// A late joiner resuming after seq 1 gets the two task events.
	late := dialTest(t, wsURL, "demo", 1)
	ev := nextEvent(t, late)
	assert.Equal(t, int64(2), ev.Seq)
	assert.Equal(t, wire.KindTaskCreated, ev.Kind)
	ev = nextEvent(t, late)
	assert.Equal(t, int64(3), ev.Seq)
}

func TestReplayRequest(t *testing.T) {
	wsURL, _ := newTestHub(t)
	ctx := context.Background()
	c := dialTest(t, wsURL, "demo", 0)

	_, err := c.Register(ctx, RegisterOptions{AgentID: "agent-1", Name: "alice"})
	require.NoError(t, err)
	_, err = c.CreateTask(ctx, "one", CreateTaskOptions{})
	require.NoError(t, err)
	nextEvent(t, c)
	nextEvent(t, c)

	// Replayed frames are enqueued before the ok response, so both
	// events are buffered by the time Replay returns.
	require.NoError(t, c.Replay(ctx, 0, 0))
	assert.Equal(t, int64(1), nextEvent(t, c).Seq)
	assert.Equal(t, int64(2), nextEvent(t, c).Seq)
}

func TestStatusRoundTrip(t *testing.T) {
	wsURL, _ := newTestHub(t)
	ctx := context.Background()
	c := dialTest(t, wsURL, "demo", 0)

	_, err := c.Register(ctx, RegisterOptions{AgentID: "agent-1", Name: "alice"})
	require.NoError(t, err)
	_, err = c.Elect(ctx)
	require.NoError(t, err)
	_, err = c.CreateTask(ctx, "counted", CreateTaskOptions{})
	require.NoError(t, err)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "demo", st.Project)
	require.NotNil(t, st.Orchestrator)
	assert.Equal(t, "alice", st.Orchestrator.AgentID)
	assert.Equal(t, int64(1), st.Orchestrator.Epoch)
	require.Len(t, st.Agents, 1)
	assert.Equal(t, 1, st.TaskCounts["open"])
}

func TestHTTPLogsSinceSeq(t *testing.T) {
	wsURL, srv := newTestHub(t)
	ctx := context.Background()
	c := dialTest(t, wsURL, "demo", 0)
	_, err := c.Register(ctx, RegisterOptions{AgentID: "agent-1", Name: "alice"})
	require.NoError(t, err)
	_, err = c.CreateTask(ctx, "logged", CreateTaskOptions{})
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/logs?project=demo&since_seq=1", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Events []*wire.Event `json:"events"`
		Seq    int64         `json:"seq"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Events, 1, "since_seq skips the register event")
	assert.Equal(t, int64(2), body.Events[0].Seq)
	assert.Equal(t, wire.KindTaskCreated, body.Events[0].Kind)
	assert.Equal(t, int64(2), body.Seq)
}

func TestHTTPReadSurface(t *testing.T) {
	wsURL, srv := newTestHub(t)
	ctx := context.Background()
	c := dialTest(t, wsURL, "demo", 0)
	_, err := c.Register(ctx, RegisterOptions{AgentID: "agent-1", Name: "alice"})
	require.NoError(t, err)

	// The health check is open.
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Everything else needs the token.
	resp, err = http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/agents?project=demo", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
