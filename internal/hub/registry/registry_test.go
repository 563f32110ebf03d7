package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmhub/swarmhub/internal/hub/project"
	"github.com/swarmhub/swarmhub/internal/hub/wire"
	"github.com/swarmhub/swarmhub/internal/util/testutil"
)

func newTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	if opts.ProjectDir == nil {
		root := t.TempDir()
		opts.ProjectDir = func(id string) string { return filepath.Join(root, id) }
	}
	if opts.ActorConfig == (project.Config{}) {
		opts.ActorConfig = project.Defaults()
	}
	r := New(opts)
	t.Cleanup(r.Shutdown)
	return r
}

func TestGetDedupesConcurrentOpens(t *testing.T) {
	r := newTestRegistry(t, Options{})
	ctx := context.Background()

	const n = 8
	actors := make([]*project.Actor, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := r.Get(ctx, "shared")
			assert.NoError(t, err)
			actors[i] = a
		}(i)
	}
	wg.Wait()

	require.NotNil(t, actors[0])
	for _, a := range actors[1:] {
		assert.Same(t, actors[0], a, "all callers share one actor")
	}
	assert.Equal(t, []string{"shared"}, r.List())
}

func TestGetRejectsInvalidProjectID(t *testing.T) {
	r := newTestRegistry(t, Options{})

	_, err := r.Get(context.Background(), "../escape")
	require.Error(t, err)
	assert.Equal(t, wire.CodeInvalidRequest, wire.CodeOf(err))
}

func TestGetNormalizesProjectID(t *testing.T) {
	r := newTestRegistry(t, Options{})
	ctx := context.Background()

	a, err := r.Get(ctx, "  My-Project  ")
	require.NoError(t, err)
	b, err := r.Get(ctx, "my-project")
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestFailedOpenClearsSlotForRetry(t *testing.T) {
	root := t.TempDir()
	// The first resolution points into a path blocked by a regular
	// file, so the event log cannot create its directory.
	blocked := filepath.Join(root, "blocked")
	require.NoError(t, os.WriteFile(blocked, nil, 0o600))

	calls := 0
	r := newTestRegistry(t, Options{
		ProjectDir: func(id string) string {
			calls++
			if calls == 1 {
				return filepath.Join(blocked, id)
			}
			return filepath.Join(root, id)
		},
	})
	ctx := context.Background()

	_, err := r.Get(ctx, "flaky")
	require.Error(t, err)
	assert.Equal(t, wire.CodeInternal, wire.CodeOf(err))
	assert.Nil(t, r.Peek("flaky"))

	a, err := r.Get(ctx, "flaky")
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestPeekDoesNotOpen(t *testing.T) {
	r := newTestRegistry(t, Options{})
	assert.Nil(t, r.Peek("never-opened"))
	assert.Empty(t, r.List())
}

func TestIdleProjectsAreEvicted(t *testing.T) {
	conns := 1
	var mu sync.Mutex
	r := newTestRegistry(t, Options{
		IdleAfter: 50 * time.Millisecond,
		ConnCount: func(string) int {
			mu.Lock()
			defer mu.Unlock()
			return conns
		},
	})
	_, err := r.Get(context.Background(), "sleepy")
	require.NoError(t, err)

	// While a connection is live the project stays open.
	time.Sleep(150 * time.Millisecond)
	require.NotNil(t, r.Peek("sleepy"))

	mu.Lock()
	conns = 0
	mu.Unlock()
	testutil.AssertEventually(t, func() bool {
		return r.Peek("sleepy") == nil
	}, "idle project with no connections is evicted")

	// Eviction flushed and closed the actor; the project reopens cleanly.
	a, err := r.Get(context.Background(), "sleepy")
	require.NoError(t, err)
	assert.NotNil(t, a)
}
