// Package registry owns the lifecycle of project actors: lazy
// creation on first use, deduplicated initialization, idle eviction,
// and shutdown flushing.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/swarmhub/swarmhub/internal/hub/eventlog"
	"github.com/swarmhub/swarmhub/internal/hub/project"
	"github.com/swarmhub/swarmhub/internal/hub/validate"
	"github.com/swarmhub/swarmhub/internal/hub/wire"
)

// Options configures a Registry.
type Options struct {
	// ProjectDir maps a project id to its data directory.
	ProjectDir func(projectID string) string
	// ActorConfig is the per-project tunable set.
	ActorConfig project.Config
	// IdleAfter evicts projects with no activity and no connections
	// for this long. Zero disables eviction.
	IdleAfter time.Duration
	// ConnCount reports the live connections of a project; evicted
	// projects must report zero. Nil means zero.
	ConnCount func(projectID string) int
	// LogOptions tunes each project's event log.
	LogOptions eventlog.Options
}

type entry struct {
	ready chan struct{} // closed once actor and err are set
	actor *project.Actor
	err   error
}

// Registry is the set of live project actors, keyed by project id.
type Registry struct {
	opts Options

	mu       sync.Mutex
	projects map[string]*entry
	fanout   func(projectID string, ev *wire.Event)

	stopCh chan struct{}
	done   chan struct{}
}

// SetFanout installs the event fan-out sink for every project opened
// afterwards. Must be called before the first Get.
func (r *Registry) SetFanout(fn func(projectID string, ev *wire.Event)) {
	r.mu.Lock()
	r.fanout = fn
	r.mu.Unlock()
}

// New creates a registry and starts its idle eviction loop.
func New(opts Options) *Registry {
	r := &Registry{
		opts:     opts,
		projects: make(map[string]*entry),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.evictLoop()
	return r
}

// Get returns the actor for a project, opening it on first use.
// Concurrent first uses share one initialization; if it fails, the
// failure is returned to all waiters and the slot is cleared so a
// later call can retry.
func (r *Registry) Get(ctx context.Context, projectID string) (*project.Actor, error) {
	id, err := validate.ProjectID(projectID)
	if err != nil {
		return nil, wire.Errorf(wire.CodeInvalidRequest, "project id: %v", err)
	}

	r.mu.Lock()
	e, ok := r.projects[id]
	if !ok {
		e = &entry{ready: make(chan struct{})}
		r.projects[id] = e
		go r.open(id, e)
	}
	r.mu.Unlock()

	select {
	case <-e.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, wire.Errorf(wire.CodeInternal, "open project %s: %v", id, e.err)
	}
	return e.actor, nil
}

func (r *Registry) open(id string, e *entry) {
	defer close(e.ready)

	log, err := eventlog.Open(r.opts.ProjectDir(id), r.opts.LogOptions)
	if err != nil {
		e.err = err
		r.drop(id, e)
		return
	}
	actor := project.New(id, log, r.opts.ActorConfig)
	r.mu.Lock()
	fanout := r.fanout
	r.mu.Unlock()
	if fanout != nil {
		actor.SetFanout(func(ev *wire.Event) { fanout(id, ev) })
	}
	e.actor = actor
	slog.Info("project opened", "project", id, "seq", actor.Seq())
}

func (r *Registry) drop(id string, e *entry) {
	r.mu.Lock()
	if r.projects[id] == e {
		delete(r.projects, id)
	}
	r.mu.Unlock()
}

// Peek returns the actor if the project is already open, without
// opening it.
func (r *Registry) Peek(projectID string) *project.Actor {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.projects[projectID]
	if !ok {
		return nil
	}
	select {
	case <-e.ready:
	default:
		return nil
	}
	if e.err != nil {
		return nil
	}
	return e.actor
}

// List returns the ids of the open projects.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.projects))
	for id, e := range r.projects {
		select {
		case <-e.ready:
			if e.err == nil {
				out = append(out, id)
			}
		default:
		}
	}
	return out
}

// evictLoop closes projects that have been idle past the threshold and
// have no live connections.
func (r *Registry) evictLoop() {
	defer close(r.done)
	if r.opts.IdleAfter <= 0 {
		<-r.stopCh
		return
	}
	ticker := time.NewTicker(r.opts.IdleAfter / 4)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			r.evictIdle(now)
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) evictIdle(now time.Time) {
	type victim struct {
		id    string
		e     *entry
		actor *project.Actor
	}
	var victims []victim

	r.mu.Lock()
	for id, e := range r.projects {
		select {
		case <-e.ready:
		default:
			continue
		}
		if e.err != nil || e.actor == nil {
			continue
		}
		if now.Sub(e.actor.LastActivity()) < r.opts.IdleAfter {
			continue
		}
		if r.opts.ConnCount != nil && r.opts.ConnCount(id) > 0 {
			continue
		}
		victims = append(victims, victim{id, e, e.actor})
		delete(r.projects, id)
	}
	r.mu.Unlock()

	for _, v := range victims {
		slog.Info("evicting idle project", "project", v.id)
		v.actor.Close()
	}
}

// Shutdown closes every open project, flushing its log, then stops
// the eviction loop.
func (r *Registry) Shutdown() {
	close(r.stopCh)
	<-r.done

	r.mu.Lock()
	entries := make([]*entry, 0, len(r.projects))
	for _, e := range r.projects {
		entries = append(entries, e)
	}
	r.projects = make(map[string]*entry)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			<-e.ready
			if e.err == nil && e.actor != nil {
				e.actor.Close()
			}
		}(e)
	}
	wg.Wait()
}
