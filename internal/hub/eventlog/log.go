// Package eventlog implements the per-project append-only event log
// with periodic JSON snapshots. Appends are assigned a dense,
// strictly increasing sequence number synchronously in memory; disk
// flushing happens on a single background writer with a bounded
// queue. Disk errors surviving the retry budget put the project into
// degraded mode via a callback.
package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/swarmhub/swarmhub/internal/hub/state"
	"github.com/swarmhub/swarmhub/internal/hub/wire"
	"github.com/swarmhub/swarmhub/internal/metrics"
	"github.com/swarmhub/swarmhub/internal/util/timefmt"
)

const (
	eventsFileName   = "events.log"
	snapshotFileName = "snapshot.json"

	defaultQueueSize   = 256
	defaultRetryWrites = 3
	defaultMaxRetain   = 8192
)

// Options tunes a Log. Zero values take the defaults above.
type Options struct {
	QueueSize   int
	RetryWrites int
	MaxRetain   int // events kept in memory for replay
	// DegradedFn is invoked once, from the writer goroutine, when a
	// disk write fails after all retries.
	DegradedFn func(error)
}

// SetDegradedHook installs an additional callback fired when the log
// degrades. Used by the project actor, which is created after Open.
func (l *Log) SetDegradedHook(fn func(error)) {
	l.mu.Lock()
	l.hook = fn
	l.mu.Unlock()
}

// Log is one project's event log. Append and Replay are safe for
// concurrent use, though in practice only the owning actor appends.
type Log struct {
	dir      string
	lockPath string
	opts     Options

	mu   sync.Mutex
	seq  int64
	mem  []*wire.Event // tail of the log, oldest first
	snap *state.Snapshot
	hook func(error)

	writeCh chan writerCmd
	done    chan struct{}

	degradedOnce sync.Once
}

type writerCmd struct {
	line     []byte          // one encoded event line, or nil
	snapshot []byte          // encoded snapshot, or nil
	seq      int64           // snapshot watermark
	flush    chan struct{}   // close request: drain and ack
}

// Open loads the project's snapshot and trailing events, acquires the
// advisory lock, and starts the background writer.
func Open(dir string, opts Options) (*Log, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.RetryWrites <= 0 {
		opts.RetryWrites = defaultRetryWrites
	}
	if opts.MaxRetain <= 0 {
		opts.MaxRetain = defaultMaxRetain
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create project dir: %w", err)
	}
	lockPath, err := acquireLock(dir)
	if err != nil {
		return nil, err
	}

	l := &Log{
		dir:      dir,
		lockPath: lockPath,
		opts:     opts,
		writeCh:  make(chan writerCmd, opts.QueueSize),
		done:     make(chan struct{}),
	}

	if err := l.load(); err != nil {
		releaseLock(lockPath)
		return nil, err
	}

	go l.writer()
	return l, nil
}

// load reads snapshot.json and the trailing events.log.
func (l *Log) load() error {
	snapPath := filepath.Join(l.dir, snapshotFileName)
	if data, err := os.ReadFile(snapPath); err == nil {
		var snap state.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("parse snapshot: %w", err)
		}
		l.snap = &snap
		l.seq = snap.Seq
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read snapshot: %w", err)
	}

	f, err := os.Open(filepath.Join(l.dir, eventsFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open events log: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev wire.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			// A torn final line from a crash mid-write is expected;
			// anything already durable before it is intact.
			slog.Warn("skipping unparseable event line", "dir", l.dir, "error", err)
			continue
		}
		if ev.Seq <= l.seq {
			continue // covered by the snapshot
		}
		l.mem = append(l.mem, &ev)
		l.seq = ev.Seq
	}
	return scanner.Err()
}

// LoadedSnapshot returns the snapshot loaded at open time, or nil.
func (l *Log) LoadedSnapshot() *state.Snapshot {
	return l.snap
}

// TailEvents returns the events after the loaded snapshot's
// watermark, oldest first, for projection at startup.
func (l *Log) TailEvents() []*wire.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*wire.Event(nil), l.mem...)
}

// Seq returns the sequence number of the newest event.
func (l *Log) Seq() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Append assigns the next sequence number, retains the event in
// memory, and queues the disk write. It never fails in memory; disk
// failure is reported asynchronously through DegradedFn.
func (l *Log) Append(kind string, payload any, now time.Time) (*wire.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}

	l.mu.Lock()
	l.seq++
	ev := &wire.Event{
		Type:    wire.FrameEvent,
		Seq:     l.seq,
		Kind:    kind,
		TS:      timefmt.Format(now),
		Payload: raw,
	}
	l.mem = append(l.mem, ev)
	if len(l.mem) > l.opts.MaxRetain {
		l.mem = l.mem[len(l.mem)-l.opts.MaxRetain:]
	}
	l.mu.Unlock()

	line, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	l.writeCh <- writerCmd{line: append(line, '\n')}
	metrics.EventsAppended.WithLabelValues(kind).Inc()
	return ev, nil
}

// Replay returns up to max events with seq > since, oldest first.
// Events older than the in-memory window (already folded into a
// snapshot and archived) are not returned; the result is always a
// contiguous suffix of the log.
func (l *Log) Replay(since int64, max int) []*wire.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*wire.Event, 0)
	for _, ev := range l.mem {
		if ev.Seq > since {
			out = append(out, ev)
			if max > 0 && len(out) >= max {
				break
			}
		}
	}
	return out
}

// WriteSnapshot queues an atomic snapshot write at the snapshot's
// watermark. After the snapshot is durable the consumed log prefix is
// rotated into a zstd-compressed archive segment, and the in-memory
// window is trimmed to events past the watermark.
func (l *Log) WriteSnapshot(snap *state.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	l.writeCh <- writerCmd{snapshot: data, seq: snap.Seq}
	return nil
}

// Close drains pending writes and releases the advisory lock.
func (l *Log) Close() error {
	flush := make(chan struct{})
	l.writeCh <- writerCmd{flush: flush}
	<-flush
	close(l.writeCh)
	<-l.done
	releaseLock(l.lockPath)
	return nil
}

// writer is the single goroutine that touches the project's files.
func (l *Log) writer() {
	defer close(l.done)

	path := filepath.Join(l.dir, eventsFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		l.degrade(fmt.Errorf("open events log for append: %w", err))
		f = nil
	}

	degraded := false
	for cmd := range l.writeCh {
		switch {
		case cmd.flush != nil:
			if f != nil {
				_ = f.Sync()
			}
			close(cmd.flush)

		case cmd.snapshot != nil:
			if degraded {
				continue
			}
			var serr error
			f, serr = l.writeSnapshotAndRotate(f, cmd.snapshot, cmd.seq)
			if serr != nil {
				degraded = true
				l.degrade(serr)
			}

		case cmd.line != nil:
			if degraded || f == nil {
				continue
			}
			if err := l.writeWithRetry(f, cmd.line); err != nil {
				degraded = true
				l.degrade(fmt.Errorf("append event: %w", err))
			}
		}
	}
	if f != nil {
		_ = f.Sync()
		_ = f.Close()
	}
}

// writeWithRetry writes one line, retrying with exponential backoff
// up to the configured attempt budget.
func (l *Log) writeWithRetry(f *os.File, line []byte) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 1 * time.Second

	_, err := backoff.Retry(context.Background(), func() (struct{}, error) {
		if _, werr := f.Write(line); werr != nil {
			return struct{}{}, werr
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(l.opts.RetryWrites)))
	return err
}

// writeSnapshotAndRotate writes snapshot.json atomically, then
// rotates the live log: the consumed prefix becomes an archived
// events-<seq>.log.zst segment and a fresh events.log starts.
func (l *Log) writeSnapshotAndRotate(f *os.File, data []byte, seq int64) (*os.File, error) {
	snapPath := filepath.Join(l.dir, snapshotFileName)
	tmp := snapPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return f, fmt.Errorf("write snapshot tmp: %w", err)
	}
	if err := os.Rename(tmp, snapPath); err != nil {
		return f, fmt.Errorf("rename snapshot: %w", err)
	}

	livePath := filepath.Join(l.dir, eventsFileName)
	if f != nil {
		_ = f.Sync()
		_ = f.Close()
	}
	archived := filepath.Join(l.dir, fmt.Sprintf("events-%d.log", seq))
	if err := os.Rename(livePath, archived); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("rotate events log: %w", err)
	}

	nf, err := os.OpenFile(livePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open fresh events log: %w", err)
	}

	// Re-append any retained events newer than the watermark: they
	// were only durable in the rotated segment.
	l.mu.Lock()
	var keep []*wire.Event
	for _, ev := range l.mem {
		if ev.Seq > seq {
			keep = append(keep, ev)
		}
	}
	l.mem = keep
	l.mu.Unlock()
	for _, ev := range keep {
		line, merr := json.Marshal(ev)
		if merr != nil {
			continue
		}
		if _, werr := nf.Write(append(line, '\n')); werr != nil {
			return nf, fmt.Errorf("carry over tail events: %w", werr)
		}
	}

	if err := compressArchive(archived); err != nil {
		// The plain segment stays behind; compaction is best effort.
		slog.Warn("compress archived log segment failed", "path", archived, "error", err)
	}
	return nf, nil
}

func (l *Log) degrade(err error) {
	l.degradedOnce.Do(func() {
		slog.Error("event log degraded", "dir", l.dir, "error", err)
		if l.opts.DegradedFn != nil {
			l.opts.DegradedFn(err)
		}
		l.mu.Lock()
		hook := l.hook
		l.mu.Unlock()
		if hook != nil {
			hook(err)
		}
	})
}
