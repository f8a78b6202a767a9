package async

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// RebuildFunc performs a full index rebuild, reporting (current, total)
// after each note. internal/rag's progress callback also receives the note
// and BuildIndex also returns a count, so callers adapt BuildIndex with a
// small closure (as cmd/ragctl does).
type RebuildFunc func(ctx context.Context, onProgress func(current, total int)) error

// Reindexer runs RebuildFunc in a background goroutine, exposing its
// progress via Status. At most one reindex runs at a time within this
// process; a second call while one is running is a no-op. Across processes,
// an flock-backed file guards the same invariant, so two server instances
// pointed at the same database never rebuild concurrently.
type Reindexer struct {
	rebuild  RebuildFunc
	status   *Status
	lockPath string
	done     chan struct{}
}

// NewReindexer returns a Reindexer whose cross-process lock file lives
// under dataDir.
func NewReindexer(dataDir string, rebuild RebuildFunc) *Reindexer {
	return &Reindexer{
		rebuild:  rebuild,
		status:   NewStatus(),
		lockPath: filepath.Join(dataDir, ".reindex.lock"),
	}
}

// Status returns the shared progress state.
func (r *Reindexer) Status() *Status { return r.status }

// Start begins a rebuild in the background and returns immediately. If a
// rebuild is already running in this process, it is a no-op.
func (r *Reindexer) Start(ctx context.Context) {
	if r.status.IsRunning() {
		return
	}
	r.status.setRunning(true)
	r.done = make(chan struct{})
	go r.run(ctx)
}

// wait blocks until the most recently started run finishes. It exists for
// deterministic tests; callers otherwise poll Status().
func (r *Reindexer) wait() {
	if r.done != nil {
		<-r.done
	}
}

func (r *Reindexer) run(ctx context.Context) {
	defer close(r.done)
	defer r.status.setRunning(false)

	if dir := filepath.Dir(r.lockPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			r.status.setError(err.Error())
			return
		}
	}

	fl := flock.New(r.lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		r.status.setError(err.Error())
		return
	}
	if !locked {
		slog.Warn("async_reindex_skipped_locked_elsewhere")
		return
	}
	defer func() { _ = fl.Unlock() }()

	err = r.rebuild(ctx, func(current, total int) {
		r.status.setProgress(current, total)
	})
	if err != nil {
		r.status.setError(err.Error())
	}
}
