package workspace

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/logging"
)

// Operation kinds reported by the watcher.
const (
	OpCreate = "create"
	OpModify = "modify"
	OpDelete = "delete"
	OpRename = "rename"
)

// FileOperation is one settled change under the workspace root.
type FileOperation struct {
	Op   string    `json:"op"`
	Path string    `json:"path"` // relative to the root
	Time time.Time `json:"time"`
}

// WatcherStats counts watcher activity.
type WatcherStats struct {
	Created  int
	Modified int
	Deleted  int
	Errors   int
	LastPath string
	LastOp   string
}

// Watcher reports file operations under a workspace. Rapid repeated writes
// to one path are debounced into a single operation.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	root        string
	onOp        func(FileOperation)
	pending     map[string]FileOperation
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	stats       WatcherStats
}

// NewWatcher creates a watcher for w that calls onOp for every settled
// operation. onOp runs on the watcher goroutine.
func (w *Workspace) NewWatcher(onOp func(FileOperation)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fw,
		root:        w.Root,
		onOp:        onOp,
		pending:     make(map[string]FileOperation),
		debounceDur: 200 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start adds the root and its subdirectories and begins delivering events.
// Hidden directories (".git", ".interp") are skipped.
func (wt *Watcher) Start(ctx context.Context) error {
	wt.mu.Lock()
	if wt.running {
		wt.mu.Unlock()
		return nil
	}
	wt.running = true
	wt.mu.Unlock()

	if err := wt.addTree(wt.root); err != nil {
		return err
	}
	logging.Workspace("watching %s", wt.root)

	go wt.run(ctx)
	return nil
}

// Stop ends the event loop and releases the underlying watcher.
func (wt *Watcher) Stop() {
	wt.mu.Lock()
	if !wt.running {
		wt.mu.Unlock()
		_ = wt.watcher.Close()
		return
	}
	wt.running = false
	wt.mu.Unlock()

	close(wt.stopCh)
	<-wt.doneCh

	if err := wt.watcher.Close(); err != nil {
		logging.WorkspaceWarn("close watcher: %v", err)
	}
}

// Stats returns a copy of the activity counters.
func (wt *Watcher) Stats() WatcherStats {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	return wt.stats
}

func (wt *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := wt.watcher.Add(path); err != nil {
			logging.WorkspaceWarn("watch %s: %v", path, err)
		}
		return nil
	})
}

func (wt *Watcher) run(ctx context.Context) {
	defer close(wt.doneCh)

	ticker := time.NewTicker(wt.debounceDur / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wt.flush(true)
			return
		case <-wt.stopCh:
			wt.flush(true)
			return
		case ev, ok := <-wt.watcher.Events:
			if !ok {
				return
			}
			wt.handle(ev)
		case err, ok := <-wt.watcher.Errors:
			if !ok {
				return
			}
			logging.WorkspaceWarn("watcher error: %v", err)
			wt.mu.Lock()
			wt.stats.Errors++
			wt.mu.Unlock()
		case <-ticker.C:
			wt.flush(false)
		}
	}
}

func (wt *Watcher) handle(ev fsnotify.Event) {
	var op string
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0:
		op = OpDelete
	case ev.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return
	}

	rel, err := filepath.Rel(wt.root, ev.Name)
	if err != nil || rel == "." || strings.HasPrefix(filepath.Base(rel), ".") {
		return
	}

	if op == OpCreate {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = wt.addTree(ev.Name)
		}
	}

	wt.mu.Lock()
	defer wt.mu.Unlock()
	switch op {
	case OpCreate:
		wt.stats.Created++
	case OpModify:
		wt.stats.Modified++
	case OpDelete, OpRename:
		wt.stats.Deleted++
	}
	wt.stats.LastPath = rel
	wt.stats.LastOp = op

	// A create followed by writes is still a create.
	if prev, ok := wt.pending[rel]; ok && prev.Op == OpCreate && op == OpModify {
		op = OpCreate
	}
	wt.pending[rel] = FileOperation{Op: op, Path: rel, Time: time.Now()}
}

// flush delivers operations older than the debounce window, or all of them
// when force is set.
func (wt *Watcher) flush(force bool) {
	now := time.Now()

	wt.mu.Lock()
	var ready []FileOperation
	for path, op := range wt.pending {
		if force || now.Sub(op.Time) >= wt.debounceDur {
			ready = append(ready, op)
			delete(wt.pending, path)
		}
	}
	wt.mu.Unlock()

	for _, op := range ready {
		logging.WorkspaceDebug("%s %s", op.Op, op.Path)
		if wt.onOp != nil {
			wt.onOp(op)
		}
	}
}
