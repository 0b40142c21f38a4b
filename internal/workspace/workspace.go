// Package workspace manages the directory code runs in: a scoped, process
// wide working-directory switch and a watcher reporting file operations
// performed under the workspace root.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/logging"
)

// cwdMu serialises working-directory switches across the process.
var cwdMu sync.Mutex

// Workspace is a directory that runner processes execute in.
type Workspace struct {
	Root string
}

// New resolves root to an absolute path and creates it when missing.
func New(root string) (*Workspace, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", abs, err)
	}
	return &Workspace{Root: abs}, nil
}

// Path joins elem onto the workspace root.
func (w *Workspace) Path(elem ...string) string {
	return filepath.Join(append([]string{w.Root}, elem...)...)
}

// Enter switches the process working directory to the workspace root and
// returns the function restoring the previous directory. The switch holds a
// process-wide lock until restore is called; restore is idempotent.
//
//	restore, err := ws.Enter()
//	if err != nil { ... }
//	defer restore()
func (w *Workspace) Enter() (restore func(), err error) {
	cwdMu.Lock()

	prev, err := os.Getwd()
	if err != nil {
		cwdMu.Unlock()
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	if err := os.Chdir(w.Root); err != nil {
		cwdMu.Unlock()
		return nil, fmt.Errorf("enter workspace %s: %w", w.Root, err)
	}
	logging.WorkspaceDebug("entered %s (from %s)", w.Root, prev)

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := os.Chdir(prev); err != nil {
				logging.WorkspaceWarn("restore working directory %s: %v", prev, err)
			}
			cwdMu.Unlock()
		})
	}, nil
}
