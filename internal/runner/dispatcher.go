package runner

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/logging"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/workspace"
)

// Tracker records how long code runs took.
type Tracker interface {
	Track(ctx context.Context, action string, d time.Duration) error
}

// Dispatcher routes code blocks to registered runners.
type Dispatcher struct {
	registry  *Registry
	workspace *workspace.Workspace
	tracker   Tracker
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTracker records one "run_<language>" action per dispatch.
func WithTracker(t Tracker) DispatcherOption {
	return func(d *Dispatcher) { d.tracker = t }
}

// NewDispatcher creates a dispatcher over reg. When ws is non-nil every run
// executes with the process working directory switched to ws.Root.
func NewDispatcher(reg *Registry, ws *workspace.Workspace, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{registry: reg, workspace: ws}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the underlying registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch runs code with the runner registered for language and returns
// its chunks.
//
// Failures never escape as errors or panics: an unknown language yields a
// single computer/error chunk and a failing runner yields a console output
// chunk describing the failure. The working directory is restored on every
// exit path, including an early break by the consumer. When ctx is done the
// sequence stops before the next chunk.
//
// The workspace lock is held until the sequence ends, including while the
// consumer handles each chunk. A consumer that stops pulling without
// breaking or cancelling blocks every other dispatch in the process.
func (d *Dispatcher) Dispatch(ctx context.Context, language, code string) iter.Seq[types.Chunk] {
	return func(yield func(types.Chunk) bool) {
		rn, err := d.registry.Get(language)
		if err != nil {
			logging.RunnerWarn("dispatch: %v", err)
			yield(types.ErrorChunk(fmt.Sprintf("`%s` disabled or not supported: %v", language, err)))
			return
		}

		if d.workspace != nil {
			restore, err := d.workspace.Enter()
			if err != nil {
				yield(FailureChunk(&RunnerError{Language: language, Err: err}))
				return
			}
			defer restore()
		}

		timer := logging.StartTimer(logging.CategoryRunner, "run "+language)
		defer func() {
			elapsed := timer.Stop()
			if d.tracker != nil {
				if err := d.tracker.Track(ctx, "run_"+language, elapsed); err != nil {
					logging.RunnerWarn("track run: %v", err)
				}
			}
		}()

		next, stop := iter.Pull(rn.Run(ctx, code))
		defer stop()

		for {
			if ctx.Err() != nil {
				return
			}
			c, ok, err := pull(next)
			if err != nil {
				logging.RunnerError("%s runner failed: %v", language, err)
				yield(FailureChunk(&RunnerError{Language: language, Err: err}))
				return
			}
			if !ok {
				return
			}
			if err := c.Validate(); err != nil {
				logging.RunnerWarn("%s runner emitted invalid chunk %s: %v", language, c, err)
				continue
			}
			if !yield(c) {
				return
			}
		}
	}
}

// pull advances the runner, converting a panic raised by the runner into
// an error. Panics from the consumer never pass through here.
func pull(next func() (types.Chunk, bool)) (c types.Chunk, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	c, ok = next()
	return c, ok, nil
}
