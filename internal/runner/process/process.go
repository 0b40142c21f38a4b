package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/logging"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/runner"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
)

// traceMarker tags xtrace lines so they can be told apart from stderr
// written by the program itself.
const traceMarker = "__INTERP_LINE__"

// tracePreamble enables xtrace with a parseable PS4. It occupies the first
// line of the script, so traced line numbers are offset by one.
const tracePreamble = "PS4='+" + traceMarker + "${LINENO}__ '; set -x\n"

// line is one line read from the child.
type line struct {
	text   string
	stderr bool
}

// Runner executes code through a host interpreter.
type Runner struct {
	spec Spec
	cfg  Config

	mu      sync.Mutex
	cancels map[int]context.CancelFunc
	nextID  int
}

// New creates a process runner.
func New(spec Spec, cfg Config) (*Runner, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return &Runner{spec: spec, cfg: cfg, cancels: make(map[int]context.CancelFunc)}, nil
}

func (r *Runner) Language() string { return r.spec.Language }

// Run starts the interpreter and yields its output as it arrives. Stdout
// and stderr lines are interleaved in arrival order. A non-zero exit or a
// timeout is reported as a trailing output line.
func (r *Runner) Run(ctx context.Context, code string) iter.Seq[types.Chunk] {
	return func(yield func(types.Chunk) bool) {
		execCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		id := r.track(cancel)
		defer r.untrack(id)
		defer cancel()

		script := code
		if r.spec.TraceLines {
			script = tracePreamble + code
		}
		args := append(append([]string{}, r.spec.Args...), script)

		cmd := exec.CommandContext(execCtx, r.spec.Binary, args...)
		cmd.Env = r.buildEnvironment()
		setProcessGroup(cmd)

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			yield(runner.FailureChunk(&runner.RunnerError{Language: r.spec.Language, Err: err}))
			return
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			yield(runner.FailureChunk(&runner.RunnerError{Language: r.spec.Language, Err: err}))
			return
		}

		logging.RunnerDebug("starting %s: %s %v", r.spec.Language, r.spec.Binary, r.spec.Args)
		if err := cmd.Start(); err != nil {
			logging.RunnerError("start %s: %v", r.spec.Binary, err)
			yield(runner.FailureChunk(&runner.RunnerError{Language: r.spec.Language, Err: err}))
			return
		}

		lines := make(chan line, 64)
		waitErr := make(chan error, 1)
		b := &budget{max: r.cfg.MaxOutputBytes}

		var g errgroup.Group
		g.Go(func() error { return pump(execCtx, stdout, false, b, lines) })
		g.Go(func() error { return pump(execCtx, stderr, true, b, lines) })
		go func() {
			readErr := g.Wait()
			err := cmd.Wait()
			if err == nil && readErr != nil {
				err = readErr
			}
			close(lines)
			waitErr <- err
		}()

		stopped := false
		for l := range lines {
			if stopped {
				continue
			}
			c, ok := r.chunk(l)
			if !ok {
				continue
			}
			if !yield(c) {
				stopped = true
				cancel()
			}
		}
		err = <-waitErr
		if stopped || ctx.Err() != nil {
			return
		}

		if n := b.dropped(); n > 0 {
			logging.RunnerWarn("%s output truncated: %d bytes discarded", r.spec.Language, n)
			if !yield(types.ConsoleOutput(fmt.Sprintf("[output truncated: %d bytes discarded]\n", n))) {
				return
			}
		}

		switch {
		case errors.Is(execCtx.Err(), context.DeadlineExceeded):
			logging.RunnerWarn("%s killed after %s", r.spec.Language, r.cfg.Timeout)
			yield(types.ConsoleOutput(fmt.Sprintf("Execution timed out after %s\n", r.cfg.Timeout)))
		case errors.Is(execCtx.Err(), context.Canceled):
			yield(types.ConsoleOutput("Execution terminated\n"))
		case err != nil:
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				yield(types.ConsoleOutput(fmt.Sprintf("exit status %d\n", exitErr.ExitCode())))
				return
			}
			yield(runner.FailureChunk(&runner.RunnerError{Language: r.spec.Language, Err: err}))
		}
	}
}

// Terminate kills every in-flight process. The runner stays usable.
func (r *Runner) Terminate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, cancel := range r.cancels {
		cancel()
		delete(r.cancels, id)
	}
	return nil
}

func (r *Runner) track(cancel context.CancelFunc) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.cancels[r.nextID] = cancel
	return r.nextID
}

func (r *Runner) untrack(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, id)
}

// chunk converts a line into a chunk. Trace lines become active_line
// chunks carrying the user's line number.
func (r *Runner) chunk(l line) (types.Chunk, bool) {
	if l.stderr && r.spec.TraceLines {
		if n, ok := parseTrace(l.text); ok {
			if n < 1 {
				return types.Chunk{}, false
			}
			return types.ActiveLine(strconv.Itoa(n)), true
		}
	}
	return types.ConsoleOutput(l.text), true
}

// parseTrace extracts the script line number from an xtrace line.
func parseTrace(s string) (int, bool) {
	s = strings.TrimLeft(s, "+")
	rest, ok := strings.CutPrefix(s, traceMarker)
	if !ok {
		return 0, false
	}
	num, _, ok := strings.Cut(rest, "__")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return 0, false
	}
	return n - 1, true
}

// buildEnvironment creates the child environment from the allowed host
// variables plus Spec.Env.
func (r *Runner) buildEnvironment() []string {
	env := make([]string, 0, len(r.cfg.AllowedEnvironment)+len(r.spec.Env))
	for _, key := range r.cfg.AllowedEnvironment {
		if val := os.Getenv(key); val != "" {
			env = append(env, key+"="+val)
		}
	}
	return append(env, r.spec.Env...)
}

// pump reads src line by line into out until EOF or ctx is done.
func pump(ctx context.Context, src io.Reader, stderr bool, b *budget, out chan<- line) error {
	rd := bufio.NewReader(src)
	for {
		text, err := rd.ReadString('\n')
		if text != "" {
			if kept, crossed := b.take(text); kept != "" {
				if crossed && !strings.HasSuffix(kept, "\n") {
					kept += "\n"
				}
				select {
				case out <- line{text: kept, stderr: stderr}:
				case <-ctx.Done():
					_, _ = io.Copy(io.Discard, rd)
					return nil
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}
