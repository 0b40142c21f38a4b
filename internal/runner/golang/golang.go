// Package golang runs Go code blocks in an embedded yaegi interpreter.
//
// The interpreter persists across blocks so declarations made by one block
// are visible to the next, the way a notebook kernel behaves. Only an
// allow-list of standard library packages can be imported.
package golang

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/logging"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/runner"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
)

// Language is the identifier the runner registers under.
const Language = "go"

// DefaultAllowedPackages are the importable packages. Packages reaching the
// filesystem, processes or the network (os, os/exec, net, syscall, unsafe)
// are excluded.
var DefaultAllowedPackages = []string{
	"bytes",
	"encoding/base64",
	"encoding/json",
	"errors",
	"fmt",
	"math",
	"math/rand",
	"path",
	"path/filepath",
	"regexp",
	"sort",
	"strconv",
	"strings",
	"time",
	"unicode",
	"unicode/utf8",
}

// DefaultTimeout bounds one evaluation.
const DefaultTimeout = 2 * time.Minute

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout bounds each evaluation. Zero or less keeps DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// Runner is a stateful Go interpreter.
type Runner struct {
	allowed map[string]bool
	timeout time.Duration

	// mu serialises evaluations; the interpreter is not reentrant.
	mu     sync.Mutex
	interp *interp.Interpreter
	sink   *sink
}

// New creates a runner allowing the given packages. Nil uses
// DefaultAllowedPackages.
func New(allowed []string, opts ...Option) *Runner {
	if allowed == nil {
		allowed = DefaultAllowedPackages
	}
	r := &Runner{
		allowed: make(map[string]bool, len(allowed)),
		timeout: DefaultTimeout,
		sink:    &sink{},
	}
	for _, pkg := range allowed {
		r.allowed[pkg] = true
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Language() string { return Language }

// Run evaluates code in the session interpreter and streams what it prints.
// Evaluation errors and panics are reported as output.
func (r *Runner) Run(ctx context.Context, code string) iter.Seq[types.Chunk] {
	return func(yield func(types.Chunk) bool) {
		r.mu.Lock()
		defer r.mu.Unlock()

		if err := r.validateImports(code); err != nil {
			yield(types.ConsoleOutput(err.Error() + "\n"))
			return
		}

		i, err := r.session()
		if err != nil {
			yield(runner.FailureChunk(&runner.RunnerError{Language: Language, Err: err}))
			return
		}

		evalCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		out := make(chan string, 64)
		r.sink.attach(evalCtx, out)
		done := make(chan error, 1)

		go func() {
			var evalErr error
			defer func() {
				if p := recover(); p != nil {
					evalErr = fmt.Errorf("panic: %v", p)
				}
				r.sink.detach()
				close(out)
				done <- evalErr
			}()
			_, evalErr = i.EvalWithContext(evalCtx, code)
		}()

		stopped := false
		for s := range out {
			if stopped {
				continue
			}
			if !yield(types.ConsoleOutput(s)) {
				stopped = true
				cancel()
			}
		}
		err = <-done

		if stopped || evalCtx.Err() != nil {
			// The interrupted evaluation may have left the session inconsistent.
			r.interp = nil
			if !stopped && ctx.Err() == nil && errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
				logging.RunnerWarn("go evaluation stopped after %s", r.timeout)
				yield(types.ConsoleOutput(fmt.Sprintf("Execution timed out after %s\n", r.timeout)))
			}
			return
		}
		if err != nil {
			logging.RunnerDebug("go eval error: %v", err)
			msg := err.Error()
			if !strings.HasSuffix(msg, "\n") {
				msg += "\n"
			}
			yield(types.ConsoleOutput(msg))
		}
	}
}

// Terminate discards the interpreter; the next Run starts a fresh session.
func (r *Runner) Terminate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interp = nil
	return nil
}

// session returns the interpreter, creating it on first use.
func (r *Runner) session() (*interp.Interpreter, error) {
	if r.interp != nil {
		return r.interp, nil
	}
	i := interp.New(interp.Options{Stdout: r.sink, Stderr: r.sink})
	if err := i.Use(r.symbols()); err != nil {
		return nil, fmt.Errorf("failed to load stdlib: %w", err)
	}
	r.interp = i
	logging.RunnerDebug("go interpreter started (%d packages)", len(r.allowed))
	return i, nil
}

// symbols filters the stdlib exports down to the allowed packages. Keys
// have the form "import/path/name".
func (r *Runner) symbols() interp.Exports {
	out := make(interp.Exports)
	for key, syms := range stdlib.Symbols {
		idx := strings.LastIndex(key, "/")
		if idx < 0 {
			continue
		}
		if r.allowed[key[:idx]] {
			out[key] = syms
		}
	}
	return out
}

// validateImports checks that code only imports allowed packages.
func (r *Runner) validateImports(code string) error {
	var forbidden []string
	for _, pkg := range imports(code) {
		if !r.allowed[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports detected: %v (allowed: %v)", forbidden, r.allowedPackages())
	}
	return nil
}

func (r *Runner) allowedPackages() []string {
	pkgs := make([]string, 0, len(r.allowed))
	for pkg := range r.allowed {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)
	return pkgs
}

// imports extracts import paths from single-line and block imports,
// including aliased ones.
func imports(code string) []string {
	var out []string
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			trimmed = strings.TrimPrefix(trimmed, "import (")
			if end := strings.IndexByte(trimmed, ')'); end >= 0 {
				// One-line block: import ("fmt"; "time")
				out = append(out, quotedAll(trimmed[:end])...)
				continue
			}
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
			continue
		case strings.HasPrefix(trimmed, "import "):
			trimmed = strings.TrimPrefix(trimmed, "import ")
		case !inBlock:
			continue
		}
		if pkg := quoted(trimmed); pkg != "" {
			out = append(out, pkg)
		}
	}
	return out
}

// quotedAll returns every double-quoted string in s.
func quotedAll(s string) []string {
	var out []string
	parts := strings.Split(s, `"`)
	for i := 1; i+1 < len(parts); i += 2 {
		out = append(out, parts[i])
	}
	return out
}

// quoted returns the first double-quoted string in s.
func quoted(s string) string {
	start := strings.IndexByte(s, '"')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(s[start+1:], '"')
	if end < 0 {
		return ""
	}
	return s[start+1 : start+1+end]
}

// sink forwards interpreter output to the current run. Writes arriving
// while no run is attached are dropped.
type sink struct {
	mu  sync.Mutex
	ctx context.Context
	out chan<- string
}

func (s *sink) attach(ctx context.Context, out chan<- string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx, s.out = ctx, out
}

func (s *sink) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx, s.out = nil, nil
}

func (s *sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil || len(p) == 0 {
		return len(p), nil
	}
	select {
	case s.out <- string(p):
	case <-s.ctx.Done():
	}
	return len(p), nil
}
