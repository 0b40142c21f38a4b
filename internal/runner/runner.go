// Package runner executes code blocks in per-language backends.
//
// A Runner turns source text into a lazy, finite sequence of chunks. The
// Registry maps language identifiers to runners, and the Dispatcher routes
// (language, code) requests to them inside the workspace directory,
// converting every failure into chunks so a bad block never aborts a turn.
package runner

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
)

// Runner executes code for one language.
//
// Run must honor the chunk schema and stop promptly when ctx is done or the
// consumer stops pulling. Stateful runners keep their session across Run
// calls and release it in Terminate; a terminated runner must be usable
// again, starting from a fresh session.
type Runner interface {
	Language() string
	Run(ctx context.Context, code string) iter.Seq[types.Chunk]
	Terminate() error
}

// Registry and dispatch errors.
var (
	// ErrUnsupportedLanguage is returned when no runner is registered for a language.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrLanguageEmpty is returned when a runner reports no language.
	ErrLanguageEmpty = errors.New("runner language cannot be empty")

	// ErrAlreadyRegistered is returned when registering a duplicate language.
	ErrAlreadyRegistered = errors.New("runner already registered")
)

// RunnerError is a failure raised while a runner executed code. It reaches
// the conversation as console output, never as a Go error.
type RunnerError struct {
	Language string
	Err      error
}

func (e *RunnerError) Error() string {
	return fmt.Sprintf("%s runner failed: %v", e.Language, e.Err)
}

func (e *RunnerError) Unwrap() error { return e.Err }

// FailureChunk renders a runner failure as console output.
func FailureChunk(err error) types.Chunk {
	return types.ConsoleOutput(err.Error() + "\n")
}
