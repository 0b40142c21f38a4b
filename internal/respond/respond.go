// Package respond merges the model and the language runners into the single
// chunk stream of one turn.
//
// Each pass streams a model reply. When the reply ends in a code block the
// code is announced with a confirmation chunk, approved, dispatched, and the
// model is prompted again with the updated conversation. The turn ends when
// a reply carries no trailing code or the pass limit is reached.
package respond

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/llm"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/logging"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
)

// DefaultMaxIterations bounds the model passes of one turn.
const DefaultMaxIterations = 20

// ErrDeclined is reported when the approver refuses to run code.
var ErrDeclined = errors.New("code execution declined")

// Dispatcher runs code in a language runner.
type Dispatcher interface {
	Dispatch(ctx context.Context, language, code string) iter.Seq[types.Chunk]
}

// Approver decides whether announced code may run.
type Approver interface {
	Approve(ctx context.Context, language, code string) (bool, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, language, code string) (bool, error)

// Approve implements Approver.
func (f ApproverFunc) Approve(ctx context.Context, language, code string) (bool, error) {
	return f(ctx, language, code)
}

// Config wires one turn.
type Config struct {
	Client     llm.Client
	Dispatcher Dispatcher

	// Messages returns the conversation the model sees on each pass.
	Messages  func() []types.Message
	System    string
	Templates llm.Templates

	// AutoRun skips the approver. Without AutoRun a nil Approver declines.
	AutoRun  bool
	Approver Approver

	MaxIterations int

	// OnError receives model and approver failures. The failure is also
	// surfaced in the stream as a computer/error chunk.
	OnError func(error)
}

// Respond returns the merged chunk stream of one turn. Cancellation ends
// the stream without an error chunk.
func Respond(ctx context.Context, cfg Config) iter.Seq[types.Chunk] {
	return func(yield func(types.Chunk) bool) {
		limit := cfg.MaxIterations
		if limit <= 0 {
			limit = DefaultMaxIterations
		}

		fail := func(err error) {
			logging.SessionError("turn failed: %v", err)
			if cfg.OnError != nil {
				cfg.OnError(err)
			}
			yield(types.ErrorChunk(err.Error()))
		}

		for pass := 1; pass <= limit; pass++ {
			req := llm.Render(cfg.System, cfg.Messages(), cfg.Templates)
			logging.SessionDebug("model pass %d: %d messages", pass, len(req.Messages))

			var code trailingCode
			for c, err := range cfg.Client.Stream(ctx, req) {
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					fail(err)
					return
				}
				if err := c.Validate(); err != nil {
					logging.SessionWarn("dropping invalid model chunk %s: %v", c, err)
					continue
				}
				code.observe(c)
				if !yield(c) {
					return
				}
			}
			if ctx.Err() != nil {
				return
			}

			language, source, ok := code.block()
			if !ok {
				logging.SessionDebug("pass %d produced no code, turn complete", pass)
				return
			}

			if !yield(types.Confirmation(language, source)) {
				return
			}
			if !cfg.AutoRun {
				approved, err := approve(ctx, cfg.Approver, language, source)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					fail(fmt.Errorf("approval failed: %w", err))
					return
				}
				if !approved {
					logging.Session("%v: %s block not run", ErrDeclined, language)
					return
				}
			}

			for c := range cfg.Dispatcher.Dispatch(ctx, language, source) {
				if !yield(c) {
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
		logging.SessionWarn("turn stopped after %d model passes", limit)
	}
}

func approve(ctx context.Context, a Approver, language, code string) (bool, error) {
	if a == nil {
		return false, nil
	}
	return a.Approve(ctx, language, code)
}

// trailingCode follows the last code block of a model reply. Whitespace
// after the block keeps it trailing; any other chunk clears it.
type trailingCode struct {
	language string
	code     strings.Builder
	open     bool
	gap      bool
}

func (t *trailingCode) observe(c types.Chunk) {
	switch {
	case c.Role == types.RoleAssistant && c.Type == types.TypeCode:
		if !t.open || t.gap || t.language != string(c.Format) {
			t.code.Reset()
			t.language = string(c.Format)
			t.open = true
			t.gap = false
		}
		t.code.WriteString(c.Content)
	case c.Type == types.TypeMessage && strings.TrimSpace(c.Content) == "":
		t.gap = true
	default:
		t.open = false
		t.gap = false
		t.code.Reset()
	}
}

func (t *trailingCode) block() (language, code string, ok bool) {
	if !t.open || strings.TrimSpace(t.code.String()) == "" {
		return "", "", false
	}
	return t.language, t.code.String(), true
}
