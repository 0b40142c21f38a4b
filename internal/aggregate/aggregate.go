// Package aggregate turns an interleaved chunk stream into conversation
// messages.
//
// Aggregate consumes chunks from the merged model/runner stream one at a
// time, groups consecutive matching chunks into a single stored Message,
// and re-emits every chunk to the caller bracketed by start/end frame
// chunks. Console chunks group by role and type only, so that active_line
// cursor hints and output share one console message. Active-line content
// is forwarded but never stored.
package aggregate

import (
	"context"
	"iter"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/logging"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/truncate"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
)

// Store is the subset of the conversation store mutated during a turn.
type Store interface {
	Append(m types.Message) int
	AppendContent(content string) error
	UpdateLastContent(fn func(string) string) error
}

// Options controls aggregation policy.
type Options struct {
	// AutoRun hides confirmation chunks from the caller.
	AutoRun bool
	// Truncator bounds console output messages. Nil uses the default limit.
	Truncator *truncate.Truncator
}

// frame is the currently open message boundary.
type frame struct {
	role      types.Role
	typ       types.Type
	format    types.Format
	hasFormat bool

	// stored is true once the frame owns the last message in the store.
	// A console frame opened by an active_line chunk owns nothing until
	// its first output arrives.
	stored bool
}

func newFrame(c types.Chunk) *frame {
	f := &frame{role: c.Role, typ: c.Type}
	if c.Format != types.FormatNone && c.Type != types.TypeConsole {
		f.format = c.Format
		f.hasFormat = true
	}
	return f
}

func (f *frame) matches(c types.Chunk) bool {
	if f.role != c.Role || f.typ != c.Type {
		return false
	}
	return !f.hasFormat || f.format == c.Format
}

func (f *frame) chunk(start bool) types.Chunk {
	return types.Chunk{
		Role:   f.role,
		Type:   f.typ,
		Format: f.format,
		Start:  start,
		End:    !start,
	}
}

// aggregator holds the per-call state. It is discarded when the returned
// sequence completes or is abandoned.
type aggregator struct {
	store     Store
	opts      Options
	truncator *truncate.Truncator
	open      *frame

	// placeholder is true while the last stored message is the empty
	// console output appended for a confirmation.
	placeholder bool
}

// Aggregate returns the framed re-emission of src and, as a side effect,
// appends and grows messages in store.
//
// The returned sequence is single-use and pull driven: each chunk of src is
// requested only when the caller asks for the next one. When ctx is done
// the sequence stops before processing the next chunk and emits no closing
// frame, leaving the last message observably unterminated.
func Aggregate(ctx context.Context, src iter.Seq[types.Chunk], store Store, opts Options) iter.Seq[types.Chunk] {
	return func(yield func(types.Chunk) bool) {
		a := &aggregator{
			store:     store,
			opts:      opts,
			truncator: opts.Truncator,
		}
		if a.truncator == nil {
			a.truncator = truncate.New(truncate.DefaultMaxOutput, false)
		}

		for c := range src {
			if ctx.Err() != nil {
				logging.AggregateDebug("aggregation cancelled: %v", ctx.Err())
				return
			}
			if !a.process(c, yield) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		if a.open != nil {
			yield(a.open.chunk(false))
		}
	}
}

// process handles one upstream chunk. It returns false when the caller
// stopped pulling.
func (a *aggregator) process(c types.Chunk, yield func(types.Chunk) bool) bool {
	if c.Content == "" {
		return true
	}

	if c.Type == types.TypeConfirmation {
		return a.confirm(c, yield)
	}

	if a.open != nil && a.open.matches(c) {
		if !c.IsActiveLine() {
			a.extend(c)
		}
	} else {
		if a.open != nil {
			if !yield(a.open.chunk(false)) {
				return false
			}
		}
		a.open = newFrame(c)
		logging.AggregateDebug("open frame %s/%s/%s", a.open.role, a.open.typ, a.open.format)
		if !yield(a.open.chunk(true)) {
			return false
		}
		if !c.IsActiveLine() {
			a.begin(c)
		}
	}

	if !yield(c) {
		return false
	}

	if c.IsConsoleOutput() && a.open.stored {
		_ = a.store.UpdateLastContent(a.truncator.Truncate)
	}
	return true
}

// confirm closes the open frame and appends the empty output placeholder.
func (a *aggregator) confirm(c types.Chunk, yield func(types.Chunk) bool) bool {
	if a.open != nil {
		end := a.open.chunk(false)
		a.open = nil
		if !yield(end) {
			return false
		}
	}
	if !a.opts.AutoRun {
		if !yield(c) {
			return false
		}
	}
	a.store.Append(types.PlaceholderOutput())
	a.placeholder = true
	return true
}

// begin stores the first content-bearing chunk of the open frame.
func (a *aggregator) begin(c types.Chunk) {
	if a.placeholder && c.IsConsoleOutput() {
		// Output for a confirmed run fills the placeholder recorded for it.
		_ = a.store.AppendContent(c.Content)
	} else {
		a.store.Append(types.MessageFromChunk(c))
	}
	a.placeholder = false
	a.open.stored = true
}

// extend grows the open frame's message.
func (a *aggregator) extend(c types.Chunk) {
	if !a.open.stored {
		a.begin(c)
		return
	}
	_ = a.store.AppendContent(c.Content)
}
