// Package html provides the markup runner. It performs no execution: it
// echoes the markup back so both participants see what will be displayed.
package html

import (
	"context"
	"iter"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
)

// Language is the identifier the runner registers under.
const Language = "html"

// ReadyMessage is the console output reported for every block.
const ReadyMessage = "HTML code is ready to be displayed."

// Runner echoes HTML blocks.
type Runner struct{}

// New creates a markup runner.
func New() *Runner { return &Runner{} }

func (r *Runner) Language() string { return Language }

// Run yields exactly two chunks: the code echo and a ready notice, both
// addressed to assistant and user.
func (r *Runner) Run(ctx context.Context, code string) iter.Seq[types.Chunk] {
	return func(yield func(types.Chunk) bool) {
		echo := types.Chunk{
			Role:      types.RoleComputer,
			Type:      types.TypeCode,
			Format:    types.FormatHTML,
			Content:   code,
			Recipient: types.RecipientBoth,
		}
		if !yield(echo) {
			return
		}
		if ctx.Err() != nil {
			return
		}
		notice := types.ConsoleOutput(ReadyMessage)
		notice.Recipient = types.RecipientBoth
		yield(notice)
	}
}

// Terminate is a no-op; the runner holds no session.
func (r *Runner) Terminate() error { return nil }
