// Package llmtest provides a scripted model client for tests.
package llmtest

import (
	"context"
	"iter"
	"sync"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/llm"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
)

// Reply is one scripted model pass.
type Reply struct {
	Text string
	// Err, when set, is returned after Text has been streamed.
	Err error
	// Block, when set, makes the pass wait for context cancellation after
	// Text has been streamed.
	Block bool
}

// Client replays scripted replies, one per Stream call. Calls past the end
// of the script stream nothing.
type Client struct {
	// DeltaSize splits reply text into deltas of this many bytes. Zero
	// streams each reply in one delta.
	DeltaSize int

	mu       sync.Mutex
	replies  []Reply
	requests []llm.Request
}

// New returns a client replaying replies in order.
func New(replies ...Reply) *Client {
	return &Client{replies: replies}
}

// Texts returns a client whose passes stream the given texts.
func Texts(texts ...string) *Client {
	replies := make([]Reply, len(texts))
	for i, t := range texts {
		replies[i] = Reply{Text: t}
	}
	return New(replies...)
}

// Provider implements llm.Client.
func (c *Client) Provider() string { return "scripted" }

// Model implements llm.Client.
func (c *Client) Model() string { return "scripted" }

// Requests returns the requests received so far.
func (c *Client) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Request(nil), c.requests...)
}

// Stream implements llm.Client.
func (c *Client) Stream(ctx context.Context, req llm.Request) iter.Seq2[types.Chunk, error] {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	var reply Reply
	if len(c.replies) > 0 {
		reply, c.replies = c.replies[0], c.replies[1:]
	}
	c.mu.Unlock()

	return func(yield func(types.Chunk, error) bool) {
		var p llm.FenceParser
		for _, delta := range split(reply.Text, c.DeltaSize) {
			if err := ctx.Err(); err != nil {
				yield(types.Chunk{}, err)
				return
			}
			for _, ch := range p.Feed(delta) {
				if !yield(ch, nil) {
					return
				}
			}
		}
		for _, ch := range p.Flush() {
			if !yield(ch, nil) {
				return
			}
		}
		if reply.Block {
			<-ctx.Done()
			yield(types.Chunk{}, ctx.Err())
			return
		}
		if reply.Err != nil {
			yield(types.Chunk{}, reply.Err)
		}
	}
}

func split(s string, n int) []string {
	if n <= 0 || len(s) <= n {
		if s == "" {
			return nil
		}
		return []string{s}
	}
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
