// Package conversation holds the ordered, append-only message log of a
// session together with the "delivered up to" cursor, and the on-disk
// conversation history used for save/restore.
package conversation

import (
	"errors"
	"sync"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
)

// ErrEmpty is returned when mutating the last message of an empty store.
var ErrEmpty = errors.New("conversation is empty")

// Store is the ordered message sequence. Insertion order is temporal order.
// Only the last message can be mutated, and only by the turn that currently
// owns the session; readers always receive copies.
//
// Contract:
// - Concurrency: safe for concurrent use; readers never observe a partial append.
// - Invariant: 0 <= Cursor() <= Len().
type Store struct {
	mu       sync.RWMutex
	messages []types.Message
	cursor   int
}

// NewStore creates a store seeded with msgs. The cursor starts at the end.
func NewStore(msgs ...types.Message) *Store {
	s := &Store{}
	s.Replace(msgs)
	return s
}

// Append adds a message and returns its index.
func (s *Store) Append(m types.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return len(s.messages) - 1
}

// AppendContent concatenates content onto the last message.
func (s *Store) AppendContent(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return ErrEmpty
	}
	s.messages[len(s.messages)-1].Content += content
	return nil
}

// UpdateLastContent replaces the last message's content with fn(content).
func (s *Store) UpdateLastContent(fn func(string) string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return ErrEmpty
	}
	last := &s.messages[len(s.messages)-1]
	last.Content = fn(last.Content)
	return nil
}

// Last returns a copy of the last message.
func (s *Store) Last() (types.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return types.Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// LastOf returns the most recent message with the given role and type.
func (s *Store) LastOf(role types.Role, typ types.Type) (types.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == role && s.messages[i].Type == typ {
			return s.messages[i], true
		}
	}
	return types.Message{}, false
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Snapshot returns a copy of every message.
func (s *Store) Snapshot() []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Since returns a copy of the messages at or after index from. Out of range
// values are clamped.
func (s *Store) Since(from int) []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if from < 0 {
		from = 0
	}
	if from > len(s.messages) {
		from = len(s.messages)
	}
	out := make([]types.Message, len(s.messages)-from)
	copy(out, s.messages[from:])
	return out
}

// Cursor returns the index of the first message not yet delivered.
func (s *Store) Cursor() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// MarkCursor advances the cursor to the end of the log and returns it.
func (s *Store) MarkCursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = len(s.messages)
	return s.cursor
}

// Replace swaps the whole sequence (history restore). The cursor moves to
// the end so that restored messages are not reported as new.
func (s *Store) Replace(msgs []types.Message) {
	cp := make([]types.Message, len(msgs))
	copy(cp, msgs)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = cp
	s.cursor = len(cp)
}

// Reset empties the store.
func (s *Store) Reset() {
	s.Replace(nil)
}
