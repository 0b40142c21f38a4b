package session

import (
	"fmt"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
)

// EmptyEntryText replaces an empty user entry.
const EmptyEntryText = "No entry from user - please suggest something to enter."

// Entry is what a caller submits to start a turn: plain text, a single
// message, or a whole conversation that replaces the current one.
type Entry struct {
	Text    string
	Message *types.Message
	History []types.Message
}

// Text returns a text entry.
func Text(s string) Entry { return Entry{Text: s} }

// FromMessage returns a message entry. A missing role defaults to user.
func FromMessage(m types.Message) Entry { return Entry{Message: &m} }

// FromHistory returns an entry replacing the conversation with msgs.
func FromHistory(msgs []types.Message) Entry { return Entry{History: msgs} }

// Kind names the entry shape for logs and telemetry.
func (e Entry) Kind() string {
	switch {
	case e.History != nil:
		return "history"
	case e.Message != nil:
		return "message"
	case e.Text != "":
		return "text"
	default:
		return "empty"
	}
}

// normalize returns the messages to append, or the conversation to install
// when replace is true.
func (e Entry) normalize() (msgs []types.Message, replace bool, err error) {
	switch {
	case e.History != nil:
		for i, m := range e.History {
			if err := m.Validate(); err != nil {
				return nil, false, fmt.Errorf("history entry %d: %w", i, err)
			}
		}
		return e.History, true, nil

	case e.Message != nil:
		m := *e.Message
		if m.Role == "" {
			m.Role = types.RoleUser
		}
		if m.Type == "" {
			m.Type = types.TypeMessage
		}
		if m.Content == "" && m.Role == types.RoleUser && m.Type == types.TypeMessage {
			m.Content = EmptyEntryText
		}
		if err := m.Validate(); err != nil {
			return nil, false, err
		}
		return []types.Message{m}, false, nil

	case e.Text != "":
		return []types.Message{types.UserMessage(e.Text)}, false, nil

	default:
		return []types.Message{types.UserMessage(EmptyEntryText)}, false, nil
	}
}
