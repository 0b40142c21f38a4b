package llm

import (
	"strings"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/config"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
)

// contentPlaceholder is substituted by the message content in templates.
const contentPlaceholder = "{content}"

// Templates control how the conversation log is shown to the model.
type Templates struct {
	UserMessage      string
	CodeOutput       string
	EmptyCodeOutput  string
	CodeOutputSender Role
}

// TemplatesFromConfig reads the templates from the interpreter section.
func TemplatesFromConfig(ic config.InterpreterConfig) Templates {
	t := Templates{
		UserMessage:      ic.UserMessageTemplate,
		CodeOutput:       ic.CodeOutputTemplate,
		EmptyCodeOutput:  ic.EmptyCodeOutputTemplate,
		CodeOutputSender: Role(ic.CodeOutputSender),
	}
	if t.CodeOutputSender != RoleAssistant {
		t.CodeOutputSender = RoleUser
	}
	return t
}

// Render converts stored messages into a model request.
//
// System messages extend the system prompt. Code becomes a fenced block in
// the assistant's turn. Console output and error records are sent as the
// configured sender through the code output templates. The user template is
// applied to the last user message only. Consecutive messages of one role
// are merged, since providers expect alternating turns.
func Render(system string, msgs []types.Message, t Templates) Request {
	req := Request{System: system}

	lastUser := -1
	for i, m := range msgs {
		if m.Role == types.RoleUser {
			lastUser = i
		}
	}

	for i, m := range msgs {
		var (
			role Role
			text string
		)
		switch {
		case m.Role == types.RoleSystem:
			if m.Content != "" {
				req.System = join(req.System, m.Content)
			}
			continue

		case m.Role == types.RoleUser:
			role, text = RoleUser, m.Content
			if i == lastUser && t.UserMessage != "" {
				text = strings.ReplaceAll(t.UserMessage, contentPlaceholder, m.Content)
			}

		case m.Role == types.RoleAssistant && m.Type == types.TypeCode:
			role = RoleAssistant
			text = fence + string(m.Format) + "\n" + m.Content + "\n" + fence

		case m.Role == types.RoleAssistant:
			role, text = RoleAssistant, m.Content

		case m.IsOutputRecord():
			role, text = t.CodeOutputSender, t.output(m.Content)

		default:
			continue
		}
		if text == "" {
			continue
		}

		if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == role {
			req.Messages[n-1].Content = join(req.Messages[n-1].Content, text)
			continue
		}
		req.Messages = append(req.Messages, Message{Role: role, Content: text})
	}
	return req
}

func (t Templates) output(content string) string {
	if strings.TrimSpace(content) == "" {
		return t.EmptyCodeOutput
	}
	if t.CodeOutput == "" {
		return content
	}
	return strings.ReplaceAll(t.CodeOutput, contentPlaceholder, content)
}

func join(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n\n" + b
}
