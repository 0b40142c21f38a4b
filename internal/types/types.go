// Package types provides the shared data model of the interpreter: the Chunk
// emitted by producers (model clients and language runners) and the Message
// accumulated from chunks into the conversation log.
//
// This package has no dependencies on other internal packages so that every
// layer (runners, aggregator, session, server) can speak the same schema.
package types

import (
	"errors"
	"fmt"
)

// Role identifies who produced a chunk or message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleComputer  Role = "computer"

	// RoleSystem is reserved for configuration (system prompts) and is
	// rejected in chunk flow.
	RoleSystem Role = "system"
)

// Type is the kind of content a chunk or message carries.
type Type string

const (
	TypeMessage      Type = "message"
	TypeCode         Type = "code"
	TypeConsole      Type = "console"
	TypeConfirmation Type = "confirmation"
	TypeError        Type = "error"
)

// Format qualifies a Type where it needs disambiguation. Language names
// ("python", "html", "shell") are formats too, so the domain is open.
type Format string

const (
	FormatNone       Format = ""
	FormatOutput     Format = "output"
	FormatActiveLine Format = "active_line"
	FormatHTML       Format = "html"
	FormatPython     Format = "python"
	FormatExecution  Format = "execution"
)

// Recipient values. Informational only; aggregation ignores them.
const (
	RecipientAssistant = "assistant"
	RecipientUser      = "user"
	RecipientBoth      = "both"
)

// Validation errors.
var (
	ErrInvalidRole = errors.New("invalid role")
	ErrInvalidType = errors.New("invalid type")
)

// Chunk is the atomic unit emitted by a producer. Chunks carry no identity;
// grouping equality is structural on (Role, Type, Format).
//
// Start and End are framing flags set only on re-emitted stream chunks that
// bracket a logical message. They are never stored.
type Chunk struct {
	Role      Role   `json:"role"`
	Type      Type   `json:"type"`
	Format    Format `json:"format,omitempty"`
	Content   string `json:"content"`
	Recipient string `json:"recipient,omitempty"`
	Start     bool   `json:"start,omitempty"`
	End       bool   `json:"end,omitempty"`
}

// IsFrame reports whether the chunk is a start/end framing event.
func (c Chunk) IsFrame() bool {
	return c.Start || c.End
}

// IsActiveLine reports whether the chunk is a transient execution-cursor hint.
func (c Chunk) IsActiveLine() bool {
	return c.Format == FormatActiveLine
}

// IsConsoleOutput reports whether the chunk is console/output.
func (c Chunk) IsConsoleOutput() bool {
	return c.Type == TypeConsole && c.Format == FormatOutput
}

// Validate checks the chunk against the schema. It is called at producer
// boundaries so that downstream stages never deal with ad hoc shapes.
func (c Chunk) Validate() error {
	switch c.Role {
	case RoleUser, RoleAssistant, RoleComputer:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, c.Role)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, c.Type)
	}
	return nil
}

// String renders a compact description for logs.
func (c Chunk) String() string {
	flag := ""
	switch {
	case c.Start:
		flag = " start"
	case c.End:
		flag = " end"
	}
	if c.Format != "" {
		return fmt.Sprintf("%s/%s/%s%s %q", c.Role, c.Type, c.Format, flag, c.Content)
	}
	return fmt.Sprintf("%s/%s%s %q", c.Role, c.Type, flag, c.Content)
}

// Valid reports whether t is one of the known types.
func (t Type) Valid() bool {
	switch t {
	case TypeMessage, TypeCode, TypeConsole, TypeConfirmation, TypeError:
		return true
	}
	return false
}

// Message is a durable transcript entry built from one or more matching
// chunks. Messages are values: the conversation store hands out copies.
type Message struct {
	Role    Role   `json:"role"`
	Type    Type   `json:"type"`
	Format  Format `json:"format,omitempty"`
	Content string `json:"content"`
}

// MessageFromChunk seeds a message with the chunk's identity and content.
func MessageFromChunk(c Chunk) Message {
	return Message{
		Role:    c.Role,
		Type:    c.Type,
		Format:  c.Format,
		Content: c.Content,
	}
}

// Chunk returns the message as a single non-framing chunk.
func (m Message) Chunk() Chunk {
	return Chunk{
		Role:    m.Role,
		Type:    m.Type,
		Format:  m.Format,
		Content: m.Content,
	}
}

// IsOutputRecord reports whether the message records the result of running
// code: console output or a computer error.
func (m Message) IsOutputRecord() bool {
	if m.Role != RoleComputer {
		return false
	}
	return (m.Type == TypeConsole && m.Format == FormatOutput) || m.Type == TypeError
}

// Validate checks a message restored from history or submitted by a caller.
// Unlike chunks, messages may carry the system role.
func (m Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleComputer, RoleSystem:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, m.Role)
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, m.Type)
	}
	return nil
}
