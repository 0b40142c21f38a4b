package types

// Constructors for the chunk shapes used throughout the interpreter.

// AssistantMessage returns an assistant/message chunk.
func AssistantMessage(content string) Chunk {
	return Chunk{Role: RoleAssistant, Type: TypeMessage, Content: content}
}

// AssistantCode returns an assistant/code chunk in the given language.
func AssistantCode(language, content string) Chunk {
	return Chunk{Role: RoleAssistant, Type: TypeCode, Format: Format(language), Content: content}
}

// ConsoleOutput returns a computer/console/output chunk.
func ConsoleOutput(content string) Chunk {
	return Chunk{Role: RoleComputer, Type: TypeConsole, Format: FormatOutput, Content: content}
}

// ActiveLine returns a computer/console/active_line chunk.
func ActiveLine(content string) Chunk {
	return Chunk{Role: RoleComputer, Type: TypeConsole, Format: FormatActiveLine, Content: content}
}

// Confirmation returns the control chunk that requests permission to run
// code. The language travels in Format and the source in Content.
func Confirmation(language, code string) Chunk {
	return Chunk{Role: RoleComputer, Type: TypeConfirmation, Format: Format(language), Content: code}
}

// ErrorChunk returns a computer/error chunk.
func ErrorChunk(content string) Chunk {
	return Chunk{Role: RoleComputer, Type: TypeError, Content: content}
}

// PlaceholderOutput is the empty console/output message appended for every
// confirmation so that "no output yet" is observable in the log.
func PlaceholderOutput() Message {
	return Message{Role: RoleComputer, Type: TypeConsole, Format: FormatOutput}
}

// UserMessage returns a user/message message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Type: TypeMessage, Content: content}
}
