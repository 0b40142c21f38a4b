package llm

import (
	"strings"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
)

// DefaultLanguage is used for fences without a language tag.
const DefaultLanguage = "shell"

const fence = "```"

var languageAliases = map[string]string{
	"bash":       "shell",
	"sh":         "shell",
	"zsh":        "shell",
	"console":    "shell",
	"py":         "python",
	"python3":    "python",
	"js":         "javascript",
	"node":       "javascript",
	"golang":     "go",
	"htm":        "html",
	"shell":      "shell",
	"python":     "python",
	"javascript": "javascript",
	"go":         "go",
	"html":       "html",
}

// NormalizeLanguage maps a fence tag to a runner language name.
func NormalizeLanguage(tag string) string {
	fields := strings.Fields(strings.ToLower(tag))
	if len(fields) == 0 {
		return DefaultLanguage
	}
	tag = strings.TrimLeft(fields[0], "{.")
	if alias, ok := languageAliases[tag]; ok {
		return alias
	}
	return tag
}

// FenceParser splits streamed markdown into message and code chunks.
// Fences are only recognised at the start of a line, and a partial line that
// may still turn into a fence is held back until it is decided.
//
// The zero value is ready to use.
type FenceParser struct {
	pending string

	inCode   bool
	language string
	// codeStarted is set once the open block emitted content; the newline
	// separating code lines is emitted lazily so the block never ends in one.
	codeStarted bool
	// midLine is set once part of the current line was emitted.
	midLine bool
}

// Feed consumes a text delta and returns the chunks it completes.
func (p *FenceParser) Feed(delta string) []types.Chunk {
	p.pending += delta

	var out []types.Chunk
	for {
		i := strings.IndexByte(p.pending, '\n')
		if i < 0 {
			break
		}
		line := p.pending[:i]
		p.pending = p.pending[i+1:]
		out = p.line(out, line)
	}

	if p.pending != "" && !p.undecided(p.pending) {
		out = p.partial(out, p.pending)
		p.pending = ""
	}
	return out
}

// Flush emits whatever is held back and resets the parser. An unterminated
// code block is emitted as code.
func (p *FenceParser) Flush() []types.Chunk {
	var out []types.Chunk
	if rest := p.pending; rest != "" {
		p.pending = ""
		trimmed := strings.TrimSpace(rest)
		switch {
		case p.midLine:
			out = p.partial(out, rest)
		case p.inCode && trimmed == fence:
		case !p.inCode && strings.HasPrefix(trimmed, fence):
		default:
			out = p.partial(out, rest)
		}
	}
	*p = FenceParser{}
	return out
}

// InCode reports whether a code block is open.
func (p *FenceParser) InCode() bool { return p.inCode }

func (p *FenceParser) line(out []types.Chunk, line string) []types.Chunk {
	if p.midLine {
		p.midLine = false
		if p.inCode {
			if line == "" {
				return out
			}
			return append(out, types.AssistantCode(p.language, line))
		}
		return append(out, types.AssistantMessage(line+"\n"))
	}

	trimmed := strings.TrimSpace(line)
	if !p.inCode {
		if strings.HasPrefix(trimmed, fence) {
			p.inCode = true
			p.codeStarted = false
			p.language = NormalizeLanguage(strings.TrimPrefix(trimmed, fence))
			return out
		}
		return append(out, types.AssistantMessage(line+"\n"))
	}

	if trimmed == fence {
		p.inCode = false
		p.language = ""
		return out
	}
	if !p.codeStarted {
		if trimmed == "" {
			return out
		}
		p.codeStarted = true
		return append(out, types.AssistantCode(p.language, line))
	}
	return append(out, types.AssistantCode(p.language, "\n"+line))
}

func (p *FenceParser) partial(out []types.Chunk, s string) []types.Chunk {
	if !p.inCode {
		p.midLine = true
		return append(out, types.AssistantMessage(s))
	}
	if !p.midLine && p.codeStarted {
		s = "\n" + s
	}
	p.midLine = true
	p.codeStarted = true
	return append(out, types.AssistantCode(p.language, s))
}

// undecided reports whether a partial line could still become a fence.
func (p *FenceParser) undecided(s string) bool {
	if p.midLine {
		return false
	}
	trimmed := strings.TrimLeft(s, " \t")
	if trimmed == "" {
		return true
	}
	if strings.HasPrefix(fence, trimmed) {
		return true
	}
	// An opening fence is decided only by its newline, which ends the tag.
	return !p.inCode && strings.HasPrefix(trimmed, fence)
}
