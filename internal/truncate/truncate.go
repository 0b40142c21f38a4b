// Package truncate bounds accumulated console output.
//
// The truncator keeps the tail of the content (the most recent output is the
// most useful to the model) and prefixes a marker stating that the content was
// cut. The marker is counted against the limit, so a truncated result is never
// longer than the configured maximum.
package truncate

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultMaxOutput matches the interpreter's default max_output setting.
const DefaultMaxOutput = 2800

// MinMaxOutput is the smallest accepted limit. Below it the marker alone
// would not fit.
const MinMaxOutput = 128

// Truncator bounds a string to at most Max bytes.
type Truncator struct {
	max    int
	marker string
}

// New returns a truncator for the given limit. Limits below MinMaxOutput are
// raised to it. When hint is true the marker also tells the reader how to
// fetch the first page of the output (the computer-API flavour).
func New(max int, hint bool) *Truncator {
	if max < MinMaxOutput {
		max = MinMaxOutput
	}
	t := &Truncator{max: max}
	t.marker = t.buildMarker(hint)
	return t
}

func (t *Truncator) buildMarker(hint bool) string {
	// The kept-tail size depends on the marker length, which depends on the
	// number printed in it. Iterate until stable; converges in <= 2 rounds.
	keep := t.max
	var marker string
	for i := 0; i < 4; i++ {
		marker = fmt.Sprintf("Output truncated. Showing the last %d characters.", keep)
		if hint {
			marker += fmt.Sprintf(" Run `get_last_output()[0:%d]` to see the first page.", keep)
		}
		marker += "\n\n"
		next := t.max - len(marker)
		if next == keep {
			break
		}
		keep = next
	}
	return marker
}

// Max returns the configured limit.
func (t *Truncator) Max() int {
	return t.max
}

// Marker returns the prefix added to truncated content.
func (t *Truncator) Marker() string {
	return t.marker
}

// Truncate returns data bounded to Max bytes. It is idempotent: applying it to
// an already truncated string re-truncates the body without stacking markers,
// which lets callers apply it after every append.
func (t *Truncator) Truncate(data string) string {
	needsTruncation := false
	if strings.HasPrefix(data, t.marker) {
		data = data[len(t.marker):]
		needsTruncation = true
	}

	if len(data) <= t.max && !needsTruncation {
		return data
	}

	keep := t.max - len(t.marker)
	if len(data) <= keep {
		return t.marker + data
	}
	return t.marker + tail(data, keep)
}

// IsTruncated reports whether data carries the truncation marker.
func (t *Truncator) IsTruncated(data string) bool {
	return strings.HasPrefix(data, t.marker)
}

// tail returns at most n bytes from the end of s without splitting a rune.
func tail(s string, n int) string {
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
