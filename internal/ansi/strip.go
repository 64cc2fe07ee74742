package ansi

import (
	"regexp"
	"strings"
)

const esc = 0x1b

// maxPendingLen bounds how much of an unterminated escape sequence is held
// back waiting for the rest of it.
const maxPendingLen = 256

var escapeSequence = regexp.MustCompile(strings.Join([]string{
	`\x1b\[[0-?]*[ -/]*[@-~]`,           // CSI: parameter, intermediate and final bytes
	`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`, // OSC sequences
	`\x1b[()][AB012]`,                   // Character set selection
	`\x1b[0-9A-Za-z=>]`,                 // Two-byte sequences (DECSC, DECRC, RI, RIS, keypad modes)
	`\r`,                                // Carriage returns
}, "|"))

// incompleteEscape matches an escape sequence that has begun but could still
// be completed by more input.
var incompleteEscape = regexp.MustCompile(`^\x1b(?:\[[0-?]*[ -/]*|\][^\x07\x1b]*\x1b?|[()])?$`)

// Strip removes terminal escape sequences and carriage returns from s.
func Strip(s string) string {
	if strings.IndexByte(s, esc) < 0 && strings.IndexByte(s, '\r') < 0 {
		return s
	}
	return escapeSequence.ReplaceAllString(s, "")
}

// SplitIncomplete splits s before a trailing escape sequence that has not
// been terminated yet. The tail should be prepended to the next chunk of
// input before stripping.
func SplitIncomplete(s string) (complete, tail string) {
	last := strings.LastIndexByte(s, esc)
	if last < 0 {
		return s, ""
	}
	// An OSC string waiting for the backslash of its ST ends in ESC itself.
	if prev := strings.LastIndexByte(s[:last], esc); prev >= 0 && holdable(s[prev:]) {
		return s[:prev], s[prev:]
	}
	if holdable(s[last:]) {
		return s[:last], s[last:]
	}
	return s, ""
}

func holdable(tail string) bool {
	return len(tail) <= maxPendingLen && incompleteEscape.MatchString(tail)
}
