// Package escape interprets backslash escapes in text that is written to a
// process's standard input, so a test step can send control characters
// such as Ctrl+C or Ctrl+D from a config value or a flag.
package escape

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

var simple = map[byte]byte{
	'n':  '\n',
	'r':  '\r',
	't':  '\t',
	'a':  0x07,
	'b':  0x08,
	'f':  0x0c,
	'v':  0x0b,
	'e':  0x1b,
	'0':  0x00,
	'\\': '\\',
}

// Interpret processes escape sequences in s.
//
//	\n \r \t \a \b \f \v  C escapes
//	\e                    ESC
//	\0                    NUL
//	\\                    backslash
//	\xNN                  hex byte, e.g. \x03 for Ctrl+C, \x04 for Ctrl+D
//
// Any other escaped character stands for itself (\! is !).
func Interpret(s string) (string, error) {
	if strings.IndexByte(s, '\\') < 0 {
		return s, nil
	}

	var out strings.Builder
	out.Grow(len(s))

	for i := 0; i < len(s); {
		if s[i] != '\\' {
			out.WriteByte(s[i])
			i++
			continue
		}
		if i+1 >= len(s) {
			return "", fmt.Errorf("incomplete escape sequence at end of string")
		}

		c := s[i+1]
		if b, ok := simple[c]; ok {
			out.WriteByte(b)
			i += 2
			continue
		}
		if c == 'x' {
			if i+4 > len(s) {
				return "", fmt.Errorf("incomplete hex escape at position %d", i)
			}
			v, err := strconv.ParseUint(s[i+2:i+4], 16, 8)
			if err != nil {
				return "", fmt.Errorf("invalid hex escape \\x%s at position %d", s[i+2:i+4], i)
			}
			out.WriteByte(byte(v))
			i += 4
			continue
		}

		r, size := utf8.DecodeRuneInString(s[i+1:])
		out.WriteRune(r)
		i += 1 + size
	}

	return out.String(), nil
}
