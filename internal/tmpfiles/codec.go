// Package tmpfiles implements the systemd tmpfiles.d line format used by the
// converter: path escaping and unescaping, entry formatting and parsing, and
// the naming convention for generated conf files.
package tmpfiles

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrEmptyPath is returned when asked to escape an empty path.
	ErrEmptyPath = errors.New("empty path")
	// ErrMalformedPath indicates an escaped path that cannot be decoded.
	ErrMalformedPath = errors.New("malformed tmpfiles.d path")
	// ErrMalformedEntry indicates a tmpfiles.d line with no parseable shape.
	ErrMalformedEntry = errors.New("malformed tmpfiles.d entry")
)

// EscapePath encodes a path for use in a tmpfiles.d line. Paths consisting
// only of ASCII alphanumerics and slashes pass through unchanged. Everything
// else is encoded byte-wise: backslash and the common control characters get
// named escapes, other printable ASCII passes through, and any remaining
// byte (including space) becomes \xHH.
func EscapePath(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	plain := true
	for i := 0; i < len(path); i++ {
		if b := path[i]; b != '/' && !isASCIIAlnum(b) {
			plain = false
			break
		}
	}
	if plain {
		return path, nil
	}

	var sb strings.Builder
	sb.Grow(len(path))
	for i := 0; i < len(path); i++ {
		switch b := path[i]; {
		case b == '\\':
			sb.WriteString(`\\`)
		case b == '\n':
			sb.WriteString(`\n`)
		case b == '\t':
			sb.WriteString(`\t`)
		case b == '\r':
			sb.WriteString(`\r`)
		case isASCIIAlnum(b) || isASCIIPunct(b):
			sb.WriteByte(b)
		default:
			fmt.Fprintf(&sb, `\x%02x`, b)
		}
	}
	return sb.String(), nil
}

// CanonicalEscapePath escapes path, first rewriting the legacy /var/run
// prefix to /run. The match is component-wise: /var/runner is not rewritten.
func CanonicalEscapePath(path string) (string, error) {
	if path == "/var/run" {
		path = "/run"
	} else if rest, ok := strings.CutPrefix(path, "/var/run/"); ok {
		path = "/run/" + rest
	}
	return EscapePath(path)
}

// UnescapePath decodes a single escaped path token from the start of s. A
// leading double quote selects the quoted form, which runs to the closing
// quote; the bare form runs to the next ASCII whitespace or end of input.
func UnescapePath(s string) (string, error) {
	return unescapePath(&cursor{s: s})
}

func unescapePath(cur *cursor) (string, error) {
	var out strings.Builder
	quoted := false
	if b, ok := cur.peek(); ok && b == '"' {
		quoted = true
		cur.next()
	}
	for {
		b, ok := cur.next()
		if !ok {
			if quoted {
				return "", fmt.Errorf("%w: unterminated quote", ErrMalformedPath)
			}
			return out.String(), nil
		}
		if quoted && b == '"' {
			return out.String(), nil
		}
		if !quoted && isASCIIWhitespace(b) {
			return out.String(), nil
		}
		if b != '\\' {
			out.WriteByte(b)
			continue
		}

		e, ok := cur.next()
		if !ok {
			return "", fmt.Errorf("%w: trailing backslash", ErrMalformedPath)
		}
		switch e {
		case '\\':
			out.WriteByte('\\')
		case 'n':
			out.WriteByte('\n')
		case 'r':
			out.WriteByte('\r')
		case 't':
			out.WriteByte('\t')
		case 'x':
			hi, ok1 := cur.next()
			lo, ok2 := cur.next()
			if !ok1 || !ok2 {
				return "", fmt.Errorf("%w: incomplete hex escape", ErrMalformedPath)
			}
			v, err := strconv.ParseUint(string([]byte{hi, lo}), 16, 8)
			if err != nil {
				return "", fmt.Errorf("%w: invalid hex escape %q", ErrMalformedPath, string([]byte{'\\', 'x', hi, lo}))
			}
			out.WriteByte(byte(v))
		default:
			return "", fmt.Errorf("%w: unknown escape %q", ErrMalformedPath, string([]byte{'\\', e}))
		}
	}
}

// cursor is a peekable byte reader over one line.
type cursor struct {
	s string
	i int
}

func (c *cursor) peek() (byte, bool) {
	if c.i >= len(c.s) {
		return 0, false
	}
	return c.s[c.i], true
}

func (c *cursor) next() (byte, bool) {
	b, ok := c.peek()
	if ok {
		c.i++
	}
	return b, ok
}

func (c *cursor) skipWhitespace() {
	for {
		b, ok := c.peek()
		if !ok || !isASCIIWhitespace(b) {
			return
		}
		c.i++
	}
}

// skipToken advances past one non-whitespace token and reports whether any
// bytes were consumed.
func (c *cursor) skipToken() bool {
	moved := false
	for {
		b, ok := c.peek()
		if !ok || isASCIIWhitespace(b) {
			return moved
		}
		c.i++
		moved = true
	}
}

func isASCIIAlnum(b byte) bool {
	return b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

func isASCIIPunct(b byte) bool {
	return b >= '!' && b <= '/' || b >= ':' && b <= '@' || b >= '[' && b <= '`' || b >= '{' && b <= '~'
}

func isASCIIWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\f' || b == '\r'
}
