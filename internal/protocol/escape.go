// internal/protocol/escape.go
package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const hexDigits = "0123456789ABCDEF"

// Escape backslash-escapes the characters that cannot appear verbatim
// inside a quoted parameter: quote, backslash, comma and control bytes.
// Control bytes become \xHH.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\' || c == ',':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c < 0x20 || c == 0x7f:
			b.WriteString(`\x`)
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Unescape reverses Escape. A backslash before any other character yields
// that character.
func Unescape(s string) (string, error) {
	if strings.IndexByte(s, '\\') < 0 {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i == len(s) {
			return "", fmt.Errorf("%w: trailing backslash", ErrMalformed)
		}
		if s[i] != 'x' {
			b.WriteByte(s[i])
			continue
		}
		if i+3 > len(s) {
			return "", fmt.Errorf("%w: short hex escape", ErrMalformed)
		}
		v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
		if err != nil {
			return "", fmt.Errorf("%w: bad hex escape %q", ErrMalformed, s[i-1:i+3])
		}
		b.WriteByte(byte(v))
		i += 2
	}
	return b.String(), nil
}

// Raw is a parameter written to the wire exactly as given, unquoted.
type Raw string

// FormatParams renders a Set parameter list. Strings are quoted and
// escaped; integers, whole floats and booleans are written bare.
func FormatParams(params ...any) (string, error) {
	parts := make([]string, 0, len(params))
	for i, p := range params {
		switch v := p.(type) {
		case string:
			parts = append(parts, `"`+Escape(v)+`"`)
		case Raw:
			parts = append(parts, string(v))
		case int:
			parts = append(parts, strconv.Itoa(v))
		case int64:
			parts = append(parts, strconv.FormatInt(v, 10))
		case uint16:
			parts = append(parts, strconv.FormatUint(uint64(v), 10))
		case float64:
			if v != math.Trunc(v) || math.IsInf(v, 0) {
				return "", fmt.Errorf("parameter %d: %v is not a whole number", i, v)
			}
			parts = append(parts, strconv.FormatInt(int64(v), 10))
		case bool:
			if v {
				parts = append(parts, "1")
			} else {
				parts = append(parts, "0")
			}
		default:
			return "", fmt.Errorf("parameter %d: unsupported type %T", i, p)
		}
	}
	return strings.Join(parts, ","), nil
}

// ParseParams splits a comma-separated parameter list as it appears after
// a response's name-echo. Quoted values are unescaped; bare values are
// returned as written.
func ParseParams(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var out []string
	i := 0
	for {
		if i < len(s) && s[i] == '"' {
			end := i + 1
			for end < len(s) && s[end] != '"' {
				if s[end] == '\\' {
					end++
				}
				end++
			}
			if end >= len(s) {
				return nil, fmt.Errorf("%w: unterminated quote in %q", ErrMalformed, s)
			}
			v, err := Unescape(s[i+1 : end])
			if err != nil {
				return nil, err
			}
			out = append(out, v)
			i = end + 1
			if i < len(s) && s[i] != ',' {
				return nil, fmt.Errorf("%w: text after closing quote in %q", ErrMalformed, s)
			}
		} else {
			end := strings.IndexByte(s[i:], ',')
			if end < 0 {
				out = append(out, s[i:])
				return out, nil
			}
			out = append(out, s[i:i+end])
			i += end
		}
		if i >= len(s) {
			return out, nil
		}
		i++ // comma
		if i == len(s) {
			return append(out, ""), nil
		}
	}
}
