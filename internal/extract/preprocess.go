package extract

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	fence     = "```"
	jsonFence = "```json"
)

var errBadEscape = errors.New("malformed escape sequence")

// Clean turns raw model output into text ready for decoding: it strips code
// fences, decodes literal escape sequences and trims surrounding whitespace.
func Clean(raw string) string {
	text := stripFences(raw)

	// A failed escape pass leaves the text as it was
	if decoded, err := unescape(text); err == nil {
		text = decoded
	}

	return strings.TrimSpace(text)
}

// stripFences keeps only the body of a ```json block when present,
// otherwise the body of the first generic fence pair.
func stripFences(text string) string {
	marker := jsonFence
	start := strings.Index(text, marker)
	if start < 0 {
		marker = fence
		start = strings.Index(text, marker)
	}
	if start < 0 {
		return text
	}

	body := text[start+len(marker):]
	if end := strings.Index(body, fence); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// unescape decodes backslash escapes written out as literal characters
// (a two-character `\n` becomes a newline). Unknown escapes are kept as
// written; truncated or invalid numeric escapes fail the whole pass.
func unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			i++
			continue
		}
		if i+1 >= len(s) {
			return "", errBadEscape
		}

		e := s[i+1]
		i += 2

		switch e {
		case '\n':
			// line continuation
		case '\\', '\'', '"':
			b.WriteByte(e)
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'v':
			b.WriteByte('\v')
		case '0', '1', '2', '3', '4', '5', '6', '7':
			value := rune(e - '0')
			for n := 0; n < 2 && i < len(s) && s[i] >= '0' && s[i] <= '7'; n++ {
				value = value*8 + rune(s[i]-'0')
				i++
			}
			b.WriteRune(value)
		case 'x', 'u', 'U':
			width := hexWidth(e)
			value, err := readHex(s, i, width)
			if err != nil {
				return "", err
			}
			b.WriteRune(value)
			i += width
		case 'N':
			// named escapes need a character database
			return "", errBadEscape
		default:
			b.WriteByte('\\')
			b.WriteByte(e)
		}
	}

	return b.String(), nil
}

func hexWidth(e byte) int {
	switch e {
	case 'x':
		return 2
	case 'u':
		return 4
	default:
		return 8
	}
}

func readHex(s string, at, width int) (rune, error) {
	if at+width > len(s) {
		return 0, errBadEscape
	}
	value, err := strconv.ParseUint(s[at:at+width], 16, 32)
	if err != nil || value > utf8.MaxRune {
		return 0, errBadEscape
	}
	return rune(value), nil
}
