// Package querykey implements the canonicalization and fingerprinting
// contract a subscription is deduplicated on: normalize(a) == normalize(b)
// must imply hash(a) == hash(b), and normalization is syntactic only — it
// never changes the meaning of the query, so two queries that are
// semantically identical but spelled differently (column order, alias
// names, extra parentheses) are allowed to land on distinct hashes. That
// costs an extra slot, never a wrong answer.
package querykey

import "strings"

// Normalize canonicalizes SQL text: comments are stripped, keywords and
// unquoted identifiers are lowercased, runs of whitespace collapse to a
// single space, the string is trimmed, and a single trailing semicolon is
// removed. Quoted string literals ('...'), quoted identifiers ("..."), and
// dollar-quoted strings ($tag$...$tag$) are copied through untouched so a
// literal's case and spacing are never altered.
func Normalize(sql string) string {
	var out strings.Builder
	out.Grow(len(sql))

	runes := []rune(sql)
	n := len(runes)
	lastWasSpace := false

	writeSpace := func() {
		if !lastWasSpace && out.Len() > 0 {
			out.WriteByte(' ')
			lastWasSpace = true
		}
	}

	for i := 0; i < n; i++ {
		c := runes[i]

		switch {
		case c == '-' && i+1 < n && runes[i+1] == '-':
			for i < n && runes[i] != '\n' {
				i++
			}
			writeSpace()
			continue

		case c == '/' && i+1 < n && runes[i+1] == '*':
			i += 2
			for i+1 < n && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++ // land on the closing '/'
			writeSpace()
			continue

		case c == '\'':
			start := i
			i++
			for i < n {
				if runes[i] == '\'' {
					if i+1 < n && runes[i+1] == '\'' {
						i += 2
						continue
					}
					break
				}
				i++
			}
			out.WriteString(string(runes[start : i+1]))
			lastWasSpace = false
			continue

		case c == '"':
			start := i
			i++
			for i < n && runes[i] != '"' {
				i++
			}
			out.WriteString(string(runes[start : i+1]))
			lastWasSpace = false
			continue

		case c == '$':
			if tag, end, ok := dollarTag(runes, i); ok {
				closer := "$" + tag + "$"
				closeAt := indexFrom(runes, end, closer)
				if closeAt >= 0 {
					out.WriteString(string(runes[i : closeAt+len(closer)]))
					i = closeAt + len(closer) - 1
					lastWasSpace = false
					continue
				}
			}
			out.WriteRune(c)
			lastWasSpace = false
			continue

		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			writeSpace()
			continue

		default:
			out.WriteRune(lowerASCII(c))
			lastWasSpace = false
		}
	}

	result := strings.TrimSpace(out.String())
	result = strings.TrimSuffix(result, ";")
	return strings.TrimSpace(result)
}

func lowerASCII(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

// dollarTag recognizes a $tag$ opener starting at i and returns the tag
// text and the index just past the opener.
func dollarTag(runes []rune, i int) (tag string, end int, ok bool) {
	j := i + 1
	start := j
	for j < len(runes) && runes[j] != '$' && (isIdentByte(runes[j])) {
		j++
	}
	if j >= len(runes) || runes[j] != '$' {
		return "", 0, false
	}
	return string(runes[start:j]), j + 1, true
}

func isIdentByte(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func indexFrom(runes []rune, from int, needle string) int {
	s := string(runes[from:])
	idx := strings.Index(s, needle)
	if idx < 0 {
		return -1
	}
	return from + len([]rune(s[:idx]))
}
