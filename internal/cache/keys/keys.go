// Package keys builds cache keys for fetched layers.
package keys

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

var punctSpace = regexp.MustCompile(`\s*([=<>!\.,\(\)\[\]~;&])\s*`)

// Key identifies a fetch by source, layer name and query text. The query
// is whitespace-normalised before hashing, so formatting differences map
// onto the same key while any semantic change does not. Each bind
// argument is hashed with its type and Go syntax.
func Key(source, layer, query string, args ...any) string {
	var b strings.Builder
	b.WriteString(Normalize(query))
	for _, a := range args {
		fmt.Fprintf(&b, "\x1f%T=%#v", a, a)
	}
	sum := xxhash.Sum64String(b.String())

	return fmt.Sprintf("%sq=%016x", LayerPrefix(source, layer), sum)
}

// LayerPrefix is the common prefix of every key Key builds for source and
// layer.
func LayerPrefix(source, layer string) string {
	return fmt.Sprintf("geofetch:%s:%s:",
		sanitize(strings.ToLower(strings.TrimSpace(source))),
		sanitize(strings.TrimSpace(layer)))
}

// Normalize collapses whitespace runs and drops spaces around operators
// and punctuation. Quoted text ('...' or "...") is kept byte for byte.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] != '\'' && s[i] != '"' {
			continue
		}
		end := closingQuote(s, i)
		b.WriteString(normalizeBare(s[start:i]))
		b.WriteString(s[i : end+1])
		start = end + 1
		i = end
	}
	b.WriteString(normalizeBare(s[start:]))
	return b.String()
}

func normalizeBare(s string) string {
	return punctSpace.ReplaceAllString(collapseASCIIWhitespace(s), "$1")
}

// closingQuote returns the index of the quote closing the literal opened
// at i, or the last index when it is unterminated. A doubled quote or a
// backslash escape does not close it.
func closingQuote(s string, i int) int {
	q := s[i]
	for k := i + 1; k < len(s); k++ {
		switch {
		case s[k] == '\\':
			k++
		case s[k] == q && k+1 < len(s) && s[k+1] == q:
			k++
		case s[k] == q:
			return k
		}
	}
	return len(s) - 1
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// any other rune (including non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}
