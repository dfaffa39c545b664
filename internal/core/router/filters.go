package router

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/geofetch/internal/postgis"
)

const maxFilterLen = 500

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokOp
	tokString
	tokNumber
)

type token struct {
	kind tokenKind
	text string
	val  any
}

var (
	numberPattern = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?`)
	comparisons   = map[string]bool{"=": true, "!=": true, "<>": true, "<": true, "<=": true, ">": true, ">=": true}
	keywords      = map[string]bool{"AND": true, "OR": true, "NOT": true, "IS": true, "NULL": true, "LIKE": true, "ILIKE": true}
)

// parseFilters reads "column op literal [AND column op literal ...]". op is
// a comparison, LIKE, ILIKE, IS NULL or IS NOT NULL; literals are quoted
// strings ('' escapes a quote) or numbers and end up as bind arguments.
func parseFilters(s string) ([]postgis.Filter, error) {
	if len(s) > maxFilterLen {
		return nil, fmt.Errorf("filters longer than %d bytes", maxFilterLen)
	}
	toks, err := tokenize(s)
	if err != nil {
		return nil, err
	}

	var out []postgis.Filter
	i := 0
	for {
		if i >= len(toks) || toks[i].kind != tokIdent || keywords[strings.ToUpper(toks[i].text)] {
			return nil, errors.New("expected a column name")
		}
		f := postgis.Filter{Column: toks[i].text}
		i++
		if i >= len(toks) {
			return nil, fmt.Errorf("missing operator after %s", f.Column)
		}

		switch t := toks[i]; {
		case t.kind == tokOp:
			f.Op = t.text
		case t.kind == tokIdent && (strings.EqualFold(t.text, "LIKE") || strings.EqualFold(t.text, "ILIKE")):
			f.Op = strings.ToUpper(t.text)
		case t.kind == tokIdent && strings.EqualFold(t.text, "IS"):
			f.Op = "IS NULL"
			if i+1 < len(toks) && strings.EqualFold(toks[i+1].text, "NOT") {
				f.Op = "IS NOT NULL"
				i++
			}
			if i+1 >= len(toks) || toks[i+1].kind != tokIdent || !strings.EqualFold(toks[i+1].text, "NULL") {
				return nil, errors.New("expected NULL after IS")
			}
			i++
		default:
			return nil, fmt.Errorf("unsupported operator %q", t.text)
		}
		i++

		if f.Op != "IS NULL" && f.Op != "IS NOT NULL" {
			if i >= len(toks) || (toks[i].kind != tokString && toks[i].kind != tokNumber) {
				return nil, fmt.Errorf("%s %s needs a quoted string or a number", f.Column, f.Op)
			}
			if toks[i].kind != tokString && (f.Op == "LIKE" || f.Op == "ILIKE") {
				return nil, fmt.Errorf("%s needs a quoted pattern", f.Op)
			}
			f.Value = toks[i].val
			i++
		}
		out = append(out, f)

		if i == len(toks) {
			return out, nil
		}
		if toks[i].kind != tokIdent || !strings.EqualFold(toks[i].text, "AND") {
			return nil, fmt.Errorf("expected AND, got %q", toks[i].text)
		}
		i++
	}
}

func tokenize(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case identStart(c):
			j := i + 1
			for j < len(s) && (identStart(s[j]) || (s[j] >= '0' && s[j] <= '9')) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: s[i:j]})
			i = j
		case c == '\'':
			var b strings.Builder
			j := i + 1
			for {
				if j >= len(s) {
					return nil, errors.New("unterminated string literal")
				}
				if s[j] == '\'' {
					if j+1 < len(s) && s[j+1] == '\'' {
						b.WriteByte('\'')
						j += 2
						continue
					}
					break
				}
				b.WriteByte(s[j])
				j++
			}
			toks = append(toks, token{kind: tokString, text: s[i : j+1], val: b.String()})
			i = j + 1
		case c == '-' || (c >= '0' && c <= '9'):
			m := numberPattern.FindString(s[i:])
			if m == "" {
				return nil, fmt.Errorf("unexpected %q in filters", c)
			}
			var v any
			if strings.Contains(m, ".") {
				f, err := strconv.ParseFloat(m, 64)
				if err != nil {
					return nil, fmt.Errorf("number %q: %w", m, err)
				}
				v = f
			} else {
				n, err := strconv.ParseInt(m, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("number %q: %w", m, err)
				}
				v = n
			}
			toks = append(toks, token{kind: tokNumber, text: m, val: v})
			i += len(m)
		case strings.IndexByte("=<>!", c) >= 0:
			j := i + 1
			for j < len(s) && strings.IndexByte("=<>!", s[j]) >= 0 {
				j++
			}
			if !comparisons[s[i:j]] {
				return nil, fmt.Errorf("unsupported operator %q", s[i:j])
			}
			toks = append(toks, token{kind: tokOp, text: s[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("unexpected %q in filters", c)
		}
	}
	return toks, nil
}

func identStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
