package tools

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokQuotedIdent
	tokString
	tokNumber
	tokParam
	tokPunct
)

type token struct {
	kind tokenKind
	text string // identifiers keep their case; strings are unquoted
	pos  int
}

func (t token) is(kind tokenKind, text string) bool {
	if t.kind != kind {
		return false
	}
	if kind == tokIdent {
		return strings.EqualFold(t.text, text)
	}
	return t.text == text
}

func (t token) keyword(words ...string) bool {
	if t.kind != tokIdent {
		return false
	}
	for _, w := range words {
		if strings.EqualFold(t.text, w) {
			return true
		}
	}
	return false
}

const punctChars = "(),.;=<>!+-*/%|&~^[]{}:"

var twoCharOps = []string{"<>", "!=", "<=", ">=", "==", "||", "<<", ">>"}

// lexRules are the lexical differences between the supported dialects.
// SQLite has no backslash escapes and quotes identifiers in brackets;
// BigQuery has backslash escapes, raw and triple-quoted strings and # comments.
type lexRules struct {
	backslashEscapes bool
	doubledQuotes    bool
	hashComments     bool
	bracketIdents    bool
	prefixedStrings  bool
}

func rulesFor(d Dialect) lexRules {
	if d == DialectBigQuery {
		return lexRules{backslashEscapes: true, hashComments: true, prefixedStrings: true}
	}
	return lexRules{doubledQuotes: true, bracketIdents: true}
}

// lexSQL splits query into tokens using the lexical rules of d. Comments and
// whitespace are dropped. Positional placeholders, system variables and
// unterminated literals are errors.
func lexSQL(query string, d Dialect) ([]token, error) {
	rules := rulesFor(d)
	var toks []token
	src := []rune(query)
	n := len(src)

	for i := 0; i < n; {
		c := src[i]
		switch {
		case unicode.IsSpace(c):
			i++

		case c == '-' && i+1 < n && src[i+1] == '-', c == '#' && rules.hashComments:
			for i < n && src[i] != '\n' {
				i++
			}

		case c == '/' && i+1 < n && src[i+1] == '*':
			j := i + 2
			for j+1 < n && (src[j] != '*' || src[j+1] != '/') {
				j++
			}
			if j+1 >= n {
				return nil, fmt.Errorf("unterminated comment at offset %d", i)
			}
			i = j + 2

		case c == '\'':
			text, next, err := rules.quoted(src, i, false)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: text, pos: i})
			i = next

		case c == '"' && rules.prefixedStrings:
			// BigQuery reads double quotes as a string literal.
			text, next, err := rules.quoted(src, i, false)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: text, pos: i})
			i = next

		case c == '"' || c == '`':
			text, next, err := rules.quoted(src, i, false)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokQuotedIdent, text: text, pos: i})
			i = next

		case c == '[' && rules.bracketIdents:
			j := i + 1
			for j < n && src[j] != ']' {
				j++
			}
			if j >= n {
				return nil, fmt.Errorf("unterminated identifier at offset %d", i)
			}
			toks = append(toks, token{kind: tokQuotedIdent, text: string(src[i+1 : j]), pos: i})
			i = j + 1

		case c == '@':
			if i+1 < n && src[i+1] == '@' {
				return nil, fmt.Errorf("system variables are not allowed (offset %d)", i)
			}
			j := i + 1
			for j < n && isIdentRune(src[j]) {
				j++
			}
			if j == i+1 {
				return nil, fmt.Errorf("empty parameter name at offset %d", i)
			}
			toks = append(toks, token{kind: tokParam, text: string(src[i+1 : j]), pos: i})
			i = j

		case isIdentStart(c):
			j := i
			for j < n && isIdentRune(src[j]) {
				j++
			}
			word := strings.ToLower(string(src[i:j]))
			if rules.prefixedStrings && j < n && (src[j] == '\'' || src[j] == '"') &&
				(word == "r" || word == "b" || word == "rb" || word == "br") {
				text, next, err := rules.quoted(src, j, strings.Contains(word, "r"))
				if err != nil {
					return nil, err
				}
				toks = append(toks, token{kind: tokString, text: text, pos: i})
				i = next
				continue
			}
			toks = append(toks, token{kind: tokIdent, text: string(src[i:j]), pos: i})
			i = j

		case unicode.IsDigit(c):
			j := i
			for j < n && (unicode.IsDigit(src[j]) || src[j] == '.' || src[j] == 'e' || src[j] == 'E') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: string(src[i:j]), pos: i})
			i = j

		case strings.ContainsRune(punctChars, c):
			text := string(c)
			if i+1 < n {
				pair := string(src[i : i+2])
				for _, op := range twoCharOps {
					if pair == op {
						text = pair
						break
					}
				}
			}
			toks = append(toks, token{kind: tokPunct, text: text, pos: i})
			i += len([]rune(text))

		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	return toks, nil
}

// quoted reads a literal opened at src[start] and returns its text and the
// offset just past it. raw disables backslash escapes for r'...' strings.
func (r lexRules) quoted(src []rune, start int, raw bool) (string, int, error) {
	quote := src[start]
	n := len(src)

	triple := r.prefixedStrings && start+2 < n && src[start+1] == quote && src[start+2] == quote
	open := start + 1
	if triple {
		open = start + 3
	}

	var b strings.Builder
	for i := open; i < n; i++ {
		c := src[i]
		switch {
		case c == '\\' && r.backslashEscapes && !raw && i+1 < n:
			i++
			b.WriteRune(src[i])
		case triple && c == quote && i+2 < n && src[i+1] == quote && src[i+2] == quote:
			return b.String(), i + 3, nil
		case triple:
			b.WriteRune(c)
		case c == quote && r.doubledQuotes && i+1 < n && src[i+1] == quote:
			i++
			b.WriteRune(quote)
		case c == quote:
			return b.String(), i + 1, nil
		default:
			b.WriteRune(c)
		}
	}
	return "", 0, fmt.Errorf("unterminated literal at offset %d", start)
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
