package imap

import (
	"fmt"
	"strconv"
	"strings"
)

// Token is one element of a parenthesised IMAP list.
type Token struct {
	Type   TType
	Str    string
	Num    int
	Tokens []*Token
}

// TType is the kind of a Token.
type TType uint8

const (
	TUnset TType = iota
	TAtom
	TNumber
	TLiteral
	TQuoted
	TNil
	TContainer
)

func (t *Token) String() string {
	switch t.Type {
	case TNil:
		return "NIL"
	case TNumber:
		return strconv.Itoa(t.Num)
	case TQuoted:
		return strconv.Quote(t.Str)
	case TLiteral:
		return fmt.Sprintf("{%d}", len(t.Str))
	case TContainer:
		parts := make([]string, len(t.Tokens))
		for i, c := range t.Tokens {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, " ") + ")"
	}
	return t.Str
}

type tokenizer struct {
	s   string
	pos int
}

// parseTokens splits an IMAP list into tokens, descending into nested
// lists and reading {N} literals inline. A single outer list is unwrapped.
func parseTokens(s string) ([]*Token, error) {
	tz := &tokenizer{s: s}
	tokens, err := tz.list(0)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 1 && tokens[0].Type == TContainer {
		tokens = tokens[0].Tokens
	}
	return tokens, nil
}

func (tz *tokenizer) list(depth int) ([]*Token, error) {
	var tokens []*Token
	for {
		tz.skipSpace()
		if tz.pos >= len(tz.s) {
			if depth > 0 {
				return nil, fmt.Errorf("mismatched parentheses, %d unclosed in %q", depth, tz.s)
			}
			return tokens, nil
		}

		var (
			t   *Token
			err error
		)
		switch c := tz.s[tz.pos]; {
		case c == ')':
			if depth == 0 {
				return nil, fmt.Errorf("unmatched ')' at char %d in %q", tz.pos, tz.s)
			}
			tz.pos++
			return tokens, nil
		case c == '(':
			tz.pos++
			var children []*Token
			children, err = tz.list(depth + 1)
			t = &Token{Type: TContainer, Tokens: children}
		case c == '"':
			t, err = tz.quoted()
		case c == '{':
			t, err = tz.literal()
		case isAtomChar(c):
			t = tz.atom()
		default:
			tz.pos++
			continue
		}
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
}

func (tz *tokenizer) skipSpace() {
	for tz.pos < len(tz.s) {
		switch tz.s[tz.pos] {
		case ' ', '\t', '\r', '\n':
			tz.pos++
		default:
			return
		}
	}
}

func (tz *tokenizer) quoted() (*Token, error) {
	var b strings.Builder
	for i := tz.pos + 1; i < len(tz.s); i++ {
		switch c := tz.s[i]; c {
		case '\\':
			if i+1 < len(tz.s) {
				i++
				b.WriteByte(tz.s[i])
			}
		case '"':
			tz.pos = i + 1
			return &Token{Type: TQuoted, Str: b.String()}, nil
		default:
			b.WriteByte(c)
		}
	}
	return nil, fmt.Errorf("unterminated quoted string in %q", tz.s)
}

func (tz *tokenizer) literal() (*Token, error) {
	rb := strings.IndexByte(tz.s[tz.pos:], '}')
	if rb < 0 {
		return nil, fmt.Errorf("unterminated literal size in %q", tz.s)
	}
	sizeText := strings.TrimSuffix(tz.s[tz.pos+1:tz.pos+rb], "+")
	size, err := strconv.Atoi(sizeText)
	if err != nil || size < 0 {
		return nil, fmt.Errorf("bad literal size %q", sizeText)
	}
	start := tz.pos + rb + 1
	if strings.HasPrefix(tz.s[start:], "\r\n") {
		start += 2
	} else if strings.HasPrefix(tz.s[start:], "\n") {
		start++
	}
	end, err := literalEnd(start, size, len(tz.s))
	if err != nil {
		return nil, err
	}
	tz.pos = end
	return &Token{Type: TLiteral, Str: tz.s[start:end]}, nil
}

// literalEnd returns the exclusive end of a literal of size bytes starting
// at start. A literal cut short by the end of input keeps what is there.
func literalEnd(start, size, n int) (int, error) {
	switch {
	case size == 0:
		return start, nil
	case start >= n:
		return 0, fmt.Errorf("literal of %d bytes has no data", size)
	case start+size > n:
		return n, nil
	}
	return start + size, nil
}

func (tz *tokenizer) atom() *Token {
	start := tz.pos
	for tz.pos < len(tz.s) && isAtomChar(tz.s[tz.pos]) {
		tz.pos++
	}
	s := tz.s[start:tz.pos]
	if strings.EqualFold(s, "NIL") {
		return &Token{Type: TNil}
	}
	if n, err := strconv.Atoi(s); err == nil {
		return &Token{Type: TNumber, Num: n}
	}
	return &Token{Type: TAtom, Str: s}
}

func isAtomChar(c byte) bool {
	switch c {
	case '(', ')', '{', '"', ' ', 0x7f:
		return false
	}
	return c > ' '
}

// parseFlags returns the FLAGS list of a FETCH response line.
func parseFlags(line string) []string {
	i := strings.Index(strings.ToUpper(line), "FLAGS (")
	if i < 0 {
		return nil
	}
	rest := line[i+len("FLAGS "):]
	end := strings.IndexByte(rest, ')')
	if end < 0 {
		return nil
	}
	tokens, err := parseTokens(rest[:end+1])
	if err != nil {
		return nil
	}
	flags := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t.Type == TAtom || t.Type == TQuoted || t.Type == TLiteral {
			flags = append(flags, t.Str)
		}
	}
	return flags
}

// parseNamespace returns the hierarchy delimiter of the first personal
// namespace in a NAMESPACE response, or "" when there is none.
func parseNamespace(text string) string {
	tokens, err := parseTokens(text)
	if err != nil || len(tokens) == 0 {
		return ""
	}
	personal := tokens[0]
	if personal.Type != TContainer || len(personal.Tokens) == 0 {
		return ""
	}
	first := personal.Tokens[0]
	if first.Type == TQuoted && len(personal.Tokens) >= 2 {
		// a single namespace collapses to its own container
		first = personal
	}
	if first.Type != TContainer || len(first.Tokens) < 2 || first.Tokens[1].Type != TQuoted {
		return ""
	}
	return first.Tokens[1].Str
}
