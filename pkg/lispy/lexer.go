package lispy

import (
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokLParen
	tokRParen
	tokSymbol
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	default:
		return "symbol"
	}
}

type token struct {
	kind   tokenKind
	text   string
	offset int // byte offset of the first character
}

// lexer splits s-expression source into parentheses and symbols. A symbol is
// any run of characters that are neither whitespace nor parentheses.
type lexer struct {
	src  string
	pos  int
	peek *token
}

func newLexer(src string) *lexer {
	return &lexer{src: src}
}

func (l *lexer) next() token {
	if l.peek != nil {
		t := *l.peek
		l.peek = nil
		return t
	}
	return l.scan()
}

func (l *lexer) lookahead() token {
	if l.peek == nil {
		t := l.scan()
		l.peek = &t
	}
	return *l.peek
}

func (l *lexer) scan() token {
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !unicode.IsSpace(r) {
			break
		}
		l.pos += size
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, offset: len(l.src)}
	}

	start := l.pos
	switch l.src[start] {
	case '(':
		l.pos++
		return token{kind: tokLParen, text: "(", offset: start}
	case ')':
		l.pos++
		return token{kind: tokRParen, text: ")", offset: start}
	}
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if r == '(' || r == ')' || unicode.IsSpace(r) {
			break
		}
		l.pos += size
	}
	return token{kind: tokSymbol, text: l.src[start:l.pos], offset: start}
}
