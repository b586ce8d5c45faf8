// Package htnlang parses the Prolog-flavored surface syntax and compiles it
// into rules, methods, operators, and goals.
//
// The syntax: facts "f(a).", rules "h(?X) :- b(?X), c.", variables "?X",
// don't-care "_", quoted atoms, % line comments, lists "[a, b | ?T]", and
// prefix arithmetic like -(1, 2). Methods and operators are ordinary rules
// read specially by the compiler: "head :- if(...), do(...)." and
// "head :- del(...), add(...).".
package htnlang

import (
	"fmt"
	"strings"

	"github.com/cory-johannsen/htn/internal/term"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenAtom
	tokenVariable
	tokenNumber
	tokenQuoted
	tokenPunct // ( ) [ ] , |
	tokenClauseDot
	tokenImplies // :-
)

type token struct {
	kind tokenKind
	text string
	line int
}

type lexer struct {
	src  string
	pos  int
	line int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1}
}

const symbolChars = "+-*/\\=<>:!"

func isIdentStart(c byte) bool {
	return c == '_' || c == '-' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (l *lexer) peek() byte {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) peekAt(offset int) byte {
	if l.pos+offset >= len(l.src) {
		return 0
	}
	return l.src[l.pos+offset]
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return token{kind: tokenEOF, line: l.line}, nil
	}
	c := l.peek()
	switch {
	case c == '%':
		for l.pos < len(l.src) && l.src[l.pos] != '\n' {
			l.pos++
		}
		return l.next()

	case c == '(' || c == ')' || c == '[' || c == ']' || c == ',' || c == '|':
		l.pos++
		return token{kind: tokenPunct, text: string(c), line: l.line}, nil

	case c == '.':
		l.pos++
		return token{kind: tokenClauseDot, text: ".", line: l.line}, nil

	case c == '\'':
		return l.lexQuoted()

	case c == '?':
		l.pos++
		start := l.pos
		for l.pos < len(l.src) && isIdentChar(l.src[l.pos]) {
			l.pos++
		}
		if l.pos == start {
			return token{}, fmt.Errorf("htnlang: line %d: expected variable name after '?'", l.line)
		}
		return token{kind: tokenVariable, text: l.src[start:l.pos], line: l.line}, nil

	case isDigit(c) || (c == '-' && isDigit(l.peekAt(1))):
		return l.lexNumber(), nil

	case c == ':' && l.peekAt(1) == '-':
		l.pos += 2
		return token{kind: tokenImplies, text: ":-", line: l.line}, nil

	case isIdentStart(c):
		start := l.pos
		for l.pos < len(l.src) && isIdentChar(l.src[l.pos]) {
			l.pos++
		}
		text := l.src[start:l.pos]
		kind := tokenAtom
		if text == "_" {
			kind = tokenVariable
		}
		return token{kind: kind, text: text, line: l.line}, nil

	case strings.IndexByte(symbolChars, c) >= 0:
		start := l.pos
		for l.pos < len(l.src) && strings.IndexByte(symbolChars, l.src[l.pos]) >= 0 {
			l.pos++
		}
		return token{kind: tokenAtom, text: l.src[start:l.pos], line: l.line}, nil
	}
	return token{}, fmt.Errorf("htnlang: line %d: unexpected character %q", l.line, c)
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case ' ', '\t', '\r':
			l.pos++
		case '\n':
			l.line++
			l.pos++
		default:
			return
		}
	}
}

func (l *lexer) lexNumber() token {
	start := l.pos
	if l.peek() == '-' {
		l.pos++
	}
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
	}
	// A '.' continues the number only when a digit follows; otherwise it is
	// the clause terminator.
	if l.peek() == '.' && isDigit(l.peekAt(1)) {
		l.pos++
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	return token{kind: tokenNumber, text: l.src[start:l.pos], line: l.line}
}

func (l *lexer) lexQuoted() (token, error) {
	line := l.line
	l.pos++ // opening quote
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\'' {
			l.pos++
			return token{kind: tokenQuoted, text: b.String(), line: line}, nil
		}
		if c == '\\' && l.pos+1 < len(l.src) {
			l.pos++
			c = l.src[l.pos]
		}
		if c == '\n' {
			l.line++
		}
		b.WriteByte(c)
		l.pos++
	}
	return token{}, fmt.Errorf("htnlang: line %d: unterminated quoted atom", line)
}

// Clause is one parsed source clause: a head and an ordered body (empty for
// facts).
type Clause struct {
	Head *term.Term
	Body []*term.Term
}

type parser struct {
	lex     *lexer
	factory *term.Factory
	tok     token
}

// ParseDocument parses src into clauses in document order.
func ParseDocument(f *term.Factory, src string) ([]*Clause, error) {
	p := &parser{lex: newLexer(src), factory: f}
	if err := p.advance(); err != nil {
		return nil, err
	}
	var clauses []*Clause
	for p.tok.kind != tokenEOF {
		clause, err := p.parseClause()
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}
	return clauses, nil
}

// ParseTerms parses a comma-separated list of terms (no trailing dot), the
// form goal strings arrive in from embeddings and the CLI.
func ParseTerms(f *term.Factory, src string) ([]*term.Term, error) {
	p := &parser{lex: newLexer(src), factory: f}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind == tokenEOF {
		return nil, nil
	}
	terms, err := p.parseTermList(tokenEOF)
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokenEOF {
		return nil, fmt.Errorf("htnlang: line %d: trailing input after terms", p.tok.line)
	}
	return terms, nil
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) parseClause() (*Clause, error) {
	head, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	if head.IsVariable() {
		return nil, fmt.Errorf("htnlang: line %d: clause head must not be a variable", p.tok.line)
	}
	clause := &Clause{Head: head}
	if p.tok.kind == tokenImplies {
		if err := p.advance(); err != nil {
			return nil, err
		}
		// An empty body ("head :- .") is legal and means always-true.
		if p.tok.kind != tokenClauseDot {
			clause.Body, err = p.parseTermList(tokenClauseDot)
			if err != nil {
				return nil, err
			}
		}
	}
	if p.tok.kind != tokenClauseDot {
		return nil, fmt.Errorf("htnlang: line %d: expected '.' to end clause, got %q", p.tok.line, p.tok.text)
	}
	return clause, p.advance()
}

// parseTermList parses comma-separated terms until the given end token.
func (p *parser) parseTermList(end tokenKind) ([]*term.Term, error) {
	var terms []*term.Term
	for {
		t, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
		if p.tok.kind == tokenPunct && p.tok.text == "," {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		if p.tok.kind == end {
			return terms, nil
		}
		return nil, fmt.Errorf("htnlang: line %d: expected ',' or end of list, got %q", p.tok.line, p.tok.text)
	}
}

func (p *parser) parseTerm() (*term.Term, error) {
	switch p.tok.kind {
	case tokenVariable:
		name := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.factory.Variable(name), nil

	case tokenNumber, tokenQuoted:
		name := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.factory.Atom(name), nil

	case tokenAtom:
		name := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind == tokenPunct && p.tok.text == "(" {
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			return p.factory.CompoundFromSlice(name, args), nil
		}
		return p.factory.Atom(name), nil

	case tokenPunct:
		if p.tok.text == "[" {
			return p.parseList()
		}
	}
	return nil, fmt.Errorf("htnlang: line %d: unexpected token %q", p.tok.line, p.tok.text)
}

func (p *parser) parseArgs() ([]*term.Term, error) {
	if err := p.advance(); err != nil { // consume '('
		return nil, err
	}
	if p.tok.kind == tokenPunct && p.tok.text == ")" {
		return nil, p.advance()
	}
	args, err := p.parseTermList(tokenPunct)
	if err != nil {
		return nil, err
	}
	if p.tok.text != ")" {
		return nil, fmt.Errorf("htnlang: line %d: expected ')', got %q", p.tok.line, p.tok.text)
	}
	return args, p.advance()
}

func (p *parser) parseList() (*term.Term, error) {
	if err := p.advance(); err != nil { // consume '['
		return nil, err
	}
	if p.tok.kind == tokenPunct && p.tok.text == "]" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.factory.EmptyList(), nil
	}
	var items []*term.Term
	for {
		t, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		items = append(items, t)
		if p.tok.kind == tokenPunct && p.tok.text == "," {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	tail := p.factory.EmptyList()
	if p.tok.kind == tokenPunct && p.tok.text == "|" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		t, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		tail = t
	}
	if !(p.tok.kind == tokenPunct && p.tok.text == "]") {
		return nil, fmt.Errorf("htnlang: line %d: expected ']', got %q", p.tok.line, p.tok.text)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p.factory.ListWithTail(items, tail), nil
}
