package filter

import (
	"fmt"
	"strconv"
	"strings"
	"text/scanner"
)

// Parse parses a filter expression into its AST. Grammar, loosest
// binding first:
//
//	expr       = and { "||" and }
//	and        = comparison { "&&" comparison }
//	comparison = primary [ op primary ]
//	primary    = ident { "." ident } | literal | "(" expr ")"
func Parse(expr string) (Expression, error) {
	if expr == "" {
		return nil, nil
	}

	var s scanner.Scanner
	s.Init(strings.NewReader(expr))
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats | scanner.ScanStrings
	// Unexpected runes surface as parse errors, not scanner panics.
	s.Error = func(*scanner.Scanner, string) {}

	p := &parser{s: &s}
	p.next()

	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok != scanner.EOF {
		return nil, fmt.Errorf("unexpected trailing token %q", p.lit)
	}
	return node, nil
}

type parser struct {
	s   *scanner.Scanner
	tok rune
	lit string
}

// next advances one token, gluing two-rune operators together.
func (p *parser) next() {
	p.tok = p.s.Scan()
	p.lit = p.s.TokenText()

	pair := map[rune]rune{'=': '=', '!': '=', '<': '=', '>': '=', '&': '&', '|': '|'}
	if second, ok := pair[p.tok]; ok && p.s.Peek() == second {
		p.s.Scan()
		p.lit = string(p.tok) + string(second)
		p.tok = -1
	}
}

func (p *parser) parseOr() (Expression, error) {
	lhs, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.lit == string(OpOr) {
		p.next()
		rhs, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lhs = &Binary{Left: lhs, Op: OpOr, Right: rhs}
	}
	return lhs, nil
}

func (p *parser) parseAnd() (Expression, error) {
	lhs, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.lit == string(OpAnd) {
		p.next()
		rhs, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		lhs = &Binary{Left: lhs, Op: OpAnd, Right: rhs}
	}
	return lhs, nil
}

func (p *parser) parseComparison() (Expression, error) {
	lhs, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	switch p.lit {
	case "==", "!=", ">", "<", ">=", "<=", "contains":
		op := Operator(p.lit)
		p.next()
		rhs, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &Binary{Left: lhs, Op: op, Right: rhs}, nil
	}
	return lhs, nil
}

func (p *parser) parsePrimary() (Expression, error) {
	switch p.tok {
	case scanner.Ident:
		return p.parseIdent()

	case scanner.String:
		val, err := strconv.Unquote(p.lit)
		if err != nil {
			return nil, fmt.Errorf("malformed string literal %s", p.lit)
		}
		p.next()
		return &Literal{Value: val}, nil

	case scanner.Int, scanner.Float:
		val, err := strconv.ParseFloat(p.lit, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed number literal %q", p.lit)
		}
		p.next()
		return &Literal{Value: val}, nil

	case '(':
		p.next()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok != ')' {
			return nil, fmt.Errorf("expected closing parenthesis, got %q", p.lit)
		}
		p.next()
		return expr, nil

	default:
		return nil, fmt.Errorf("unexpected token %q", p.lit)
	}
}

// parseIdent reads a dotted path. Bare true/false/null are literals.
func (p *parser) parseIdent() (Expression, error) {
	switch p.lit {
	case "true":
		p.next()
		return &Literal{Value: true}, nil
	case "false":
		p.next()
		return &Literal{Value: false}, nil
	case "null":
		p.next()
		return &Literal{Value: nil}, nil
	}

	var node Expression = &Ident{Name: p.lit}
	p.next()
	for p.tok == '.' {
		p.next()
		if p.tok != scanner.Ident {
			return nil, fmt.Errorf("expected field name after %q", ".")
		}
		node = &Field{Object: node, Name: p.lit}
		p.next()
	}
	return node, nil
}
