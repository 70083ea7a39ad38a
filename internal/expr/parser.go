package expr

import (
	"fmt"
	"strconv"
	"sync"
)

// parser is a recursive-descent parser over the lexed token stream.
//
// Precedence, loosest first:
//
//	comparison:  < > <= >= == !=
//	additive:    + -
//	multiplicative: * / %
//	power:       ** (right associative)
//	unary:       + -
//	primary:     number, dotted name, call, (expr)
type parser struct {
	tokens []token
	pos    int
}

// astCache memoizes parsed expressions by source string. Playbooks evaluate
// the same handful of expressions on every bar close.
var astCache sync.Map // string -> node

// parse returns the AST for src, from cache when available.
func parse(src string) (node, error) {
	if cached, ok := astCache.Load(src); ok {
		return cached.(node), nil
	}
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	root, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokenEOF {
		return nil, fmt.Errorf("unexpected %q at position %d", p.peek().text, p.peek().pos)
	}
	astCache.Store(src, root)
	return root, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, fmt.Errorf("expected %s at position %d, got %q", what, t.pos, t.text)
	}
	return t, nil
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	switch p.peek().kind {
	case tokenLT, tokenGT, tokenLE, tokenGE, tokenEQ, tokenNE:
		op := p.next().text
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return compareNode{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokenPlus, tokenMinus:
			op := p.next().text
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}
			left = binaryNode{op: op, left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parsePower()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokenStar, tokenSlash, tokenPercent:
			op := p.next().text
			right, err := p.parsePower()
			if err != nil {
				return nil, err
			}
			left = binaryNode{op: op, left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parsePower() (node, error) {
	base, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.peek().kind == tokenPower {
		p.next()
		// right associative: a ** b ** c == a ** (b ** c)
		exp, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		return binaryNode{op: "**", left: base, right: exp}, nil
	}
	return base, nil
}

func (p *parser) parseUnary() (node, error) {
	switch p.peek().kind {
	case tokenPlus, tokenMinus:
		op := p.next().text
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: op, operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokenNumber:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q at position %d", t.text, t.pos)
		}
		return numberNode{value: v}, nil
	case tokenLParen:
		inner, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case tokenIdent:
		if p.peek().kind == tokenLParen {
			return p.parseCall(t.text)
		}
		return p.parseDottedName(t.text)
	}
	return nil, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
}

func (p *parser) parseCall(name string) (node, error) {
	if _, err := p.expect(tokenLParen, "'('"); err != nil {
		return nil, err
	}
	var args []node
	if p.peek().kind != tokenRParen {
		for {
			arg, err := p.parseComparison()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokenComma {
				break
			}
			p.next()
		}
	}
	if _, err := p.expect(tokenRParen, "')'"); err != nil {
		return nil, err
	}
	return callNode{name: name, args: args}, nil
}

func (p *parser) parseDottedName(first string) (node, error) {
	parts := []string{first}
	for p.peek().kind == tokenDot {
		p.next()
		seg, err := p.expect(tokenIdent, "name segment")
		if err != nil {
			return nil, err
		}
		parts = append(parts, seg.text)
	}
	return nameNode{parts: parts}, nil
}
