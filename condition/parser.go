package condition

import "strconv"

type parser struct {
	toks []token
	i    int
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) atEOF() bool { return p.peek().kind == tokEOF }

func (p *parser) errf(t token, msg string) error {
	return &ParseError{Pos: t.pos, Msg: msg}
}

// parseExpr = and { "||" and }
func (p *parser) parseExpr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orNode{left, right}
	}
	return left, nil
}

// parseAnd = unary { "&&" unary }
func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &andNode{left, right}
	}
	return left, nil
}

// parseUnary = "!" unary | comparison
func (p *parser) parseUnary() (node, error) {
	if p.peek().kind == tokNot {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{inner}, nil
	}
	return p.parseComparison()
}

// parseComparison = operand [ op operand ]
func (p *parser) parseComparison() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if p.peek().kind == tokOp {
		op := p.next().text
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &cmpNode{op: op, left: left, right: right}, nil
	}
	return left, nil
}

// parseOperand = "(" expr ")" | literal | path
func (p *parser) parseOperand() (node, error) {
	t := p.peek()
	switch t.kind {
	case tokLParen:
		p.next()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, p.errf(p.peek(), "expected )")
		}
		p.next()
		return inner, nil

	case tokNumber:
		p.next()
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errf(t, "invalid number")
		}
		return &literalNode{f}, nil

	case tokString:
		p.next()
		return &literalNode{t.text}, nil

	case tokIdent:
		switch t.text {
		case "true":
			p.next()
			return &literalNode{true}, nil
		case "false":
			p.next()
			return &literalNode{false}, nil
		case "null":
			p.next()
			return &literalNode{nil}, nil
		}
		return p.parsePath()

	default:
		return nil, p.errf(t, "expected value")
	}
}

// parsePath = ident { "." ident }
func (p *parser) parsePath() (node, error) {
	parts := []string{p.next().text}
	for p.peek().kind == tokDot {
		p.next()
		t := p.next()
		if t.kind != tokIdent {
			return nil, p.errf(t, "expected field name after .")
		}
		parts = append(parts, t.text)
	}
	return &pathNode{parts}, nil
}
