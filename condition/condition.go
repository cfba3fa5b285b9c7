// Package condition implements the restricted boolean expression grammar that
// gates whether a workflow step runs.
//
// Expressions are parsed once, at workflow load time, into an immutable AST
// and evaluated by a pure interpreter against the map of committed step
// outputs. There is no code execution, assignment, or function call surface.
//
// # Grammar
//
//	expr     = or
//	or       = and { "||" and }
//	and      = unary { "&&" unary }
//	unary    = "!" unary | comparison
//	compare  = operand [ ( "==" | "!=" | "<" | "<=" | ">" | ">=" ) operand ]
//	operand  = "(" expr ")" | literal | path
//	literal  = number | string | "true" | "false" | "null"
//	path     = ident { "." ident }
//
// Paths address into the step-output map by step id and field name, resolving
// through maps, structs (field name or json tag), and pointers. The
// pseudo-field "length" yields the length of an array, map, or string:
//
//	inspect.items.length > 0 && inspect.confidence >= 0.5
//
// # Absent values
//
// A path that resolves nowhere evaluates to a typed absent value rather than
// an error. Absent compares false to everything except another absent value
// (absent == absent is true) and is falsy in boolean position, so conditions
// over missing upstream data quietly skip the dependent step instead of
// failing the run.
package condition

import "fmt"

// Expr is a parsed, validated condition expression. It is immutable and safe
// for concurrent evaluation.
type Expr struct {
	root node
	src  string
}

// Parse compiles src into an expression tree. A syntax error reports the
// offending position.
func Parse(src string) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.atEOF() {
		return nil, &ParseError{Src: src, Pos: p.peek().pos, Msg: fmt.Sprintf("unexpected %q", p.peek().text)}
	}
	return &Expr{root: root, src: src}, nil
}

// String returns the original expression source.
func (e *Expr) String() string { return e.src }

// Eval evaluates the expression against the committed step-output map and
// reduces the result to a boolean via truthiness. It never errors: missing
// data resolves to the absent value.
func (e *Expr) Eval(data map[string]any) bool {
	return truthy(e.root.eval(data))
}

// ParseError describes a syntax error in a condition expression.
type ParseError struct {
	Src string
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("condition: parse %q: offset %d: %s", e.Src, e.Pos, e.Msg)
}
