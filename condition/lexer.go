package condition

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokOp     // == != < <= > >=
	tokAnd    // &&
	tokOr     // ||
	tokNot    // !
	tokDot    // .
	tokLParen // (
	tokRParen // )
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == '.':
			toks = append(toks, token{tokDot, ".", i})
			i++

		case c == '&':
			if i+1 >= len(src) || src[i+1] != '&' {
				return nil, &ParseError{Src: src, Pos: i, Msg: "expected &&"}
			}
			toks = append(toks, token{tokAnd, "&&", i})
			i += 2
		case c == '|':
			if i+1 >= len(src) || src[i+1] != '|' {
				return nil, &ParseError{Src: src, Pos: i, Msg: "expected ||"}
			}
			toks = append(toks, token{tokOr, "||", i})
			i += 2

		case c == '!':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{tokOp, "!=", i})
				i += 2
			} else {
				toks = append(toks, token{tokNot, "!", i})
				i++
			}
		case c == '=':
			if i+1 >= len(src) || src[i+1] != '=' {
				return nil, &ParseError{Src: src, Pos: i, Msg: "expected =="}
			}
			toks = append(toks, token{tokOp, "==", i})
			i += 2
		case c == '<' || c == '>':
			op := string(c)
			j := i + 1
			if j < len(src) && src[j] == '=' {
				op += "="
				j++
			}
			toks = append(toks, token{tokOp, op, i})
			i = j

		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			var sb strings.Builder
			for j < len(src) && src[j] != quote {
				if src[j] == '\\' && j+1 < len(src) {
					j++
				}
				sb.WriteByte(src[j])
				j++
			}
			if j >= len(src) {
				return nil, &ParseError{Src: src, Pos: i, Msg: "unterminated string"}
			}
			toks = append(toks, token{tokString, sb.String(), i})
			i = j + 1

		case c >= '0' && c <= '9':
			j := i
			seenDot := false
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.' && !seenDot && j+1 < len(src) && src[j+1] >= '0' && src[j+1] <= '9') {
				if src[j] == '.' {
					seenDot = true
				}
				j++
			}
			toks = append(toks, token{tokNumber, src[i:j], i})
			i = j

		case isIdentStart(rune(c)):
			j := i
			for j < len(src) && isIdentPart(rune(src[j])) {
				j++
			}
			toks = append(toks, token{tokIdent, src[i:j], i})
			i = j

		default:
			return nil, &ParseError{Src: src, Pos: i, Msg: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	toks = append(toks, token{tokEOF, "", len(src)})
	return toks, nil
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
