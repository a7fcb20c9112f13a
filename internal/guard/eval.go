package guard

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
)

// Evaluate evaluates a guard expression against the context. The empty
// expression is vacuously true. "and" binds tighter than "or"; comparisons
// use == and !=. A syntax error is returned so the caller can treat the
// transition as unsatisfied without killing the loop.
func Evaluate(expr string, ctx *Context) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}

	toks, err := tokenize(expr)
	if err != nil {
		return false, err
	}

	p := &parser{toks: toks, ctx: ctx}
	result, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if p.pos < len(p.toks) {
		return false, fmt.Errorf("guard: unexpected token %q", p.toks[p.pos].text)
	}
	return result, nil
}

type tokenKind int

const (
	tokPath tokenKind = iota
	tokString
	tokNumber
	tokOp // == or !=
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(expr string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '=' || c == '!':
			if i+1 >= len(expr) || expr[i+1] != '=' {
				return nil, fmt.Errorf("guard: expected %q at offset %d", string(c)+"=", i)
			}
			toks = append(toks, token{tokOp, expr[i : i+2]})
			i += 2
		case c == '"' || c == '\'':
			quote := c
			end := strings.IndexByte(expr[i+1:], quote)
			if end < 0 {
				return nil, fmt.Errorf("guard: unterminated string at offset %d", i)
			}
			toks = append(toks, token{tokString, expr[i+1 : i+1+end]})
			i += end + 2
		case c == '-' || unicode.IsDigit(rune(c)):
			j := i + 1
			for j < len(expr) && unicode.IsDigit(rune(expr[j])) {
				j++
			}
			toks = append(toks, token{tokNumber, expr[i:j]})
			i = j
		case isPathByte(c):
			j := i
			for j < len(expr) && isPathByte(expr[j]) {
				j++
			}
			toks = append(toks, token{tokPath, expr[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("guard: unexpected character %q at offset %d", c, i)
		}
	}
	return toks, nil
}

func isPathByte(c byte) bool {
	return c == '_' || c == '.' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

type parser struct {
	toks []token
	pos  int
	ctx  *Context
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

// parseOr handles the lowest-precedence level: and-chains joined by "or".
func (p *parser) parseOr() (bool, error) {
	left, err := p.parseAnd()
	if err != nil {
		return false, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokPath || tok.text != "or" {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return false, err
		}
		left = left || right
	}
}

func (p *parser) parseAnd() (bool, error) {
	left, err := p.parseTerm()
	if err != nil {
		return false, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokPath || tok.text != "and" {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return false, err
		}
		left = left && right
	}
}

// parseTerm handles `path` and `path ==|!= value`.
func (p *parser) parseTerm() (bool, error) {
	tok, ok := p.peek()
	if !ok {
		return false, fmt.Errorf("guard: expected a path, got end of expression")
	}
	if tok.kind != tokPath || tok.text == "and" || tok.text == "or" {
		return false, fmt.Errorf("guard: expected a path, got %q", tok.text)
	}
	p.pos++
	resolved := p.ctx.Resolve(tok.text)

	op, ok := p.peek()
	if !ok || op.kind != tokOp {
		return truthy(resolved), nil
	}
	p.pos++

	lit, ok := p.peek()
	if !ok {
		return false, fmt.Errorf("guard: expected a value after %q", op.text)
	}
	if lit.kind == tokOp {
		return false, fmt.Errorf("guard: expected a value, got %q", lit.text)
	}
	p.pos++

	eq := compare(resolved, lit)
	if op.text == "!=" {
		return !eq, nil
	}
	return eq, nil
}

// compare tests a resolved value against a literal token. Booleans and null
// coerce across the string boundary: "true" (quoted or bare) equals a
// boolean true, and == null is true for missing paths.
func compare(r gjson.Result, lit token) bool {
	switch {
	case lit.kind == tokNumber:
		n, err := strconv.ParseFloat(lit.text, 64)
		if err != nil {
			return false
		}
		switch r.Type {
		case gjson.Number:
			return r.Num == n
		case gjson.String:
			v, err := strconv.ParseFloat(r.Str, 64)
			return err == nil && v == n
		default:
			return false
		}

	case lit.kind == tokPath && lit.text == "null",
		lit.kind == tokString && lit.text == "null" && r.Type == gjson.Null:
		return r.Type == gjson.Null

	case lit.kind == tokPath && (lit.text == "true" || lit.text == "false"):
		return boolEquals(r, lit.text == "true")

	case lit.kind == tokString && (lit.text == "true" || lit.text == "false"):
		// Quoted boolean keyword: coerce when the resolved value is a bool,
		// otherwise plain string comparison.
		if r.Type == gjson.True || r.Type == gjson.False {
			return boolEquals(r, lit.text == "true")
		}
		return r.Type == gjson.String && r.Str == lit.text

	default:
		// Bareword or quoted string compares by string value.
		switch r.Type {
		case gjson.String:
			return r.Str == lit.text
		case gjson.Number, gjson.True, gjson.False:
			return r.String() == lit.text
		default:
			return false
		}
	}
}

func boolEquals(r gjson.Result, want bool) bool {
	switch r.Type {
	case gjson.True:
		return want
	case gjson.False:
		return !want
	case gjson.String:
		return (r.Str == "true") == want && (r.Str == "true" || r.Str == "false")
	default:
		return false
	}
}
