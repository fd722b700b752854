/* Copyright 2018 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package targeting

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SyntaxError reports a targeting expression that can't be
// translated.
type SyntaxError struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d in %q: %s", e.Pos, e.Expr, e.Msg)
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNum
	tokStr
	tokIdent
	tokLit // true, false, null
	tokOp
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) is(kind tokenKind, text string) bool {
	return t.kind == kind && t.text == text
}

// Longest first.
var operators = []string{
	"==", "!=", "<=", ">=", "&&", "||", "//",
	"<", ">", "+", "-", "*", "/", "%", "^", "!",
}

const punctuation = ".[](){}:,?|"

func lex(expr string) ([]token, error) {
	var (
		acc []token
		i   int
	)
	bad := func(msg string) error {
		return &SyntaxError{Expr: expr, Pos: i, Msg: msg}
	}

LOOP:
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
			continue LOOP

		case isDigit(c):
			j := i
			for j < len(expr) && isDigit(expr[j]) {
				j++
			}
			if j+1 < len(expr) && expr[j] == '.' && isDigit(expr[j+1]) {
				j++
				for j < len(expr) && isDigit(expr[j]) {
					j++
				}
			}
			acc = append(acc, token{tokNum, expr[i:j], i})
			i = j
			continue LOOP

		case c == '"' || c == '\'':
			var sb strings.Builder
			j := i + 1
			for {
				if j >= len(expr) {
					return nil, bad("unterminated string")
				}
				d := expr[j]
				if d == c {
					break
				}
				if d == '\\' && j+1 < len(expr) {
					j++
					switch expr[j] {
					case 'n':
						sb.WriteByte('\n')
					case 't':
						sb.WriteByte('\t')
					case 'r':
						sb.WriteByte('\r')
					default:
						sb.WriteByte(expr[j])
					}
					j++
					continue
				}
				sb.WriteByte(d)
				j++
			}
			acc = append(acc, token{tokStr, sb.String(), i})
			i = j + 1
			continue LOOP

		case isIdentStart(c):
			j := i
			for j < len(expr) && isIdentPart(expr[j]) {
				j++
			}
			word := expr[i:j]
			switch word {
			case "true", "false", "null":
				acc = append(acc, token{tokLit, word, i})
			case "in":
				acc = append(acc, token{tokOp, word, i})
			default:
				acc = append(acc, token{tokIdent, word, i})
			}
			i = j
			continue LOOP
		}

		for _, op := range operators {
			if strings.HasPrefix(expr[i:], op) {
				acc = append(acc, token{tokOp, op, i})
				i += len(op)
				continue LOOP
			}
		}

		if strings.IndexByte(punctuation, c) >= 0 {
			acc = append(acc, token{tokPunct, string(c), i})
			i++
			continue LOOP
		}

		return nil, bad(fmt.Sprintf("unexpected character %q", c))
	}

	return append(acc, token{tokEOF, "", len(expr)}), nil
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

type binaryOp struct {
	prec int
	emit func(l, r string) string
}

func infix(op string) func(l, r string) string {
	return func(l, r string) string {
		return "(" + l + " " + op + " " + r + ")"
	}
}

func call(f string) func(l, r string) string {
	return func(l, r string) string {
		return f + "(" + l + ", " + r + ")"
	}
}

var binaryOps = map[string]binaryOp{
	"||": {10, infix("||")},
	"&&": {10, infix("&&")},
	"==": {20, call("__eq")},
	"!=": {20, func(l, r string) string { return "(!__eq(" + l + ", " + r + "))" }},
	"<":  {20, infix("<")},
	"<=": {20, infix("<=")},
	">":  {20, infix(">")},
	">=": {20, infix(">=")},
	"in": {20, call("__in")},
	"+":  {30, infix("+")},
	"-":  {30, infix("-")},
	"*":  {40, infix("*")},
	"/":  {40, infix("/")},
	"//": {40, func(l, r string) string { return "Math.floor(" + l + " / " + r + ")" }},
	"%":  {40, infix("%")},
	"^":  {50, call("Math.pow")},
}

// translator turns a token stream into one ECMAScript expression.
type translator struct {
	expr       string
	toks       []token
	pos        int
	transforms map[string]bool

	// relative records, per open bracket, whether a relative
	// identifier (".x") appeared inside it.
	relative []bool
}

// Translate renders a targeting expression as an ECMAScript
// expression over the context object "__ctx".  Transforms must be
// named in transforms.
func Translate(expr string, transforms []string) (string, error) {
	toks, err := lex(expr)
	if err != nil {
		return "", err
	}
	t := &translator{
		expr:       expr,
		toks:       toks,
		transforms: make(map[string]bool, len(transforms)),
	}
	for _, name := range transforms {
		t.transforms[name] = true
	}

	if t.peek().kind == tokEOF {
		return "", t.errorf("empty expression")
	}
	js, err := t.expression(0)
	if err != nil {
		return "", err
	}
	if tok := t.peek(); tok.kind != tokEOF {
		return "", t.errorf("unexpected %q", tok.text)
	}
	return js, nil
}

func (t *translator) peek() token {
	return t.toks[t.pos]
}

func (t *translator) next() token {
	tok := t.toks[t.pos]
	if tok.kind != tokEOF {
		t.pos++
	}
	return tok
}

func (t *translator) errorf(format string, args ...interface{}) error {
	return &SyntaxError{
		Expr: t.expr,
		Pos:  t.peek().pos,
		Msg:  fmt.Sprintf(format, args...),
	}
}

func (t *translator) expect(punct string) error {
	if tok := t.peek(); !tok.is(tokPunct, punct) {
		if tok.kind == tokEOF {
			return t.errorf("expected %q at end", punct)
		}
		return t.errorf("expected %q, not %q", punct, tok.text)
	}
	t.next()
	return nil
}

func (t *translator) expression(minPrec int) (string, error) {
	left, err := t.unary()
	if err != nil {
		return "", err
	}
	for {
		tok := t.peek()
		if tok.kind == tokOp {
			op, have := binaryOps[tok.text]
			if !have || op.prec <= minPrec {
				break
			}
			t.next()
			right, err := t.expression(op.prec)
			if err != nil {
				return "", err
			}
			left = op.emit(left, right)
			continue
		}
		if tok.is(tokPunct, "?") && minPrec == 0 {
			t.next()
			then, err := t.expression(0)
			if err != nil {
				return "", err
			}
			if err = t.expect(":"); err != nil {
				return "", err
			}
			otherwise, err := t.expression(0)
			if err != nil {
				return "", err
			}
			left = "(" + left + " ? " + then + " : " + otherwise + ")"
			continue
		}
		break
	}
	return left, nil
}

func (t *translator) unary() (string, error) {
	tok := t.peek()
	if tok.is(tokOp, "!") || tok.is(tokOp, "-") {
		t.next()
		x, err := t.unary()
		if err != nil {
			return "", err
		}
		return "(" + tok.text + x + ")", nil
	}
	x, err := t.primary()
	if err != nil {
		return "", err
	}
	return t.postfix(x)
}

func (t *translator) primary() (string, error) {
	tok := t.next()
	switch tok.kind {
	case tokNum:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return "", &SyntaxError{Expr: t.expr, Pos: tok.pos, Msg: err.Error()}
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	case tokStr:
		return quote(tok.text), nil
	case tokLit:
		return tok.text, nil
	case tokIdent:
		return "__get(__ctx, " + quote(tok.text) + ")", nil
	case tokPunct:
		switch tok.text {
		case "(":
			x, err := t.expression(0)
			if err != nil {
				return "", err
			}
			if err = t.expect(")"); err != nil {
				return "", err
			}
			return "(" + x + ")", nil
		case "[":
			return t.array()
		case "{":
			return t.object()
		case ".":
			return t.relativeIdent()
		}
	case tokEOF:
		return "", t.errorf("unexpected end")
	}
	return "", &SyntaxError{Expr: t.expr, Pos: tok.pos, Msg: fmt.Sprintf("unexpected %q", tok.text)}
}

// relativeIdent handles ".x" inside a filter, which refers to a
// property of the element being tested.
func (t *translator) relativeIdent() (string, error) {
	depth := len(t.relative)
	if depth == 0 {
		return "", t.errorf("relative identifier outside a filter")
	}
	tok := t.next()
	if tok.kind != tokIdent {
		return "", &SyntaxError{Expr: t.expr, Pos: tok.pos, Msg: "expected identifier after '.'"}
	}
	t.relative[depth-1] = true
	return fmt.Sprintf("__prop(__it%d, %s)", depth-1, quote(tok.text)), nil
}

func (t *translator) array() (string, error) {
	var elems []string
	if t.peek().is(tokPunct, "]") {
		t.next()
		return "[]", nil
	}
	for {
		x, err := t.expression(0)
		if err != nil {
			return "", err
		}
		elems = append(elems, x)
		if t.peek().is(tokPunct, ",") {
			t.next()
			continue
		}
		if err = t.expect("]"); err != nil {
			return "", err
		}
		return "[" + strings.Join(elems, ", ") + "]", nil
	}
}

func (t *translator) object() (string, error) {
	var props []string
	if t.peek().is(tokPunct, "}") {
		t.next()
		return "({})", nil
	}
	for {
		key := t.next()
		if key.kind != tokIdent && key.kind != tokStr {
			return "", &SyntaxError{Expr: t.expr, Pos: key.pos, Msg: "expected object key"}
		}
		if err := t.expect(":"); err != nil {
			return "", err
		}
		x, err := t.expression(0)
		if err != nil {
			return "", err
		}
		props = append(props, quote(key.text)+": "+x)
		if t.peek().is(tokPunct, ",") {
			t.next()
			continue
		}
		if err = t.expect("}"); err != nil {
			return "", err
		}
		return "({" + strings.Join(props, ", ") + "})", nil
	}
}

func (t *translator) postfix(x string) (string, error) {
	for {
		tok := t.peek()
		if tok.kind != tokPunct {
			return x, nil
		}
		switch tok.text {
		case ".":
			t.next()
			id := t.next()
			if id.kind != tokIdent {
				return "", &SyntaxError{Expr: t.expr, Pos: id.pos, Msg: "expected identifier after '.'"}
			}
			x = "__prop(" + x + ", " + quote(id.text) + ")"
		case "[":
			t.next()
			depth := len(t.relative)
			t.relative = append(t.relative, false)
			inner, err := t.expression(0)
			if err != nil {
				return "", err
			}
			filtering := t.relative[depth]
			t.relative = t.relative[:depth]
			if err = t.expect("]"); err != nil {
				return "", err
			}
			if filtering {
				x = fmt.Sprintf("__filter(%s, function(__it%d) { return %s; })", x, depth, inner)
			} else {
				x = "__get(" + x + ", " + inner + ")"
			}
		case "|":
			t.next()
			name := t.next()
			if name.kind != tokIdent {
				return "", &SyntaxError{Expr: t.expr, Pos: name.pos, Msg: "expected transform name"}
			}
			if !t.transforms[name.text] {
				return "", &SyntaxError{Expr: t.expr, Pos: name.pos, Msg: fmt.Sprintf("unknown transform %q", name.text)}
			}
			args := []string{x}
			if t.peek().is(tokPunct, "(") {
				t.next()
				if t.peek().is(tokPunct, ")") {
					t.next()
				} else {
					for {
						arg, err := t.expression(0)
						if err != nil {
							return "", err
						}
						args = append(args, arg)
						if t.peek().is(tokPunct, ",") {
							t.next()
							continue
						}
						if err = t.expect(")"); err != nil {
							return "", err
						}
						break
					}
				}
			}
			x = "__transforms." + name.text + "(" + strings.Join(args, ", ") + ")"
		default:
			return x, nil
		}
	}
}

func quote(s string) string {
	js, _ := json.Marshal(s)
	return string(js)
}
