package conversion

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// expr is a compiled algebraic conversion formula. The grammar covers
// what appears in measurement files in practice: numbers, the raw value
// as X, + - * / ^, parentheses and a small function set.
type expr struct {
	root node
}

func (e *expr) eval(x float64) (float64, error) {
	v := e.root.eval(x)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("formula evaluated to %v", v)
	}
	return v, nil
}

type node interface {
	eval(x float64) float64
}

type numNode float64

func (n numNode) eval(float64) float64 { return float64(n) }

type varNode struct{}

func (varNode) eval(x float64) float64 { return x }

type unaryNode struct {
	op   byte
	expr node
}

func (n *unaryNode) eval(x float64) float64 {
	v := n.expr.eval(x)
	if n.op == '-' {
		return -v
	}
	return v
}

type binaryNode struct {
	op          byte
	left, right node
}

func (n *binaryNode) eval(x float64) float64 {
	l, r := n.left.eval(x), n.right.eval(x)
	switch n.op {
	case '+':
		return l + r
	case '-':
		return l - r
	case '*':
		return l * r
	case '/':
		return l / r
	case '^':
		return math.Pow(l, r)
	}
	return math.NaN()
}

type callNode struct {
	fn   func(...float64) float64
	args []node
}

func (n *callNode) eval(x float64) float64 {
	vals := make([]float64, len(n.args))
	for i, a := range n.args {
		vals[i] = a.eval(x)
	}
	return n.fn(vals...)
}

var functions = map[string]struct {
	arity int
	fn    func(...float64) float64
}{
	"sqrt":  {1, func(a ...float64) float64 { return math.Sqrt(a[0]) }},
	"abs":   {1, func(a ...float64) float64 { return math.Abs(a[0]) }},
	"sin":   {1, func(a ...float64) float64 { return math.Sin(a[0]) }},
	"cos":   {1, func(a ...float64) float64 { return math.Cos(a[0]) }},
	"tan":   {1, func(a ...float64) float64 { return math.Tan(a[0]) }},
	"exp":   {1, func(a ...float64) float64 { return math.Exp(a[0]) }},
	"log":   {1, func(a ...float64) float64 { return math.Log(a[0]) }},
	"log10": {1, func(a ...float64) float64 { return math.Log10(a[0]) }},
	"floor": {1, func(a ...float64) float64 { return math.Floor(a[0]) }},
	"ceil":  {1, func(a ...float64) float64 { return math.Ceil(a[0]) }},
	"pow":   {2, func(a ...float64) float64 { return math.Pow(a[0], a[1]) }},
	"min":   {2, func(a ...float64) float64 { return math.Min(a[0], a[1]) }},
	"max":   {2, func(a ...float64) float64 { return math.Max(a[0], a[1]) }},
}

type parser struct {
	input string
	pos   int
}

// compile parses formula into an evaluable tree.
func compile(formula string) (*expr, error) {
	p := &parser{input: formula}
	root, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("unexpected %q at offset %d", p.input[p.pos:], p.pos)
	}
	return &expr{root: root}, nil
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) parseSum() (node, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek()
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseProduct() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek()
		if op != '*' && op != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	op := p.peek()
	if op == '+' || op == '-' {
		p.pos++
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: op, expr: inner}, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (node, error) {
	base, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	if p.peek() == '^' {
		p.pos++
		// right associative
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: '^', left: base, right: exp}, nil
	}
	return base, nil
}

func (p *parser) parseAtom() (node, error) {
	c := p.peek()
	switch {
	case c == '(':
		p.pos++
		inner, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		if p.peek() != ')' {
			return nil, fmt.Errorf("missing closing parenthesis at offset %d", p.pos)
		}
		p.pos++
		return inner, nil

	case c >= '0' && c <= '9' || c == '.':
		return p.parseNumber()

	case isAlpha(c):
		return p.parseIdent()
	}
	return nil, fmt.Errorf("unexpected character %q at offset %d", c, p.pos)
}

func (p *parser) parseNumber() (node, error) {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c >= '0' && c <= '9' || c == '.' {
			p.pos++
			continue
		}
		// scientific notation
		if (c == 'e' || c == 'E') && p.pos > start {
			next := p.pos + 1
			if next < len(p.input) && (p.input[next] == '+' || p.input[next] == '-') {
				next++
			}
			if next < len(p.input) && p.input[next] >= '0' && p.input[next] <= '9' {
				p.pos = next + 1
				continue
			}
		}
		break
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return nil, fmt.Errorf("bad number %q: %w", p.input[start:p.pos], err)
	}
	return numNode(v), nil
}

func isAlpha(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func (p *parser) parseIdent() (node, error) {
	start := p.pos
	for p.pos < len(p.input) && (isAlpha(p.input[p.pos]) || p.input[p.pos] >= '0' && p.input[p.pos] <= '9') {
		p.pos++
	}
	name := strings.ToLower(p.input[start:p.pos])

	if name == "x" {
		return varNode{}, nil
	}

	def, ok := functions[name]
	if !ok {
		return nil, fmt.Errorf("unknown identifier %q", name)
	}
	if p.peek() != '(' {
		return nil, fmt.Errorf("function %q requires arguments", name)
	}
	p.pos++
	args := make([]node, 0, def.arity)
	for {
		arg, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		c := p.peek()
		if c == ',' {
			p.pos++
			continue
		}
		if c == ')' {
			p.pos++
			break
		}
		return nil, fmt.Errorf("malformed argument list for %q", name)
	}
	if len(args) != def.arity {
		return nil, fmt.Errorf("function %q takes %d arguments, got %d", name, def.arity, len(args))
	}
	return &callNode{fn: def.fn, args: args}, nil
}
