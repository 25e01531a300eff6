package expr

import (
	"errors"
	"math"
	"strings"
)

var binaryPrecedence = map[string]int{
	"||":  1,
	"&&":  2,
	"===": 3, "!==": 3, "=~": 3, "!~": 3,
	"<": 4, "<=": 4, ">": 4, ">=": 4,
	"+": 5, "-": 5,
	"*": 6, "/": 6, "%": 6,
}

var colorArity = map[string][2]int{
	"color": {0, 2},
	"rgb":   {3, 3},
	"rgba":  {4, 4},
	"hsl":   {3, 3},
	"hsla":  {4, 4},
}

var regexMethods = map[string][2]int{
	"toString": {0, 0},
	"test":     {1, 1},
	"exec":     {1, 1},
}

type parser struct {
	src   string
	toks  []token
	pos   int
	inVar bool // parsing the inside of ${...}, where "feature" is a keyword
}

// Parse compiles source into an AST. Defines are not applied here; see
// ApplyDefines.
func Parse(source string) (Node, error) {
	return parse(source, false)
}

func parse(source string, inVar bool) (Node, error) {
	toks, err := tokenize(source)
	if err != nil {
		return nil, err
	}
	p := &parser{src: source, toks: toks, inVar: inVar}
	if p.peek().kind == tokEOF {
		return nil, p.errorf(p.peek(), "empty expression")
	}
	n, err := p.ternary()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected "+describe(t))
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(text string) bool {
	t := p.peek()
	return t.kind == tokOp && t.text == text
}

func (p *parser) expectOp(text string) error {
	if !p.isOp(text) {
		return p.errorf(p.peek(), "expected "+text+", found "+describe(p.peek()))
	}
	p.advance()
	return nil
}

func (p *parser) errorf(t token, msg string) error {
	return &SyntaxError{Source: p.src, Pos: t.pos, Msg: msg}
}

func describe(t token) string {
	switch t.kind {
	case tokEOF:
		return "end of expression"
	case tokString:
		return "string"
	case tokNumber:
		return "number " + t.text
	case tokVariable:
		return "${" + t.text + "}"
	}
	return "\"" + t.text + "\""
}

func (p *parser) ternary() (Node, error) {
	test, err := p.binary(1)
	if err != nil {
		return nil, err
	}
	if !p.isOp("?") {
		return test, nil
	}
	p.advance()
	then, err := p.ternary()
	if err != nil {
		return nil, err
	}
	if err := p.expectOp(":"); err != nil {
		return nil, err
	}
	els, err := p.ternary()
	if err != nil {
		return nil, err
	}
	return &ConditionalNode{Test: test, Then: then, Else: els}, nil
}

// binary is a precedence climber over binaryPrecedence. All binary
// operators are left-associative.
func (p *parser) binary(minPrec int) (Node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp {
			return left, nil
		}
		if t.text == "==" || t.text == "!=" {
			return nil, p.errorf(t, "operator "+t.text+" is not supported, use "+t.text+"=")
		}
		prec, ok := binaryPrecedence[t.text]
		if !ok || prec < minPrec {
			return left, nil
		}
		p.advance()
		right, err := p.binary(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: t.text, Left: left, Right: right}
	}
}

func (p *parser) unary() (Node, error) {
	t := p.peek()
	if t.kind == tokOp && (t.text == "!" || t.text == "-" || t.text == "+") {
		p.advance()
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &UnaryNode{Op: t.text, Operand: operand}, nil
	}
	return p.postfix()
}

func (p *parser) postfix() (Node, error) {
	n, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.isOp("."):
			p.advance()
			name := p.advance()
			if name.kind != tokIdent {
				return nil, p.errorf(name, "expected property name after \".\"")
			}
			if p.isOp("(") {
				arity, ok := regexMethods[name.text]
				if !ok {
					return nil, p.errorf(name, "unknown method "+name.text)
				}
				args, err := p.arguments(name, arity)
				if err != nil {
					return nil, err
				}
				n = &MethodNode{Receiver: n, Method: name.text, Args: args}
				continue
			}
			n = &MemberNode{Object: n, Property: &StringNode{Value: name.text}}
		case p.isOp("["):
			p.advance()
			prop, err := p.ternary()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp("]"); err != nil {
				return nil, err
			}
			n = &MemberNode{Object: n, Property: prop}
		default:
			return n, nil
		}
	}
}

func (p *parser) primary() (Node, error) {
	t := p.advance()
	switch t.kind {
	case tokNumber:
		return &LiteralNode{Value: t.num}, nil
	case tokString:
		if strings.Contains(t.text, "${") {
			return &VariableStringNode{Template: t.text}, nil
		}
		return &StringNode{Value: t.text}, nil
	case tokVariable:
		return p.variable(t)
	case tokIdent:
		return p.identifier(t)
	case tokOp:
		switch t.text {
		case "(":
			n, err := p.ternary()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp(")"); err != nil {
				return nil, err
			}
			return n, nil
		case "[":
			var elems []Node
			for !p.isOp("]") {
				e, err := p.ternary()
				if err != nil {
					return nil, err
				}
				elems = append(elems, e)
				if !p.isOp(",") {
					break
				}
				p.advance()
			}
			if err := p.expectOp("]"); err != nil {
				return nil, err
			}
			return &ArrayNode{Elements: elems}, nil
		}
	}
	return nil, p.errorf(t, "unexpected "+describe(t))
}

// variable turns ${...} into either a plain property lookup or, when the
// inner text starts with "feature", a member chain rooted at the feature.
func (p *parser) variable(t token) (Node, error) {
	inner := t.text
	if inner == "feature" || strings.HasPrefix(inner, "feature.") || strings.HasPrefix(inner, "feature[") {
		n, err := parse(inner, true)
		if err != nil {
			var se *SyntaxError
			if errors.As(err, &se) {
				se.Source = p.src
				se.Pos += t.pos + 2
			}
			return nil, err
		}
		return n, nil
	}
	if inner == "" {
		return nil, p.errorf(t, "empty variable")
	}
	return &VariableNode{Name: inner}, nil
}

func (p *parser) identifier(t token) (Node, error) {
	switch t.text {
	case "true":
		return &LiteralNode{Value: true}, nil
	case "false":
		return &LiteralNode{Value: false}, nil
	case "null", "undefined":
		return &LiteralNode{Value: nil}, nil
	case "NaN":
		return &LiteralNode{Value: math.NaN()}, nil
	case "Infinity":
		return &LiteralNode{Value: math.Inf(1)}, nil
	case "Math":
		if err := p.expectOp("."); err != nil {
			return nil, err
		}
		c := p.advance()
		switch c.text {
		case "PI":
			return &LiteralNode{Value: math.Pi}, nil
		case "E":
			return &LiteralNode{Value: math.E}, nil
		}
		return nil, p.errorf(c, "unknown constant Math."+c.text)
	case "feature":
		if p.inVar {
			return &FeatureRefNode{}, nil
		}
	}

	if !p.isOp("(") {
		return nil, p.errorf(t, "unknown identifier "+t.text)
	}
	if arity, ok := colorArity[t.text]; ok {
		args, err := p.arguments(t, arity)
		if err != nil {
			return nil, err
		}
		return &ColorNode{Ctor: t.text, Args: args}, nil
	}
	fn, ok := builtins[t.text]
	if !ok {
		return nil, p.errorf(t, "unknown function "+t.text)
	}
	args, err := p.arguments(t, [2]int{fn.minArgs, fn.maxArgs})
	if err != nil {
		return nil, err
	}
	return &CallNode{Func: fn, Args: args}, nil
}

func (p *parser) arguments(name token, arity [2]int) ([]Node, error) {
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	var args []Node
	for !p.isOp(")") {
		a, err := p.ternary()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if !p.isOp(",") {
			break
		}
		p.advance()
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	if len(args) < arity[0] || len(args) > arity[1] {
		return nil, p.errorf(name, name.text+": wrong number of arguments")
	}
	return args, nil
}
