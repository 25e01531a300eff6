package expr

import (
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/joeblew999/plat-mantle/internal/layer"
)

type evalContext struct {
	feature *layer.Feature
	logger  *slog.Logger
	diags   []Diagnostic
}

// degrade logs and records a type mismatch that does not abort evaluation.
func (c *evalContext) degrade(op, msg string, left, right Value) {
	c.logger.Warn("expression type mismatch", "op", op, "msg", msg, "left", left, "right", right)
	c.diags = append(c.diags, Diagnostic{Op: op, Message: msg, Left: left, Right: right})
}

// Eval evaluates n against feature without memoization. Degraded operations
// are returned as diagnostics.
func Eval(n Node, feature *layer.Feature, logger *slog.Logger) (Value, []Diagnostic, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &evalContext{feature: feature, logger: logger}
	v, err := evaluate(n, c)
	return v, c.diags, err
}

func evaluate(n Node, c *evalContext) (Value, error) {
	switch n := n.(type) {
	case *LiteralNode:
		return n.Value, nil
	case *StringNode:
		return n.Value, nil
	case *VariableNode:
		return lookupVariable(c.feature, n.Name), nil
	case *VariableStringNode:
		return interpolate(n.Template, c.feature), nil
	case *FeatureRefNode:
		if c.feature == nil {
			return map[string]any{}, nil
		}
		return c.feature.Properties, nil
	case *UnaryNode:
		return evalUnary(n, c)
	case *BinaryNode:
		return evalBinary(n, c)
	case *ConditionalNode:
		test, err := evaluate(n.Test, c)
		if err != nil {
			return nil, err
		}
		b, ok := test.(bool)
		if !ok {
			return nil, typeMismatch("?:", "condition must be a boolean, got %s", typeName(test))
		}
		if b {
			return evaluate(n.Then, c)
		}
		return evaluate(n.Else, c)
	case *MemberNode:
		return evalMember(n, c)
	case *ArrayNode:
		out := make([]any, len(n.Elements))
		for i, e := range n.Elements {
			v, err := evaluate(e, c)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *CallNode:
		args, err := evaluateAll(n.Args, c)
		if err != nil {
			return nil, err
		}
		return n.Func.call(args)
	case *MethodNode:
		return evalMethod(n, c)
	case *ColorNode:
		args, err := evaluateAll(n.Args, c)
		if err != nil {
			return nil, err
		}
		return buildColor(n.Ctor, args)
	}
	return nil, &EvalError{Kind: ErrUnexpectedCall, Msg: "unknown node"}
}

func evaluateAll(nodes []Node, c *evalContext) ([]Value, error) {
	out := make([]Value, len(nodes))
	for i, a := range nodes {
		v, err := evaluate(a, c)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// lookupVariable reads a property. "id" falls back to the feature id, dotted
// names walk nested objects, and anything missing reads as "". A null
// property counts as missing.
func lookupVariable(f *layer.Feature, name string) Value {
	if f == nil {
		return ""
	}
	if v := f.Properties[name]; v != nil {
		return v
	}
	if name == "id" {
		return f.ID
	}
	if strings.Contains(name, ".") {
		var cur any = f.Properties
		for _, part := range strings.Split(name, ".") {
			m, ok := cur.(map[string]any)
			if !ok {
				return ""
			}
			cur = m[part]
		}
		if cur != nil {
			return cur
		}
	}
	return ""
}

var placeholder = regexp.MustCompile(`\$\{([^}]*)\}`)

func interpolate(template string, f *layer.Feature) string {
	out := template
	cursor := 0
	for cursor <= len(out) {
		loc := placeholder.FindStringSubmatchIndex(out[cursor:])
		if loc == nil {
			break
		}
		name := strings.TrimSpace(out[cursor+loc[2] : cursor+loc[3]])
		name = strings.TrimPrefix(name, "feature.")
		value := ToString(lookupVariable(f, name))
		out = out[:cursor+loc[0]] + value + out[cursor+loc[1]:]
		cursor += loc[0] + len(value)
	}
	return out
}

func evalUnary(n *UnaryNode, c *evalContext) (Value, error) {
	v, err := evaluate(n.Operand, c)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case "!":
		b, ok := v.(bool)
		if !ok {
			return nil, typeMismatch("!", "operand must be a boolean, got %s", typeName(v))
		}
		return !b, nil
	case "-", "+":
		x, ok := asNumber(v)
		if !ok {
			return nil, typeMismatch(n.Op, "operand must be a number, got %s", typeName(v))
		}
		if n.Op == "-" {
			return -x, nil
		}
		return x, nil
	}
	return nil, &EvalError{Kind: ErrUnexpectedCall, Op: n.Op, Msg: "unknown unary operator"}
}

func evalBinary(n *BinaryNode, c *evalContext) (Value, error) {
	if n.Op == "&&" || n.Op == "||" {
		return evalLogical(n, c)
	}
	left, err := evaluate(n.Left, c)
	if err != nil {
		return nil, err
	}
	right, err := evaluate(n.Right, c)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case "===":
		return strictEqual(left, right), nil
	case "!==":
		return !strictEqual(left, right), nil
	case "=~", "!~":
		matched, ok := regexMatch(left, right)
		if !ok {
			c.degrade(n.Op, "one operand must be a regular expression", left, right)
			return false, nil
		}
		return matched == (n.Op == "=~"), nil
	case "<", "<=", ">", ">=":
		l, lok := asNumber(left)
		r, rok := asNumber(right)
		if !lok || !rok {
			c.degrade(n.Op, "comparison operands must be numbers", left, right)
			return false, nil
		}
		switch n.Op {
		case "<":
			return l < r, nil
		case "<=":
			return l <= r, nil
		case ">":
			return l > r, nil
		}
		return l >= r, nil
	case "+":
		_, ls := left.(string)
		_, rs := right.(string)
		if ls || rs {
			return ToString(left) + ToString(right), nil
		}
	}

	l, lok := asNumber(left)
	r, rok := asNumber(right)
	if !lok || !rok {
		return nil, typeMismatch(n.Op, "operands must be numbers, got %s and %s", typeName(left), typeName(right))
	}
	switch n.Op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		return l / r, nil
	case "%":
		return math.Mod(l, r), nil
	}
	return nil, &EvalError{Kind: ErrUnexpectedCall, Op: n.Op, Msg: "unknown binary operator"}
}

func evalLogical(n *BinaryNode, c *evalContext) (Value, error) {
	left, err := evaluate(n.Left, c)
	if err != nil {
		return nil, err
	}
	l, ok := left.(bool)
	if !ok {
		c.degrade(n.Op, "left operand must be a boolean", left, nil)
		return false, nil
	}
	if n.Op == "&&" && !l {
		return false, nil
	}
	if n.Op == "||" && l {
		return true, nil
	}
	right, err := evaluate(n.Right, c)
	if err != nil {
		return nil, err
	}
	r, ok := right.(bool)
	if !ok {
		c.degrade(n.Op, "right operand must be a boolean", left, right)
		return false, nil
	}
	return r, nil
}

func regexMatch(left, right Value) (matched, ok bool) {
	if re, isRe := left.(*Regex); isRe {
		return re.Test(ToString(right)), true
	}
	if re, isRe := right.(*Regex); isRe {
		return re.Test(ToString(left)), true
	}
	return false, false
}

func evalMember(n *MemberNode, c *evalContext) (Value, error) {
	key, err := evaluate(n.Property, c)
	if err != nil {
		return nil, err
	}
	if _, ok := n.Object.(*FeatureRefNode); ok {
		if c.feature == nil {
			return nil, nil
		}
		return c.feature.Properties[ToString(key)], nil
	}
	obj, err := evaluate(n.Object, c)
	if err != nil {
		return nil, err
	}
	switch o := obj.(type) {
	case map[string]any:
		return o[ToString(key)], nil
	case []any:
		if s, ok := key.(string); ok && s == "length" {
			return float64(len(o)), nil
		}
		i, ok := arrayIndex(key, len(o))
		if !ok {
			return nil, nil
		}
		return o[i], nil
	case string:
		if s, ok := key.(string); ok && s == "length" {
			return float64(len([]rune(o))), nil
		}
	}
	return nil, nil
}

// arrayIndex converts key to an index into an array of length n.
func arrayIndex(key Value, n int) (int, bool) {
	if s, ok := key.(string); ok {
		i, err := strconv.Atoi(s)
		return i, err == nil && i >= 0 && i < n
	}
	f, ok := asNumber(key)
	// Compare as floats so huge or infinite keys never reach int conversion.
	if !ok || f < 0 || f >= float64(n) || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func evalMethod(n *MethodNode, c *evalContext) (Value, error) {
	recv, err := evaluate(n.Receiver, c)
	if err != nil {
		return nil, err
	}
	re, ok := recv.(*Regex)
	if !ok {
		return nil, &EvalError{Kind: ErrUnexpectedCall, Op: n.Method, Msg: "receiver is a " + typeName(recv) + ", not a regular expression"}
	}
	args, err := evaluateAll(n.Args, c)
	if err != nil {
		return nil, err
	}
	switch n.Method {
	case "toString":
		return re.String(), nil
	case "test":
		return re.Test(ToString(args[0])), nil
	case "exec":
		return re.Exec(ToString(args[0])), nil
	}
	return nil, &EvalError{Kind: ErrUnexpectedCall, Op: n.Method, Msg: "unknown method"}
}
