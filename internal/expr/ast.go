package expr

// Node is a parsed expression. The set of node kinds is closed; evaluate
// switches over all of them.
type Node interface {
	node()
}

type (
	// LiteralNode holds a number, boolean or nil constant.
	LiteralNode struct {
		Value Value
	}

	// StringNode is a string literal without placeholders.
	StringNode struct {
		Value string
	}

	// VariableNode reads a feature property by name.
	VariableNode struct {
		Name string
	}

	// VariableStringNode is a string literal containing ${name} placeholders.
	VariableStringNode struct {
		Template string
	}

	// FeatureRefNode is the feature's property bag, written ${feature}.
	FeatureRefNode struct{}

	UnaryNode struct {
		Op      string
		Operand Node
	}

	BinaryNode struct {
		Op          string
		Left, Right Node
	}

	// ConditionalNode is the ternary operator.
	ConditionalNode struct {
		Test, Then, Else Node
	}

	// MemberNode covers both a.b and a[b].
	MemberNode struct {
		Object   Node
		Property Node
	}

	ArrayNode struct {
		Elements []Node
	}

	// CallNode invokes a built-in function. Func is resolved at parse time.
	CallNode struct {
		Func *builtin
		Args []Node
	}

	// MethodNode is one of the regular expression methods toString, test
	// and exec.
	MethodNode struct {
		Receiver Node
		Method   string
		Args     []Node
	}

	// ColorNode is a color, rgb, rgba, hsl or hsla constructor.
	ColorNode struct {
		Ctor string
		Args []Node
	}
)

func (*LiteralNode) node()        {}
func (*StringNode) node()         {}
func (*VariableNode) node()       {}
func (*VariableStringNode) node() {}
func (*FeatureRefNode) node()     {}
func (*UnaryNode) node()          {}
func (*BinaryNode) node()         {}
func (*ConditionalNode) node()    {}
func (*MemberNode) node()         {}
func (*ArrayNode) node()          {}
func (*CallNode) node()           {}
func (*MethodNode) node()         {}
func (*ColorNode) node()          {}
