package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNodeKinds(t *testing.T) {
	tests := []struct {
		src  string
		want Node
	}{
		{"${a}", &VariableNode{Name: "a"}},
		{"${ a }", &VariableNode{Name: "a"}},
		{"'x ${a}'", &VariableStringNode{Template: "x ${a}"}},
		{"'plain'", &StringNode{Value: "plain"}},
		{"${feature}", &FeatureRefNode{}},
		{"${feature.a}", &MemberNode{Object: &FeatureRefNode{}, Property: &StringNode{Value: "a"}}},
		{"!true", &UnaryNode{Op: "!", Operand: &LiteralNode{Value: true}}},
		{"rgb(1, 2, 3)", &ColorNode{Ctor: "rgb", Args: []Node{
			&LiteralNode{Value: 1.0}, &LiteralNode{Value: 2.0}, &LiteralNode{Value: 3.0},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			n, err := Parse(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestParsePrecedence(t *testing.T) {
	n, err := Parse("1 + 2 * 3 > 4 && true")
	require.NoError(t, err)

	and, ok := n.(*BinaryNode)
	require.True(t, ok)
	assert.Equal(t, "&&", and.Op)

	gt, ok := and.Left.(*BinaryNode)
	require.True(t, ok)
	assert.Equal(t, ">", gt.Op)

	plus, ok := gt.Left.(*BinaryNode)
	require.True(t, ok)
	assert.Equal(t, "+", plus.Op)
	assert.IsType(t, &BinaryNode{}, plus.Right)
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"1 +",
		"${a} == 1",
		"${a} != 1",
		"unknown(1)",
		"foo",
		"rgb(1, 2)",
		"'open",
		"${a",
		"Math.TAU",
		"(1",
		"regExp('a').replace('b')",
		"1 @ 2",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			var se *SyntaxError
			assert.ErrorAs(t, err, &se)
		})
	}
}

func TestParseCache(t *testing.T) {
	cache := NewParseCache()
	a, err := New("${x} + 1", nil, nil, WithParseCache(cache))
	require.NoError(t, err)
	b, err := New("${x} + 1", nil, nil, WithParseCache(cache))
	require.NoError(t, err)

	assert.Equal(t, 1, cache.Len())
	assert.Same(t, a.Root(), b.Root())

	cache.Reset()
	assert.Zero(t, cache.Len())
}
