package expr

import (
	"fmt"

	"github.com/joeblew999/plat-mantle/internal/layer"
)

type statement struct {
	condition *Expression
	result    *Expression
}

// Conditional is an ordered list of [condition, result] pairs. Evaluate
// returns the result paired with the first truthy condition, or nil.
//
// Like Expression, the outcome is memoized and only SetRuntime or
// Invalidate clear it.
type Conditional struct {
	conditions [][2]string
	feature    *layer.Feature
	opts       []Option
	statements []statement
	cached     *memo
}

// NewConditional compiles every pair up front; the first syntax error wins.
func NewConditional(conditions [][2]string, feature *layer.Feature, defines map[string]string, opts ...Option) (*Conditional, error) {
	c := &Conditional{conditions: conditions, feature: feature, opts: opts}
	if err := c.build(defines); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Conditional) build(defines map[string]string) error {
	statements := make([]statement, 0, len(c.conditions))
	for i, pair := range c.conditions {
		cond, err := New(pair[0], c.feature, defines, c.opts...)
		if err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
		result, err := New(pair[1], c.feature, defines, c.opts...)
		if err != nil {
			return fmt.Errorf("condition %d result: %w", i, err)
		}
		statements = append(statements, statement{condition: cond, result: result})
	}
	c.statements = statements
	return nil
}

// Evaluate walks the conditions in order and stops at the first match.
func (c *Conditional) Evaluate() (Value, error) {
	if c.cached != nil {
		return c.cached.value, c.cached.err
	}
	v, err := c.walk()
	c.cached = &memo{value: v, err: err}
	return v, err
}

func (c *Conditional) walk() (Value, error) {
	for _, s := range c.statements {
		ok, err := s.condition.Evaluate()
		if err != nil {
			return nil, err
		}
		if Truthy(ok) {
			return s.result.Evaluate()
		}
	}
	return nil, nil
}

// SetRuntime rebuilds every pair against defines and drops the memo.
func (c *Conditional) SetRuntime(defines map[string]string) error {
	c.cached = nil
	return c.build(defines)
}

// Invalidate drops the memo of the conditional and of every branch.
func (c *Conditional) Invalidate() {
	c.cached = nil
	for _, s := range c.statements {
		s.condition.Invalidate()
		s.result.Invalidate()
	}
}

// Diagnostics collects the degraded operations of every evaluated branch.
func (c *Conditional) Diagnostics() []Diagnostic {
	var out []Diagnostic
	for _, s := range c.statements {
		out = append(out, s.condition.Diagnostics()...)
		out = append(out, s.result.Diagnostics()...)
	}
	return out
}
