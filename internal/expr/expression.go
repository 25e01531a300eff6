// Package expr implements the styling expression language: a lexer, a
// precedence-climbing parser producing a closed set of AST nodes, and an
// evaluator over a feature's properties.
//
// Operator type mismatches come in two severities. Unary, arithmetic and
// ternary mismatches fail with an *EvalError. Comparison, logical and regex
// match mismatches log a warning, record a Diagnostic and yield false.
package expr

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/joeblew999/plat-mantle/internal/layer"
)

const maxDefineDepth = 8

// ApplyDefines substitutes every ${NAME} whose NAME is a define with the
// parenthesized define source, repeating until nothing changes.
func ApplyDefines(source string, defines map[string]string) (string, error) {
	if len(defines) == 0 {
		return source, nil
	}
	names := make([]string, 0, len(defines))
	for name := range defines {
		names = append(names, name)
	}
	sort.Strings(names)

	for depth := 0; ; depth++ {
		changed := false
		for _, name := range names {
			token := "${" + name + "}"
			if strings.Contains(source, token) {
				source = strings.ReplaceAll(source, token, "("+defines[name]+")")
				changed = true
			}
		}
		if !changed {
			return source, nil
		}
		if depth == maxDefineDepth {
			return "", &SyntaxError{Source: source, Msg: "defines nest too deeply"}
		}
	}
}

// ParseCache shares parsed ASTs between expressions with the same source.
// It is safe for concurrent use; the nodes it hands out are never mutated.
type ParseCache struct {
	mu    sync.RWMutex
	nodes map[string]Node
}

// NewParseCache creates an empty cache.
func NewParseCache() *ParseCache {
	return &ParseCache{nodes: make(map[string]Node)}
}

// Parse returns the cached AST for source, parsing it on first use.
func (c *ParseCache) Parse(source string) (Node, error) {
	c.mu.RLock()
	n, ok := c.nodes[source]
	c.mu.RUnlock()
	if ok {
		return n, nil
	}
	n, err := Parse(source)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.nodes[source] = n
	c.mu.Unlock()
	return n, nil
}

// Len reports the number of cached sources.
func (c *ParseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}

// Reset drops every cached AST.
func (c *ParseCache) Reset() {
	c.mu.Lock()
	c.nodes = make(map[string]Node)
	c.mu.Unlock()
}

type options struct {
	cache  *ParseCache
	logger *slog.Logger
}

// Option configures an Expression or Conditional.
type Option func(*options)

// WithParseCache shares parsed ASTs through c.
func WithParseCache(c *ParseCache) Option {
	return func(o *options) { o.cache = c }
}

// WithLogger sets the logger for degraded evaluations.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

type memo struct {
	value Value
	err   error
}

// Expression is a compiled expression bound to one feature. The first
// Evaluate result is memoized until Invalidate or Recompile; mutating the
// feature does not invalidate it. An Expression is not safe for concurrent
// use.
type Expression struct {
	source  string
	feature *layer.Feature
	opts    options
	root    Node
	cached  *memo
	diags   []Diagnostic
}

// New compiles source with defines applied. feature may be nil, in which
// case every variable reads as "".
func New(source string, feature *layer.Feature, defines map[string]string, opts ...Option) (*Expression, error) {
	e := &Expression{source: source, feature: feature, opts: buildOptions(opts)}
	if err := e.compile(defines); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Expression) compile(defines map[string]string) error {
	src, err := ApplyDefines(e.source, defines)
	if err != nil {
		return err
	}
	var root Node
	if e.opts.cache != nil {
		root, err = e.opts.cache.Parse(src)
	} else {
		root, err = Parse(src)
	}
	if err != nil {
		return err
	}
	e.root = root
	return nil
}

// Source returns the expression text as written, before defines.
func (e *Expression) Source() string { return e.source }

// Root returns the compiled AST.
func (e *Expression) Root() Node { return e.root }

// Evaluate returns the memoized result, computing it on first call.
func (e *Expression) Evaluate() (Value, error) {
	if e.cached != nil {
		return e.cached.value, e.cached.err
	}
	c := &evalContext{feature: e.feature, logger: e.opts.logger}
	v, err := evaluate(e.root, c)
	e.diags = c.diags
	e.cached = &memo{value: v, err: err}
	return v, err
}

// Invalidate drops the memoized result.
func (e *Expression) Invalidate() {
	e.cached = nil
	e.diags = nil
}

// Recompile rebuilds the AST against new defines and drops the memo.
func (e *Expression) Recompile(defines map[string]string) error {
	e.Invalidate()
	return e.compile(defines)
}

// Diagnostics returns the degraded operations seen by the last evaluation.
func (e *Expression) Diagnostics() []Diagnostic { return e.diags }
