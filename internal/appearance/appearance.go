// Package appearance resolves a simple layer's appearance configuration
// against its features.
//
// Every appearance category is walked recursively. A map carrying an
// "expression" key is an evaluable leaf; any other map is structure and is
// descended into. Leaves evaluate independently: a failing field is logged
// and resolves to nil without affecting its siblings.
package appearance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/joeblew999/plat-mantle/internal/expr"
	"github.com/joeblew999/plat-mantle/internal/layer"
	"github.com/joeblew999/plat-mantle/internal/metric"
)

// ErrMissingLayerID is returned when a layer-level appearance is resolved
// for a layer without an id.
var ErrMissingLayerID = errors.New("layer has no id")

// Fetcher loads the features of a data descriptor. *data.Router implements
// it.
type Fetcher interface {
	Fetch(ctx context.Context, d *layer.Data, rng *layer.Range) ([]layer.Feature, error)
}

// Evaluator resolves layer appearances.
type Evaluator struct {
	fetcher Fetcher
	cache   *Cache
	parse   *expr.ParseCache
	logger  *slog.Logger
	metrics *metric.Metrics
	passes  atomic.Uint64
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithCache keeps compiled fields between passes. Without a cache every
// pass compiles and evaluates from scratch.
func WithCache(c *Cache) Option { return func(e *Evaluator) { e.cache = c } }

// WithParseCache shares parsed ASTs between fields.
func WithParseCache(c *expr.ParseCache) Option { return func(e *Evaluator) { e.parse = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Evaluator) { e.logger = l } }

// WithMetrics records evaluation counts.
func WithMetrics(m *metric.Metrics) Option { return func(e *Evaluator) { e.metrics = m } }

// NewEvaluator creates an evaluator. fetcher may be nil when callers only
// evaluate features they already hold.
func NewEvaluator(fetcher Fetcher, opts ...Option) *Evaluator {
	e := &Evaluator{fetcher: fetcher, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cache returns the compiled field cache, or nil.
func (e *Evaluator) Cache() *Cache { return e.cache }

// scope is the state shared by every field of one feature. A nil slot
// compiles every field afresh.
type scope struct {
	layer   *layer.Simple
	feature *layer.Feature
	slot    *slot
}

// EvalAppearance resolves every appearance category of l for f. A nil f
// resolves the layer's own appearance against a stand-in feature built
// from the layer id and properties. Compiled fields are cached by feature
// id; features without an id are compiled on every call.
func (e *Evaluator) EvalAppearance(l *layer.Simple, f *layer.Feature) (map[string]any, error) {
	return e.evalAppearance(l, f, slotFor(f))
}

// slotFor is the cache slot of a feature evaluated outside Compute.
func slotFor(f *layer.Feature) *slot {
	switch {
	case f == nil:
		return &slot{standIn: true}
	case f.ID != "":
		return &slot{id: f.ID}
	}
	return nil
}

func (e *Evaluator) evalAppearance(l *layer.Simple, f *layer.Feature, sl *slot) (map[string]any, error) {
	if f == nil {
		if l.ID == "" {
			return nil, ErrMissingLayerID
		}
		props := l.Properties
		if props == nil {
			props = map[string]any{}
		}
		f = &layer.Feature{ID: l.ID, Properties: props}
	}
	// Expressions see a private copy whose JSON-encoded strings are decoded.
	evalFeature := f.Clone()
	if evalFeature.Properties != nil {
		evalFeature.Properties = parseJSONStrings(evalFeature.Properties).(map[string]any)
	}
	s := scope{layer: l, feature: &evalFeature, slot: sl}

	keys := make([]string, 0, len(l.Appearance))
	for k := range l.Appearance {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[k] = e.recursiveValEval(s, k, l.Appearance[k])
	}
	return out, nil
}

// recursiveValEval descends into structure and evaluates leaves.
func (e *Evaluator) recursiveValEval(s scope, path string, v any) any {
	switch x := v.(type) {
	case map[string]any:
		if _, ok := x["expression"]; ok {
			return e.evalField(s, path, x)
		}
		out := make(map[string]any, len(x))
		for k, child := range x {
			out[k] = e.recursiveValEval(s, path+"."+k, child)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, child := range x {
			out[i] = e.recursiveValEval(s, path+"["+strconv.Itoa(i)+"]", child)
		}
		return out
	}
	return v
}

// EvalExpression resolves one field. Values that are not expression
// containers pass through unchanged; evaluation failures resolve to nil.
func (e *Evaluator) EvalExpression(l *layer.Simple, f *layer.Feature, path string, v any) any {
	return e.evalField(scope{layer: l, feature: f, slot: slotFor(f)}, path, v)
}

func (e *Evaluator) evalField(s scope, path string, v any) any {
	l, f := s.layer, s.feature
	container, ok := v.(map[string]any)
	if !ok {
		return v
	}
	payload, ok := container["expression"]
	if !ok {
		return v
	}

	build := func() (evaluable, error) { return e.compile(payload, f, l.Defines) }
	var (
		result expr.Value
		err    error
	)
	if e.cache != nil && s.slot != nil {
		result, err = e.cache.evaluate(cacheKey(l, path, payload), *s.slot, build)
	} else {
		var ev evaluable
		if ev, err = build(); err == nil {
			result, err = ev.Evaluate()
		}
	}
	if err != nil {
		e.logger.Error("expression evaluation failed",
			"layer", l.ID, "feature", featureID(f), "field", path, "expression", payload, "err", err)
		e.metrics.RecordField(errorKind(err))
		return nil
	}
	e.metrics.RecordField("")
	return result
}

func (e *Evaluator) compile(payload any, f *layer.Feature, defines map[string]string) (evaluable, error) {
	opts := []expr.Option{expr.WithLogger(e.logger)}
	if e.parse != nil {
		opts = append(opts, expr.WithParseCache(e.parse))
	}

	if m, ok := payload.(map[string]any); ok {
		conditions, err := conditionPairs(m["conditions"])
		if err != nil {
			return nil, err
		}
		c, err := expr.NewConditional(conditions, f, defines, opts...)
		if err != nil {
			return nil, err
		}
		return conditional{c}, nil
	}

	src, ok := scalarSource(payload)
	if !ok {
		return nil, fmt.Errorf("unsupported expression payload %T", payload)
	}
	x, err := expr.New(src, f, defines, opts...)
	if err != nil {
		return nil, err
	}
	return expression{x}, nil
}

// conditionPairs reads [[condition, result], ...].
func conditionPairs(v any) ([][2]string, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("conditions must be a list, got %T", v)
	}
	out := make([][2]string, 0, len(list))
	for i, item := range list {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("condition %d must be a [condition, result] pair", i)
		}
		cond, ok1 := scalarSource(pair[0])
		res, ok2 := scalarSource(pair[1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("condition %d must hold scalars", i)
		}
		out = append(out, [2]string{cond, res})
	}
	return out, nil
}

// scalarSource turns a boolean, number or string payload into source text.
func scalarSource(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return expr.ToString(x), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	}
	return "", false
}

func cacheKey(l *layer.Simple, path string, payload any) string {
	src, ok := scalarSource(payload)
	if !ok {
		b, _ := json.Marshal(payload)
		src = string(b)
	}
	return l.ID + "\x00" + path + "\x00" + src
}

func featureID(f *layer.Feature) string {
	if f == nil {
		return ""
	}
	return f.ID
}

func errorKind(err error) string {
	var syntax *expr.SyntaxError
	switch {
	case errors.As(err, &syntax):
		return "syntax"
	case errors.Is(err, expr.ErrTypeMismatch):
		return "type_mismatch"
	case errors.Is(err, expr.ErrUnexpectedCall):
		return "unexpected_call"
	case errors.Is(err, expr.ErrInvalidColor):
		return "invalid_color"
	case errors.Is(err, expr.ErrInvalidRegex):
		return "invalid_regex"
	}
	return "other"
}

// ClearAllExpressionCaches drops the memo of every expression field of l
// and rebinds them to the layer's current defines. It returns the number
// of compiled fields reset.
func (e *Evaluator) ClearAllExpressionCaches(l *layer.Simple) int {
	if e.cache == nil {
		return 0
	}
	n := 0
	for k, v := range l.Appearance {
		walkExpressions(k, v, func(path string, payload any) {
			n += e.cache.reset(cacheKey(l, path, payload), l.Defines)
		})
	}
	return n
}

// ForgetLayer evicts the compiled fields of the layer with the given id.
// Callers use it after re-fetching a layer's features, since compiled
// fields stay bound to the features they were compiled against.
func (e *Evaluator) ForgetLayer(id string) int {
	if e.cache == nil {
		return 0
	}
	return e.cache.dropLayer(id)
}

func walkExpressions(path string, v any, fn func(path string, payload any)) {
	switch x := v.(type) {
	case map[string]any:
		if payload, ok := x["expression"]; ok {
			fn(path, payload)
			return
		}
		for k, child := range x {
			walkExpressions(path+"."+k, child, fn)
		}
	case []any:
		for i, child := range x {
			walkExpressions(path+"["+strconv.Itoa(i)+"]", child, fn)
		}
	}
}

// parseJSONStrings replaces every string that holds valid JSON with its
// decoded value, recursively.
func parseJSONStrings(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, child := range x {
			x[k] = parseJSONStrings(child)
		}
		return x
	case []any:
		for i, child := range x {
			x[i] = parseJSONStrings(child)
		}
		return x
	case string:
		var decoded any
		if err := json.Unmarshal([]byte(x), &decoded); err != nil {
			return x
		}
		return parseJSONStrings(decoded)
	}
	return v
}
