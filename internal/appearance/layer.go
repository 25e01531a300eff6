package appearance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joeblew999/plat-mantle/internal/layer"
)

// ComputedLayer is the outcome of one evaluation pass over a simple layer.
// Features keep the order the fetcher produced them in.
type ComputedLayer struct {
	ID       string                  `json:"id"`
	Layer    map[string]any          `json:"layer"`
	Features []layer.ComputedFeature `json:"features"`
}

// EvalLayer fetches l's data for rng and computes its appearance.
func (e *Evaluator) EvalLayer(ctx context.Context, l *layer.Simple, rng *layer.Range) (*ComputedLayer, error) {
	var features []layer.Feature
	if l.Data != nil && e.fetcher != nil {
		var err error
		if features, err = e.fetcher.Fetch(ctx, l.Data, rng); err != nil {
			return nil, fmt.Errorf("layer %s: %w", l.ID, err)
		}
	}
	return e.Compute(l, features)
}

// Compute resolves the appearance of l and of every feature. The input
// features are not modified. Every call is a new pass: fields compiled by
// earlier passes over l are dropped and none are shared between features.
func (e *Evaluator) Compute(l *layer.Simple, features []layer.Feature) (*ComputedLayer, error) {
	start := time.Now()
	pass := e.passes.Add(1)
	if e.cache != nil {
		e.cache.dropLayer(l.ID)
	}

	own, err := e.evalAppearance(l, nil, &slot{pass: pass, standIn: true})
	if err != nil {
		return nil, err
	}

	prepared := make([]layer.Feature, len(features))
	for i, f := range features {
		prepared[i] = f.Clone()
	}
	if l.Data != nil {
		PromoteJSONProperties(prepared, l.Data.JSONProperties)
		if l.Data.Time != nil {
			for i, iv := range TimeIntervals(prepared, *l.Data.Time) {
				prepared[i].Interval = iv
			}
		}
	}

	out := &ComputedLayer{ID: l.ID, Layer: own, Features: make([]layer.ComputedFeature, 0, len(prepared))}
	for i := range prepared {
		app, err := e.evalAppearance(l, &prepared[i], &slot{pass: pass, index: i})
		if err != nil {
			return nil, err
		}
		out.Features = append(out.Features, layer.ComputedFeature{Feature: prepared[i], Appearance: app})
	}
	e.metrics.RecordLayer(len(prepared), time.Since(start))
	return out, nil
}

// EvalLayers computes every visible simple layer in the tree. A failing
// layer is logged and skipped; the joined errors are returned alongside
// the layers that succeeded.
func (e *Evaluator) EvalLayers(ctx context.Context, layers []layer.Layer, rng *layer.Range) ([]*ComputedLayer, error) {
	var (
		out  []*ComputedLayer
		errs []error
	)
	layer.Walk(layers, func(l layer.Layer) {
		s, ok := l.(*layer.Simple)
		if !ok || !s.IsVisible() {
			return
		}
		computed, err := e.EvalLayer(ctx, s, rng)
		if err != nil {
			e.logger.Error("layer evaluation failed", "layer", s.ID, "err", err)
			errs = append(errs, err)
			return
		}
		out = append(out, computed)
	})
	return out, errors.Join(errs...)
}

// PromoteJSONProperties decodes the named properties in place when they
// hold JSON text. Values that are not valid JSON are left untouched.
func PromoteJSONProperties(features []layer.Feature, names []string) {
	if len(names) == 0 {
		return
	}
	for i := range features {
		props := features[i].Properties
		for _, name := range names {
			s, ok := props[name].(string)
			if !ok {
				continue
			}
			var v any
			if err := json.Unmarshal([]byte(s), &v); err == nil {
				props[name] = v
			}
		}
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// TimeIntervals derives one interval per feature, correlated by index.
// The start is read from cfg.Property (a date string or epoch
// milliseconds). The end is start plus cfg.Interval when set, otherwise
// the next feature's start. Features without a readable start get nil.
func TimeIntervals(features []layer.Feature, cfg layer.TimeConfig) []*layer.TimeInterval {
	starts := make([]*time.Time, len(features))
	for i, f := range features {
		if t, ok := parseTime(f.Properties[cfg.Property]); ok {
			starts[i] = &t
		}
	}

	out := make([]*layer.TimeInterval, len(features))
	for i, start := range starts {
		if start == nil {
			continue
		}
		iv := &layer.TimeInterval{Start: *start}
		switch {
		case cfg.Interval > 0:
			end := start.Add(time.Duration(cfg.Interval) * time.Millisecond)
			iv.End = &end
		case i+1 < len(starts) && starts[i+1] != nil:
			end := *starts[i+1]
			iv.End = &end
		}
		out[i] = iv
	}
	return out
}

func parseTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, x); err == nil {
				return t, true
			}
		}
	case float64:
		return time.UnixMilli(int64(x)).UTC(), true
	}
	return time.Time{}, false
}
