package appearance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-mantle/internal/expr"
	"github.com/joeblew999/plat-mantle/internal/layer"
)

type stubFetcher struct {
	features []layer.Feature
	err      error
	calls    int
	lastRng  *layer.Range
}

func (s *stubFetcher) Fetch(_ context.Context, _ *layer.Data, rng *layer.Range) ([]layer.Feature, error) {
	s.calls++
	s.lastRng = rng
	return s.features, s.err
}

func TestEvalLayerPreservesOrder(t *testing.T) {
	fetcher := &stubFetcher{features: []layer.Feature{
		{ID: "c", Properties: map[string]any{"n": 3.0}},
		{ID: "a", Properties: map[string]any{"n": 1.0}},
		{ID: "b", Properties: map[string]any{"n": 2.0}},
	}}
	l := simple(map[string]any{"marker": map[string]any{"size": exprField("${n} * 10")}})
	l.Data = &layer.Data{Type: "geojson", URL: "x.geojson"}

	e := NewEvaluator(fetcher, WithLogger(quietLogger()))
	rng := &layer.Range{X: 1, Y: 2, Z: 3}
	computed, err := e.EvalLayer(context.Background(), l, rng)
	require.NoError(t, err)
	assert.Equal(t, rng, fetcher.lastRng)

	require.Len(t, computed.Features, 3)
	for i, want := range []struct {
		id   string
		size float64
	}{{"c", 30}, {"a", 10}, {"b", 20}} {
		assert.Equal(t, want.id, computed.Features[i].ID)
		assert.Equal(t, want.size, computed.Features[i].Appearance["marker"].(map[string]any)["size"])
	}
	assert.Equal(t, "l1", computed.ID)
	// The layer itself has no n property, so "" * 10 fails and resolves to nil.
	assert.Nil(t, computed.Layer["marker"].(map[string]any)["size"])
}

func TestEvalLayerFetchError(t *testing.T) {
	boom := errors.New("boom")
	l := simple(nil)
	l.Data = &layer.Data{Type: "geojson", URL: "x"}
	_, err := NewEvaluator(&stubFetcher{err: boom}).EvalLayer(context.Background(), l, nil)
	assert.ErrorIs(t, err, boom)
}

func TestEvalLayersSkipsFailures(t *testing.T) {
	ok := simple(map[string]any{"marker": map[string]any{"size": 1.0}})
	noID := &layer.Simple{}
	hidden := false
	invisible := &layer.Simple{Common: layer.Common{ID: "hidden", Visible: &hidden}}
	tree := []layer.Layer{&layer.Group{Common: layer.Common{ID: "g"}, Children: []layer.Layer{noID, ok, invisible}}}

	computed, err := NewEvaluator(nil, WithLogger(quietLogger())).EvalLayers(context.Background(), tree, nil)
	assert.ErrorIs(t, err, ErrMissingLayerID)
	require.Len(t, computed, 1)
	assert.Equal(t, "l1", computed[0].ID)
}

func TestComputePromotesJSONProperties(t *testing.T) {
	l := simple(nil)
	l.Data = &layer.Data{JSONProperties: []string{"tags", "broken", "missing"}}
	in := []layer.Feature{{ID: "f", Properties: map[string]any{"tags": `["a","b"]`, "broken": "{nope", "other": `[1]`}}}

	computed, err := NewEvaluator(nil).Compute(l, in)
	require.NoError(t, err)
	props := computed.Features[0].Properties
	assert.Equal(t, []any{"a", "b"}, props["tags"])
	assert.Equal(t, "{nope", props["broken"])
	assert.Equal(t, `[1]`, props["other"])
	assert.Equal(t, `["a","b"]`, in[0].Properties["tags"])
}

func TestCacheMemoizesUntilCleared(t *testing.T) {
	cache := NewCache()
	e := NewEvaluator(nil, WithCache(cache), WithParseCache(expr.NewParseCache()), WithLogger(quietLogger()))
	l := simple(map[string]any{"marker": map[string]any{
		"size":  exprField("${n}"),
		"color": conditions([2]string{"${n} > 1", "'big'"}, [2]string{"true", "'small'"}),
	}})
	f := &layer.Feature{ID: "f", Properties: map[string]any{"n": 1.0}}

	first, err := e.EvalAppearance(l, f)
	require.NoError(t, err)
	assert.Equal(t, 1.0, first["marker"].(map[string]any)["size"])
	assert.Equal(t, "small", first["marker"].(map[string]any)["color"])
	assert.Equal(t, 2, cache.Len())

	// A changed feature is not seen until the caches are cleared.
	f.Properties["n"] = 5.0
	second, err := e.EvalAppearance(l, f)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, 2, e.ClearAllExpressionCaches(l))
	// Cleared fields re-evaluate against the copy they were bound to.
	third, err := e.EvalAppearance(l, f)
	require.NoError(t, err)
	assert.Equal(t, 1.0, third["marker"].(map[string]any)["size"])

	cache.Clear()
	fourth, err := e.EvalAppearance(l, f)
	require.NoError(t, err)
	assert.Equal(t, 5.0, fourth["marker"].(map[string]any)["size"])
	assert.Equal(t, "big", fourth["marker"].(map[string]any)["color"])
}

func TestClearAllExpressionCachesRebindsDefines(t *testing.T) {
	cache := NewCache()
	e := NewEvaluator(nil, WithCache(cache), WithLogger(quietLogger()))
	l := simple(map[string]any{"marker": map[string]any{"size": exprField("${SCALE} * 2")}})
	l.Defines = map[string]string{"SCALE": "1"}
	f := &layer.Feature{ID: "f"}

	got, err := e.EvalAppearance(l, f)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got["marker"].(map[string]any)["size"])

	l.Defines = map[string]string{"SCALE": "10"}
	assert.Equal(t, 1, e.ClearAllExpressionCaches(l))
	got, err = e.EvalAppearance(l, f)
	require.NoError(t, err)
	assert.Equal(t, 20.0, got["marker"].(map[string]any)["size"])

	assert.Zero(t, NewEvaluator(nil).ClearAllExpressionCaches(l))
}

func TestTimeIntervals(t *testing.T) {
	features := []layer.Feature{
		{Properties: map[string]any{"t": "2024-01-01T00:00:00Z"}},
		{Properties: map[string]any{"t": "2024-01-02"}},
		{Properties: map[string]any{"t": "not a date"}},
		{Properties: map[string]any{"t": 1704326400000.0}}, // 2024-01-04
	}

	got := TimeIntervals(features, layer.TimeConfig{Property: "t"})
	require.Len(t, got, 4)
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

	require.NotNil(t, got[0])
	assert.True(t, day(1).Equal(got[0].Start))
	require.NotNil(t, got[0].End)
	assert.True(t, day(2).Equal(*got[0].End))

	require.NotNil(t, got[1])
	assert.Nil(t, got[1].End, "next feature has no start")
	assert.Nil(t, got[2])
	assert.True(t, day(4).Equal(got[3].Start))
	assert.Nil(t, got[3].End)

	stepped := TimeIntervals(features, layer.TimeConfig{Property: "t", Interval: int64(time.Hour / time.Millisecond)})
	require.NotNil(t, stepped[3].End)
	assert.True(t, day(4).Add(time.Hour).Equal(*stepped[3].End))
}

func TestComputeAssignsIntervals(t *testing.T) {
	l := simple(nil)
	l.Data = &layer.Data{Time: &layer.TimeConfig{Property: "t", Interval: 1000}}
	computed, err := NewEvaluator(nil).Compute(l, []layer.Feature{{ID: "a", Properties: map[string]any{"t": "2024-05-01"}}})
	require.NoError(t, err)
	require.NotNil(t, computed.Features[0].Interval)
	assert.Equal(t, 2024, computed.Features[0].Interval.Start.Year())
}

func TestForgetLayer(t *testing.T) {
	cache := NewCache()
	e := NewEvaluator(nil, WithCache(cache), WithLogger(quietLogger()))
	a := simple(map[string]any{"marker": map[string]any{"size": exprField("${n}")}})
	b := simple(map[string]any{"marker": map[string]any{"size": exprField("${n}")}})
	b.ID = "l2"

	f := &layer.Feature{ID: "f", Properties: map[string]any{"n": 1.0}}
	_, err := e.EvalAppearance(a, f)
	require.NoError(t, err)
	_, err = e.EvalAppearance(b, f)
	require.NoError(t, err)
	require.Equal(t, 2, cache.Len())

	assert.Equal(t, 1, e.ForgetLayer("l1"))
	assert.Equal(t, 1, cache.Len())

	f.Properties["n"] = 7.0
	got, err := e.EvalAppearance(a, f)
	require.NoError(t, err)
	assert.Equal(t, 7.0, got["marker"].(map[string]any)["size"])
}

func TestComputeDoesNotShareFieldsBetweenFeatures(t *testing.T) {
	cache := NewCache()
	e := NewEvaluator(nil, WithCache(cache), WithLogger(quietLogger()))
	l := simple(map[string]any{"marker": map[string]any{"size": exprField("${n} * 10")}})
	l.Properties = map[string]any{"n": 3.0}

	sizes := func(features ...layer.Feature) []any {
		computed, err := e.Compute(l, features)
		require.NoError(t, err)
		out := make([]any, len(computed.Features))
		for i, f := range computed.Features {
			out[i] = f.Appearance["marker"].(map[string]any)["size"]
		}
		return out
	}

	t.Run("features without ids", func(t *testing.T) {
		got := sizes(
			layer.Feature{Properties: map[string]any{"n": 1.0}},
			layer.Feature{Properties: map[string]any{"n": 2.0}},
		)
		assert.Equal(t, []any{10.0, 20.0}, got)
	})

	t.Run("duplicate ids", func(t *testing.T) {
		got := sizes(
			layer.Feature{ID: "dup", Properties: map[string]any{"n": 1.0}},
			layer.Feature{ID: "dup", Properties: map[string]any{"n": 4.0}},
		)
		assert.Equal(t, []any{10.0, 40.0}, got)
	})

	t.Run("repeated passes see new properties", func(t *testing.T) {
		assert.Equal(t, []any{10.0}, sizes(layer.Feature{ID: "f", Properties: map[string]any{"n": 1.0}}))
		assert.Equal(t, []any{50.0}, sizes(layer.Feature{ID: "f", Properties: map[string]any{"n": 5.0}}))
	})

	t.Run("feature id equal to layer id", func(t *testing.T) {
		computed, err := e.Compute(l, []layer.Feature{{ID: l.ID, Properties: map[string]any{"n": 7.0}}})
		require.NoError(t, err)
		assert.Equal(t, 30.0, computed.Layer["marker"].(map[string]any)["size"])
		assert.Equal(t, 70.0, computed.Features[0].Appearance["marker"].(map[string]any)["size"])
	})

	// Only the last pass's fields are kept: the stand-in and one feature.
	assert.Equal(t, 2, cache.Len())
}

func TestEvalAppearanceWithoutIDIsNotCached(t *testing.T) {
	cache := NewCache()
	e := NewEvaluator(nil, WithCache(cache), WithLogger(quietLogger()))
	l := simple(map[string]any{"marker": map[string]any{"size": exprField("${n}")}})

	for _, n := range []float64{1, 2} {
		got, err := e.EvalAppearance(l, &layer.Feature{Properties: map[string]any{"n": n}})
		require.NoError(t, err)
		assert.Equal(t, n, got["marker"].(map[string]any)["size"])
	}
	assert.Zero(t, cache.Len())
}
