package appearance

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-mantle/internal/expr"
	"github.com/joeblew999/plat-mantle/internal/layer"
	"github.com/joeblew999/plat-mantle/internal/metric"
)

func exprField(src any) map[string]any { return map[string]any{"expression": src} }

func conditions(pairs ...[2]string) map[string]any {
	list := make([]any, len(pairs))
	for i, p := range pairs {
		list[i] = []any{p[0], p[1]}
	}
	return exprField(map[string]any{"conditions": list})
}

func simple(appearance map[string]any) *layer.Simple {
	return &layer.Simple{Common: layer.Common{ID: "l1"}, Appearance: appearance}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestRecursiveResolution(t *testing.T) {
	l := simple(map[string]any{
		"marker": map[string]any{
			"size":       12.0,
			"pointColor": exprField("color('red')"),
			"label": map[string]any{
				"text":  exprField("${name}"),
				"style": "bold",
			},
			"offsets": []any{exprField("1 + 1"), 3.0},
		},
	})
	e := NewEvaluator(nil, WithLogger(quietLogger()))
	f := &layer.Feature{ID: "f1", Properties: map[string]any{"name": "Tokyo"}}

	got, err := e.EvalAppearance(l, f)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"marker": map[string]any{
			"size":       12.0,
			"pointColor": "#ff0000",
			"label":      map[string]any{"text": "Tokyo", "style": "bold"},
			"offsets":    []any{2.0, 3.0},
		},
	}, got)
}

func TestScalarPayloads(t *testing.T) {
	e := NewEvaluator(nil, WithLogger(quietLogger()))
	l := simple(nil)
	f := &layer.Feature{ID: "f"}

	assert.Equal(t, true, e.EvalExpression(l, f, "x", exprField(true)))
	assert.Equal(t, 42.0, e.EvalExpression(l, f, "x", exprField(42.0)))
	assert.Equal(t, "plain", e.EvalExpression(l, f, "x", "plain"))
	// A map without an expression key is returned as is.
	m := map[string]any{"a": 1.0}
	assert.Equal(t, m, e.EvalExpression(l, f, "x", m))
}

func TestConditionalField(t *testing.T) {
	l := simple(map[string]any{
		"polygon": map[string]any{
			"fillColor": conditions(
				[2]string{"${height} > 100", "'tall'"},
				[2]string{"true", "'short'"},
			),
		},
	})
	e := NewEvaluator(nil, WithLogger(quietLogger()))

	tall, err := e.EvalAppearance(l, &layer.Feature{ID: "a", Properties: map[string]any{"height": 150.0}})
	require.NoError(t, err)
	short, err := e.EvalAppearance(l, &layer.Feature{ID: "b", Properties: map[string]any{"height": 10.0}})
	require.NoError(t, err)

	assert.Equal(t, "tall", tall["polygon"].(map[string]any)["fillColor"])
	assert.Equal(t, "short", short["polygon"].(map[string]any)["fillColor"])
}

func TestFieldIsolation(t *testing.T) {
	m := metric.New()
	l := simple(map[string]any{
		"marker": map[string]any{
			"broken":  exprField("'a' - 1"),
			"syntax":  exprField("1 +"),
			"bad":     exprField(map[string]any{"conditions": "nope"}),
			"healthy": exprField("2 * 3"),
		},
	})
	e := NewEvaluator(nil, WithLogger(quietLogger()), WithMetrics(m))

	got, err := e.EvalAppearance(l, &layer.Feature{ID: "f"})
	require.NoError(t, err)
	marker := got["marker"].(map[string]any)
	assert.Nil(t, marker["broken"])
	assert.Nil(t, marker["syntax"])
	assert.Nil(t, marker["bad"])
	assert.Equal(t, 6.0, marker["healthy"])

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `mantle_appearance_fields_total{status="error"} 3`)
	assert.Contains(t, body, `mantle_appearance_fields_total{status="ok"} 1`)
	assert.Contains(t, body, `mantle_appearance_errors_total{kind="syntax"} 1`)
	assert.Contains(t, body, `mantle_appearance_errors_total{kind="type_mismatch"} 1`)
}

func TestFallbackFeature(t *testing.T) {
	e := NewEvaluator(nil, WithLogger(quietLogger()))
	l := simple(map[string]any{"label": map[string]any{"text": exprField("${title} + ':' + ${id}")}})
	l.Properties = map[string]any{"title": "Stations"}

	got, err := e.EvalAppearance(l, nil)
	require.NoError(t, err)
	assert.Equal(t, "Stations:l1", got["label"].(map[string]any)["text"])

	l.ID = ""
	_, err = e.EvalAppearance(l, nil)
	assert.ErrorIs(t, err, ErrMissingLayerID)
}

func TestJSONStringsDecodedForEvaluation(t *testing.T) {
	e := NewEvaluator(nil, WithLogger(quietLogger()))
	l := simple(map[string]any{"marker": map[string]any{"size": exprField("${meta.size} * 2")}})
	f := &layer.Feature{ID: "f", Properties: map[string]any{"meta": `{"size": 4}`}}

	got, err := e.EvalAppearance(l, f)
	require.NoError(t, err)
	assert.Equal(t, 8.0, got["marker"].(map[string]any)["size"])
	// The caller's feature keeps the raw string.
	assert.Equal(t, `{"size": 4}`, f.Properties["meta"])
}

func TestErrorKind(t *testing.T) {
	_, err := expr.Parse("1 +")
	assert.Equal(t, "syntax", errorKind(err))
	assert.Equal(t, "other", errorKind(errors.New("x")))
}
