package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-mantle/internal/appearance"
	"github.com/joeblew999/plat-mantle/internal/compat"
	"github.com/joeblew999/plat-mantle/internal/data"
	"github.com/joeblew999/plat-mantle/internal/expr"
	"github.com/joeblew999/plat-mantle/internal/layer"
)

// EvaluateLayerInput selects a stored layer and an optional tile range.
type EvaluateLayerInput struct {
	IDInput
	Tile string `query:"tile" doc:"Tile range as z/x/y" example:"3/7/2"`
}

type ComputedOutput struct {
	Body *appearance.ComputedLayer
}

// EvaluateRequest is an ad hoc layer with optional features. Without
// features the layer's data is fetched.
type EvaluateRequest struct {
	Layer    json.RawMessage `json:"layer"`
	Features []layer.Feature `json:"features"`
	Range    *layer.Range    `json:"range"`
}

type ExpressionRequest struct {
	Expression string            `json:"expression,omitempty" doc:"Expression source" example:"${height} > 100 ? 'tall' : 'short'"`
	Conditions [][]string        `json:"conditions,omitempty" doc:"Ordered [condition, result] pairs, used when expression is empty"`
	ID         string            `json:"id,omitempty" doc:"Feature id"`
	Properties map[string]any    `json:"properties,omitempty" doc:"Feature properties"`
	Defines    map[string]string `json:"defines,omitempty" doc:"Named constants"`
}

type ExpressionBody struct {
	Value       any               `json:"value" doc:"Evaluated value; null when no condition matched"`
	Diagnostics []expr.Diagnostic `json:"diagnostics,omitempty" doc:"Degraded operations"`
}

type GuessInput struct {
	URL string `query:"url" required:"true" doc:"Data url or path" example:"https://example.com/stations.geojson"`
}

type GuessBody struct {
	URL        string `json:"url" doc:"Input url"`
	Type       string `json:"type" doc:"Guessed data type, empty when unknown" example:"geojson"`
	Registered bool   `json:"registered" doc:"Whether a fetcher is registered for the type"`
}

// RegisterEvaluate registers appearance evaluation routes.
func (h *APIHandler) RegisterEvaluate(api huma.API) {
	huma.Post(api, "/api/v1/layers/{id}/evaluate", h.EvaluateLayer, huma.OperationTags("evaluate"))
	huma.Post(api, "/api/v1/evaluate", h.Evaluate, huma.OperationTags("evaluate"))
	huma.Post(api, "/api/v1/expressions/evaluate", h.EvaluateExpression, huma.OperationTags("evaluate"))
}

// RegisterData registers data routing helpers.
func (h *APIHandler) RegisterData(api huma.API) {
	huma.Get(api, "/api/v1/data/guess", h.GuessDataType, huma.OperationTags("data"))
}

// RegisterLegacy registers legacy layer conversion routes.
func (h *APIHandler) RegisterLegacy(api huma.API) {
	huma.Get(api, "/api/v1/layers/{id}/legacy", h.GetLegacyLayer, huma.OperationTags("legacy"))
	huma.Get(api, "/api/v1/layers/{id}/compat", h.GetLayerCompat, huma.OperationTags("legacy"))
	huma.Get(api, "/api/v1/legacy/layers", h.GetLegacyLayers, huma.OperationTags("legacy"))
	huma.Post(api, "/api/v1/legacy/convert", h.ConvertLegacy, huma.OperationTags("legacy"))
}

func (h *APIHandler) EvaluateLayer(ctx context.Context, input *EvaluateLayerInput) (*ComputedOutput, error) {
	if h.svc.Layer == nil || h.svc.Poller == nil {
		return nil, huma.Error503ServiceUnavailable("service not available")
	}
	rng, err := parseTile(input.Tile)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	l, err := h.svc.Layer.Simple(input.ID)
	if err != nil {
		return nil, layerError(err)
	}
	computed, err := h.svc.Poller.Refresh(ctx, l, rng)
	if err != nil {
		return nil, huma.Error502BadGateway("layer evaluation failed", err)
	}
	return &ComputedOutput{Body: computed}, nil
}

func (h *APIHandler) Evaluate(ctx context.Context, input *struct {
	RawBody []byte `contentType:"application/json"`
}) (*ComputedOutput, error) {
	if h.svc.Eval == nil {
		return nil, huma.Error503ServiceUnavailable("service not available")
	}
	var req EvaluateRequest
	if err := json.Unmarshal(input.RawBody, &req); err != nil {
		return nil, huma.Error400BadRequest("invalid request", err)
	}
	if len(req.Layer) == 0 {
		return nil, huma.Error422UnprocessableEntity("layer is required")
	}
	l, err := layer.Unmarshal(req.Layer)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid layer document", err)
	}
	simple, ok := l.(*layer.Simple)
	if !ok {
		return nil, huma.Error422UnprocessableEntity("only simple layers can be evaluated")
	}

	var computed *appearance.ComputedLayer
	if req.Features != nil {
		computed, err = h.svc.Eval.Compute(simple, req.Features)
	} else {
		computed, err = h.svc.Eval.EvalLayer(ctx, simple, req.Range)
	}
	switch {
	case errors.Is(err, appearance.ErrMissingLayerID):
		return nil, huma.Error422UnprocessableEntity(err.Error())
	case err != nil:
		return nil, huma.Error502BadGateway("layer evaluation failed", err)
	}
	return &ComputedOutput{Body: computed}, nil
}

func (h *APIHandler) EvaluateExpression(ctx context.Context, input *struct{ Body ExpressionRequest }) (*struct{ Body ExpressionBody }, error) {
	req := input.Body
	feature := &layer.Feature{ID: req.ID, Properties: req.Properties}
	if feature.Properties == nil {
		feature.Properties = map[string]any{}
	}
	opts := []expr.Option{expr.WithLogger(h.svc.Logger)}

	var (
		value any
		diags []expr.Diagnostic
		err   error
	)
	switch {
	case req.Expression != "":
		var e *expr.Expression
		if e, err = expr.New(req.Expression, feature, req.Defines, opts...); err == nil {
			value, err = e.Evaluate()
			diags = e.Diagnostics()
		}
	case len(req.Conditions) > 0:
		pairs := make([][2]string, len(req.Conditions))
		for i, c := range req.Conditions {
			if len(c) != 2 {
				return nil, huma.Error422UnprocessableEntity(fmt.Sprintf("condition %d must be a [condition, result] pair", i))
			}
			pairs[i] = [2]string{c[0], c[1]}
		}
		var c *expr.Conditional
		if c, err = expr.NewConditional(pairs, feature, req.Defines, opts...); err == nil {
			value, err = c.Evaluate()
			diags = c.Diagnostics()
		}
	default:
		return nil, huma.Error422UnprocessableEntity("expression or conditions is required")
	}
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	return &struct{ Body ExpressionBody }{Body: ExpressionBody{Value: value, Diagnostics: diags}}, nil
}

func (h *APIHandler) GuessDataType(ctx context.Context, input *GuessInput) (*struct{ Body GuessBody }, error) {
	t := data.GuessType(input.URL)
	registered := false
	if h.svc.Router != nil && t != "" {
		for _, known := range h.svc.Router.Types() {
			if known == t {
				registered = true
				break
			}
		}
	}
	return &struct{ Body GuessBody }{Body: GuessBody{URL: input.URL, Type: t, Registered: registered}}, nil
}

func (h *APIHandler) GetLegacyLayer(ctx context.Context, input *IDInput) (*struct{ Body *compat.LegacyLayer }, error) {
	if h.svc.Layer == nil {
		return nil, huma.Error404NotFound("service not available")
	}
	l, ok := h.svc.Layer.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	return &struct{ Body *compat.LegacyLayer }{Body: compat.ConvertLayer(l)}, nil
}

func (h *APIHandler) GetLayerCompat(ctx context.Context, input *IDInput) (*struct{ Body *layer.Compat }, error) {
	if h.svc.Layer == nil {
		return nil, huma.Error404NotFound("service not available")
	}
	l, ok := h.svc.Layer.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	c := compat.GetCompat(l)
	if c == nil {
		return nil, huma.Error404NotFound("layer has no legacy extension")
	}
	return &struct{ Body *layer.Compat }{Body: c}, nil
}

func (h *APIHandler) GetLegacyLayers(ctx context.Context, input *struct{}) (*struct{ Body []*compat.LegacyLayer }, error) {
	if h.svc.Layer == nil {
		return &struct{ Body []*compat.LegacyLayer }{Body: []*compat.LegacyLayer{}}, nil
	}
	return &struct{ Body []*compat.LegacyLayer }{Body: compat.ConvertLayers(h.svc.Layer.List())}, nil
}

// ConvertLegacy converts a legacy layer, or a list of them, to layers.
func (h *APIHandler) ConvertLegacy(ctx context.Context, input *struct {
	RawBody []byte `contentType:"application/json"`
}) (*LayerOutput, error) {
	body := bytes.TrimSpace(input.RawBody)
	if len(body) > 0 && body[0] == '[' {
		var legacy []*compat.LegacyLayer
		if err := json.Unmarshal(body, &legacy); err != nil {
			return nil, huma.Error400BadRequest("invalid legacy layers", err)
		}
		return &LayerOutput{Body: compat.ConvertLegacyLayers(legacy)}, nil
	}
	var legacy compat.LegacyLayer
	if err := json.Unmarshal(body, &legacy); err != nil {
		return nil, huma.Error400BadRequest("invalid legacy layer", err)
	}
	return &LayerOutput{Body: compat.ConvertLegacyLayer(&legacy)}, nil
}

// parseTile reads "z/x/y". An empty string means no range.
func parseTile(s string) (*layer.Range, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return nil, fmt.Errorf("tile %q must be z/x/y", s)
	}
	var n [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("tile %q must be z/x/y", s)
		}
		n[i] = v
	}
	return &layer.Range{Z: n[0], X: n[1], Y: n[2]}, nil
}
