// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-mantle/internal/appearance"
	"github.com/joeblew999/plat-mantle/internal/data"
	"github.com/joeblew999/plat-mantle/internal/layer"
	"github.com/joeblew999/plat-mantle/internal/service"
)

// Services holds the service dependencies for API handlers.
type Services struct {
	Layer  *service.LayerService
	Source *service.SourceService
	Poller *service.Poller
	Bus    *service.EventBus
	Router *data.Router
	Eval   *appearance.Evaluator
	Logger *slog.Logger
}

// Types

type IDInput struct {
	ID string `path:"id" doc:"Layer ID" example:"stations"`
}

// LayerInput carries a layer document. The body is decoded by the layer
// codec since layers are a tagged union.
type LayerInput struct {
	RawBody []byte `contentType:"application/json"`
}

type LayerOutput struct {
	Body any
}

type LayersOutput struct {
	Body []service.LayerSummary
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type CreatedLayerBody struct {
	ID      string `json:"id" doc:"Layer ID"`
	Layer   any    `json:"layer" doc:"Created layer document"`
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	if svc.Logger == nil {
		svc.Logger = slog.Default()
	}
	return &APIHandler{svc: svc}
}

// RegisterRoutes registers every API route.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterLayers registers layer CRUD routes.
func (h *APIHandler) RegisterLayers(api huma.API) {
	huma.Get(api, "/api/v1/layers", h.GetLayers, huma.OperationTags("layers"))
	huma.Post(api, "/api/v1/layers", h.CreateLayer, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/{id}", h.GetLayer, huma.OperationTags("layers"))
	huma.Put(api, "/api/v1/layers/{id}", h.PutLayer, huma.OperationTags("layers"))
	huma.Delete(api, "/api/v1/layers/{id}", h.DeleteLayer, huma.OperationTags("layers"))
}

// RegisterSources registers source listing routes.
func (h *APIHandler) RegisterSources(api huma.API) {
	huma.Get(api, "/api/v1/sources", h.GetSources, huma.OperationTags("sources"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: "1.0.0"}}, nil
}

func (h *APIHandler) GetLayers(ctx context.Context, input *struct{}) (*LayersOutput, error) {
	if h.svc.Layer == nil {
		return &LayersOutput{Body: []service.LayerSummary{}}, nil
	}
	return &LayersOutput{Body: h.svc.Layer.Summaries()}, nil
}

func (h *APIHandler) CreateLayer(ctx context.Context, input *LayerInput) (*struct{ Body CreatedLayerBody }, error) {
	if h.svc.Layer == nil {
		return nil, huma.Error400BadRequest("service not available")
	}
	l, err := layer.Unmarshal(input.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid layer document", err)
	}
	created, err := h.svc.Layer.Create(l)
	if err != nil {
		return nil, layerError(err)
	}
	return &struct{ Body CreatedLayerBody }{Body: CreatedLayerBody{
		ID: created.Base().ID, Layer: created, Message: "Layer created",
	}}, nil
}

func (h *APIHandler) GetLayer(ctx context.Context, input *IDInput) (*LayerOutput, error) {
	if h.svc.Layer == nil {
		return nil, huma.Error404NotFound("service not available")
	}
	l, ok := h.svc.Layer.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	return &LayerOutput{Body: l}, nil
}

func (h *APIHandler) PutLayer(ctx context.Context, input *struct {
	IDInput
	RawBody []byte `contentType:"application/json"`
}) (*LayerOutput, error) {
	if h.svc.Layer == nil {
		return nil, huma.Error400BadRequest("service not available")
	}
	l, err := layer.Unmarshal(input.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid layer document", err)
	}
	updated, err := h.svc.Layer.Update(input.ID, l)
	if err != nil {
		return nil, layerError(err)
	}
	if s, ok := updated.(*layer.Simple); ok && h.svc.Eval != nil {
		h.svc.Eval.ClearAllExpressionCaches(s)
	}
	return &LayerOutput{Body: updated}, nil
}

func (h *APIHandler) DeleteLayer(ctx context.Context, input *IDInput) (*struct{ Body MessageBody }, error) {
	if h.svc.Layer == nil {
		return nil, huma.Error400BadRequest("service not available")
	}
	if err := h.svc.Layer.Delete(input.ID); err != nil {
		return nil, layerError(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Layer deleted"}}, nil
}

func (h *APIHandler) GetSources(ctx context.Context, input *struct{}) (*struct{ Body []service.SourceFile }, error) {
	if h.svc.Source == nil {
		return &struct{ Body []service.SourceFile }{Body: []service.SourceFile{}}, nil
	}
	sources, err := h.svc.Source.List()
	if err != nil {
		return &struct{ Body []service.SourceFile }{Body: []service.SourceFile{}}, nil
	}
	return &struct{ Body []service.SourceFile }{Body: sources}, nil
}

// layerError maps service errors to HTTP errors.
func layerError(err error) error {
	switch {
	case errors.Is(err, service.ErrLayerNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, service.ErrLayerExists):
		return huma.Error409Conflict(err.Error())
	}
	return huma.Error400BadRequest(err.Error())
}
