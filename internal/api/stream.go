package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/joeblew999/plat-mantle/internal/appearance"
	"github.com/joeblew999/plat-mantle/internal/service"
)

// RegisterStream registers the Datastar stream of computed layers.
func (h *APIHandler) RegisterStream(api huma.API) {
	huma.Get(api, "/api/v1/layers/{id}/stream", h.StreamLayer, huma.OperationTags("stream"))
}

// StreamLayer sends the computed layer as a Datastar signal patch, then a
// new patch every time the layer is recomputed. Updates to the layer
// document trigger a recompute. The stream ends when the layer is deleted.
func (h *APIHandler) StreamLayer(ctx context.Context, input *IDInput) (*huma.StreamResponse, error) {
	if h.svc.Layer == nil || h.svc.Poller == nil || h.svc.Bus == nil {
		return nil, huma.Error503ServiceUnavailable("service not available")
	}
	if _, err := h.svc.Layer.Simple(input.ID); err != nil {
		return nil, layerError(err)
	}
	id := input.ID

	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			r, w := humago.Unwrap(humaCtx)
			sse := datastar.NewSSE(w, r)

			// Subscribe before the first compute so no update is missed.
			events := h.svc.Bus.Subscribe()
			defer h.svc.Bus.Unsubscribe(events)

			computed, ok := h.svc.Poller.Latest(id)
			if !ok {
				computed, ok = h.recompute(r.Context(), sse, id)
			}
			if ok {
				patchComputed(sse, computed)
			}

			for {
				select {
				case <-r.Context().Done():
					return
				case ev := <-events:
					if ev.ID != id {
						continue
					}
					switch {
					case ev.Resource == service.ResourceComputed:
						if c, ok := h.svc.Poller.Latest(id); ok {
							patchComputed(sse, c)
						}
					case ev.Resource == service.ResourceLayers && ev.Action == "deleted":
						sse.MarshalAndPatchSignals(map[string]any{"layerId": id, "deleted": true})
						return
					case ev.Resource == service.ResourceLayers && ev.Action == "updated":
						if c, ok := h.recompute(r.Context(), sse, id); ok {
							patchComputed(sse, c)
						}
					}
				}
			}
		},
	}, nil
}

func (h *APIHandler) recompute(ctx context.Context, sse *datastar.ServerSentEventGenerator, id string) (*appearance.ComputedLayer, bool) {
	l, err := h.svc.Layer.Simple(id)
	if err == nil {
		var computed *appearance.ComputedLayer
		if computed, err = h.svc.Poller.Refresh(ctx, l, nil); err == nil {
			return computed, true
		}
	}
	h.svc.Logger.Error("stream recompute failed", "layer", id, "err", err)
	sse.MarshalAndPatchSignals(map[string]any{"layerId": id, "error": err.Error()})
	return nil, false
}

func patchComputed(sse *datastar.ServerSentEventGenerator, c *appearance.ComputedLayer) {
	sse.MarshalAndPatchSignals(map[string]any{
		"layerId":  c.ID,
		"layer":    c.Layer,
		"features": c.Features,
	})
}
