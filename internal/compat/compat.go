// Package compat maps layers to and from the flat legacy layer shape still
// used by plugins and stored property documents.
package compat

import (
	"maps"

	"github.com/joeblew999/plat-mantle/internal/layer"
)

// PluginID is reported for every layer that carries a legacy extension.
const PluginID = "reearth"

// Legacy layer kinds.
const (
	TypeItem  = "item"
	TypeGroup = "group"
)

// LegacyLayer is the flat layer shape. Unset fields are omitted when
// encoded.
type LegacyLayer struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Title       string         `json:"title,omitempty"`
	IsVisible   *bool          `json:"isVisible,omitempty"`
	Creator     string         `json:"creator,omitempty"`
	PluginID    string         `json:"pluginId,omitempty"`
	ExtensionID string         `json:"extensionId,omitempty"`
	Property    any            `json:"property,omitempty"`
	PropertyID  string         `json:"propertyId,omitempty"`
	Infobox     map[string]any `json:"infobox,omitempty"`
	Tags        []layer.Tag    `json:"tags,omitempty"`
	Children    []*LegacyLayer `json:"children,omitempty"`
}

// ConvertLayer maps a layer to its legacy shape. Groups convert their
// children recursively and drop those that cannot be converted. A nil
// layer returns nil.
func ConvertLayer(l layer.Layer) *LegacyLayer {
	switch v := l.(type) {
	case *layer.Group:
		if v == nil {
			return nil
		}
		out := convertCommon(&v.Common, TypeGroup)
		for _, child := range v.Children {
			if c := ConvertLayer(child); c != nil {
				out.Children = append(out.Children, c)
			}
		}
		return out
	case *layer.Simple:
		if v == nil {
			return nil
		}
		return convertCommon(&v.Common, TypeItem)
	}
	return nil
}

// ConvertLayers converts a layer list, dropping layers that cannot be
// converted.
func ConvertLayers(layers []layer.Layer) []*LegacyLayer {
	out := make([]*LegacyLayer, 0, len(layers))
	for _, l := range layers {
		if c := ConvertLayer(l); c != nil {
			out = append(out, c)
		}
	}
	return out
}

func convertCommon(c *layer.Common, kind string) *LegacyLayer {
	out := &LegacyLayer{
		ID:        c.ID,
		Type:      kind,
		Title:     c.Title,
		IsVisible: c.Visible,
		Creator:   c.Creator,
		Infobox:   c.Infobox,
		Tags:      c.Tags,
	}
	if c.Compat != nil {
		out.ExtensionID = c.Compat.ExtensionID
		out.Property = c.Compat.Property
		out.PropertyID = c.Compat.PropertyID
		if c.Compat.ExtensionID != "" {
			out.PluginID = PluginID
		}
	}
	return out
}

// Legacy extension ids, in detection priority order.
var extensionOrder = []string{
	"marker", "polyline", "polygon", "photooverlay", "ellipsoid", "model", "3dtiles", "resource",
}

// modelAppearanceKeys are split into the "appearance" group of a model.
var modelAppearanceKeys = []string{
	"shadows", "colorBlend", "color", "colorBlendAmount", "lightColor",
	"silhouette", "silhouetteColor", "silhouetteSize",
}

// GetCompat derives the legacy property bag of a simple layer. The first
// extension key present in priority order wins and any others are ignored.
// Location fields are taken from an inline GeoJSON value. It returns nil
// for groups and for layers without an extension key.
func GetCompat(l layer.Layer) *layer.Compat {
	s, ok := l.(*layer.Simple)
	if !ok || s == nil {
		return nil
	}
	return compatFor(s, inlineGeometry(s.Data))
}

// GetCompatWithGeometry is GetCompat with the geometry of a fetched
// feature instead of the layer's inline value.
func GetCompatWithGeometry(s *layer.Simple, g *layer.Geometry) *layer.Compat {
	if s == nil {
		return nil
	}
	return compatFor(s, g)
}

func compatFor(s *layer.Simple, g *layer.Geometry) *layer.Compat {
	ext, block := detectExtension(s.Appearance)
	if ext == "" {
		return nil
	}

	property := map[string]any{}
	switch ext {
	case "marker", "photooverlay":
		def := copyBag(block)
		setLocation(def, "location", g)
		property["default"] = def
	case "ellipsoid":
		def := copyBag(block)
		setLocation(def, "position", g)
		property["default"] = def
	case "polyline":
		def := copyBag(block)
		if g != nil && g.Type == layer.GeometryLineString {
			def["coordinates"] = positions(g.LineString)
		}
		property["default"] = def
	case "polygon":
		def := copyBag(block)
		if g != nil && g.Type == layer.GeometryPolygon {
			rings := make([]any, len(g.Polygon))
			for i, r := range g.Polygon {
				rings[i] = positions(r)
			}
			def["polygon"] = rings
		}
		property["default"] = def
	case "model":
		def := copyBag(block)
		setLocation(def, "location", g)
		appearance := map[string]any{}
		for _, k := range modelAppearanceKeys {
			if v, ok := def[k]; ok {
				appearance[k] = v
				delete(def, k)
			}
		}
		property["default"] = def
		if len(appearance) > 0 {
			property["appearance"] = appearance
		}
	case "3dtiles":
		def := copyBag(block)
		if s.Data != nil && s.Data.Type == "3dtiles" && s.Data.URL != "" {
			def["tileset"] = s.Data.URL
		}
		property["default"] = def
	case "resource":
		property["default"] = block
	}

	out := &layer.Compat{ExtensionID: ext, Property: property}
	if s.Compat != nil {
		out.PropertyID = s.Compat.PropertyID
	}
	return out
}

func detectExtension(appearance map[string]any) (string, any) {
	for _, ext := range extensionOrder {
		if v, ok := appearance[ext]; ok && v != nil {
			return ext, v
		}
	}
	return "", nil
}

// inlineGeometry reads the geometry of an inline GeoJSON value.
func inlineGeometry(d *layer.Data) *layer.Geometry {
	if d == nil || d.Type != "geojson" || d.Value == nil {
		return nil
	}
	g, err := layer.GeometryFromValue(d.Value)
	if err != nil {
		return nil
	}
	return g
}

func setLocation(def map[string]any, key string, g *layer.Geometry) {
	if g == nil || g.Type != layer.GeometryPoint || len(g.Point) < 2 {
		return
	}
	def[key] = map[string]any{"lat": g.Point.Lat(), "lng": g.Point.Lng()}
	if h, ok := g.Point.Height(); ok {
		def["height"] = h
	}
}

func positions(ps []layer.Position) []any {
	out := make([]any, 0, len(ps))
	for _, p := range ps {
		if len(p) < 2 {
			continue
		}
		m := map[string]any{"lat": p.Lat(), "lng": p.Lng()}
		if h, ok := p.Height(); ok {
			m["height"] = h
		}
		out = append(out, m)
	}
	return out
}

// copyBag returns a shallow copy of an extension block. Blocks that are
// not objects become empty bags.
func copyBag(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok || m == nil {
		return map[string]any{}
	}
	return maps.Clone(m)
}
