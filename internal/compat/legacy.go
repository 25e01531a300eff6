package compat

import (
	"encoding/json"
	"maps"

	"github.com/joeblew999/plat-mantle/internal/layer"
)

// ConvertLegacyLayer maps a legacy layer back to a layer. Items become
// simple layers whose extension block is the legacy "default" group with
// the location fields moved into an inline GeoJSON feature. The legacy
// bag is kept as the layer's compat so it can be written back unchanged.
func ConvertLegacyLayer(l *LegacyLayer) layer.Layer {
	if l == nil {
		return nil
	}
	common := layer.Common{
		ID:      l.ID,
		Title:   l.Title,
		Visible: l.IsVisible,
		Infobox: l.Infobox,
		Tags:    l.Tags,
		Creator: l.Creator,
	}
	if l.ExtensionID != "" || l.Property != nil || l.PropertyID != "" {
		common.Compat = &layer.Compat{ExtensionID: l.ExtensionID, Property: l.Property, PropertyID: l.PropertyID}
	}

	if l.Type == TypeGroup {
		g := &layer.Group{Common: common}
		for _, child := range l.Children {
			if c := ConvertLegacyLayer(child); c != nil {
				g.Children = append(g.Children, c)
			}
		}
		return g
	}

	s := &layer.Simple{Common: common}
	ext, block, geom, data := fromProperty(l.ExtensionID, l.Property)
	if ext != "" {
		s.Appearance = map[string]any{ext: block}
	}
	switch {
	case data != nil:
		s.Data = data
	case geom != nil:
		s.Data = &layer.Data{Type: "geojson", Value: featureValue(geom)}
	}
	return s
}

// ConvertLegacyLayers converts a legacy layer list.
func ConvertLegacyLayers(layers []*LegacyLayer) []layer.Layer {
	out := make([]layer.Layer, 0, len(layers))
	for _, l := range layers {
		if c := ConvertLegacyLayer(l); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// fromProperty splits a legacy property bag into an extension block, the
// geometry it described and, for tilesets, a data descriptor. Unknown
// extensions yield an empty ext.
func fromProperty(ext string, property any) (string, any, *layer.Geometry, *layer.Data) {
	bag, _ := property.(map[string]any)
	def := copyBag(bag["default"])

	switch ext {
	case "marker", "photooverlay", "model":
		geom := pointFrom(def, "location")
		if ext == "model" {
			if app, ok := bag["appearance"].(map[string]any); ok {
				maps.Copy(def, app)
			}
		}
		return ext, def, geom, nil
	case "ellipsoid":
		return ext, def, pointFrom(def, "position"), nil
	case "polyline":
		var geom *layer.Geometry
		if line := positionsFrom(def["coordinates"]); len(line) > 0 {
			geom = &layer.Geometry{Type: layer.GeometryLineString, LineString: line}
		}
		delete(def, "coordinates")
		return ext, def, geom, nil
	case "polygon":
		var geom *layer.Geometry
		if rings, ok := def["polygon"].([]any); ok {
			poly := make([][]layer.Position, 0, len(rings))
			for _, r := range rings {
				if ring := positionsFrom(r); len(ring) > 0 {
					poly = append(poly, ring)
				}
			}
			if len(poly) > 0 {
				geom = &layer.Geometry{Type: layer.GeometryPolygon, Polygon: poly}
			}
		}
		delete(def, "polygon")
		return ext, def, geom, nil
	case "rect":
		// A rectangle is a four corner polygon.
		geom := rectFrom(def)
		delete(def, "rect")
		delete(def, "height")
		return "polygon", def, geom, nil
	case "3dtiles":
		var data *layer.Data
		if url, ok := def["tileset"].(string); ok && url != "" {
			data = &layer.Data{Type: "3dtiles", URL: url}
		}
		delete(def, "tileset")
		return ext, def, nil, data
	case "resource":
		return ext, bag["default"], nil, nil
	}
	return "", nil, nil, nil
}

func pointFrom(def map[string]any, key string) *layer.Geometry {
	loc, ok := def[key].(map[string]any)
	delete(def, key)
	height, hasHeight := number(def["height"])
	delete(def, "height")
	if !ok {
		return nil
	}
	lat, ok1 := number(loc["lat"])
	lng, ok2 := number(loc["lng"])
	if !ok1 || !ok2 {
		return nil
	}
	if hasHeight {
		return layer.NewPoint(lng, lat, height)
	}
	return layer.NewPoint(lng, lat)
}

func positionsFrom(v any) []layer.Position {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]layer.Position, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		lat, ok1 := number(m["lat"])
		lng, ok2 := number(m["lng"])
		if !ok1 || !ok2 {
			continue
		}
		p := layer.Position{lng, lat}
		if h, ok := number(m["height"]); ok {
			p = append(p, h)
		}
		out = append(out, p)
	}
	return out
}

func rectFrom(def map[string]any) *layer.Geometry {
	r, ok := def["rect"].(map[string]any)
	if !ok {
		return nil
	}
	west, ok1 := number(r["west"])
	south, ok2 := number(r["south"])
	east, ok3 := number(r["east"])
	north, ok4 := number(r["north"])
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil
	}
	corner := func(lng, lat float64) layer.Position { return layer.Position{lng, lat} }
	if h, ok := number(def["height"]); ok {
		corner = func(lng, lat float64) layer.Position { return layer.Position{lng, lat, h} }
	}
	ring := []layer.Position{
		corner(west, south), corner(east, south), corner(east, north), corner(west, north), corner(west, south),
	}
	return &layer.Geometry{Type: layer.GeometryPolygon, Polygon: [][]layer.Position{ring}}
}

// featureValue encodes g as a generic GeoJSON Feature value.
func featureValue(g *layer.Geometry) map[string]any {
	var geometry map[string]any
	if b, err := json.Marshal(g); err == nil {
		_ = json.Unmarshal(b, &geometry)
	}
	return map[string]any{"type": "Feature", "geometry": geometry, "properties": map[string]any{}}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
