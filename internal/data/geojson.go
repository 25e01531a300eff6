package data

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/joeblew999/plat-mantle/internal/layer"
)

type geoJSONObject struct {
	Type       string            `json:"type"`
	ID         any               `json:"id"`
	Geometry   json.RawMessage   `json:"geometry"`
	Properties map[string]any    `json:"properties"`
	Features   []json.RawMessage `json:"features"`
	Geometries []json.RawMessage `json:"geometries"`
}

// FetchGeoJSON reads a FeatureCollection, a single Feature or a bare
// geometry. Heights are preserved. With geojson.useAsResource the source is
// handed to the renderer untouched and no features are produced.
func FetchGeoJSON(ctx context.Context, d *layer.Data, r *layer.Range, opts Options) ([]layer.Feature, error) {
	if d.GeoJSON != nil && d.GeoJSON.UseAsResource {
		return nil, nil
	}
	b, err := readSource(ctx, d, opts)
	if err != nil {
		return nil, err
	}
	features, err := DecodeGeoJSON(b, opts)
	if err != nil {
		return nil, err
	}
	return filterRange(features, r), nil
}

// DecodeGeoJSON converts GeoJSON text to features.
func DecodeGeoJSON(b []byte, opts Options) ([]layer.Feature, error) {
	var obj geoJSONObject
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, fmt.Errorf("geojson: %w", err)
	}
	var out []layer.Feature
	if err := appendGeoJSON(&out, b, obj, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func appendGeoJSON(out *[]layer.Feature, raw []byte, obj geoJSONObject, opts Options) error {
	switch obj.Type {
	case "FeatureCollection":
		for i, item := range obj.Features {
			var child geoJSONObject
			if err := json.Unmarshal(item, &child); err != nil {
				return fmt.Errorf("geojson feature %d: %w", i, err)
			}
			if child.Type != "Feature" {
				return fmt.Errorf("geojson feature %d: unexpected type %q", i, child.Type)
			}
			if err := appendGeoJSON(out, item, child, opts); err != nil {
				return err
			}
		}
		return nil
	case "Feature":
		f := layer.Feature{ID: geoJSONID(obj.ID, opts), Properties: obj.Properties}
		if len(obj.Geometry) > 0 && string(obj.Geometry) != "null" {
			var g geoJSONObject
			if err := json.Unmarshal(obj.Geometry, &g); err != nil {
				return fmt.Errorf("geojson feature %s: %w", f.ID, err)
			}
			if g.Type == "GeometryCollection" {
				// Each member becomes its own feature sharing the properties.
				for _, member := range g.Geometries {
					geom := &layer.Geometry{}
					if err := json.Unmarshal(member, geom); err != nil {
						return fmt.Errorf("geojson feature %s: %w", f.ID, err)
					}
					part := f
					part.ID = opts.id()
					part.Geometry = geom
					*out = append(*out, part)
				}
				return nil
			}
			geom := &layer.Geometry{}
			if err := json.Unmarshal(obj.Geometry, geom); err != nil {
				return fmt.Errorf("geojson feature %s: %w", f.ID, err)
			}
			f.Geometry = geom
		}
		*out = append(*out, f)
		return nil
	case "GeometryCollection":
		for _, member := range obj.Geometries {
			geom := &layer.Geometry{}
			if err := json.Unmarshal(member, geom); err != nil {
				return fmt.Errorf("geojson geometry: %w", err)
			}
			*out = append(*out, layer.Feature{ID: opts.id(), Geometry: geom})
		}
		return nil
	case "Point", "LineString", "Polygon", "MultiPoint", "MultiLineString", "MultiPolygon":
		geom := &layer.Geometry{}
		if err := json.Unmarshal(raw, geom); err != nil {
			return fmt.Errorf("geojson geometry: %w", err)
		}
		*out = append(*out, layer.Feature{ID: opts.id(), Geometry: geom})
		return nil
	}
	return fmt.Errorf("%w: geojson type %q", ErrUnsupportedValue, obj.Type)
}

func geoJSONID(v any, opts Options) string {
	switch id := v.(type) {
	case string:
		if id != "" {
			return id
		}
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return opts.id()
}
