package data

import (
	"context"
	"fmt"

	"github.com/tkrajina/gpxgo/gpx"

	"github.com/joeblew999/plat-mantle/internal/layer"
)

// FetchGPX produces one point feature per waypoint, one line per route and
// one line (or multi line) per track.
func FetchGPX(ctx context.Context, d *layer.Data, r *layer.Range, opts Options) ([]layer.Feature, error) {
	b, err := readSource(ctx, d, opts)
	if err != nil {
		return nil, err
	}
	doc, err := gpx.ParseBytes(b)
	if err != nil {
		return nil, fmt.Errorf("gpx: %w", err)
	}

	var out []layer.Feature
	for _, w := range doc.Waypoints {
		props := map[string]any{"kind": "waypoint"}
		putString(props, "name", w.Name)
		putString(props, "description", w.Description)
		putString(props, "symbol", w.Symbol)
		if !w.Timestamp.IsZero() {
			props["time"] = w.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00")
		}
		out = append(out, layer.Feature{ID: opts.id(), Geometry: &layer.Geometry{Type: layer.GeometryPoint, Point: gpxPosition(w.Point)}, Properties: props})
	}
	for _, rt := range doc.Routes {
		props := map[string]any{"kind": "route"}
		putString(props, "name", rt.Name)
		putString(props, "description", rt.Description)
		line := make([]layer.Position, 0, len(rt.Points))
		for _, p := range rt.Points {
			line = append(line, gpxPosition(p.Point))
		}
		out = append(out, layer.Feature{ID: opts.id(), Geometry: &layer.Geometry{Type: layer.GeometryLineString, LineString: line}, Properties: props})
	}
	for _, tr := range doc.Tracks {
		props := map[string]any{"kind": "track"}
		putString(props, "name", tr.Name)
		putString(props, "description", tr.Description)
		var lines [][]layer.Position
		for _, seg := range tr.Segments {
			line := make([]layer.Position, 0, len(seg.Points))
			for _, p := range seg.Points {
				line = append(line, gpxPosition(p.Point))
			}
			if len(line) > 0 {
				lines = append(lines, line)
			}
		}
		var geom *layer.Geometry
		switch len(lines) {
		case 0:
		case 1:
			geom = &layer.Geometry{Type: layer.GeometryLineString, LineString: lines[0]}
		default:
			geom = &layer.Geometry{Type: layer.GeometryMultiLineString, MultiLineString: lines}
		}
		out = append(out, layer.Feature{ID: opts.id(), Geometry: geom, Properties: props})
	}
	return filterRange(out, r), nil
}

func gpxPosition(p gpx.Point) layer.Position {
	if p.Elevation.NotNull() {
		return layer.Position{p.Longitude, p.Latitude, p.Elevation.Value()}
	}
	return layer.Position{p.Longitude, p.Latitude}
}

func putString(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}
