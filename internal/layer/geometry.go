package layer

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
)

// GeometryType is the GeoJSON geometry type name.
type GeometryType string

const (
	GeometryPoint           GeometryType = "Point"
	GeometryLineString      GeometryType = "LineString"
	GeometryPolygon         GeometryType = "Polygon"
	GeometryMultiPoint      GeometryType = "MultiPoint"
	GeometryMultiLineString GeometryType = "MultiLineString"
	GeometryMultiPolygon    GeometryType = "MultiPolygon"
)

// Position is a GeoJSON position: [lng, lat] or [lng, lat, height].
type Position []float64

// Lng returns the longitude.
func (p Position) Lng() float64 { return p[0] }

// Lat returns the latitude.
func (p Position) Lat() float64 { return p[1] }

// Height returns the third coordinate when present.
func (p Position) Height() (float64, bool) {
	if len(p) < 3 {
		return 0, false
	}
	return p[2], true
}

// Geometry is a GeoJSON geometry that keeps the optional height coordinate.
// orb.Geometry is two dimensional, so the coordinates are held here and
// converted with Orb when planar operations are needed.
//
// Exactly one of the coordinate fields is populated, selected by Type.
type Geometry struct {
	Type            GeometryType
	Point           Position
	LineString      []Position
	Polygon         [][]Position
	MultiPoint      []Position
	MultiLineString [][]Position
	MultiPolygon    [][][]Position
}

// NewPoint returns a Point geometry.
func NewPoint(lng, lat float64, height ...float64) *Geometry {
	p := Position{lng, lat}
	if len(height) > 0 {
		p = append(p, height[0])
	}
	return &Geometry{Type: GeometryPoint, Point: p}
}

func (g Geometry) coordinates() any {
	switch g.Type {
	case GeometryPoint:
		return g.Point
	case GeometryLineString:
		return g.LineString
	case GeometryPolygon:
		return g.Polygon
	case GeometryMultiPoint:
		return g.MultiPoint
	case GeometryMultiLineString:
		return g.MultiLineString
	case GeometryMultiPolygon:
		return g.MultiPolygon
	}
	return nil
}

// MarshalJSON encodes the geometry as a GeoJSON object.
func (g Geometry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type        GeometryType `json:"type"`
		Coordinates any          `json:"coordinates"`
	}{g.Type, g.coordinates()})
}

// UnmarshalJSON decodes a GeoJSON geometry object.
func (g *Geometry) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type        GeometryType    `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	out := Geometry{Type: raw.Type}
	var target any
	switch raw.Type {
	case GeometryPoint:
		target = &out.Point
	case GeometryLineString:
		target = &out.LineString
	case GeometryPolygon:
		target = &out.Polygon
	case GeometryMultiPoint:
		target = &out.MultiPoint
	case GeometryMultiLineString:
		target = &out.MultiLineString
	case GeometryMultiPolygon:
		target = &out.MultiPolygon
	default:
		return fmt.Errorf("unsupported geometry type %q", raw.Type)
	}
	if len(raw.Coordinates) > 0 {
		if err := json.Unmarshal(raw.Coordinates, target); err != nil {
			return fmt.Errorf("decoding %s coordinates: %w", raw.Type, err)
		}
	}
	*g = out
	return nil
}

// GeometryFromValue decodes a geometry from a generic JSON value such as a
// map produced by encoding/json. A GeoJSON Feature yields its geometry.
func GeometryFromValue(v any) (*Geometry, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("geometry value must be an object, got %T", v)
	}
	if m["type"] == "Feature" {
		inner, ok := m["geometry"]
		if !ok || inner == nil {
			return nil, nil
		}
		return GeometryFromValue(inner)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var g Geometry
	if err := json.Unmarshal(b, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func toOrbPoint(p Position) orb.Point {
	if len(p) < 2 {
		return orb.Point{}
	}
	return orb.Point{p[0], p[1]}
}

func toOrbLine(ps []Position) orb.LineString {
	ls := make(orb.LineString, len(ps))
	for i, p := range ps {
		ls[i] = toOrbPoint(p)
	}
	return ls
}

func toOrbPolygon(rings [][]Position) orb.Polygon {
	poly := make(orb.Polygon, len(rings))
	for i, r := range rings {
		poly[i] = orb.Ring(toOrbLine(r))
	}
	return poly
}

// Orb converts the geometry to its two dimensional orb form.
func (g Geometry) Orb() orb.Geometry {
	switch g.Type {
	case GeometryPoint:
		return toOrbPoint(g.Point)
	case GeometryLineString:
		return toOrbLine(g.LineString)
	case GeometryPolygon:
		return toOrbPolygon(g.Polygon)
	case GeometryMultiPoint:
		return orb.MultiPoint(toOrbLine(g.MultiPoint))
	case GeometryMultiLineString:
		mls := make(orb.MultiLineString, len(g.MultiLineString))
		for i, ls := range g.MultiLineString {
			mls[i] = toOrbLine(ls)
		}
		return mls
	case GeometryMultiPolygon:
		mp := make(orb.MultiPolygon, len(g.MultiPolygon))
		for i, p := range g.MultiPolygon {
			mp[i] = toOrbPolygon(p)
		}
		return mp
	}
	return nil
}

func fromOrbLine(ls []orb.Point) []Position {
	out := make([]Position, len(ls))
	for i, p := range ls {
		out[i] = Position{p[0], p[1]}
	}
	return out
}

func fromOrbPolygon(p orb.Polygon) [][]Position {
	out := make([][]Position, len(p))
	for i, r := range p {
		out[i] = fromOrbLine(r)
	}
	return out
}

// FromOrb converts an orb geometry. Unsupported kinds (collections, bounds)
// return nil.
func FromOrb(o orb.Geometry) *Geometry {
	switch g := o.(type) {
	case orb.Point:
		return &Geometry{Type: GeometryPoint, Point: Position{g[0], g[1]}}
	case orb.MultiPoint:
		return &Geometry{Type: GeometryMultiPoint, MultiPoint: fromOrbLine(g)}
	case orb.LineString:
		return &Geometry{Type: GeometryLineString, LineString: fromOrbLine(g)}
	case orb.MultiLineString:
		out := make([][]Position, len(g))
		for i, ls := range g {
			out[i] = fromOrbLine(ls)
		}
		return &Geometry{Type: GeometryMultiLineString, MultiLineString: out}
	case orb.Ring:
		return &Geometry{Type: GeometryPolygon, Polygon: [][]Position{fromOrbLine(g)}}
	case orb.Polygon:
		return &Geometry{Type: GeometryPolygon, Polygon: fromOrbPolygon(g)}
	case orb.MultiPolygon:
		out := make([][][]Position, len(g))
		for i, p := range g {
			out[i] = fromOrbPolygon(p)
		}
		return &Geometry{Type: GeometryMultiPolygon, MultiPolygon: out}
	}
	return nil
}
