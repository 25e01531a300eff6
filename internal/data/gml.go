package data

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/joeblew999/plat-mantle/internal/layer"
)

// xmlNode is a namespace-agnostic element tree. Matching is on local names.
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []*xmlNode `xml:",any"`
}

func parseXML(b []byte) (*xmlNode, error) {
	var root xmlNode
	dec := xml.NewDecoder(bytes.NewReader(b))
	dec.Strict = false
	if err := dec.Decode(&root); err != nil {
		return nil, err
	}
	return &root, nil
}

func (n *xmlNode) name() string { return n.XMLName.Local }

func (n *xmlNode) attr(local string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func (n *xmlNode) child(local string) *xmlNode {
	for _, c := range n.Children {
		if c.name() == local {
			return c
		}
	}
	return nil
}

func (n *xmlNode) children(local string) []*xmlNode {
	var out []*xmlNode
	for _, c := range n.Children {
		if c.name() == local {
			out = append(out, c)
		}
	}
	return out
}

func (n *xmlNode) text() string { return strings.TrimSpace(n.Text) }

// walk visits n and its descendants depth-first until fn returns false.
func (n *xmlNode) walk(fn func(*xmlNode) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.walk(fn)
	}
}

var gmlGeometries = map[string]bool{
	"Point": true, "LineString": true, "Curve": true, "LinearRing": true,
	"Polygon": true, "Surface": true, "MultiPoint": true, "MultiLineString": true,
	"MultiCurve": true, "MultiPolygon": true, "MultiSurface": true,
}

// FetchGML reads GML feature collections (including WFS responses).
func FetchGML(ctx context.Context, d *layer.Data, r *layer.Range, opts Options) ([]layer.Feature, error) {
	b, err := readSource(ctx, d, opts)
	if err != nil {
		return nil, err
	}
	features, err := DecodeGML(b, opts)
	if err != nil {
		return nil, err
	}
	return filterRange(features, r), nil
}

// DecodeGML converts a GML document to features.
func DecodeGML(b []byte, opts Options) ([]layer.Feature, error) {
	root, err := parseXML(b)
	if err != nil {
		return nil, fmt.Errorf("gml: %w", err)
	}

	var members []*xmlNode
	root.walk(func(n *xmlNode) bool {
		switch n.name() {
		case "featureMember", "featureMembers", "member":
			members = append(members, n.Children...)
			return false
		}
		return true
	})

	out := make([]layer.Feature, 0, len(members))
	for _, m := range members {
		f := layer.Feature{ID: m.attr("id"), Properties: map[string]any{}}
		if f.ID == "" {
			f.ID = opts.id()
		}
		for _, prop := range m.Children {
			if g := findGMLGeometry(prop); g != nil {
				if f.Geometry == nil {
					f.Geometry = g
				}
				continue
			}
			if len(prop.Children) == 0 {
				f.Properties[prop.name()] = convertCell(prop.text())
			}
		}
		out = append(out, f)
	}
	return out, nil
}

func findGMLGeometry(n *xmlNode) *layer.Geometry {
	if gmlGeometries[n.name()] {
		return gmlGeometry(n, n.attr("srsName"))
	}
	for _, c := range n.Children {
		if gmlGeometries[c.name()] {
			return gmlGeometry(c, c.attr("srsName"))
		}
	}
	return nil
}

// latFirst reports whether the CRS uses latitude/longitude axis order.
func latFirst(srs string) bool {
	s := strings.ToLower(srs)
	return strings.HasPrefix(s, "urn:ogc:def:crs:epsg::4326") ||
		strings.HasPrefix(s, "urn:ogc:def:crs:epsg:6.6:4326") ||
		strings.HasPrefix(s, "http://www.opengis.net/def/crs/epsg/0/4326")
}

func gmlGeometry(n *xmlNode, srs string) *layer.Geometry {
	if s := n.attr("srsName"); s != "" {
		srs = s
	}
	swap := latFirst(srs)
	switch n.name() {
	case "Point":
		ps := gmlPositions(n, swap)
		if len(ps) == 0 {
			return nil
		}
		return &layer.Geometry{Type: layer.GeometryPoint, Point: ps[0]}
	case "LineString", "Curve", "LinearRing":
		return &layer.Geometry{Type: layer.GeometryLineString, LineString: gmlPositions(n, swap)}
	case "Polygon", "Surface":
		return &layer.Geometry{Type: layer.GeometryPolygon, Polygon: gmlRings(n, swap)}
	case "MultiPoint":
		var ps []layer.Position
		for _, m := range gmlMembers(n) {
			if g := gmlGeometry(m, srs); g != nil && g.Type == layer.GeometryPoint {
				ps = append(ps, g.Point)
			}
		}
		return &layer.Geometry{Type: layer.GeometryMultiPoint, MultiPoint: ps}
	case "MultiLineString", "MultiCurve":
		var ls [][]layer.Position
		for _, m := range gmlMembers(n) {
			if g := gmlGeometry(m, srs); g != nil && g.Type == layer.GeometryLineString {
				ls = append(ls, g.LineString)
			}
		}
		return &layer.Geometry{Type: layer.GeometryMultiLineString, MultiLineString: ls}
	case "MultiPolygon", "MultiSurface":
		var polys [][][]layer.Position
		for _, m := range gmlMembers(n) {
			if g := gmlGeometry(m, srs); g != nil && g.Type == layer.GeometryPolygon {
				polys = append(polys, g.Polygon)
			}
		}
		return &layer.Geometry{Type: layer.GeometryMultiPolygon, MultiPolygon: polys}
	}
	return nil
}

// gmlMembers returns the geometries under *Member and *Members wrappers.
func gmlMembers(n *xmlNode) []*xmlNode {
	var out []*xmlNode
	for _, c := range n.Children {
		if !strings.HasSuffix(c.name(), "Member") && !strings.HasSuffix(c.name(), "Members") {
			continue
		}
		for _, g := range c.Children {
			if gmlGeometries[g.name()] {
				out = append(out, g)
			}
		}
	}
	return out
}

func gmlRings(n *xmlNode, swap bool) [][]layer.Position {
	var rings [][]layer.Position
	for _, wrapper := range []string{"exterior", "outerBoundaryIs", "interior", "innerBoundaryIs"} {
		for _, w := range n.children(wrapper) {
			for _, ring := range w.Children {
				if ps := gmlPositions(ring, swap); len(ps) > 0 {
					rings = append(rings, ps)
				}
			}
		}
	}
	return rings
}

// gmlPositions reads pos, posList or coordinates below n.
func gmlPositions(n *xmlNode, swap bool) []layer.Position {
	if pl := n.child("posList"); pl != nil {
		dim, _ := strconv.Atoi(pl.attr("srsDimension"))
		return tuples(strings.Fields(pl.text()), dim, swap)
	}
	if ps := n.children("pos"); len(ps) > 0 {
		var out []layer.Position
		for _, p := range ps {
			fs := strings.Fields(p.text())
			out = append(out, tuples(fs, len(fs), swap)...)
		}
		return out
	}
	if c := n.child("coordinates"); c != nil {
		var out []layer.Position
		for _, tuple := range strings.Fields(c.text()) {
			fs := strings.Split(tuple, ",")
			out = append(out, tuples(fs, len(fs), swap)...)
		}
		return out
	}
	// Segments of a Curve nest their own posList.
	if segs := n.child("segments"); segs != nil {
		var out []layer.Position
		for _, s := range segs.Children {
			out = append(out, gmlPositions(s, swap)...)
		}
		return out
	}
	return nil
}

// tuples groups numbers into positions of size dim (default 2), swapping
// the first two axes when swap is set.
func tuples(fields []string, dim int, swap bool) []layer.Position {
	if dim < 2 || dim > 3 {
		dim = 2
	}
	out := make([]layer.Position, 0, len(fields)/dim)
	for i := 0; i+dim <= len(fields); i += dim {
		p := make(layer.Position, dim)
		ok := true
		for j := 0; j < dim; j++ {
			v, err := strconv.ParseFloat(fields[i+j], 64)
			if err != nil {
				ok = false
				break
			}
			p[j] = v
		}
		if !ok {
			continue
		}
		if swap {
			p[0], p[1] = p[1], p[0]
		}
		out = append(out, p)
	}
	return out
}
