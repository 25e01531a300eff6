package data

import (
	"context"
	"fmt"
	"strings"

	"github.com/joeblew999/plat-mantle/internal/layer"
)

// GeoRSS defaults GML to latitude-first axis order.
const geoRSSDefaultSRS = "urn:ogc:def:crs:EPSG::4326"

// FetchGeoRSS reads RSS items or Atom entries carrying GeoRSS Simple,
// GeoRSS GML or W3C geo coordinates. Entries without a location are kept
// without geometry.
func FetchGeoRSS(ctx context.Context, d *layer.Data, r *layer.Range, opts Options) ([]layer.Feature, error) {
	b, err := readSource(ctx, d, opts)
	if err != nil {
		return nil, err
	}
	features, err := DecodeGeoRSS(b, opts)
	if err != nil {
		return nil, err
	}
	return filterRange(features, r), nil
}

// DecodeGeoRSS converts a GeoRSS feed to features.
func DecodeGeoRSS(b []byte, opts Options) ([]layer.Feature, error) {
	root, err := parseXML(b)
	if err != nil {
		return nil, fmt.Errorf("georss: %w", err)
	}

	var entries []*xmlNode
	root.walk(func(n *xmlNode) bool {
		if n.name() == "item" || n.name() == "entry" {
			entries = append(entries, n)
			return false
		}
		return true
	})

	out := make([]layer.Feature, 0, len(entries))
	for _, e := range entries {
		f := layer.Feature{Properties: map[string]any{}}
		for _, c := range e.Children {
			switch c.name() {
			case "title", "description", "summary", "content", "pubDate", "updated", "published", "category":
				putString(f.Properties, c.name(), c.text())
			case "link":
				if href := c.attr("href"); href != "" {
					f.Properties["link"] = href
				} else {
					putString(f.Properties, "link", c.text())
				}
			case "guid", "id":
				f.ID = c.text()
			}
		}
		if f.ID == "" {
			f.ID = opts.id()
		}
		f.Geometry = geoRSSGeometry(e)
		out = append(out, f)
	}
	return out, nil
}

func geoRSSGeometry(e *xmlNode) *layer.Geometry {
	if n := e.child("point"); n != nil {
		if ps := tuples(strings.Fields(n.text()), 2, true); len(ps) == 1 {
			return &layer.Geometry{Type: layer.GeometryPoint, Point: ps[0]}
		}
	}
	if n := e.child("line"); n != nil {
		return &layer.Geometry{Type: layer.GeometryLineString, LineString: tuples(strings.Fields(n.text()), 2, true)}
	}
	if n := e.child("polygon"); n != nil {
		ring := tuples(strings.Fields(n.text()), 2, true)
		return &layer.Geometry{Type: layer.GeometryPolygon, Polygon: [][]layer.Position{ring}}
	}
	if n := e.child("where"); n != nil {
		for _, g := range n.Children {
			if gmlGeometries[g.name()] {
				return gmlGeometry(g, geoRSSDefaultSRS)
			}
		}
	}
	lat, lng := e.child("lat"), e.child("long")
	if lat != nil && lng != nil {
		if ps := tuples([]string{lng.text(), lat.text()}, 2, false); len(ps) == 1 {
			return &layer.Geometry{Type: layer.GeometryPoint, Point: ps[0]}
		}
	}
	if n := e.child("Point"); n != nil {
		// <geo:Point><geo:lat/><geo:long/></geo:Point>
		return geoRSSGeometry(n)
	}
	return nil
}
