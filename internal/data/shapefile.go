package data

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-mantle/internal/layer"
)

// FetchShapefile reads either a zip archive holding a .shp and .dbf pair, or
// a .shp url whose .dbf sits next to it.
func FetchShapefile(ctx context.Context, d *layer.Data, r *layer.Range, opts Options) ([]layer.Feature, error) {
	var shpBytes, dbfBytes []byte
	switch {
	case d.Value != nil:
		b, ok := d.Value.([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: shapefile value must be zip bytes", ErrUnsupportedValue)
		}
		var err error
		if shpBytes, dbfBytes, err = unzipShapefile(b); err != nil {
			return nil, err
		}
	case strings.EqualFold(path.Ext(stripQuery(d.URL)), ".shp"):
		var err error
		if shpBytes, err = readURL(ctx, d.URL, opts); err != nil {
			return nil, err
		}
		if dbfBytes, err = readURL(ctx, siblingURL(d.URL, ".dbf"), opts); err != nil {
			return nil, err
		}
	default:
		b, err := readURL(ctx, d.URL, opts)
		if err != nil {
			return nil, err
		}
		if shpBytes, dbfBytes, err = unzipShapefile(b); err != nil {
			return nil, err
		}
	}

	features, err := DecodeShapefile(shpBytes, dbfBytes, opts)
	if err != nil {
		return nil, err
	}
	return filterRange(features, r), nil
}

// DecodeShapefile converts a .shp/.dbf pair to features, one per record.
func DecodeShapefile(shpBytes, dbfBytes []byte, opts Options) ([]layer.Feature, error) {
	rd := shp.SequentialReaderFromExt(
		io.NopCloser(bytes.NewReader(shpBytes)),
		io.NopCloser(bytes.NewReader(dbfBytes)),
	)
	defer rd.Close()

	fields := rd.Fields()
	var out []layer.Feature
	for rd.Next() {
		_, shape := rd.Shape()
		props := make(map[string]any, len(fields))
		for i, fld := range fields {
			props[fld.String()] = dbfValue(fld, rd.Attribute(i))
		}
		out = append(out, layer.Feature{ID: opts.id(), Geometry: shapeGeometry(shape), Properties: props})
	}
	if err := rd.Err(); err != nil {
		return nil, fmt.Errorf("shapefile: %w", err)
	}
	return out, nil
}

func dbfValue(f shp.Field, raw string) any {
	s := strings.TrimSpace(strings.TrimRight(raw, "\x00"))
	switch f.Fieldtype {
	case 'N', 'F':
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n
		}
		return nil
	case 'L':
		switch strings.ToUpper(s) {
		case "T", "Y":
			return true
		case "F", "N":
			return false
		}
		return nil
	}
	return s
}

func shapeGeometry(s shp.Shape) *layer.Geometry {
	switch g := s.(type) {
	case *shp.Point:
		return layer.NewPoint(g.X, g.Y)
	case *shp.PointZ:
		return layer.NewPoint(g.X, g.Y, g.Z)
	case *shp.MultiPoint:
		return &layer.Geometry{Type: layer.GeometryMultiPoint, MultiPoint: shpPositions(g.Points, nil)}
	case *shp.MultiPointZ:
		return &layer.Geometry{Type: layer.GeometryMultiPoint, MultiPoint: shpPositions(g.Points, g.ZArray)}
	case *shp.PolyLine:
		return shpLines(shpParts(g.Parts, g.Points, nil))
	case *shp.PolyLineZ:
		return shpLines(shpParts(g.Parts, g.Points, g.ZArray))
	case *shp.Polygon:
		return shpPolygons(shpParts(g.Parts, g.Points, nil))
	case *shp.PolygonZ:
		return shpPolygons(shpParts(g.Parts, g.Points, g.ZArray))
	}
	return nil
}

func shpPositions(points []shp.Point, z []float64) []layer.Position {
	out := make([]layer.Position, len(points))
	for i, p := range points {
		if i < len(z) {
			out[i] = layer.Position{p.X, p.Y, z[i]}
		} else {
			out[i] = layer.Position{p.X, p.Y}
		}
	}
	return out
}

func shpParts(parts []int32, points []shp.Point, z []float64) [][]layer.Position {
	all := shpPositions(points, z)
	out := make([][]layer.Position, 0, len(parts))
	for i, start := range parts {
		end := len(all)
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if int(start) > end || end > len(all) {
			continue
		}
		out = append(out, all[start:end])
	}
	return out
}

func shpLines(parts [][]layer.Position) *layer.Geometry {
	if len(parts) == 1 {
		return &layer.Geometry{Type: layer.GeometryLineString, LineString: parts[0]}
	}
	return &layer.Geometry{Type: layer.GeometryMultiLineString, MultiLineString: parts}
}

// shpPolygons groups rings: clockwise rings are outer boundaries, the
// counter-clockwise rings that follow are their holes.
func shpPolygons(rings [][]layer.Position) *layer.Geometry {
	var polys [][][]layer.Position
	for _, ring := range rings {
		o := make(orb.Ring, len(ring))
		for i, p := range ring {
			o[i] = orb.Point{p[0], p[1]}
		}
		if o.Orientation() == orb.CW || len(polys) == 0 {
			polys = append(polys, [][]layer.Position{ring})
			continue
		}
		polys[len(polys)-1] = append(polys[len(polys)-1], ring)
	}
	if len(polys) == 1 {
		return &layer.Geometry{Type: layer.GeometryPolygon, Polygon: polys[0]}
	}
	return &layer.Geometry{Type: layer.GeometryMultiPolygon, MultiPolygon: polys}
}

func unzipShapefile(b []byte) (shpBytes, dbfBytes []byte, err error) {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, nil, fmt.Errorf("shapefile zip: %w", err)
	}
	for _, f := range zr.File {
		ext := strings.ToLower(path.Ext(f.Name))
		if ext != ".shp" && ext != ".dbf" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, nil, err
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("shapefile zip %s: %w", f.Name, err)
		}
		if ext == ".shp" && shpBytes == nil {
			shpBytes = content
		} else if ext == ".dbf" && dbfBytes == nil {
			dbfBytes = content
		}
	}
	if shpBytes == nil || dbfBytes == nil {
		return nil, nil, fmt.Errorf("shapefile zip: missing .shp or .dbf")
	}
	return shpBytes, dbfBytes, nil
}

func stripQuery(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// siblingURL swaps the extension of rawURL, keeping any query string.
func siblingURL(rawURL, ext string) string {
	base := stripQuery(rawURL)
	rest := rawURL[len(base):]
	return strings.TrimSuffix(base, path.Ext(base)) + ext + rest
}
