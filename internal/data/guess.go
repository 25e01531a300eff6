package data

import (
	"net/url"
	"sort"
	"strings"
)

// Data types.
const (
	TypeAuto       = "auto"
	TypeGeoJSON    = "geojson"
	TypeCSV        = "csv"
	TypeCZML       = "czml"
	TypeKML        = "kml"
	TypeGPX        = "gpx"
	TypeShapefile  = "shapefile"
	TypeGML        = "gml"
	TypeGeoRSS     = "georss"
	TypeGTFS       = "gtfs"
	TypeMVT        = "mvt"
	TypeGLTF       = "gltf"
	Type3DTiles    = "3dtiles"
	TypeTiles      = "tiles"
	TypePMTiles    = "pmtiles"
	TypeGeoParquet = "geoparquet"
)

var extToType = map[string]string{
	"tileset.json": Type3DTiles,
	"geojson":      TypeGeoJSON,
	"json":         TypeGeoJSON,
	"csv":          TypeCSV,
	"czml":         TypeCZML,
	"kml":          TypeKML,
	"kmz":          TypeKML,
	"gpx":          TypeGPX,
	"shp":          TypeShapefile,
	"zip":          TypeShapefile,
	"gml":          TypeGML,
	"georss":       TypeGeoRSS,
	"rss":          TypeGeoRSS,
	"pb":           TypeGTFS,
	"mvt":          TypeMVT,
	"pbf":          TypeMVT,
	"gltf":         TypeGLTF,
	"glb":          TypeGLTF,
	"pmtiles":      TypePMTiles,
	"parquet":      TypeGeoParquet,
	"geoparquet":   TypeGeoParquet,
}

// Longest suffix first so "tileset.json" wins over "json".
var extensions = func() []string {
	out := make([]string, 0, len(extToType))
	for ext := range extToType {
		out = append(out, ext)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}()

// GuessType infers a data type from a url or path. It returns "" when
// nothing matches.
func GuessType(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	lower := strings.ToLower(p)
	base := lower
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}

	for _, ext := range extensions {
		if base == ext || strings.HasSuffix(base, "."+ext) {
			return extToType[ext]
		}
	}
	for _, seg := range strings.Split(lower, "/") {
		if seg == "{z}" {
			return TypeTiles
		}
	}
	return ""
}
