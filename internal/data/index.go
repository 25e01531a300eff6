package data

import (
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/planar"

	"github.com/joeblew999/plat-mantle/internal/layer"
)

// R-tree rectangles need non-zero sides; points get this extent in degrees.
const minExtent = 1e-9

// Index is an R-tree over feature bounds used to scope a fetch to a tile.
type Index struct {
	tree     *rtreego.Rtree
	features []layer.Feature
}

type indexedFeature struct {
	pos   int
	bound orb.Bound
}

// Bounds implements rtreego.Spatial.
func (f *indexedFeature) Bounds() rtreego.Rect {
	point := rtreego.Point{f.bound.Min[0], f.bound.Min[1]}
	lengths := []float64{
		max(f.bound.Max[0]-f.bound.Min[0], minExtent),
		max(f.bound.Max[1]-f.bound.Min[1], minExtent),
	}
	rect, _ := rtreego.NewRect(point, lengths)
	return rect
}

// NewIndex indexes every feature that has a geometry.
func NewIndex(features []layer.Feature) *Index {
	idx := &Index{tree: rtreego.NewTree(2, 25, 50), features: features}
	for i, f := range features {
		if f.Geometry == nil {
			continue
		}
		g := f.Geometry.Orb()
		if g == nil {
			continue
		}
		idx.tree.Insert(&indexedFeature{pos: i, bound: g.Bound()})
	}
	return idx
}

// InTile returns the features intersecting tile r, in their original order.
func (idx *Index) InTile(r layer.Range) []layer.Feature {
	bound := maptile.New(uint32(r.X), uint32(r.Y), maptile.Zoom(r.Z)).Bound()
	point := rtreego.Point{bound.Min[0], bound.Min[1]}
	lengths := []float64{
		max(bound.Max[0]-bound.Min[0], minExtent),
		max(bound.Max[1]-bound.Min[1], minExtent),
	}
	query, _ := rtreego.NewRect(point, lengths)

	hits := idx.tree.SearchIntersect(query)
	positions := make([]int, 0, len(hits))
	for _, h := range hits {
		positions = append(positions, h.(*indexedFeature).pos)
	}
	sort.Ints(positions)

	out := make([]layer.Feature, 0, len(positions))
	for _, i := range positions {
		f := idx.features[i]
		if !geometryIntersectsTile(f.Geometry.Orb(), bound) {
			continue
		}
		rng := r
		f.Range = &rng
		out = append(out, f)
	}
	return out
}

// filterRange scopes features to r. A nil range returns features unchanged.
func filterRange(features []layer.Feature, r *layer.Range) []layer.Feature {
	if r == nil {
		return features
	}
	return NewIndex(features).InTile(*r)
}

// geometryIntersectsTile refines the bounding box hit with vertex and
// containment checks.
func geometryIntersectsTile(geom orb.Geometry, tileBound orb.Bound) bool {
	if geom == nil || !geom.Bound().Intersects(tileBound) {
		return false
	}

	switch g := geom.(type) {
	case orb.Point:
		return tileBound.Contains(g)
	case orb.MultiPoint:
		for _, p := range g {
			if tileBound.Contains(p) {
				return true
			}
		}
		return false
	case orb.Polygon:
		for _, ring := range g {
			for _, p := range ring {
				if tileBound.Contains(p) {
					return true
				}
			}
		}
		corners := []orb.Point{
			tileBound.Min,
			{tileBound.Max[0], tileBound.Min[1]},
			tileBound.Max,
			{tileBound.Min[0], tileBound.Max[1]},
			tileBound.Center(),
		}
		for _, p := range corners {
			if planar.PolygonContains(g, p) {
				return true
			}
		}
		return false
	case orb.MultiPolygon:
		for _, poly := range g {
			if geometryIntersectsTile(poly, tileBound) {
				return true
			}
		}
		return false
	case orb.MultiLineString:
		for _, ls := range g {
			if geometryIntersectsTile(ls, tileBound) {
				return true
			}
		}
		return false
	}
	// Line strings whose bounds overlap the tile are kept.
	return true
}
