package layer

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeometryKeepsHeight(t *testing.T) {
	src := `{"type":"LineString","coordinates":[[1,2,30],[3,4]]}`

	var g Geometry
	require.NoError(t, json.Unmarshal([]byte(src), &g))
	require.Len(t, g.LineString, 2)
	h, ok := g.LineString[0].Height()
	assert.True(t, ok)
	assert.Equal(t, 30.0, h)
	_, ok = g.LineString[1].Height()
	assert.False(t, ok)

	out, err := json.Marshal(g)
	require.NoError(t, err)
	assert.JSONEq(t, src, string(out))
}

func TestGeometryFromValueFeature(t *testing.T) {
	g, err := GeometryFromValue(map[string]any{
		"type":     "Feature",
		"geometry": map[string]any{"type": "Point", "coordinates": []any{1.0, 2.0, 5.0}},
	})
	require.NoError(t, err)
	assert.Equal(t, Position{1, 2, 5}, g.Point)

	g, err = GeometryFromValue(map[string]any{"type": "Feature"})
	require.NoError(t, err)
	assert.Nil(t, g)

	_, err = GeometryFromValue("nope")
	assert.Error(t, err)
}

func TestGeometryOrbIsPlanar(t *testing.T) {
	g := NewPoint(1, 2, 30)
	assert.Equal(t, orb.Point{1, 2}, g.Orb())

	back := FromOrb(g.Orb())
	_, ok := back.Point.Height()
	assert.False(t, ok)
	assert.Equal(t, Position{1, 2}, back.Point)
}
