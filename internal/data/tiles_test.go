package data

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-mantle/internal/db"
	"github.com/joeblew999/plat-mantle/internal/layer"
	"github.com/joeblew999/plat-mantle/internal/pmtiles"
	"github.com/joeblew999/plat-mantle/internal/pmtiles/pmtilestest"
)

// encodeTile builds a two-layer vector tile for z1/x1/y0.
func encodeTile(t *testing.T, gzipped bool) []byte {
	t.Helper()
	tile := maptile.New(1, 0, 1)

	stations := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.Point{90, 45})
	f.ID = 7
	f.Properties["name"] = "central"
	stations.Append(f)

	roads := geojson.NewFeatureCollection()
	roads.Append(geojson.NewFeature(orb.LineString{{10, 10}, {20, 20}}))

	layers := mvt.Layers{mvt.NewLayer("stations", stations), mvt.NewLayer("roads", roads)}
	layers.ProjectToTile(tile)

	var (
		b   []byte
		err error
	)
	if gzipped {
		b, err = mvt.MarshalGzipped(layers)
	} else {
		b, err = mvt.Marshal(layers)
	}
	require.NoError(t, err)
	return b
}

func TestDecodeMVT(t *testing.T) {
	rng := layer.Range{X: 1, Y: 0, Z: 1}
	for _, gz := range []bool{false, true} {
		features, err := DecodeMVT(encodeTile(t, gz), rng, nil, testOpts())
		require.NoError(t, err)
		require.Len(t, features, 2)

		station := features[0]
		assert.Equal(t, "7", station.ID)
		assert.Equal(t, "central", station.Properties["name"])
		require.Equal(t, layer.GeometryPoint, station.Geometry.Type)
		assert.InDelta(t, 90, station.Geometry.Point.Lng(), 0.1)
		assert.InDelta(t, 45, station.Geometry.Point.Lat(), 0.1)
		assert.Equal(t, &rng, station.Range)

		assert.Equal(t, layer.GeometryLineString, features[1].Geometry.Type)
	}

	features, err := DecodeMVT(encodeTile(t, false), rng, []string{"roads"}, testOpts())
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, layer.GeometryLineString, features[0].Geometry.Type)
}

func TestFetchMVTTemplate(t *testing.T) {
	p := memProvider{"https://tiles/1/1/0.pbf": encodeTile(t, true)}
	r := NewDefaultRouter(WithProvider(p), WithIDGenerator(seqIDs()))
	d := &layer.Data{Type: TypeMVT, URL: "https://tiles/{z}/{x}/{y}.pbf", Layers: layer.StringList{"stations"}}

	features, err := r.Fetch(context.Background(), d, &layer.Range{X: 1, Y: 0, Z: 1})
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, "central", features[0].Properties["name"])

	features, err = r.Fetch(context.Background(), d, nil)
	require.NoError(t, err)
	assert.Empty(t, features)
}

func TestPMTilesFetcher(t *testing.T) {
	archive, err := pmtilestest.Writer{TileType: pmtiles.Mvt}.Build(map[maptile.Tile][]byte{
		maptile.New(1, 0, 1): encodeTile(t, false),
	})
	require.NoError(t, err)

	p := memProvider{"https://x/world.pmtiles": archive}
	fetcher := NewPMTilesFetcher()
	opts := Options{Provider: p, NewID: seqIDs()}
	d := &layer.Data{Type: TypePMTiles, URL: "https://x/world.pmtiles"}

	features, err := fetcher.Fetch(context.Background(), d, &layer.Range{X: 1, Y: 0, Z: 1}, opts)
	require.NoError(t, err)
	require.Len(t, features, 2)
	assert.InDelta(t, 90, features[0].Geometry.Point.Lng(), 0.1)

	// Cached: the provider is no longer consulted.
	delete(p, "https://x/world.pmtiles")
	features, err = fetcher.Fetch(context.Background(), d, &layer.Range{X: 0, Y: 0, Z: 1}, opts)
	require.NoError(t, err)
	assert.Empty(t, features)

	fetcher.Forget(d.URL)
	_, err = fetcher.Fetch(context.Background(), d, &layer.Range{X: 1, Y: 0, Z: 1}, opts)
	assert.Error(t, err)

	features, err = fetcher.Fetch(context.Background(), d, nil, opts)
	require.NoError(t, err)
	assert.Empty(t, features)
}

func TestGeoParquet(t *testing.T) {
	conn, err := db.Open(db.Config{})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Exec(`CREATE TABLE places (fid VARCHAR, pop INTEGER, geometry BLOB)`)
	require.NoError(t, err)
	for _, row := range []struct {
		fid string
		pop int
		pt  orb.Point
	}{
		{"a", 10, orb.Point{139.7, 35.6}},
		{"b", 20, orb.Point{-0.1, 51.5}},
	} {
		g, err := wkb.Marshal(row.pt)
		require.NoError(t, err)
		_, err = conn.Exec(`INSERT INTO places VALUES (?, ?, ?)`, row.fid, row.pop, g)
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "places.parquet")
	_, err = conn.Exec(`COPY places TO '` + path + `' (FORMAT PARQUET)`)
	require.NoError(t, err)

	r := NewDefaultRouter(
		WithDB(func() (*sql.DB, error) { return conn, nil }),
		WithIDGenerator(seqIDs()),
	)
	d := &layer.Data{Type: TypeAuto, URL: path, Parameters: map[string]any{"idColumn": "fid"}}
	features, err := r.Fetch(context.Background(), d, nil)
	require.NoError(t, err)
	require.Len(t, features, 2)

	assert.Equal(t, "a", features[0].ID)
	assert.Equal(t, 10.0, features[0].Properties["pop"])
	assert.NotContains(t, features[0].Properties, "geometry")
	assert.Equal(t, layer.Position{139.7, 35.6}, features[0].Geometry.Point)
	assert.Equal(t, "b", features[1].ID)

	// Only London sits in the north-west quadrant at z1.
	features, err = r.Fetch(context.Background(), d, &layer.Range{X: 0, Y: 0, Z: 1})
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, "b", features[0].ID)
}
