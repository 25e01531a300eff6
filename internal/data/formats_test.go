package data

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/joeblew999/plat-mantle/internal/layer"
)

func TestDecodeGeoJSON(t *testing.T) {
	src := `{"type":"FeatureCollection","features":[
		{"type":"Feature","id":7,"geometry":{"type":"Point","coordinates":[1,2,3]},"properties":{"name":"a"}},
		{"type":"Feature","geometry":null,"properties":{}},
		{"type":"Feature","geometry":{"type":"GeometryCollection","geometries":[
			{"type":"Point","coordinates":[0,0]},
			{"type":"LineString","coordinates":[[0,0],[1,1]]}
		]},"properties":{"shared":true}}
	]}`
	features, err := DecodeGeoJSON([]byte(src), testOpts())
	require.NoError(t, err)
	require.Len(t, features, 4)

	assert.Equal(t, "7", features[0].ID)
	assert.Equal(t, layer.Position{1, 2, 3}, features[0].Geometry.Point)
	assert.Equal(t, "a", features[0].Properties["name"])

	assert.Equal(t, "gen-1", features[1].ID)
	assert.Nil(t, features[1].Geometry)

	assert.Equal(t, layer.GeometryPoint, features[2].Geometry.Type)
	assert.Equal(t, layer.GeometryLineString, features[3].Geometry.Type)
	assert.Equal(t, true, features[3].Properties["shared"])
}

func TestDecodeGeoJSONBareGeometry(t *testing.T) {
	features, err := DecodeGeoJSON([]byte(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`), testOpts())
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, layer.GeometryPolygon, features[0].Geometry.Type)

	_, err = DecodeGeoJSON([]byte(`{"type":"Topology"}`), testOpts())
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestFetchGeoJSONInlineAndResource(t *testing.T) {
	d := &layer.Data{
		Type: TypeGeoJSON,
		Value: map[string]any{
			"type":       "Feature",
			"geometry":   map[string]any{"type": "Point", "coordinates": []any{5.0, 6.0}},
			"properties": map[string]any{"k": "v"},
			"id":         "inline",
		},
	}
	features, err := FetchGeoJSON(context.Background(), d, nil, testOpts())
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, "inline", features[0].ID)

	d.GeoJSON = &layer.GeoJSONOptions{UseAsResource: true}
	features, err = FetchGeoJSON(context.Background(), d, nil, testOpts())
	require.NoError(t, err)
	assert.Empty(t, features)
}

func TestDecodeCSV(t *testing.T) {
	src := "\xef\xbb\xbfid,name,Latitude,Longitude,alt,active\n" +
		"p1,First,35.5,139.7,10,true\n" +
		"\n" +
		"p2,Second,bad,139.8,,false\n"
	features, err := DecodeCSV([]byte(src), layer.CSVOptions{IDColumn: "id", HeightColumn: "alt"}, testOpts())
	require.NoError(t, err)
	require.Len(t, features, 2)

	assert.Equal(t, "p1", features[0].ID)
	assert.Equal(t, layer.Position{139.7, 35.5, 10}, features[0].Geometry.Point)
	assert.Equal(t, "First", features[0].Properties["name"])
	assert.Equal(t, 10.0, features[0].Properties["alt"])
	assert.Equal(t, true, features[0].Properties["active"])

	assert.Equal(t, "p2", features[1].ID)
	assert.Nil(t, features[1].Geometry)
	assert.Equal(t, false, features[1].Properties["active"])
}

func TestDecodeCSVOptions(t *testing.T) {
	t.Run("wkt", func(t *testing.T) {
		src := "name,geom\na,\"LINESTRING (0 0, 1 1)\"\n"
		features, err := DecodeCSV([]byte(src), layer.CSVOptions{WKTColumn: "geom"}, testOpts())
		require.NoError(t, err)
		require.Len(t, features, 1)
		assert.Equal(t, layer.GeometryLineString, features[0].Geometry.Type)
		assert.Equal(t, "gen-1", features[0].ID)
	})

	t.Run("no header by index", func(t *testing.T) {
		src := "a,1,2\n"
		features, err := DecodeCSV([]byte(src), layer.CSVOptions{NoHeader: true, LatColumn: "1", LngColumn: "2"}, testOpts())
		require.NoError(t, err)
		require.Len(t, features, 1)
		assert.Equal(t, layer.Position{2, 1}, features[0].Geometry.Point)
		assert.Equal(t, "a", features[0].Properties["0"])
	})

	t.Run("no type conversion", func(t *testing.T) {
		src := "lat,lng,n\n1,2,3\n"
		features, err := DecodeCSV([]byte(src), layer.CSVOptions{DisableTypeConversion: true}, testOpts())
		require.NoError(t, err)
		require.Len(t, features, 1)
		assert.Equal(t, "3", features[0].Properties["n"])
		assert.Equal(t, layer.Position{2, 1}, features[0].Geometry.Point)
	})
}

func TestFetchGPX(t *testing.T) {
	src := `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="test" xmlns="http://www.topografix.com/GPX/1/1">
  <wpt lat="35.0" lon="139.0"><ele>12</ele><name>Camp</name></wpt>
  <rte><name>Route</name><rtept lat="1" lon="2"/><rtept lat="3" lon="4"/></rte>
  <trk><name>Track</name>
    <trkseg><trkpt lat="1" lon="1"/><trkpt lat="2" lon="2"/></trkseg>
    <trkseg><trkpt lat="3" lon="3"/><trkpt lat="4" lon="4"/></trkseg>
  </trk>
</gpx>`
	features, err := FetchGPX(context.Background(), &layer.Data{Value: src}, nil, testOpts())
	require.NoError(t, err)
	require.Len(t, features, 3)

	assert.Equal(t, layer.Position{139, 35, 12}, features[0].Geometry.Point)
	assert.Equal(t, "Camp", features[0].Properties["name"])
	assert.Equal(t, "waypoint", features[0].Properties["kind"])

	assert.Equal(t, []layer.Position{{2, 1}, {4, 3}}, features[1].Geometry.LineString)
	assert.Equal(t, layer.GeometryMultiLineString, features[2].Geometry.Type)
	assert.Len(t, features[2].Geometry.MultiLineString, 2)
}

func gtfsFeed() []byte {
	var pos []byte
	pos = protowire.AppendTag(pos, positionLat, protowire.Fixed32Type)
	pos = protowire.AppendFixed32(pos, 0x420c0000) // 35
	pos = protowire.AppendTag(pos, positionLng, protowire.Fixed32Type)
	pos = protowire.AppendFixed32(pos, 0x430b0000) // 139
	pos = protowire.AppendTag(pos, positionSpeed, protowire.Fixed32Type)
	pos = protowire.AppendFixed32(pos, 0x41200000) // 10

	var trip []byte
	trip = protowire.AppendTag(trip, tripID, protowire.BytesType)
	trip = protowire.AppendString(trip, "t1")
	trip = protowire.AppendTag(trip, tripRoute, protowire.BytesType)
	trip = protowire.AppendString(trip, "r9")

	var desc []byte
	desc = protowire.AppendTag(desc, descriptorID, protowire.BytesType)
	desc = protowire.AppendString(desc, "bus-42")

	var vehicle []byte
	vehicle = protowire.AppendTag(vehicle, vehicleTrip, protowire.BytesType)
	vehicle = protowire.AppendBytes(vehicle, trip)
	vehicle = protowire.AppendTag(vehicle, vehiclePosition, protowire.BytesType)
	vehicle = protowire.AppendBytes(vehicle, pos)
	vehicle = protowire.AppendTag(vehicle, vehicleStatus, protowire.VarintType)
	vehicle = protowire.AppendVarint(vehicle, 1)
	vehicle = protowire.AppendTag(vehicle, vehicleDescriptor, protowire.BytesType)
	vehicle = protowire.AppendBytes(vehicle, desc)

	var located []byte
	located = protowire.AppendTag(located, entityVehicle, protowire.BytesType)
	located = protowire.AppendBytes(located, vehicle)

	// An alert-only entity carries no position.
	var alert []byte
	alert = protowire.AppendTag(alert, entityID, protowire.BytesType)
	alert = protowire.AppendString(alert, "alert-1")

	var header []byte
	header = protowire.AppendTag(header, 1, protowire.BytesType)
	header = protowire.AppendString(header, "2.0")

	var feed []byte
	feed = protowire.AppendTag(feed, 1, protowire.BytesType)
	feed = protowire.AppendBytes(feed, header)
	feed = protowire.AppendTag(feed, feedEntity, protowire.BytesType)
	feed = protowire.AppendBytes(feed, located)
	feed = protowire.AppendTag(feed, feedEntity, protowire.BytesType)
	feed = protowire.AppendBytes(feed, alert)
	return feed
}

func TestDecodeGTFS(t *testing.T) {
	features, err := DecodeGTFS(gtfsFeed(), testOpts())
	require.NoError(t, err)
	require.Len(t, features, 1)

	f := features[0]
	assert.Equal(t, "bus-42", f.ID)
	assert.Equal(t, layer.Position{139, 35}, f.Geometry.Point)
	assert.Equal(t, "t1", f.Properties["tripId"])
	assert.Equal(t, "r9", f.Properties["routeId"])
	assert.Equal(t, 10.0, f.Properties["speed"])
	assert.Equal(t, "STOPPED_AT", f.Properties["currentStatus"])

	_, err = DecodeGTFS([]byte{0xff}, testOpts())
	assert.Error(t, err)
}

func TestDecodeShapefile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "points")

	w, err := shp.Create(base+".shp", shp.POINT)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("NAME", 16),
		shp.FloatField("POP", 12, 2),
	}))
	for i, p := range []struct {
		x, y float64
		name string
		pop  float64
	}{
		{139.7, 35.6, "Tokyo", 13.5},
		{-0.1, 51.5, "London", 8.9},
	} {
		w.Write(&shp.Point{X: p.x, Y: p.y})
		require.NoError(t, w.WriteAttribute(i, 0, p.name))
		require.NoError(t, w.WriteAttribute(i, 1, p.pop))
	}
	w.Close()

	shpBytes, err := os.ReadFile(base + ".shp")
	require.NoError(t, err)
	dbfBytes, err := os.ReadFile(base + ".dbf")
	require.NoError(t, err)

	features, err := DecodeShapefile(shpBytes, dbfBytes, testOpts())
	require.NoError(t, err)
	require.Len(t, features, 2)
	assert.Equal(t, layer.Position{139.7, 35.6}, features[0].Geometry.Point)
	assert.Equal(t, "Tokyo", features[0].Properties["NAME"])
	assert.InDelta(t, 13.5, features[0].Properties["POP"], 1e-9)
	assert.Equal(t, "London", features[1].Properties["NAME"])
}

func TestShapefilePolygonRings(t *testing.T) {
	outer := []layer.Position{{0, 0}, {0, 10}, {10, 10}, {10, 0}, {0, 0}}
	hole := []layer.Position{{2, 2}, {4, 2}, {4, 4}, {2, 4}, {2, 2}}
	second := []layer.Position{{20, 20}, {20, 30}, {30, 30}, {30, 20}, {20, 20}}

	g := shpPolygons([][]layer.Position{outer, hole, second})
	require.Equal(t, layer.GeometryMultiPolygon, g.Type)
	require.Len(t, g.MultiPolygon, 2)
	assert.Len(t, g.MultiPolygon[0], 2)
	assert.Len(t, g.MultiPolygon[1], 1)

	g = shpPolygons([][]layer.Position{outer})
	assert.Equal(t, layer.GeometryPolygon, g.Type)
}

func TestSiblingURL(t *testing.T) {
	assert.Equal(t, "https://x/a.dbf?k=1", siblingURL("https://x/a.shp?k=1", ".dbf"))
	assert.Equal(t, "/data/a.dbf", siblingURL("/data/a.shp", ".dbf"))
}

func TestDecodeGML(t *testing.T) {
	src := `<wfs:FeatureCollection xmlns:wfs="http://www.opengis.net/wfs/2.0" xmlns:gml="http://www.opengis.net/gml/3.2" xmlns:app="urn:app">
  <wfs:member>
    <app:Station gml:id="st.1">
      <app:name>Central</app:name>
      <app:platforms>4</app:platforms>
      <app:geom><gml:Point srsName="urn:ogc:def:crs:EPSG::4326"><gml:pos>35.68 139.76</gml:pos></gml:Point></app:geom>
    </app:Station>
  </wfs:member>
  <wfs:member>
    <app:Route gml:id="rt.1">
      <app:geom><gml:LineString srsName="EPSG:4326"><gml:posList srsDimension="2">139 35 140 36</gml:posList></gml:LineString></app:geom>
    </app:Route>
  </wfs:member>
  <wfs:member>
    <app:Area>
      <app:geom><gml:Polygon><gml:exterior><gml:LinearRing><gml:coordinates>0,0 1,0 1,1 0,0</gml:coordinates></gml:LinearRing></gml:exterior></gml:Polygon></app:geom>
    </app:Area>
  </wfs:member>
</wfs:FeatureCollection>`
	features, err := DecodeGML([]byte(src), testOpts())
	require.NoError(t, err)
	require.Len(t, features, 3)

	assert.Equal(t, "st.1", features[0].ID)
	assert.Equal(t, "Central", features[0].Properties["name"])
	assert.Equal(t, 4.0, features[0].Properties["platforms"])
	assert.Equal(t, layer.Position{139.76, 35.68}, features[0].Geometry.Point)

	assert.Equal(t, []layer.Position{{139, 35}, {140, 36}}, features[1].Geometry.LineString)

	assert.Equal(t, "gen-1", features[2].ID)
	assert.Equal(t, [][]layer.Position{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}, features[2].Geometry.Polygon)
}

func TestDecodeGeoRSS(t *testing.T) {
	src := `<rss version="2.0" xmlns:georss="http://www.georss.org/georss" xmlns:geo="http://www.w3.org/2003/01/geo/wgs84_pos#" xmlns:gml="http://www.opengis.net/gml">
<channel>
  <item><guid>q1</guid><title>Quake</title><georss:point>45.256 -71.92</georss:point></item>
  <item><title>Road</title><georss:line>45 -71 46 -72</georss:line></item>
  <item><title>W3C</title><geo:lat>10</geo:lat><geo:long>20</geo:long></item>
  <item><title>Where</title><georss:where><gml:Point><gml:pos>1 2</gml:pos></gml:Point></georss:where></item>
  <item><title>Nowhere</title></item>
</channel>
</rss>`
	features, err := DecodeGeoRSS([]byte(src), testOpts())
	require.NoError(t, err)
	require.Len(t, features, 5)

	assert.Equal(t, "q1", features[0].ID)
	assert.Equal(t, "Quake", features[0].Properties["title"])
	assert.Equal(t, layer.Position{-71.92, 45.256}, features[0].Geometry.Point)
	assert.Equal(t, []layer.Position{{-71, 45}, {-72, 46}}, features[1].Geometry.LineString)
	assert.Equal(t, layer.Position{20, 10}, features[2].Geometry.Point)
	assert.Equal(t, layer.Position{2, 1}, features[3].Geometry.Point)
	assert.Nil(t, features[4].Geometry)
}

func TestFilterRangeKeepsOrder(t *testing.T) {
	features := []layer.Feature{
		{ID: "a", Geometry: layer.NewPoint(10, 10)},
		{ID: "b", Geometry: layer.NewPoint(-100, -40)},
		{ID: "c", Geometry: &layer.Geometry{Type: layer.GeometryLineString, LineString: []layer.Position{{-10, 5}, {20, 20}}}},
		{ID: "d"},
		{ID: "e", Geometry: layer.NewPoint(20, 20)},
	}
	// z1/x1/y0 is the north-east quadrant.
	got := filterRange(features, &layer.Range{X: 1, Y: 0, Z: 1})
	ids := make([]string, len(got))
	for i, f := range got {
		ids[i] = f.ID
		assert.Equal(t, &layer.Range{X: 1, Y: 0, Z: 1}, f.Range)
	}
	assert.Equal(t, []string{"a", "c", "e"}, ids)

	assert.Len(t, filterRange(features, nil), 5)
}
