package data

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-mantle/internal/layer"
)

// memProvider serves fixed bodies keyed by url.
type memProvider map[string][]byte

func (m memProvider) Open(_ context.Context, rawURL string) (io.ReadCloser, error) {
	b, ok := m[rawURL]
	if !ok {
		return nil, fmt.Errorf("not found: %s", rawURL)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("gen-%d", n)
	}
}

func testOpts() Options {
	return Options{NewID: seqIDs()}
}

func TestRouterUnregisteredType(t *testing.T) {
	r := NewDefaultRouter(WithProvider(memProvider{}))
	for _, d := range []*layer.Data{
		{Type: TypeKML, URL: "https://x/a.kml"},
		{URL: "https://x/tileset.json"},
		{Type: "nonsense"},
		nil,
	} {
		features, err := r.Fetch(context.Background(), d, nil)
		assert.NoError(t, err)
		assert.Empty(t, features)
	}
}

func TestRouterFetchByGuessedType(t *testing.T) {
	p := memProvider{
		"https://x/points.geojson": []byte(`{"type":"FeatureCollection","features":[
			{"type":"Feature","id":"a","geometry":{"type":"Point","coordinates":[1,2]},"properties":{"n":1}}
		]}`),
	}
	r := NewDefaultRouter(WithProvider(p), WithIDGenerator(seqIDs()))

	features, err := r.Fetch(context.Background(), &layer.Data{Type: TypeAuto, URL: "https://x/points.geojson"}, nil)
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, "a", features[0].ID)
	assert.Equal(t, 1.0, features[0].Properties["n"])
}

func TestRouterWrapsErrors(t *testing.T) {
	r := NewDefaultRouter(WithProvider(memProvider{}))
	_, err := r.Fetch(context.Background(), &layer.Data{Type: TypeGeoJSON, URL: "https://x/missing.geojson"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch geojson https://x/missing.geojson")

	_, err = r.Fetch(context.Background(), &layer.Data{Type: TypeGeoJSON}, nil)
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestRouterRegister(t *testing.T) {
	r := NewRouter()
	want := []layer.Feature{{ID: "x"}}
	r.Register("custom", FetcherFunc(func(context.Context, *layer.Data, *layer.Range, Options) ([]layer.Feature, error) {
		return want, nil
	}))
	assert.Equal(t, []string{"custom"}, r.Types())

	got, err := r.Fetch(context.Background(), &layer.Data{Type: "custom"}, nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestHTTPProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ok.csv" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "lat,lng\n1,2\n")
	}))
	defer srv.Close()

	p := NewHTTPProvider(0)
	rc, err := p.Open(context.Background(), srv.URL+"/ok.csv")
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "lat,lng\n1,2\n", string(b))

	_, err = p.Open(context.Background(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "404")
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("x"), 0o644))

	p := NewMuxProvider(nil, FileProvider{Root: dir})
	for _, u := range []string{"a.csv", "../../a.csv", "file://" + filepath.Join(dir, "a.csv")} {
		rc, err := p.Open(context.Background(), u)
		require.NoError(t, err, u)
		rc.Close()
	}

	_, err := p.Open(context.Background(), "https://remote/a.csv")
	assert.Error(t, err)
	_, err = p.Open(context.Background(), "nope.csv")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
