package pmtiles_test

import (
	"fmt"
	"testing"

	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-mantle/internal/pmtiles"
	"github.com/joeblew999/plat-mantle/internal/pmtiles/pmtilestest"
)

func TestReaderTile(t *testing.T) {
	tiles := map[maptile.Tile][]byte{
		maptile.New(0, 0, 0): []byte("z0"),
		maptile.New(1, 0, 1): []byte("z1-a"),
		maptile.New(3, 2, 5): []byte("z3"),
	}
	archive, err := pmtilestest.Writer{TileType: pmtiles.Mvt, Metadata: map[string]any{"name": "test"}}.Build(tiles)
	require.NoError(t, err)

	r, err := pmtiles.Open(archive)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), r.Header().MinZoom)
	assert.Equal(t, uint8(3), r.Header().MaxZoom)
	assert.Equal(t, pmtiles.Mvt, r.Header().TileType)

	for tile, want := range tiles {
		got, err := r.Tile(uint8(tile.Z), tile.X, tile.Y)
		require.NoError(t, err, tile)
		assert.Equal(t, want, got)
	}

	_, err = r.Tile(1, 1, 1)
	assert.ErrorIs(t, err, pmtiles.ErrTileNotFound)
	_, err = r.Tile(9, 0, 0)
	assert.ErrorIs(t, err, pmtiles.ErrTileNotFound)

	meta, err := r.Metadata()
	require.NoError(t, err)
	assert.Equal(t, "test", meta["name"])
}

func TestReaderLeafDirectories(t *testing.T) {
	tiles := map[maptile.Tile][]byte{}
	for x := uint32(0); x < 4; x++ {
		for y := uint32(0); y < 4; y++ {
			tiles[maptile.New(x, y, 2)] = []byte(fmt.Sprintf("%d/%d", x, y))
		}
	}
	archive, err := pmtilestest.Writer{TileType: pmtiles.Mvt, LeafSize: 5}.Build(tiles)
	require.NoError(t, err)

	r, err := pmtiles.Open(archive)
	require.NoError(t, err)
	assert.NotZero(t, r.Header().LeafDirectoryLength)

	for tile, want := range tiles {
		got, err := r.Tile(2, tile.X, tile.Y)
		require.NoError(t, err, tile)
		assert.Equal(t, want, got)
	}
}

func TestOpenRejectsTruncated(t *testing.T) {
	archive, err := pmtilestest.Writer{}.Build(map[maptile.Tile][]byte{maptile.New(0, 0, 0): []byte("x")})
	require.NoError(t, err)
	_, err = pmtiles.Open(archive[:pmtiles.HeaderV3LenBytes+2])
	assert.ErrorIs(t, err, pmtiles.ErrOutOfBounds)

	_, err = pmtilestest.Writer{}.Build(nil)
	assert.ErrorIs(t, err, pmtilestest.ErrNoTiles)
}
