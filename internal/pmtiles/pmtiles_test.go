package pmtiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZxyToID(t *testing.T) {
	assert.Equal(t, uint64(0), ZxyToID(0, 0, 0))
	assert.Equal(t, uint64(1), ZxyToID(1, 0, 0))
	assert.Equal(t, uint64(2), ZxyToID(1, 0, 1))
	assert.Equal(t, uint64(3), ZxyToID(1, 1, 1))
	assert.Equal(t, uint64(4), ZxyToID(1, 1, 0))
	assert.Equal(t, uint64(5), ZxyToID(2, 0, 0))
}

func TestHeaderRoundTrip(t *testing.T) {
	h := HeaderV3{
		SpecVersion:         3,
		RootOffset:          127,
		RootLength:          40,
		TileDataOffset:      500,
		Clustered:           true,
		InternalCompression: Gzip,
		TileCompression:     Gzip,
		TileType:            Mvt,
		MinZoom:             2,
		MaxZoom:             14,
		MinLonE7:            -1800000000,
		CenterLatE7:         515000000,
	}
	got, err := DeserializeHeader(SerializeHeader(h))
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = DeserializeHeader([]byte("short"))
	assert.ErrorIs(t, err, ErrShortHeader)

	bad := SerializeHeader(h)
	bad[0] = 'X'
	_, err = DeserializeHeader(bad)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestEntriesRoundTrip(t *testing.T) {
	entries := []EntryV3{
		{TileID: 1, Offset: 0, Length: 10, RunLength: 1},
		{TileID: 2, Offset: 10, Length: 5, RunLength: 3},
		{TileID: 9, Offset: 100, Length: 7, RunLength: 1},
	}
	for _, c := range []Compression{NoCompression, Gzip} {
		b, err := SerializeEntries(entries, c)
		require.NoError(t, err)
		got, err := DeserializeEntries(b, c)
		require.NoError(t, err)
		assert.Equal(t, entries, got)
	}

	_, err := SerializeEntries(entries, Brotli)
	assert.ErrorIs(t, err, ErrUnsupportedCompression)
}

func TestFindTile(t *testing.T) {
	entries := []EntryV3{
		{TileID: 1, RunLength: 1},
		{TileID: 5, RunLength: 3},
		{TileID: 20, RunLength: 0},
	}
	e, ok := FindTile(entries, 6)
	require.True(t, ok)
	assert.Equal(t, uint64(5), e.TileID)

	_, ok = FindTile(entries, 8)
	assert.False(t, ok)
	_, ok = FindTile(entries, 0)
	assert.False(t, ok)

	// Leaf pointers cover everything after them.
	e, ok = FindTile(entries, 1000)
	require.True(t, ok)
	assert.Equal(t, uint64(20), e.TileID)
}
