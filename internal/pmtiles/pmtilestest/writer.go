// Package pmtilestest builds PMTiles archives for tests.
package pmtilestest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/paulmach/orb/maptile"

	"github.com/joeblew999/plat-mantle/internal/pmtiles"
)

// ErrNoTiles is returned when building an archive from nothing.
var ErrNoTiles = errors.New("pmtilestest: no tiles to write")

// Writer assembles a clustered archive: header, root directory, metadata,
// leaf directories, then tile data.
type Writer struct {
	TileType pmtiles.TileType
	// LeafSize splits the directory into leaves of this many entries when
	// there are more tiles than that. Zero keeps a single root directory.
	LeafSize int
	Metadata map[string]any
}

// Build gzips every tile and returns the archive bytes.
func (w Writer) Build(tiles map[maptile.Tile][]byte) ([]byte, error) {
	if len(tiles) == 0 {
		return nil, ErrNoTiles
	}

	type tileEntry struct {
		id   uint64
		data []byte
	}
	list := make([]tileEntry, 0, len(tiles))
	minZ, maxZ := uint8(255), uint8(0)
	for t, data := range tiles {
		z := uint8(t.Z)
		minZ, maxZ = min(minZ, z), max(maxZ, z)
		gz, err := pmtiles.Compress(data, pmtiles.Gzip)
		if err != nil {
			return nil, err
		}
		list = append(list, tileEntry{id: pmtiles.ZxyToID(z, t.X, t.Y), data: gz})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })

	var entries []pmtiles.EntryV3
	var tileData bytes.Buffer
	for _, te := range list {
		entries = append(entries, pmtiles.EntryV3{
			TileID:    te.id,
			Offset:    uint64(tileData.Len()),
			Length:    uint32(len(te.data)),
			RunLength: 1,
		})
		tileData.Write(te.data)
	}

	root, leaves, err := w.directories(entries)
	if err != nil {
		return nil, err
	}

	meta := w.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("pmtilestest: metadata: %w", err)
	}
	metaBytes, err := pmtiles.Compress(rawMeta, pmtiles.Gzip)
	if err != nil {
		return nil, err
	}

	h := pmtiles.HeaderV3{
		SpecVersion:         3,
		RootOffset:          pmtiles.HeaderV3LenBytes,
		RootLength:          uint64(len(root)),
		AddressedTilesCount: uint64(len(entries)),
		TileEntriesCount:    uint64(len(entries)),
		TileContentsCount:   uint64(len(entries)),
		Clustered:           true,
		InternalCompression: pmtiles.Gzip,
		TileCompression:     pmtiles.Gzip,
		TileType:            w.TileType,
		MinZoom:             minZ,
		MaxZoom:             maxZ,
	}
	h.MetadataOffset = h.RootOffset + h.RootLength
	h.MetadataLength = uint64(len(metaBytes))
	h.LeafDirectoryOffset = h.MetadataOffset + h.MetadataLength
	h.LeafDirectoryLength = uint64(len(leaves))
	h.TileDataOffset = h.LeafDirectoryOffset + h.LeafDirectoryLength
	h.TileDataLength = uint64(tileData.Len())

	var out bytes.Buffer
	out.Write(pmtiles.SerializeHeader(h))
	out.Write(root)
	out.Write(metaBytes)
	out.Write(leaves)
	out.Write(tileData.Bytes())
	return out.Bytes(), nil
}

// directories returns the serialized root directory and the concatenated
// leaf directories it points into.
func (w Writer) directories(entries []pmtiles.EntryV3) (root, leaves []byte, err error) {
	if w.LeafSize <= 0 || len(entries) <= w.LeafSize {
		root, err = pmtiles.SerializeEntries(entries, pmtiles.Gzip)
		return root, nil, err
	}

	var rootEntries []pmtiles.EntryV3
	var buf bytes.Buffer
	for i := 0; i < len(entries); i += w.LeafSize {
		chunk := entries[i:min(i+w.LeafSize, len(entries))]
		leaf, err := pmtiles.SerializeEntries(chunk, pmtiles.Gzip)
		if err != nil {
			return nil, nil, err
		}
		rootEntries = append(rootEntries, pmtiles.EntryV3{
			TileID: chunk[0].TileID,
			Offset: uint64(buf.Len()),
			Length: uint32(len(leaf)),
		})
		buf.Write(leaf)
	}
	root, err = pmtiles.SerializeEntries(rootEntries, pmtiles.Gzip)
	return root, buf.Bytes(), err
}
