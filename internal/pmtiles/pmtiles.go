// Package pmtiles reads and writes PMTiles v3 archives held in memory.
//
// Only the pieces the pmtiles data fetcher needs are implemented: header and
// directory codecs, Hilbert tile ids, leaf directory traversal and gzip
// decompression.
//
// Format: https://github.com/protomaps/PMTiles/blob/main/spec/v3/spec.md
package pmtiles

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Compression is the compression applied to directories, metadata or tiles.
type Compression uint8

const (
	UnknownCompression Compression = 0
	NoCompression      Compression = 1
	Gzip               Compression = 2
	Brotli             Compression = 3
	Zstd               Compression = 4
)

// TileType is the format of the tile contents.
type TileType uint8

const (
	UnknownTileType TileType = 0
	Mvt             TileType = 1
	Png             TileType = 2
	Jpeg            TileType = 3
	Webp            TileType = 4
	Avif            TileType = 5
)

// HeaderV3LenBytes is the size of the fixed header.
const HeaderV3LenBytes = 127

var (
	ErrBadMagic               = errors.New("pmtiles: magic number not detected")
	ErrShortHeader            = errors.New("pmtiles: buffer too small for header")
	ErrUnsupportedCompression = errors.New("pmtiles: unsupported compression")
)

// HeaderV3 is the fixed-size archive header.
type HeaderV3 struct {
	SpecVersion         uint8
	RootOffset          uint64
	RootLength          uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafDirectoryOffset uint64
	LeafDirectoryLength uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	AddressedTilesCount uint64
	TileEntriesCount    uint64
	TileContentsCount   uint64
	Clustered           bool
	InternalCompression Compression
	TileCompression     Compression
	TileType            TileType
	MinZoom             uint8
	MaxZoom             uint8
	MinLonE7            int32
	MinLatE7            int32
	MaxLonE7            int32
	MaxLatE7            int32
	CenterZoom          uint8
	CenterLonE7         int32
	CenterLatE7         int32
}

// EntryV3 is a directory entry. RunLength 0 marks a leaf directory pointer.
type EntryV3 struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// ZxyToID maps tile coordinates to their position on the Hilbert curve,
// offset by the number of tiles in all lower zoom levels.
func ZxyToID(z uint8, x uint32, y uint32) uint64 {
	acc := (uint64(1)<<(uint(z)*2) - 1) / 3
	if z == 0 {
		return 0
	}
	n := uint32(z - 1)
	for s := uint32(1) << n; s > 0; s >>= 1 {
		rx := s & x
		ry := s & y
		acc += uint64((3*rx)^ry) << n
		x, y = rotate(s, x, y, rx, ry)
		n--
	}
	return acc
}

func rotate(n, x, y, rx, ry uint32) (uint32, uint32) {
	if ry == 0 {
		if rx != 0 {
			x = n - 1 - x
			y = n - 1 - y
		}
		return y, x
	}
	return x, y
}

// SerializeHeader encodes h.
func SerializeHeader(h HeaderV3) []byte {
	b := make([]byte, HeaderV3LenBytes)
	copy(b[0:7], "PMTiles")
	b[7] = 3
	le := binary.LittleEndian
	le.PutUint64(b[8:], h.RootOffset)
	le.PutUint64(b[16:], h.RootLength)
	le.PutUint64(b[24:], h.MetadataOffset)
	le.PutUint64(b[32:], h.MetadataLength)
	le.PutUint64(b[40:], h.LeafDirectoryOffset)
	le.PutUint64(b[48:], h.LeafDirectoryLength)
	le.PutUint64(b[56:], h.TileDataOffset)
	le.PutUint64(b[64:], h.TileDataLength)
	le.PutUint64(b[72:], h.AddressedTilesCount)
	le.PutUint64(b[80:], h.TileEntriesCount)
	le.PutUint64(b[88:], h.TileContentsCount)
	if h.Clustered {
		b[96] = 1
	}
	b[97] = uint8(h.InternalCompression)
	b[98] = uint8(h.TileCompression)
	b[99] = uint8(h.TileType)
	b[100] = h.MinZoom
	b[101] = h.MaxZoom
	le.PutUint32(b[102:], uint32(h.MinLonE7))
	le.PutUint32(b[106:], uint32(h.MinLatE7))
	le.PutUint32(b[110:], uint32(h.MaxLonE7))
	le.PutUint32(b[114:], uint32(h.MaxLatE7))
	b[118] = h.CenterZoom
	le.PutUint32(b[119:], uint32(h.CenterLonE7))
	le.PutUint32(b[123:], uint32(h.CenterLatE7))
	return b
}

// DeserializeHeader decodes the first HeaderV3LenBytes of d.
func DeserializeHeader(d []byte) (HeaderV3, error) {
	var h HeaderV3
	if len(d) < HeaderV3LenBytes {
		return h, ErrShortHeader
	}
	if string(d[0:7]) != "PMTiles" {
		return h, ErrBadMagic
	}
	le := binary.LittleEndian
	h.SpecVersion = d[7]
	h.RootOffset = le.Uint64(d[8:])
	h.RootLength = le.Uint64(d[16:])
	h.MetadataOffset = le.Uint64(d[24:])
	h.MetadataLength = le.Uint64(d[32:])
	h.LeafDirectoryOffset = le.Uint64(d[40:])
	h.LeafDirectoryLength = le.Uint64(d[48:])
	h.TileDataOffset = le.Uint64(d[56:])
	h.TileDataLength = le.Uint64(d[64:])
	h.AddressedTilesCount = le.Uint64(d[72:])
	h.TileEntriesCount = le.Uint64(d[80:])
	h.TileContentsCount = le.Uint64(d[88:])
	h.Clustered = d[96] == 1
	h.InternalCompression = Compression(d[97])
	h.TileCompression = Compression(d[98])
	h.TileType = TileType(d[99])
	h.MinZoom = d[100]
	h.MaxZoom = d[101]
	h.MinLonE7 = int32(le.Uint32(d[102:]))
	h.MinLatE7 = int32(le.Uint32(d[106:]))
	h.MaxLonE7 = int32(le.Uint32(d[110:]))
	h.MaxLatE7 = int32(le.Uint32(d[114:]))
	h.CenterZoom = d[118]
	h.CenterLonE7 = int32(le.Uint32(d[119:]))
	h.CenterLatE7 = int32(le.Uint32(d[123:]))
	return h, nil
}

// SerializeEntries encodes a directory: count, delta tile ids, run
// lengths, lengths, then offsets (0 meaning "directly after the previous").
func SerializeEntries(entries []EntryV3, compression Compression) ([]byte, error) {
	var raw bytes.Buffer
	tmp := make([]byte, binary.MaxVarintLen64)
	put := func(v uint64) {
		n := binary.PutUvarint(tmp, v)
		raw.Write(tmp[:n])
	}

	put(uint64(len(entries)))
	var lastID uint64
	for _, e := range entries {
		put(e.TileID - lastID)
		lastID = e.TileID
	}
	for _, e := range entries {
		put(uint64(e.RunLength))
	}
	for _, e := range entries {
		put(uint64(e.Length))
	}
	for i, e := range entries {
		if i > 0 && e.Offset == entries[i-1].Offset+uint64(entries[i-1].Length) {
			put(0)
		} else {
			put(e.Offset + 1)
		}
	}
	return Compress(raw.Bytes(), compression)
}

// DeserializeEntries decodes a directory produced by SerializeEntries.
func DeserializeEntries(b []byte, compression Compression) ([]EntryV3, error) {
	raw, err := Decompress(b, compression)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(raw)
	read := func() (uint64, error) {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return 0, fmt.Errorf("pmtiles: directory: %w", err)
		}
		return v, nil
	}

	count, err := read()
	if err != nil {
		return nil, err
	}
	if count > uint64(len(raw)) {
		return nil, fmt.Errorf("pmtiles: directory claims %d entries in %d bytes", count, len(raw))
	}
	entries := make([]EntryV3, count)
	var lastID uint64
	for i := range entries {
		delta, err := read()
		if err != nil {
			return nil, err
		}
		lastID += delta
		entries[i].TileID = lastID
	}
	for i := range entries {
		v, err := read()
		if err != nil {
			return nil, err
		}
		entries[i].RunLength = uint32(v)
	}
	for i := range entries {
		v, err := read()
		if err != nil {
			return nil, err
		}
		entries[i].Length = uint32(v)
	}
	for i := range entries {
		v, err := read()
		if err != nil {
			return nil, err
		}
		if i > 0 && v == 0 {
			entries[i].Offset = entries[i-1].Offset + uint64(entries[i-1].Length)
		} else {
			entries[i].Offset = v - 1
		}
	}
	return entries, nil
}

// FindTile binary searches a sorted directory. A hit is either an entry
// whose run covers tileID or the leaf directory that may contain it.
func FindTile(entries []EntryV3, tileID uint64) (EntryV3, bool) {
	lo, hi := 0, len(entries)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch {
		case tileID > entries[mid].TileID:
			lo = mid + 1
		case tileID < entries[mid].TileID:
			hi = mid - 1
		default:
			return entries[mid], true
		}
	}
	if hi >= 0 {
		e := entries[hi]
		if e.RunLength == 0 || tileID-e.TileID < uint64(e.RunLength) {
			return e, true
		}
	}
	return EntryV3{}, false
}

// Compress applies c to b.
func Compress(b []byte, c Compression) ([]byte, error) {
	switch c {
	case NoCompression, UnknownCompression:
		return b, nil
	case Gzip:
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(b); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupportedCompression, c)
}

// Decompress reverses Compress.
func Decompress(b []byte, c Compression) ([]byte, error) {
	switch c {
	case NoCompression, UnknownCompression:
		return b, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("pmtiles: gzip: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupportedCompression, c)
}
