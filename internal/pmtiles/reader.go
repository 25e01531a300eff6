package pmtiles

import (
	"encoding/json"
	"errors"
	"fmt"
)

// maxDirectoryDepth bounds root plus leaf directory hops.
const maxDirectoryDepth = 4

var (
	ErrTileNotFound = errors.New("pmtiles: tile not found")
	ErrOutOfBounds  = errors.New("pmtiles: section outside archive")
)

// Reader serves tiles from an archive held in memory.
type Reader struct {
	buf    []byte
	header HeaderV3
	root   []EntryV3
}

// Open validates the header and decodes the root directory.
func Open(b []byte) (*Reader, error) {
	h, err := DeserializeHeader(b)
	if err != nil {
		return nil, err
	}
	if h.SpecVersion != 3 {
		return nil, fmt.Errorf("pmtiles: unsupported version %d", h.SpecVersion)
	}
	r := &Reader{buf: b, header: h}
	rootBytes, err := r.section(h.RootOffset, h.RootLength)
	if err != nil {
		return nil, err
	}
	if r.root, err = DeserializeEntries(rootBytes, h.InternalCompression); err != nil {
		return nil, err
	}
	return r, nil
}

// Header returns the archive header.
func (r *Reader) Header() HeaderV3 { return r.header }

// Metadata decodes the JSON metadata section.
func (r *Reader) Metadata() (map[string]any, error) {
	raw, err := r.section(r.header.MetadataOffset, r.header.MetadataLength)
	if err != nil {
		return nil, err
	}
	b, err := Decompress(raw, r.header.InternalCompression)
	if err != nil {
		return nil, err
	}
	meta := map[string]any{}
	if len(b) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("pmtiles: metadata: %w", err)
	}
	return meta, nil
}

// Tile returns the decompressed contents of z/x/y, or ErrTileNotFound.
func (r *Reader) Tile(z uint8, x, y uint32) ([]byte, error) {
	if z < r.header.MinZoom || z > r.header.MaxZoom {
		return nil, ErrTileNotFound
	}
	id := ZxyToID(z, x, y)
	dir := r.root
	for depth := 0; depth < maxDirectoryDepth; depth++ {
		e, ok := FindTile(dir, id)
		if !ok {
			return nil, ErrTileNotFound
		}
		if e.RunLength > 0 {
			raw, err := r.section(r.header.TileDataOffset+e.Offset, uint64(e.Length))
			if err != nil {
				return nil, err
			}
			return Decompress(raw, r.header.TileCompression)
		}
		leaf, err := r.section(r.header.LeafDirectoryOffset+e.Offset, uint64(e.Length))
		if err != nil {
			return nil, err
		}
		if dir, err = DeserializeEntries(leaf, r.header.InternalCompression); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("pmtiles: directory nesting deeper than %d", maxDirectoryDepth)
}

func (r *Reader) section(offset, length uint64) ([]byte, error) {
	end := offset + length
	if end < offset || end > uint64(len(r.buf)) {
		return nil, fmt.Errorf("%w: [%d,%d) of %d", ErrOutOfBounds, offset, end, len(r.buf))
	}
	return r.buf[offset:end], nil
}
