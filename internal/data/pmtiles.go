package data

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/joeblew999/plat-mantle/internal/layer"
	"github.com/joeblew999/plat-mantle/internal/pmtiles"
)

// PMTilesFetcher reads vector tiles out of a PMTiles archive. Archives
// loaded from a url are kept in memory and reused across ranges.
type PMTilesFetcher struct {
	mu       sync.Mutex
	archives map[string]*pmtiles.Reader
}

// NewPMTilesFetcher creates a fetcher with an empty archive cache.
func NewPMTilesFetcher() *PMTilesFetcher {
	return &PMTilesFetcher{archives: make(map[string]*pmtiles.Reader)}
}

// Fetch implements Fetcher. A missing range or a tile absent from the
// archive yields no features.
func (p *PMTilesFetcher) Fetch(ctx context.Context, d *layer.Data, r *layer.Range, opts Options) ([]layer.Feature, error) {
	if r == nil || r.Z < 0 || r.Z > 255 {
		return nil, nil
	}
	archive, err := p.archive(ctx, d, opts)
	if err != nil {
		return nil, err
	}
	if t := archive.Header().TileType; t != pmtiles.Mvt && t != pmtiles.UnknownTileType {
		return nil, fmt.Errorf("pmtiles: tile type %d is not a vector tile", t)
	}

	tile, err := archive.Tile(uint8(r.Z), uint32(r.X), uint32(r.Y))
	if errors.Is(err, pmtiles.ErrTileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return DecodeMVT(tile, *r, d.Layers, opts)
}

// Forget drops a cached archive so the next fetch reloads it.
func (p *PMTilesFetcher) Forget(url string) {
	p.mu.Lock()
	delete(p.archives, url)
	p.mu.Unlock()
}

func (p *PMTilesFetcher) archive(ctx context.Context, d *layer.Data, opts Options) (*pmtiles.Reader, error) {
	if d.Value != nil {
		b, err := readSource(ctx, d, opts)
		if err != nil {
			return nil, err
		}
		return pmtiles.Open(b)
	}

	p.mu.Lock()
	archive, ok := p.archives[d.URL]
	p.mu.Unlock()
	if ok {
		return archive, nil
	}

	b, err := readURL(ctx, d.URL, opts)
	if err != nil {
		return nil, err
	}
	if archive, err = pmtiles.Open(b); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.archives[d.URL] = archive
	p.mu.Unlock()
	return archive, nil
}
