package data

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/maptile"

	"github.com/joeblew999/plat-mantle/internal/layer"
)

// FetchMVT loads the vector tile addressed by the range from a {z}/{x}/{y}
// url template. Without a range there is no tile to load and no features
// are returned.
func FetchMVT(ctx context.Context, d *layer.Data, r *layer.Range, opts Options) ([]layer.Feature, error) {
	if r == nil {
		return nil, nil
	}
	var (
		b   []byte
		err error
	)
	if d.Value != nil {
		b, err = readSource(ctx, d, opts)
	} else {
		b, err = readURL(ctx, tileURL(d.URL, *r), opts)
	}
	if err != nil {
		return nil, err
	}
	return DecodeMVT(b, *r, d.Layers, opts)
}

// DecodeMVT decodes a (possibly gzipped) tile and projects it to WGS84.
// When layers is non-empty only those source layers are kept.
func DecodeMVT(b []byte, r layer.Range, layers []string, opts Options) ([]layer.Feature, error) {
	var (
		decoded mvt.Layers
		err     error
	)
	if len(b) > 1 && b[0] == 0x1f && b[1] == 0x8b {
		decoded, err = mvt.UnmarshalGzipped(b)
	} else {
		decoded, err = mvt.Unmarshal(b)
	}
	if err != nil {
		return nil, fmt.Errorf("mvt: %w", err)
	}
	decoded.ProjectToWGS84(maptile.New(uint32(r.X), uint32(r.Y), maptile.Zoom(r.Z)))

	var out []layer.Feature
	for _, l := range decoded {
		if len(layers) > 0 && !slices.Contains(layers, l.Name) {
			continue
		}
		for _, gf := range l.Features {
			props := make(map[string]any, len(gf.Properties))
			for k, v := range gf.Properties {
				props[k] = v
			}
			rng := r
			out = append(out, layer.Feature{
				ID:         mvtID(gf.ID, opts),
				Geometry:   layer.FromOrb(gf.Geometry),
				Properties: props,
				Range:      &rng,
			})
		}
	}
	return out, nil
}

func mvtID(v any, opts Options) string {
	switch id := v.(type) {
	case nil:
		return opts.id()
	case string:
		if id != "" {
			return id
		}
		return opts.id()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func tileURL(template string, r layer.Range) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(r.Z),
		"{x}", strconv.Itoa(r.X),
		"{y}", strconv.Itoa(r.Y),
	).Replace(template)
}
