package data

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/joeblew999/plat-mantle/internal/layer"
)

const defaultGeometryColumn = "geometry"

// GeoParquetFetcher reads GeoParquet files through DuckDB's read_parquet.
// The geometry column holds WKB (or WKT text); every other column becomes a
// property.
//
// Parameters: geometryColumn (default "geometry"), idColumn.
type GeoParquetFetcher struct {
	DB func() (*sql.DB, error)
}

// Fetch implements Fetcher. The bytes are read through the provider and
// spooled to a temp file so DuckDB never reaches the network itself.
func (g *GeoParquetFetcher) Fetch(ctx context.Context, d *layer.Data, r *layer.Range, opts Options) ([]layer.Feature, error) {
	if g.DB == nil {
		return nil, fmt.Errorf("geoparquet: no database configured")
	}
	conn, err := g.DB()
	if err != nil {
		return nil, fmt.Errorf("geoparquet: %w", err)
	}

	b, err := readSource(ctx, d, opts)
	if err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp("", "mantle-*.parquet")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	features, err := QueryGeoParquet(ctx, conn, tmp.Name(), parameter(d, "geometryColumn", defaultGeometryColumn), parameter(d, "idColumn", ""), opts)
	if err != nil {
		return nil, err
	}
	return filterRange(features, r), nil
}

// QueryGeoParquet reads every row of the parquet file at path.
func QueryGeoParquet(ctx context.Context, conn *sql.DB, path, geomCol, idCol string, opts Options) ([]layer.Feature, error) {
	query := fmt.Sprintf("SELECT * FROM read_parquet('%s')", strings.ReplaceAll(path, "'", "''"))
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("geoparquet: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	var out []layer.Feature
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("geoparquet: scan: %w", err)
		}
		f := layer.Feature{Properties: make(map[string]any, len(cols))}
		for i, col := range cols {
			switch col {
			case geomCol:
				geom, err := parquetGeometry(values[i])
				if err != nil {
					opts.logger().Debug("skipping unreadable geometry", "column", col, "err", err)
					continue
				}
				f.Geometry = geom
			default:
				f.Properties[col] = sqlValue(values[i])
				if col == idCol && values[i] != nil {
					f.ID = fmt.Sprint(sqlValue(values[i]))
				}
			}
		}
		if f.ID == "" {
			f.ID = opts.id()
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("geoparquet: %w", err)
	}
	return out, nil
}

func parquetGeometry(v any) (*layer.Geometry, error) {
	switch g := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		o, err := wkb.Unmarshal(g)
		if err != nil {
			return nil, err
		}
		return layer.FromOrb(o), nil
	case string:
		o, err := wkt.Unmarshal(g)
		if err != nil {
			return nil, err
		}
		return layer.FromOrb(o), nil
	}
	return nil, fmt.Errorf("unsupported geometry value %T", v)
}

// sqlValue maps driver values onto the JSON-like property model.
func sqlValue(v any) any {
	switch x := v.(type) {
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case *big.Int:
		f, _ := new(big.Float).SetInt(x).Float64()
		return f
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = sqlValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = sqlValue(e)
		}
		return out
	case nil, bool, float64, string:
		return x
	}
	return fmt.Sprint(v)
}

func parameter(d *layer.Data, key, def string) string {
	if s, ok := d.Parameters[key].(string); ok && s != "" {
		return s
	}
	return def
}
