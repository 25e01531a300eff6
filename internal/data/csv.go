package data

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/paulmach/orb/encoding/wkt"

	"github.com/joeblew999/plat-mantle/internal/layer"
)

var (
	latHeaders = []string{"lat", "latitude", "y"}
	lngHeaders = []string{"lng", "lon", "long", "longitude", "x"}
)

// FetchCSV reads delimited text with one feature per row. Coordinates come
// from the lat/lng(/height) columns or from a WKT column; when neither is
// configured, common header names such as "lat" and "lng" are tried.
func FetchCSV(ctx context.Context, d *layer.Data, r *layer.Range, opts Options) ([]layer.Feature, error) {
	b, err := readSource(ctx, d, opts)
	if err != nil {
		return nil, err
	}
	cfg := layer.CSVOptions{}
	if d.CSV != nil {
		cfg = *d.CSV
	}
	features, err := DecodeCSV(b, cfg, opts)
	if err != nil {
		return nil, err
	}
	return filterRange(features, r), nil
}

// DecodeCSV converts CSV text to features.
func DecodeCSV(b []byte, cfg layer.CSVOptions, opts Options) ([]layer.Feature, error) {
	rd := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))))
	rd.FieldsPerRecord = -1
	rd.LazyQuotes = true
	rd.TrimLeadingSpace = true

	var header []string
	if !cfg.NoHeader {
		row, err := rd.Read()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("csv header: %w", err)
		}
		header = row
	}

	idCol := column(cfg.IDColumn, header)
	latCol := column(cfg.LatColumn, header)
	lngCol := column(cfg.LngColumn, header)
	heightCol := column(cfg.HeightColumn, header)
	wktCol := column(cfg.WKTColumn, header)
	if latCol < 0 && lngCol < 0 && wktCol < 0 {
		latCol = detectColumn(header, latHeaders)
		lngCol = detectColumn(header, lngHeaders)
	}

	var out []layer.Feature
	for line := 1; ; line++ {
		row, err := rd.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}

		props := make(map[string]any, len(row))
		for i, cell := range row {
			key := strconv.Itoa(i)
			if i < len(header) && header[i] != "" {
				key = header[i]
			}
			if cfg.DisableTypeConversion {
				props[key] = cell
			} else {
				props[key] = convertCell(cell)
			}
		}

		f := layer.Feature{Properties: props}
		if idCol >= 0 && idCol < len(row) && row[idCol] != "" {
			f.ID = row[idCol]
		} else {
			f.ID = opts.id()
		}

		switch {
		case wktCol >= 0 && wktCol < len(row):
			g, err := wkt.Unmarshal(row[wktCol])
			if err != nil {
				opts.logger().Warn("csv: bad wkt", "line", line, "err", err)
			} else {
				f.Geometry = layer.FromOrb(g)
			}
		case latCol >= 0 && lngCol >= 0:
			f.Geometry = pointFromCells(row, latCol, lngCol, heightCol)
		}
		out = append(out, f)
	}
	return out, nil
}

// column resolves a header name or a zero-based index. -1 means unset or
// not found.
func column(c layer.Column, header []string) int {
	if c == "" {
		return -1
	}
	for i, h := range header {
		if h == string(c) {
			return i
		}
	}
	if i, err := strconv.Atoi(string(c)); err == nil && i >= 0 {
		return i
	}
	return -1
}

func detectColumn(header []string, names []string) int {
	for _, name := range names {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				return i
			}
		}
	}
	return -1
}

func pointFromCells(row []string, latCol, lngCol, heightCol int) *layer.Geometry {
	if latCol >= len(row) || lngCol >= len(row) {
		return nil
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(row[latCol]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(row[lngCol]), 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	if heightCol >= 0 && heightCol < len(row) {
		if h, err := strconv.ParseFloat(strings.TrimSpace(row[heightCol]), 64); err == nil {
			return layer.NewPoint(lng, lat, h)
		}
	}
	return layer.NewPoint(lng, lat)
}

func convertCell(cell string) any {
	s := strings.TrimSpace(cell)
	switch s {
	case "true", "TRUE", "True":
		return true
	case "false", "FALSE", "False":
		return false
	case "":
		return cell
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil && !strings.ContainsAny(s, "xXnN_") {
		return n
	}
	return cell
}
