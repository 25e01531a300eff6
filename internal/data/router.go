// Package data routes layer data descriptors to per-format fetchers that turn
// raw bytes into normalized features.
package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joeblew999/plat-mantle/internal/db"
	"github.com/joeblew999/plat-mantle/internal/layer"
	"github.com/joeblew999/plat-mantle/internal/metric"
)

var (
	// ErrUnsupportedValue is returned when an inline data value has a shape
	// the fetcher cannot read.
	ErrUnsupportedValue = errors.New("unsupported inline data value")
	// ErrNoSource is returned when a descriptor has neither url nor value.
	ErrNoSource = errors.New("data has neither url nor value")
)

// Options are passed to every fetcher call.
type Options struct {
	Provider Provider
	// NewID generates ids for records whose source carries none.
	NewID  func() string
	Logger *slog.Logger
}

// Fetcher converts one data source into features. A fetcher that cannot use
// the range returns the full feature set.
type Fetcher interface {
	Fetch(ctx context.Context, d *layer.Data, r *layer.Range, opts Options) ([]layer.Feature, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, d *layer.Data, r *layer.Range, opts Options) ([]layer.Feature, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, d *layer.Data, r *layer.Range, opts Options) ([]layer.Feature, error) {
	return f(ctx, d, r, opts)
}

// Router selects a fetcher by data type.
type Router struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher

	provider Provider
	newID    func() string
	logger   *slog.Logger
	metrics  *metric.Metrics
	openDB   func() (*sql.DB, error)
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithProvider sets the byte provider used for url sources.
func WithProvider(p Provider) RouterOption { return func(r *Router) { r.provider = p } }

// WithIDGenerator replaces the uuid based id generator.
func WithIDGenerator(fn func() string) RouterOption { return func(r *Router) { r.newID = fn } }

// WithLogger sets the router logger.
func WithLogger(l *slog.Logger) RouterOption { return func(r *Router) { r.logger = l } }

// WithMetrics records fetch counts and durations.
func WithMetrics(m *metric.Metrics) RouterOption { return func(r *Router) { r.metrics = m } }

// WithDB sets the DuckDB connection used by columnar fetchers.
func WithDB(open func() (*sql.DB, error)) RouterOption { return func(r *Router) { r.openDB = open } }

// NewRouter creates an empty router.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		fetchers: make(map[string]Fetcher),
		provider: NewMuxProvider(NewHTTPProvider(30*time.Second), FileProvider{}),
		newID:    uuid.NewString,
		logger:   slog.Default(),
		openDB:   func() (*sql.DB, error) { return db.Get(db.Config{}) },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewDefaultRouter creates a router with every built-in fetcher registered.
func NewDefaultRouter(opts ...RouterOption) *Router {
	r := NewRouter(opts...)
	r.Register(TypeGeoJSON, FetcherFunc(FetchGeoJSON))
	r.Register(TypeCSV, FetcherFunc(FetchCSV))
	r.Register(TypeGPX, FetcherFunc(FetchGPX))
	r.Register(TypeGTFS, FetcherFunc(FetchGTFS))
	r.Register(TypeShapefile, FetcherFunc(FetchShapefile))
	r.Register(TypeGML, FetcherFunc(FetchGML))
	r.Register(TypeGeoRSS, FetcherFunc(FetchGeoRSS))
	r.Register(TypeMVT, FetcherFunc(FetchMVT))
	r.Register(TypePMTiles, NewPMTilesFetcher())
	r.Register(TypeGeoParquet, &GeoParquetFetcher{DB: r.openDB})
	return r
}

// Register binds a fetcher to a data type, replacing any previous one.
func (r *Router) Register(dataType string, f Fetcher) {
	r.mu.Lock()
	r.fetchers[dataType] = f
	r.mu.Unlock()
}

// Types lists the registered data types.
func (r *Router) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.fetchers))
	for t := range r.fetchers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ResolveType returns the effective type of d: the explicit type, or the
// type guessed from the url when the type is empty or "auto".
func ResolveType(d *layer.Data) string {
	if d.Type == "" || d.Type == TypeAuto {
		return GuessType(d.URL)
	}
	return d.Type
}

// Fetch loads the features of d. A type with no registered fetcher yields
// no features and no error.
func (r *Router) Fetch(ctx context.Context, d *layer.Data, rng *layer.Range) ([]layer.Feature, error) {
	if d == nil {
		return nil, nil
	}
	dataType := ResolveType(d)

	r.mu.RLock()
	f, ok := r.fetchers[dataType]
	r.mu.RUnlock()
	if !ok {
		r.logger.Debug("no fetcher for data type", "type", dataType, "url", d.URL)
		return nil, nil
	}

	start := time.Now()
	features, err := f.Fetch(ctx, d, rng, Options{Provider: r.provider, NewID: r.newID, Logger: r.logger})
	r.metrics.RecordFetch(dataType, len(features), err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", dataType, d.URL, err)
	}
	return features, nil
}

func (o Options) id() string {
	if o.NewID == nil {
		return uuid.NewString()
	}
	return o.NewID()
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}
