// Package server wires the mantle services behind one HTTP handler.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/joeblew999/plat-mantle/internal/api"
	"github.com/joeblew999/plat-mantle/internal/appearance"
	"github.com/joeblew999/plat-mantle/internal/data"
	"github.com/joeblew999/plat-mantle/internal/db"
	"github.com/joeblew999/plat-mantle/internal/expr"
	"github.com/joeblew999/plat-mantle/internal/metric"
	"github.com/joeblew999/plat-mantle/internal/service"
)

// Config holds the server configuration.
type Config struct {
	Host         string
	Port         string
	DataDir      string
	FetchTimeout time.Duration
	// PollInterval is how often due layers are checked. Zero means one second.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Server is the mantle HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	humaAPI  huma.API
	dbOK     bool
	metrics  *metric.Metrics
	services *api.Services
	logger   *slog.Logger
}

// New creates a new mantle server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	mux := http.NewServeMux()

	humaConfig := huma.DefaultConfig("plat-mantle API", "1.0.0")
	humaConfig.Info.Description = "Layer appearance evaluation, data fetching and legacy layer conversion."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	humaAPI := humago.New(mux, humaConfig)

	metrics := metric.New()
	dbCfg := db.Config{DataDir: cfg.DataDir, DBName: "mantle"}
	_, dbErr := db.Get(dbCfg)
	if dbErr != nil {
		logger.Warn("duckdb unavailable, geoparquet sources disabled", "err", dbErr)
	}

	router := data.NewDefaultRouter(
		data.WithProvider(data.NewMuxProvider(
			data.NewHTTPProvider(cfg.FetchTimeout),
			data.FileProvider{Root: filepath.Join(cfg.DataDir, "sources")},
		)),
		data.WithLogger(logger.With("component", "data")),
		data.WithMetrics(metrics),
		data.WithDB(func() (*sql.DB, error) { return db.Get(dbCfg) }),
	)
	eval := appearance.NewEvaluator(router,
		appearance.WithCache(appearance.NewCache()),
		appearance.WithParseCache(expr.NewParseCache()),
		appearance.WithLogger(logger.With("component", "appearance")),
		appearance.WithMetrics(metrics),
	)

	bus := service.NewEventBus()
	layers := service.NewLayerService(cfg.DataDir, bus)
	pollerOpts := []service.PollerOption{service.WithPollerLogger(logger.With("component", "poller"))}
	if cfg.PollInterval > 0 {
		pollerOpts = append(pollerOpts, service.WithTick(cfg.PollInterval))
	}

	s := &Server{
		config:  cfg,
		mux:     mux,
		humaAPI: humaAPI,
		dbOK:    dbErr == nil,
		metrics: metrics,
		services: &api.Services{
			Layer:  layers,
			Source: service.NewSourceService(cfg.DataDir),
			Poller: service.NewPoller(layers, eval, bus, pollerOpts...),
			Bus:    bus,
			Router: router,
			Eval:   eval,
			Logger: logger,
		},
		logger: logger,
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Services exposes the wired services to commands that run without HTTP.
func (s *Server) Services() *api.Services {
	return s.services
}

// Poll refreshes layers with an update interval until ctx is done.
func (s *Server) Poll(ctx context.Context) error {
	return s.services.Poller.Run(ctx)
}

// Close closes server resources.
func (s *Server) Close() error {
	return db.Close()
}

func (s *Server) routes() {
	api.RegisterRoutes(s.humaAPI, s.services)
	api.NewInfoHandler(s.config.DataDir, s.dbOK, s.services.Router).RegisterRoutes(s.humaAPI)

	s.mux.Handle("/metrics", s.metrics.Handler())
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-mantle",
		"status":  "running",
	})
}
