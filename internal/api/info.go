package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-mantle/internal/data"
)

type InfoHandler struct {
	dataDir string
	dbOK    bool
	router  *data.Router
}

func NewInfoHandler(dataDir string, dbOK bool, router *data.Router) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, dbOK: dbOK, router: router}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name      string   `json:"name" doc:"Service name"`
	Version   string   `json:"version" doc:"Service version"`
	DataDir   string   `json:"data_dir" doc:"Data directory path"`
	DB        bool     `json:"db" doc:"Whether DuckDB is available for columnar sources"`
	DataTypes []string `json:"data_types" doc:"Data types with a registered fetcher"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	types := []string{}
	if h.router != nil {
		types = h.router.Types()
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:      "plat-mantle",
		Version:   "0.1.0",
		DataDir:   h.dataDir,
		DB:        h.dbOK,
		DataTypes: types,
	}}, nil
}
