// Package service holds the stateful parts of the mantle server: the layer
// store, the source listing and the poller that keeps computed layers
// current.
package service

import (
	"github.com/joeblew999/plat-mantle/internal/data"
	"github.com/joeblew999/plat-mantle/internal/layer"
)

// LayerSummary is the list view of a stored layer.
type LayerSummary struct {
	ID       string `json:"id" doc:"Layer identifier" example:"stations"`
	Type     string `json:"type" enum:"simple,group" doc:"Layer kind"`
	Title    string `json:"title,omitempty" doc:"Display title" example:"Stations"`
	Visible  bool   `json:"visible" doc:"Whether the layer is shown"`
	DataType string `json:"dataType,omitempty" doc:"Resolved data type of a simple layer" example:"geojson"`
	URL      string `json:"url,omitempty" doc:"Data source url"`
	Children int    `json:"children,omitempty" doc:"Number of direct children of a group"`
}

// SourceFile represents a local data file usable as a layer source.
type SourceFile struct {
	Name     string `json:"name" doc:"File name" example:"stations.geojson"`
	Size     string `json:"size" doc:"Human-readable file size" example:"1.2 MB"`
	DataType string `json:"dataType" doc:"Data type guessed from the file name" example:"geojson"`
}

// Summarize builds the list view of l.
func Summarize(l layer.Layer) LayerSummary {
	base := l.Base()
	out := LayerSummary{ID: base.ID, Type: string(l.Kind()), Title: base.Title, Visible: base.IsVisible()}
	switch v := l.(type) {
	case *layer.Simple:
		if v.Data != nil {
			out.DataType = data.ResolveType(v.Data)
			out.URL = v.Data.URL
		}
	case *layer.Group:
		out.Children = len(v.Children)
	}
	return out
}
