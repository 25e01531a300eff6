// Package layer defines the layer configuration model, data descriptors and
// the normalized feature model shared by fetchers and the appearance pipeline.
package layer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Kind discriminates the Layer union.
type Kind string

const (
	KindSimple Kind = "simple"
	KindGroup  Kind = "group"
)

// AppearanceKeys lists the appearance categories a simple layer may carry.
var AppearanceKeys = []string{
	"marker", "polyline", "polygon", "model", "3dtiles", "ellipsoid", "box",
	"photooverlay", "resource", "raster", "label", "frustum", "transition",
	"heatMap", "cylinder",
}

var appearanceKeySet = func() map[string]bool {
	m := make(map[string]bool, len(AppearanceKeys))
	for _, k := range AppearanceKeys {
		m[k] = true
	}
	return m
}()

// IsAppearanceKey reports whether key names an appearance category.
func IsAppearanceKey(key string) bool { return appearanceKeySet[key] }

// ErrUnknownLayerType is returned when a document carries an unsupported
// "type" discriminator.
var ErrUnknownLayerType = errors.New("unknown layer type")

// Layer is either a *Simple or a *Group.
type Layer interface {
	Kind() Kind
	Base() *Common
}

// Tag is a label attached to a layer.
type Tag struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Tags  []Tag  `json:"tags,omitempty"`
}

// Compat is the optional legacy property bag carried by layers that were
// created through the legacy API.
type Compat struct {
	ExtensionID string `json:"extensionId,omitempty"`
	Property    any    `json:"property,omitempty"`
	PropertyID  string `json:"propertyId,omitempty"`
}

// Common holds the fields shared by every layer kind.
type Common struct {
	ID      string         `json:"id"`
	Title   string         `json:"title,omitempty"`
	Visible *bool          `json:"visible,omitempty"`
	Infobox map[string]any `json:"infobox,omitempty"`
	Tags    []Tag          `json:"tags,omitempty"`
	Creator string         `json:"creator,omitempty"`
	Compat  *Compat        `json:"compat,omitempty"`
}

// Base returns the common fields.
func (c *Common) Base() *Common { return c }

// IsVisible applies the "visible unless stated otherwise" default.
func (c *Common) IsVisible() bool { return c.Visible == nil || *c.Visible }

// Simple is a layer backed by a single data source.
type Simple struct {
	Common
	Data       *Data
	Properties map[string]any
	Defines    map[string]string
	// Appearance maps a category key (see AppearanceKeys) to its raw,
	// JSON-shaped configuration.
	Appearance map[string]any
}

// Kind implements Layer.
func (*Simple) Kind() Kind { return KindSimple }

// Group owns an ordered list of child layers.
type Group struct {
	Common
	Children []Layer
}

// Kind implements Layer.
func (*Group) Kind() Kind { return KindGroup }

// StringList accepts either a JSON string or an array of strings.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (s *StringList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*s = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// Column addresses a CSV column by header name or zero-based index.
type Column string

// UnmarshalJSON accepts a string or a number.
func (c *Column) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		*c = Column(name)
		return nil
	}
	var idx float64
	if err := json.Unmarshal(b, &idx); err != nil {
		return fmt.Errorf("column must be a string or number: %w", err)
	}
	*c = Column(strconv.Itoa(int(idx)))
	return nil
}

// TimeConfig drives time interval derivation.
type TimeConfig struct {
	Property          string `json:"property,omitempty"`
	Interval          int64  `json:"interval,omitempty"` // milliseconds
	UpdateClockOnLoad bool   `json:"updateClockOnLoad,omitempty"`
}

// CSVOptions configures the CSV fetcher.
type CSVOptions struct {
	IDColumn              Column `json:"idColumn,omitempty"`
	LatColumn             Column `json:"latColumn,omitempty"`
	LngColumn             Column `json:"lngColumn,omitempty"`
	HeightColumn          Column `json:"heightColumn,omitempty"`
	WKTColumn             Column `json:"wktColumn,omitempty"`
	NoHeader              bool   `json:"noHeader,omitempty"`
	DisableTypeConversion bool   `json:"disableTypeConversion,omitempty"`
}

// GeoJSONOptions configures the GeoJSON fetcher.
type GeoJSONOptions struct {
	UseAsResource bool `json:"useAsResource,omitempty"`
}

// Data describes where and how a simple layer loads its features.
type Data struct {
	Type           string          `json:"type"`
	URL            string          `json:"url,omitempty"`
	Value          any             `json:"value,omitempty"`
	Layers         StringList      `json:"layers,omitempty"`
	JSONProperties []string        `json:"jsonProperties,omitempty"`
	UpdateInterval int64           `json:"updateInterval,omitempty"` // milliseconds
	Parameters     map[string]any  `json:"parameters,omitempty"`
	Time           *TimeConfig     `json:"time,omitempty"`
	CSV            *CSVOptions     `json:"csv,omitempty"`
	GeoJSON        *GeoJSONOptions `json:"geojson,omitempty"`
}
