package layer

import (
	"encoding/json"
	"time"
)

// Range is a tile coordinate used to scope partial loads.
type Range struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// TimeInterval is the time span a feature is displayed for. End is nil when
// no end could be derived.
type TimeInterval struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

// Feature is one normalized record produced by a fetcher.
//
// ID is stable within a single fetch but not across re-fetches.
type Feature struct {
	ID         string         `json:"id"`
	Geometry   *Geometry      `json:"geometry,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Interval   *TimeInterval  `json:"interval,omitempty"`
	Range      *Range         `json:"range,omitempty"`
}

// MarshalJSON adds the "feature" type tag.
func (f Feature) MarshalJSON() ([]byte, error) {
	type plain Feature
	return json.Marshal(struct {
		Type string `json:"type"`
		plain
	}{"feature", plain(f)})
}

// Clone returns a copy of f whose property bag can be mutated freely.
func (f Feature) Clone() Feature {
	out := f
	if f.Properties != nil {
		out.Properties = DeepCopy(f.Properties).(map[string]any)
	}
	return out
}

// ComputedFeature is a Feature widened with resolved appearance values.
// A new value is produced on every evaluation pass.
type ComputedFeature struct {
	Feature
	Appearance map[string]any
}

// MarshalJSON inlines the appearance categories next to the feature fields.
func (c ComputedFeature) MarshalJSON() ([]byte, error) {
	type plain Feature
	base, err := json.Marshal(plain(c.Feature))
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(base, &out); err != nil {
		return nil, err
	}
	for k, v := range c.Appearance {
		out[k] = v
	}
	out["type"] = "computedFeature"
	return json.Marshal(out)
}

// DeepCopy copies the JSON-shaped value v. Maps and slices are duplicated,
// scalars are returned as-is.
func DeepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = DeepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = DeepCopy(e)
		}
		return out
	default:
		return v
	}
}
