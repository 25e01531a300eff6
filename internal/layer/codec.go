package layer

import (
	"encoding/json"
	"fmt"
)

// Unmarshal decodes a layer document, dispatching on its "type" field.
// Documents without a type are groups when they carry "children" and simple
// layers otherwise.
func Unmarshal(b []byte) (Layer, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}

	var kind Kind
	if t, ok := raw["type"]; ok {
		if err := json.Unmarshal(t, &kind); err != nil {
			return nil, fmt.Errorf("layer type: %w", err)
		}
	} else if _, ok := raw["children"]; ok {
		kind = KindGroup
	} else {
		kind = KindSimple
	}

	switch kind {
	case KindSimple:
		s := &Simple{}
		if err := s.decode(b, raw); err != nil {
			return nil, err
		}
		return s, nil
	case KindGroup:
		g := &Group{}
		if err := g.decode(b, raw); err != nil {
			return nil, err
		}
		return g, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownLayerType, kind)
}

// Decode converts a generic document (for example one read from YAML) into
// a Layer by round-tripping it through JSON.
func Decode(v any) (Layer, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Unmarshal(b)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Simple) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	return s.decode(b, raw)
}

func (s *Simple) decode(b []byte, raw map[string]json.RawMessage) error {
	*s = Simple{}
	if err := json.Unmarshal(b, &s.Common); err != nil {
		return err
	}
	for key, value := range raw {
		switch key {
		case "data":
			s.Data = &Data{}
			if err := json.Unmarshal(value, s.Data); err != nil {
				return fmt.Errorf("layer %s data: %w", s.ID, err)
			}
		case "properties":
			if err := json.Unmarshal(value, &s.Properties); err != nil {
				return fmt.Errorf("layer %s properties: %w", s.ID, err)
			}
		case "defines":
			defines, err := decodeDefines(value)
			if err != nil {
				return fmt.Errorf("layer %s defines: %w", s.ID, err)
			}
			s.Defines = defines
		default:
			if !IsAppearanceKey(key) {
				continue
			}
			var cfg any
			if err := json.Unmarshal(value, &cfg); err != nil {
				return fmt.Errorf("layer %s %s: %w", s.ID, key, err)
			}
			if s.Appearance == nil {
				s.Appearance = make(map[string]any)
			}
			s.Appearance[key] = cfg
		}
	}
	return nil
}

// decodeDefines accepts non-string define values and keeps their JSON text,
// which is what the expression parser expects.
func decodeDefines(b []byte) (map[string]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	return out, nil
}

// MarshalJSON implements json.Marshaler.
func (s *Simple) MarshalJSON() ([]byte, error) {
	out, err := commonFields(&s.Common)
	if err != nil {
		return nil, err
	}
	out["type"] = KindSimple
	if s.Data != nil {
		out["data"] = s.Data
	}
	if len(s.Properties) > 0 {
		out["properties"] = s.Properties
	}
	if len(s.Defines) > 0 {
		out["defines"] = s.Defines
	}
	for k, v := range s.Appearance {
		out[k] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (g *Group) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	return g.decode(b, raw)
}

func (g *Group) decode(b []byte, raw map[string]json.RawMessage) error {
	*g = Group{}
	if err := json.Unmarshal(b, &g.Common); err != nil {
		return err
	}
	children, ok := raw["children"]
	if !ok {
		return nil
	}
	var list List
	if err := json.Unmarshal(children, &list); err != nil {
		return fmt.Errorf("group %s: %w", g.ID, err)
	}
	g.Children = list
	return nil
}

// MarshalJSON implements json.Marshaler.
func (g *Group) MarshalJSON() ([]byte, error) {
	out, err := commonFields(&g.Common)
	if err != nil {
		return nil, err
	}
	out["type"] = KindGroup
	children := g.Children
	if children == nil {
		children = []Layer{}
	}
	out["children"] = children
	return json.Marshal(out)
}

func commonFields(c *Common) (map[string]any, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// List is an ordered list of layers that decodes polymorphically.
type List []Layer

// UnmarshalJSON implements json.Unmarshaler.
func (l *List) UnmarshalJSON(b []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	out := make(List, 0, len(items))
	for i, item := range items {
		child, err := Unmarshal(item)
		if err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
		out = append(out, child)
	}
	*l = out
	return nil
}

// Walk visits every layer depth-first, parents before children.
func Walk(layers []Layer, fn func(Layer)) {
	for _, l := range layers {
		if l == nil {
			continue
		}
		fn(l)
		if g, ok := l.(*Group); ok {
			Walk(g.Children, fn)
		}
	}
}

// Find returns the layer with the given id anywhere in the tree.
func Find(layers []Layer, id string) Layer {
	var found Layer
	Walk(layers, func(l Layer) {
		if found == nil && l.Base().ID == id {
			found = l
		}
	})
	return found
}
