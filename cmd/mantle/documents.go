package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-mantle/internal/compat"
	"github.com/joeblew999/plat-mantle/internal/layer"
)

// readDocument reads a JSON or YAML file into generic values. The format
// follows the file extension.
func readDocument(path string) (any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &doc)
	default:
		err = json.Unmarshal(b, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// readLayers reads one layer or a list of layers.
func readLayers(path string) ([]layer.Layer, error) {
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	items, ok := doc.([]any)
	if !ok {
		items = []any{doc}
	}
	layers := make([]layer.Layer, 0, len(items))
	for i, item := range items {
		l, err := layer.Decode(item)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		layers = append(layers, l)
	}
	return layers, nil
}

// readLegacyLayers reads one legacy layer or a list of them.
func readLegacyLayers(path string) ([]*compat.LegacyLayer, error) {
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	if _, ok := doc.([]any); !ok {
		doc = []any{doc}
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out []*compat.LegacyLayer
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("legacy layers: %w", err)
	}
	return out, nil
}

// writeOutput prints v as indented JSON, or YAML when asYAML is set.
func writeOutput(v any, asYAML bool) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if asYAML {
		// Round trip through generic values so custom JSON marshalers apply.
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return err
		}
		if b, err = yaml.Marshal(generic); err != nil {
			return err
		}
	}
	fmt.Println(strings.TrimRight(string(b), "\n"))
	return nil
}
