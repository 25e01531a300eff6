package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/joeblew999/plat-mantle/internal/layer"
)

var (
	// ErrLayerNotFound is returned for an unknown layer id.
	ErrLayerNotFound = errors.New("layer not found")
	// ErrLayerExists is returned when a created layer reuses an id.
	ErrLayerExists = errors.New("layer already exists")
)

// LayerService manages the layer tree. Root layers keep their insertion
// order; ids are unique across the whole tree.
type LayerService struct {
	dataDir string
	roots   []layer.Layer
	bus     *EventBus
	logger  *slog.Logger
	newID   func() string
	mu      sync.RWMutex
}

// NewLayerService creates a layer service backed by layers.json in
// dataDir. bus may be nil.
func NewLayerService(dataDir string, bus *EventBus) *LayerService {
	s := &LayerService{
		dataDir: dataDir,
		bus:     bus,
		logger:  slog.Default(),
		newID:   uuid.NewString,
	}
	s.loadFromDisk()
	return s
}

// List returns the root layers.
func (s *LayerService) List() []layer.Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]layer.Layer, len(s.roots))
	copy(out, s.roots)
	return out
}

// Summaries returns the list view of every layer in the tree, parents
// before children.
func (s *LayerService) Summaries() []LayerSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []LayerSummary{}
	layer.Walk(s.roots, func(l layer.Layer) {
		out = append(out, Summarize(l))
	})
	return out
}

// Get returns a layer anywhere in the tree by ID.
func (s *LayerService) Get(id string) (layer.Layer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l := layer.Find(s.roots, id)
	return l, l != nil
}

// Simple returns the simple layer with the given ID.
func (s *LayerService) Simple(id string) (*layer.Simple, error) {
	l, ok := s.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrLayerNotFound, id)
	}
	simple, ok := l.(*layer.Simple)
	if !ok {
		return nil, fmt.Errorf("layer %q is a %s layer", id, l.Kind())
	}
	return simple, nil
}

// Create adds a root layer. Layers without an id get one generated from
// their title.
func (s *LayerService) Create(l layer.Layer) (layer.Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.assignIDs(l); err != nil {
		return nil, err
	}

	s.roots = append(s.roots, l)
	if err := s.saveToDisk(); err != nil {
		s.roots = s.roots[:len(s.roots)-1]
		return nil, err
	}

	s.bus.Publish(Event{Resource: ResourceLayers, Action: "created", ID: l.Base().ID})
	return l, nil
}

// Update replaces a layer anywhere in the tree. The stored id is kept.
func (s *LayerService) Update(id string, l layer.Layer) (layer.Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if layer.Find(s.roots, id) == nil {
		return nil, fmt.Errorf("%w: %q", ErrLayerNotFound, id)
	}
	l.Base().ID = id

	prev := s.roots
	s.roots = replaceLayer(s.roots, id, l)
	if err := s.assignChildIDs(l, id); err != nil {
		s.roots = prev
		return nil, err
	}
	if err := s.saveToDisk(); err != nil {
		s.roots = prev
		return nil, err
	}

	s.bus.Publish(Event{Resource: ResourceLayers, Action: "updated", ID: id})
	return l, nil
}

// Delete removes a layer and its children.
func (s *LayerService) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if layer.Find(s.roots, id) == nil {
		return fmt.Errorf("%w: %q", ErrLayerNotFound, id)
	}

	prev := s.roots
	s.roots = removeLayer(s.roots, id)
	if err := s.saveToDisk(); err != nil {
		s.roots = prev
		return err
	}

	s.bus.Publish(Event{Resource: ResourceLayers, Action: "deleted", ID: id})
	return nil
}

// assignIDs gives l and its descendants ids and rejects ids already in
// use. Called with the lock held.
func (s *LayerService) assignIDs(l layer.Layer) error {
	seen := map[string]bool{}
	layer.Walk(s.roots, func(existing layer.Layer) { seen[existing.Base().ID] = true })

	var err error
	layer.Walk([]layer.Layer{l}, func(child layer.Layer) {
		if err != nil {
			return
		}
		base := child.Base()
		if base.ID == "" {
			base.ID = s.uniqueID(base.Title, seen)
		}
		if seen[base.ID] {
			err = fmt.Errorf("%w: %q", ErrLayerExists, base.ID)
			return
		}
		seen[base.ID] = true
	})
	return err
}

// assignChildIDs checks the descendants of a replaced layer against the
// rest of the tree. Called with the lock held after the replacement.
func (s *LayerService) assignChildIDs(l layer.Layer, id string) error {
	seen := map[string]int{}
	layer.Walk(s.roots, func(existing layer.Layer) {
		if existing.Base().ID != "" {
			seen[existing.Base().ID]++
		}
	})
	var err error
	layer.Walk([]layer.Layer{l}, func(child layer.Layer) {
		base := child.Base()
		if base.ID == "" {
			taken := map[string]bool{}
			for k := range seen {
				taken[k] = true
			}
			base.ID = s.uniqueID(base.Title, taken)
			seen[base.ID]++
			return
		}
		if err == nil && seen[base.ID] > 1 {
			err = fmt.Errorf("%w: %q", ErrLayerExists, base.ID)
		}
	})
	return err
}

func (s *LayerService) uniqueID(title string, taken map[string]bool) string {
	id := generateID(title)
	if id == "" || taken[id] {
		return s.newID()
	}
	return id
}

func replaceLayer(layers []layer.Layer, id string, next layer.Layer) []layer.Layer {
	out := make([]layer.Layer, len(layers))
	for i, l := range layers {
		switch {
		case l.Base().ID == id:
			out[i] = next
		case l.Kind() == layer.KindGroup:
			g := *l.(*layer.Group)
			g.Children = replaceLayer(g.Children, id, next)
			out[i] = &g
		default:
			out[i] = l
		}
	}
	return out
}

func removeLayer(layers []layer.Layer, id string) []layer.Layer {
	out := make([]layer.Layer, 0, len(layers))
	for _, l := range layers {
		if l.Base().ID == id {
			continue
		}
		if g, ok := l.(*layer.Group); ok {
			copied := *g
			copied.Children = removeLayer(g.Children, id)
			l = &copied
		}
		out = append(out, l)
	}
	return out
}

// configFile returns the path to the layers config file.
func (s *LayerService) configFile() string {
	return filepath.Join(s.dataDir, "layers.json")
}

// loadFromDisk loads the layer tree from disk.
func (s *LayerService) loadFromDisk() {
	data, err := os.ReadFile(s.configFile())
	if err != nil {
		return // File doesn't exist yet, start empty
	}

	var layers layer.List
	if err := json.Unmarshal(data, &layers); err != nil {
		s.logger.Warn("ignoring unreadable layers file", "path", s.configFile(), "err", err)
		return
	}

	s.roots = layers
}

// saveToDisk persists the layer tree to disk.
func (s *LayerService) saveToDisk() error {
	// Ensure data directory exists
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return err
	}

	roots := s.roots
	if roots == nil {
		roots = []layer.Layer{}
	}
	data, err := json.MarshalIndent(roots, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.configFile(), data, 0644)
}

// generateID creates a URL-safe ID from a name.
func generateID(name string) string {
	id := strings.ToLower(name)
	id = strings.ReplaceAll(id, " ", "_")
	// Remove any characters that aren't alphanumeric or underscore
	var result strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
