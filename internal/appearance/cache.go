package appearance

import (
	"strings"
	"sync"

	"github.com/joeblew999/plat-mantle/internal/expr"
)

// evaluable is a compiled expression field: a plain expression or a
// conditional list.
type evaluable interface {
	Evaluate() (expr.Value, error)
	Invalidate()
	Rebind(defines map[string]string) error
}

type expression struct{ *expr.Expression }

func (e expression) Rebind(defines map[string]string) error { return e.Recompile(defines) }

type conditional struct{ *expr.Conditional }

func (c conditional) Rebind(defines map[string]string) error { return c.SetRuntime(defines) }

// slot identifies the feature a compiled field is bound to. Features
// evaluated by Compute are identified by their position in that pass, so
// features sharing an id (or having none) never share a compiled field.
type slot struct {
	pass    uint64 // Compute pass, zero for direct EvalAppearance calls
	index   int
	id      string
	standIn bool // the layer's own appearance
}

// Cache keeps compiled expression fields, keyed by field and by the
// feature they were compiled against. Cached results stay memoized until
// ClearAllExpressionCaches or Clear. Compute starts every pass with no
// entries for its layer.
type Cache struct {
	mu      sync.Mutex
	entries map[string]map[slot]evaluable
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]map[slot]evaluable)}
}

// evaluate runs the cached field for s, compiling it with build on first
// use. Evaluation happens under the lock since expressions memoize.
func (c *Cache) evaluate(key string, s slot, build func() (evaluable, error)) (expr.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bySlot := c.entries[key]
	ev, ok := bySlot[s]
	if !ok {
		var err error
		if ev, err = build(); err != nil {
			return nil, err
		}
		if bySlot == nil {
			bySlot = make(map[slot]evaluable)
			c.entries[key] = bySlot
		}
		bySlot[s] = ev
	}
	return ev.Evaluate()
}

// reset drops the memo of every feature's copy of field key, rebinding it
// to defines. Fields that no longer compile are evicted.
func (c *Cache) reset(key string, defines map[string]string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for s, ev := range c.entries[key] {
		if err := ev.Rebind(defines); err != nil {
			delete(c.entries[key], s)
		}
		n++
	}
	return n
}

// dropLayer evicts every compiled field of layer id, so the next pass
// compiles against fresh features.
func (c *Cache) dropLayer(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := id + "\x00"
	n := 0
	for key, bySlot := range c.entries {
		if strings.HasPrefix(key, prefix) {
			n += len(bySlot)
			delete(c.entries, key)
		}
	}
	return n
}

// Len reports the number of compiled fields across all features.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, bySlot := range c.entries {
		n += len(bySlot)
	}
	return n
}

// Clear drops everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]map[slot]evaluable)
	c.mu.Unlock()
}
