package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/joeblew999/plat-mantle/internal/appearance"
	"github.com/joeblew999/plat-mantle/internal/layer"
)

// Poller computes layers and keeps the latest result per layer id. Layers
// whose data sets updateInterval are re-fetched on that schedule by Run.
//
// Refreshes of the same layer may overlap. Each one takes a generation
// number when it starts and its result is kept only if no later refresh
// has committed first.
type Poller struct {
	layers *LayerService
	eval   *appearance.Evaluator
	bus    *EventBus
	logger *slog.Logger
	tick   time.Duration
	now    func() time.Time

	mu        sync.Mutex
	next      map[string]uint64 // generation handed to the next refresh
	committed map[string]uint64
	results   map[string]*appearance.ComputedLayer
	due       map[string]time.Time
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithTick sets how often Run checks for due layers.
func WithTick(d time.Duration) PollerOption { return func(p *Poller) { p.tick = d } }

// WithPollerLogger sets the logger.
func WithPollerLogger(l *slog.Logger) PollerOption { return func(p *Poller) { p.logger = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) PollerOption { return func(p *Poller) { p.now = now } }

// NewPoller creates a poller over the layers of s.
func NewPoller(s *LayerService, eval *appearance.Evaluator, bus *EventBus, opts ...PollerOption) *Poller {
	p := &Poller{
		layers:    s,
		eval:      eval,
		bus:       bus,
		logger:    slog.Default(),
		tick:      time.Second,
		now:       time.Now,
		next:      make(map[string]uint64),
		committed: make(map[string]uint64),
		results:   make(map[string]*appearance.ComputedLayer),
		due:       make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Refresh fetches and computes l. The result is stored unless a refresh
// of the same layer that started later has already been stored; in that
// case the newer result is returned instead.
func (p *Poller) Refresh(ctx context.Context, l *layer.Simple, rng *layer.Range) (*appearance.ComputedLayer, error) {
	p.mu.Lock()
	p.next[l.ID]++
	gen := p.next[l.ID]
	p.mu.Unlock()

	// Compiled fields are bound to the features of the previous fetch.
	p.eval.ForgetLayer(l.ID)
	computed, err := p.eval.EvalLayer(ctx, l, rng)
	if err != nil {
		return nil, err
	}
	if rng != nil {
		// Range scoped results are not the layer's current state.
		return computed, nil
	}

	p.mu.Lock()
	if gen < p.committed[l.ID] {
		latest := p.results[l.ID]
		p.mu.Unlock()
		p.logger.Debug("discarding stale layer result", "layer", l.ID, "generation", gen)
		return latest, nil
	}
	p.committed[l.ID] = gen
	p.results[l.ID] = computed
	p.mu.Unlock()

	p.bus.Publish(Event{Resource: ResourceComputed, Action: "updated", ID: l.ID})
	return computed, nil
}

// Latest returns the last stored result for a layer.
func (p *Poller) Latest(id string) (*appearance.ComputedLayer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.results[id]
	return c, ok
}

// Forget drops the stored result of a layer.
func (p *Poller) Forget(id string) {
	p.mu.Lock()
	delete(p.results, id)
	delete(p.due, id)
	p.mu.Unlock()
	p.eval.ForgetLayer(id)
}

// Run refreshes due layers until ctx is done. Stored results of deleted or
// updated layers are dropped as the layer events arrive.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	var events chan Event
	if p.bus != nil {
		events = p.bus.Subscribe()
		defer p.bus.Unsubscribe(events)
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			if ev.Resource == ResourceLayers && ev.Action != "created" {
				p.Forget(ev.ID)
			}
		case <-ticker.C:
			for _, l := range p.Due() {
				wg.Add(1)
				go func(l *layer.Simple) {
					defer wg.Done()
					if _, err := p.Refresh(ctx, l, nil); err != nil {
						p.logger.Error("layer refresh failed", "layer", l.ID, "err", err)
					}
				}(l)
			}
		}
	}
}

// Due returns the visible simple layers whose update interval has elapsed
// and schedules their next refresh.
func (p *Poller) Due() []*layer.Simple {
	now := p.now()
	var out []*layer.Simple

	p.mu.Lock()
	defer p.mu.Unlock()
	layer.Walk(p.layers.List(), func(l layer.Layer) {
		s, ok := l.(*layer.Simple)
		if !ok || !s.IsVisible() || s.Data == nil || s.Data.UpdateInterval <= 0 {
			return
		}
		if at, ok := p.due[s.ID]; ok && now.Before(at) {
			return
		}
		p.due[s.ID] = now.Add(time.Duration(s.Data.UpdateInterval) * time.Millisecond)
		out = append(out, s)
	})
	return out
}
