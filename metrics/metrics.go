// Package metrics implements the counter/gauge surface backing the
// engine's live console display: running totals of pushed/pulled
// packets, loss, repair, duplicate discards, and queue depths,
// rendered through a zerolog console writer rather than a separate
// metrics library.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Counters is a thread-safe named-counter registry, incremented from
// any worker or pipeline goroutine and snapshotted for display.
type Counters struct {
	mu     sync.RWMutex
	values map[string]*int64
}

func NewCounters() *Counters {
	return &Counters{values: make(map[string]*int64)}
}

// Add increments the named counter by delta, creating it if absent.
func (c *Counters) Add(name string, delta int64) {
	c.mu.RLock()
	p, ok := c.values[name]
	c.mu.RUnlock()
	if !ok {
		c.mu.Lock()
		p, ok = c.values[name]
		if !ok {
			var v int64
			p = &v
			c.values[name] = p
		}
		c.mu.Unlock()
	}
	atomic.AddInt64(p, delta)
}

// Inc increments the named counter by one.
func (c *Counters) Inc(name string) { c.Add(name, 1) }

// Value returns the current value of a counter.
func (c *Counters) Value(name string) int64 {
	c.mu.RLock()
	p, ok := c.values[name]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

// Snapshot returns all counters sorted by name, for console rendering.
func (c *Counters) Snapshot() []NamedValue {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]NamedValue, 0, len(c.values))
	for name, p := range c.values {
		out = append(out, NamedValue{Name: name, Value: atomic.LoadInt64(p)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NamedValue is one counter's name/value pair.
type NamedValue struct {
	Name  string
	Value int64
}

// Gauges tracks instantaneous levels (e.g. queue depth, active
// sessions) rather than monotonic counts.
type Gauges struct {
	mu     sync.RWMutex
	values map[string]int64
}

func NewGauges() *Gauges {
	return &Gauges{values: make(map[string]int64)}
}

func (g *Gauges) Set(name string, value int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values[name] = value
}

func (g *Gauges) Value(name string) int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.values[name]
}

func (g *Gauges) Snapshot() []NamedValue {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]NamedValue, 0, len(g.values))
	for name, v := range g.values {
		out = append(out, NamedValue{Name: name, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Common counter names used across the pipeline, so callers don't
// hand-roll string literals at every call site.
const (
	CounterPushed           = "packets_pushed"
	CounterPulled           = "packets_pulled"
	CounterLoss             = "jitter_loss"
	CounterRepaired         = "jitter_repaired"
	CounterDuplicateDropped = "udp_redundant_discards"
	CounterQueueFull        = "push_queue_full"
	CounterMissedInterval   = "group_missed_interval"
)
