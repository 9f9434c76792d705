// Package testutil provides deterministic stand-ins for the random and
// time-based parts of tinyslice, so traces are byte-identical across runs.
package testutil

import (
	"fmt"
	"sync"
)

// FixedGenerator returns predetermined request IDs in order.
//
// Safe for concurrent use. Generate panics once the IDs are exhausted, which
// surfaces tests that start more async invocations than they planned for.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator yielding ids in order.
//
//	gen := NewFixedGenerator("req-a", "req-b")
//	gen.Generate() // "req-a"
//	gen.Generate() // "req-b"
//	gen.Generate() // panic
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next ID.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all request IDs exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// Remaining reports how many IDs are left.
func (g *FixedGenerator) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ids) - g.idx
}

// SequenceGenerator yields "<prefix>-1", "<prefix>-2", ... without limit.
//
// Safe for concurrent use.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator. An empty prefix defaults to "req".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "req"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next ID in the sequence.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
