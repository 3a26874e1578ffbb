package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs hands out fixed, predictable identifiers. Attestation
// IDs in production are time-ordered UUIDs; tests substitute this so
// golden packs are stable.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int64
}

// NewSequentialIDs creates a generator producing
// "<prefix>-000001", "<prefix>-000002", ...
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "test-id"
	}
	return &SequentialIDs{prefix: prefix}
}

// Next returns the next identifier.
func (g *SequentialIDs) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%06d", g.prefix, g.n)
}
