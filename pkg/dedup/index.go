// Package dedup holds the set of identity keys already reflected in a sink.
package dedup

import (
	"context"
	"fmt"
)

// KeyReader is anything that can list the identity keys it already holds.
type KeyReader interface {
	Keys(ctx context.Context) ([]string, error)
}

// Index is a set of identity keys.
//
// Index is not safe for concurrent mutation. The batch writer serializes all
// access behind its own lock.
type Index struct {
	keys map[string]struct{}
}

// New returns an empty index.
func New() *Index {
	return &Index{keys: make(map[string]struct{})}
}

// Load builds an index from every key the reader holds. Calling it again on
// the same reader yields the same index.
func Load(ctx context.Context, r KeyReader) (*Index, error) {
	keys, err := r.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("read existing keys: %w", err)
	}
	idx := &Index{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		idx.keys[k] = struct{}{}
	}
	return idx, nil
}

// Contains reports whether key has been seen.
func (i *Index) Contains(key string) bool {
	_, ok := i.keys[key]
	return ok
}

// Add records key as seen.
func (i *Index) Add(key string) {
	i.keys[key] = struct{}{}
}

// Len returns the number of distinct keys.
func (i *Index) Len() int {
	return len(i.keys)
}
