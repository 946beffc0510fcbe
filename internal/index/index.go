// Package index implements IndexManager (spec §4.6): the owner of a
// collection's named secondary indexes, each backed by an
// internal/btree.Tree keyed on the string form of an extracted field.
package index

import (
	"sync"

	"github.com/nyarudb/nyarudb2/internal/btree"
)

// Manager owns the named indexes of one collection. Grounded in the
// teacher's IndexEngine (pkg/indexing/indexing.go), generalized one
// level: the teacher keyed its engine by collection name too (one
// engine shared by all collections); NyaruDB2 gives each collection its
// own Manager instance instead, since the collection is already the
// unit of locking (spec §5).
type Manager struct {
	mu      sync.RWMutex
	indexes map[string]*btree.Tree[string]
}

// New creates an empty index manager for one collection.
func New() *Manager {
	return &Manager{indexes: make(map[string]*btree.Tree[string])}
}

// CreateIndex is idempotent: creating an already-existing index is a
// no-op rather than an error, per spec §4.6.
func (m *Manager) CreateIndex(field string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.indexes[field]; exists {
		return
	}
	m.indexes[field] = btree.New[string](2)
}

// HasIndex reports whether field is indexed.
func (m *Manager) HasIndex(field string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.indexes[field]
	return ok
}

// Fields returns the names of all indexed fields.
func (m *Manager) Fields() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.indexes))
	for f := range m.indexes {
		out = append(out, f)
	}
	return out
}

// Insert adds encoded to the multiset at (field, key). Unknown fields
// are silently ignored, allowing planner fallthrough (spec §4.6).
func (m *Manager) Insert(field, key string, encoded []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tree, ok := m.indexes[field]
	if !ok {
		return
	}
	tree.Insert(key, encoded)
}

// Delete removes one occurrence of encoded from (field, key).
func (m *Manager) Delete(field, key string, encoded []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tree, ok := m.indexes[field]
	if !ok {
		return
	}
	tree.Delete(key, encoded)
}

// Search returns the encoded records at (field, key), or nil if the
// field isn't indexed or the key is absent.
func (m *Manager) Search(field, key string) [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tree, ok := m.indexes[field]
	if !ok {
		return nil
	}
	return tree.Search(key)
}

// RangeSearch returns all encoded records at (field, key) for keys in
// [low, high] when inclusive is true (spec §4.8's "between" semantics),
// or in (low, high) when it is false.
func (m *Manager) RangeSearch(field, low, high string, inclusive bool) [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tree, ok := m.indexes[field]
	if !ok {
		return nil
	}
	return tree.RangeSearch(low, high, inclusive)
}

// WalkKeyCounts invokes fn with every key currently stored under field
// and the number of documents carrying it, in ascending key order. A
// no-op for unknown fields (spec §4.6 planner fallthrough).
func (m *Manager) WalkKeyCounts(field string, fn func(key string, count int)) {
	m.mu.RLock()
	tree, ok := m.indexes[field]
	m.mu.RUnlock()
	if !ok {
		return
	}
	tree.All(fn)
}

// Drop removes a named index entirely (used only when its collection is
// dropped, per spec §3 lifecycles).
func (m *Manager) Drop(field string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.indexes, field)
}
