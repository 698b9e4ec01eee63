package templates

import (
	"context"
	"fmt"
	"sync"

	"github.com/kiranshivaraju/enaupload/pkg/merge"
)

// MemoryStore holds templates in memory. Used by tests and the mock
// deployment profile.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]any
}

// NewMemoryStore creates a store seeded with docs.
func NewMemoryStore(docs map[string]map[string]any) *MemoryStore {
	m := &MemoryStore{docs: make(map[string]map[string]any, len(docs))}
	for name, doc := range docs {
		m.docs[name] = merge.Copy(doc)
	}
	return m
}

// Put adds or replaces a template.
func (m *MemoryStore) Put(name string, doc map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[name] = merge.Copy(doc)
}

// Load returns a copy of the named template.
func (m *MemoryStore) Load(_ context.Context, name string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return merge.Copy(doc), nil
}
