package template

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory template store for tests and single-node
// deployments without PostgreSQL.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewMemoryStore creates an empty in-memory template store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates: make(map[string]Template),
	}
}

// Get returns the active template for a subject.
func (m *MemoryStore) Get(ctx context.Context, subjectID string) (*Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tpl, ok := m.templates[subjectID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := tpl
	cp.Embedding = append([]float32(nil), tpl.Embedding...)
	return &cp, nil
}

// Put enrolls a new subject.
func (m *MemoryStore) Put(ctx context.Context, tpl Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.templates[tpl.SubjectID]; ok {
		return ErrAlreadyEnrolled
	}
	tpl.Embedding = append([]float32(nil), tpl.Embedding...)
	m.templates[tpl.SubjectID] = tpl
	return nil
}

// Replace overwrites the subject's template.
func (m *MemoryStore) Replace(ctx context.Context, tpl Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tpl.Embedding = append([]float32(nil), tpl.Embedding...)
	m.templates[tpl.SubjectID] = tpl
	return nil
}

// Delete removes a subject's template.
func (m *MemoryStore) Delete(ctx context.Context, subjectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.templates, subjectID)
	return nil
}

// All returns every active template.
func (m *MemoryStore) All(ctx context.Context) ([]Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Template, 0, len(m.templates))
	for _, tpl := range m.templates {
		cp := tpl
		cp.Embedding = append([]float32(nil), tpl.Embedding...)
		out = append(out, cp)
	}
	return out, nil
}
