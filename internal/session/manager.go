package session

import (
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/recruit-orchestrator/internal/model"
)

// Manager owns the live sessions. Deleting a session discards its store.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Store
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Store)}
}

// Create starts a session. Creating an existing id returns the existing store.
func (m *Manager) Create(id string) (*Store, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false, eris.Wrap(model.ErrInvalidPrecondition, "session: id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, false, nil
	}
	s := NewStore(id)
	m.sessions[id] = s
	return s, true, nil
}

// Get returns the store of a live session.
func (m *Manager) Get(id string) (*Store, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, eris.Wrapf(model.ErrNotFound, "session %q", id)
	}
	return s, nil
}

// Delete ends a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return eris.Wrapf(model.ErrNotFound, "session %q", id)
	}
	delete(m.sessions, id)
	return nil
}

// IDs returns the live session ids in sorted order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
