package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/ada52/SyConn/errors"
)

// MemoryStore is an in-process SnapshotStore for single-run pipelines and
// tests. Snapshots are stored by reference; callers must not mutate a
// snapshot after saving it.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
	order     []string
	latest    string
}

// NewMemoryStore creates an empty in-memory snapshot store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]*Snapshot)}
}

// Save persists a snapshot and marks it as the latest run
func (m *MemoryStore) Save(_ context.Context, snapshot *Snapshot) error {
	if err := snapshot.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.snapshots[snapshot.RunID]; !exists {
		m.order = append(m.order, snapshot.RunID)
	}
	m.snapshots[snapshot.RunID] = snapshot
	m.latest = snapshot.RunID
	return nil
}

// Get retrieves a snapshot by run id
func (m *MemoryStore) Get(_ context.Context, runID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot, ok := m.snapshots[runID]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrSnapshotNotFound, "MemoryStore", "Get",
			fmt.Sprintf("run %s", runID))
	}
	return snapshot, nil
}

// Latest retrieves the most recently saved snapshot
func (m *MemoryStore) Latest(ctx context.Context) (*Snapshot, error) {
	m.mu.RLock()
	latest := m.latest
	m.mu.RUnlock()
	if latest == "" {
		return nil, errors.WrapInvalid(errors.ErrSnapshotNotFound, "MemoryStore", "Latest",
			"no snapshots stored")
	}
	return m.Get(ctx, latest)
}

// List returns all stored run ids, oldest first
func (m *MemoryStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	return ids, nil
}

// Delete removes a snapshot
func (m *MemoryStore) Delete(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[runID]; !ok {
		return nil
	}
	delete(m.snapshots, runID)
	for i, id := range m.order {
		if id == runID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.latest == runID {
		m.latest = ""
		if len(m.order) > 0 {
			m.latest = m.order[len(m.order)-1]
		}
	}
	return nil
}

// Clear removes all snapshots
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = make(map[string]*Snapshot)
	m.order = nil
	m.latest = ""
	return nil
}
