package offline

import "sync"

// MemoryStorage is a Storage backed by an in-memory slice. It is the
// default when durability across process restarts is not needed, and it
// backs most tests.
type MemoryStorage struct {
	mu    sync.Mutex
	items []Item
}

var _ Storage = &MemoryStorage{}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Initialize() error { return nil }

func (m *MemoryStorage) Store(item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.items {
		if m.items[i].ID == item.ID {
			m.items[i] = item
			return nil
		}
	}
	m.items = append(m.items, item)
	return nil
}

func (m *MemoryStorage) Retrieve(limit int) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.items)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]Item, n)
	copy(out, m.items[:n])
	return out, nil
}

func (m *MemoryStorage) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.items {
		if m.items[i].ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemoryStorage) Count() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items), nil
}

func (m *MemoryStorage) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = nil
	return nil
}

func (m *MemoryStorage) Dispose() error { return nil }
