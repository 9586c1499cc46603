package storage

import (
	"context"
	"fmt"
	"sync"
)

// MockSaver keeps artifacts in memory for tests.
type MockSaver struct {
	mu     sync.RWMutex
	files  map[string][]byte
	names  []string
	cancel bool
	err    error
}

// NewMockSaver creates a mock saver.
func NewMockSaver() *MockSaver {
	return &MockSaver{files: make(map[string][]byte)}
}

// SetCancel makes every Save behave like a dismissed dialog.
func (m *MockSaver) SetCancel(cancel bool) {
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
}

// SetError makes every Save fail with err.
func (m *MockSaver) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Save implements Saver. The returned path is "mem://<name>".
func (m *MockSaver) Save(ctx context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.names = append(m.names, name)
	if m.err != nil {
		return "", m.err
	}
	if m.cancel {
		return "", nil
	}

	m.files[name] = append([]byte(nil), data...)
	return "mem://" + name, nil
}

// Get returns a copy of a saved artifact.
func (m *MockSaver) Get(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", name)
	}
	return append([]byte(nil), data...), nil
}

// Names returns every suggested name Save was called with, in order.
func (m *MockSaver) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.names...)
}

// Count returns how many artifacts are stored.
func (m *MockSaver) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}
