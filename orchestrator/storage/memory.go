package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process store. State is lost on restart.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var (
	_ KV      = (*Memory)(nil)
	_ Batcher = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	return clone(v), ok, nil
}

func (m *Memory) Set(_ context.Context, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = clone(value)
	return nil
}

func (m *Memory) Delete(_ context.Context, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *Memory) Iterate(_ context.Context, prefix []byte, fn func(key, value []byte) error) error {
	p := string(prefix)
	m.mu.RLock()
	keys := make([]string, 0)
	values := make(map[string][]byte)
	for k, v := range m.data {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
			values[k] = clone(v)
		}
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), values[k]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) WriteBatch(_ context.Context, ops []Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		if op.Value == nil {
			delete(m.data, string(op.Key))
			continue
		}
		m.data[string(op.Key)] = clone(op.Value)
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}
