package cache

import (
	"context"
	"sort"
	"sync"
)

// MemStorage keeps all caches in process memory.
type MemStorage struct {
	mutex  *sync.RWMutex
	caches map[string]map[string]Response
}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		mutex:  &sync.RWMutex{},
		caches: make(map[string]map[string]Response),
	}
}

func (m *MemStorage) Open(_ context.Context, name string) (Handle, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.caches[name]; !ok {
		m.caches[name] = make(map[string]Response)
	}
	return memHandle{m: m, name: name}, nil
}

func (m *MemStorage) Names(_ context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.caches))
	for name := range m.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemStorage) Delete(_ context.Context, name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.caches[name]
	delete(m.caches, name)
	return ok, nil
}

func (m *MemStorage) Close() error {
	return nil
}

type memHandle struct {
	m    *MemStorage
	name string
}

func (h memHandle) Name() string {
	return h.name
}

func (h memHandle) Put(_ context.Context, key string, res Response) error {
	h.m.mutex.Lock()
	defer h.m.mutex.Unlock()
	entries, ok := h.m.caches[h.name]
	if !ok {
		return ErrCacheDeleted
	}
	entries[key] = res.Clone()
	return nil
}

func (h memHandle) Match(_ context.Context, key string) (Response, bool, error) {
	h.m.mutex.RLock()
	defer h.m.mutex.RUnlock()
	res, ok := h.m.caches[h.name][key]
	if !ok {
		return Response{}, false, nil
	}
	return res.Clone(), true, nil
}
