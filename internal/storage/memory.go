package storage

import "sync"

// MemoryBackend keeps everything in process memory. Intended for local
// development and tests.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]map[string]string // namespace -> key -> value
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]map[string]string)}
}

func (b *MemoryBackend) Scope(namespace string) Store {
	return &memoryStore{backend: b, namespace: namespace}
}

func (b *MemoryBackend) Close() error { return nil }

func (b *MemoryBackend) get(namespace, key string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ns, ok := b.data[namespace]
	if !ok {
		return "", false
	}
	v, ok := ns[key]
	return v, ok
}

func (b *MemoryBackend) set(namespace, key, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ns, ok := b.data[namespace]
	if !ok {
		ns = make(map[string]string)
		b.data[namespace] = ns
	}
	ns[key] = value
}

type memoryStore struct {
	backend   *MemoryBackend
	namespace string
}

func (s *memoryStore) Get(key string) (string, bool, error) {
	v, ok := s.backend.get(s.namespace, key)
	return v, ok, nil
}

func (s *memoryStore) Set(key, value string) {
	s.backend.set(s.namespace, key, value)
}

// MapStore is a standalone Store over a plain map, handy for tests that want
// to seed or inspect raw persisted values.
type MapStore struct {
	mu     sync.Mutex
	Values map[string]string
}

func NewMapStore() *MapStore {
	return &MapStore{Values: make(map[string]string)}
}

func (s *MapStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.Values[key]
	return v, ok, nil
}

func (s *MapStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Values[key] = value
}
