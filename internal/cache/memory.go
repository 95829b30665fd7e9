package cache

import (
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value    []byte
	deadline time.Time // нулевое значение — без истечения
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.deadline.IsZero() && !e.deadline.After(now)
}

// memoryStore — in-memory реализация Store для локальной разработки и тестов.
type memoryStore struct {
	mu    sync.Mutex
	items map[string]memoryEntry
	// now подменяется в тестах для контроля истечения TTL.
	now func() time.Time
}

// NewMemoryStore создаёт in-memory кэш с ленивым вытеснением по TTL.
func NewMemoryStore() Store {
	return &memoryStore{
		items: make(map[string]memoryEntry),
		now:   time.Now,
	}
}

func (s *memoryStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[key]
	if !ok {
		return nil, ErrMiss
	}
	if entry.expired(s.now()) {
		delete(s.items, key)
		return nil, ErrMiss
	}

	return append([]byte(nil), entry.value...), nil
}

func (s *memoryStore) Set(key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.deadline = s.now().Add(ttl)
	}
	s.items[key] = entry
	return nil
}

func (s *memoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
	return nil
}

func (s *memoryStore) Increment(key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var count int64
	if entry, ok := s.items[key]; ok && !entry.expired(now) {
		parsed, err := strconv.ParseInt(string(entry.value), 10, 64)
		if err == nil {
			count = parsed
		}
		// Нечисловое значение счётчика перезаписывается с нуля.
	}

	count++
	entry := memoryEntry{value: []byte(strconv.FormatInt(count, 10))}
	if ttl > 0 {
		entry.deadline = now.Add(ttl)
	}
	s.items[key] = entry
	return count, nil
}

var _ Store = (*memoryStore)(nil)
