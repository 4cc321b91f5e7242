package storage

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pthm-cable/evosim/game"
)

type memoryRecord struct {
	info    Info
	payload []byte
}

// MemoryStore keeps encoded snapshots in memory.
type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	records     map[string]memoryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		s.initialized = true
		s.records = make(map[string]memoryRecord)
	}
	return nil
}

func (s *MemoryStore) Save(_ context.Context, key string, snap *game.Snapshot) error {
	if err := validateKey(key); err != nil {
		return err
	}
	payload, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	s.records[key] = memoryRecord{info: infoOf(key, snap, time.Now()), payload: payload}
	return nil
}

func (s *MemoryStore) Load(_ context.Context, key string) (*game.Snapshot, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, false, ErrNotInitialized
	}

	rec, ok := s.records[key]
	if !ok {
		return nil, false, nil
	}
	snap, err := DecodeSnapshot(rec.payload)
	if err != nil {
		return nil, false, err
	}
	return snap, true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	out := make([]Info, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.info)
	}
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

func (s *MemoryStore) Has(_ context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return false, ErrNotInitialized
	}
	_, ok := s.records[key]
	return ok, nil
}
