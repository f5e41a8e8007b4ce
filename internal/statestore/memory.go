package statestore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryRecord struct {
	value     string
	updatedAt time.Time
}

// Memory is an in-process Store. Contents do not survive a restart.
type Memory struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	closed  bool
	now     func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]memoryRecord), now: time.Now}
}

// SetClock overrides the time source used for UpdatedAt.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now != nil {
		m.now = now
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrClosed
	}
	rec, ok := m.records[key]
	return rec.value, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.records[key] = memoryRecord{value: value, updatedAt: m.now().UTC()}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.records, key)
	return nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	entries := make([]Entry, 0)
	for key, rec := range m.records {
		if strings.HasPrefix(key, prefix) {
			entries = append(entries, Entry{Key: key, Value: rec.value, UpdatedAt: rec.updatedAt})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
